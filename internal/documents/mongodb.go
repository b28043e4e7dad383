package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBStore implements Store with one MongoDB collection per logical
// collection. Fields live in a nested "fields" document.
type MongoDBStore struct {
	client *mongo.Client
	db     *mongo.Database
}

type mongoDocument struct {
	ID        string                 `bson:"_id"`
	Fields    map[string]interface{} `bson:"fields"`
	CreatedAt time.Time              `bson:"createdAt"`
	UpdatedAt time.Time              `bson:"updatedAt"`
}

// NewMongoDBStore connects and pings MongoDB.
func NewMongoDBStore(ctx context.Context, connectionString, database string) (*MongoDBStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return &MongoDBStore{client: client, db: client.Database(database)}, nil
}

// EnsureIndexes creates lookup indexes for the fields reconciliation queries use.
func (s *MongoDBStore) EnsureIndexes(ctx context.Context, indexes map[string][]string) error {
	for collection, fields := range indexes {
		models := make([]mongo.IndexModel, 0, len(fields))
		for _, field := range fields {
			models = append(models, mongo.IndexModel{Keys: bson.D{{Key: "fields." + field, Value: 1}}})
		}
		if _, err := s.db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", collection, err)
		}
	}
	return nil
}

func (s *MongoDBStore) Create(ctx context.Context, collection, id string, fields map[string]interface{}) (Document, error) {
	if err := validateKey(collection, id); err != nil {
		return Document{}, err
	}
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	if fields == nil {
		fields = map[string]interface{}{}
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := mongoDocument{ID: id, Fields: fields, CreatedAt: now, UpdatedAt: now}

	if _, err := s.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return Document{}, ErrAlreadyExists
		}
		return Document{}, fmt.Errorf("mongodb: insert %s/%s: %w", collection, id, err)
	}
	return fromMongo(collection, doc), nil
}

func (s *MongoDBStore) Get(ctx context.Context, collection, id string) (Document, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var doc mongoDocument
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("mongodb: get %s/%s: %w", collection, id, err)
	}
	return fromMongo(collection, doc), nil
}

func (s *MongoDBStore) Update(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	set := bson.M{"updatedAt": time.Now().UTC()}
	for k, v := range fields {
		set["fields."+k] = v
	}

	res, err := s.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("mongodb: update %s/%s: %w", collection, id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoDBStore) Delete(ctx context.Context, collection, id string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	res, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongodb: delete %s/%s: %w", collection, id, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoDBStore) Query(ctx context.Context, q Query) ([]Document, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	filter := bson.M{}
	for _, f := range q.Filters {
		filter["fields."+f.Field] = f.Value
	}
	if q.After != "" {
		filter["_id"] = bson.M{"$gt": q.After}
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.db.Collection(q.Collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb: query %s: %w", q.Collection, err)
	}
	defer cursor.Close(ctx)

	var out []Document
	for cursor.Next(ctx) {
		var doc mongoDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongodb: decode: %w", err)
		}
		out = append(out, fromMongo(q.Collection, doc))
	}
	return out, cursor.Err()
}

func (s *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func fromMongo(collection string, doc mongoDocument) Document {
	fields := doc.Fields
	if fields == nil {
		fields = map[string]interface{}{}
	}
	return Document{
		Collection: collection,
		ID:         doc.ID,
		Fields:     fields,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
}

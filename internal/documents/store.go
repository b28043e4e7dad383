package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/minipay/onboarding/internal/config"
	"github.com/minipay/onboarding/internal/dbpool"
)

// Common errors returned by store operations.
var (
	ErrNotFound      = errors.New("documents: not found")
	ErrAlreadyExists = errors.New("documents: already exists")
	ErrInvalidID     = errors.New("documents: collection and id are required")
)

// DefaultQueryTimeout bounds a single store call when the caller set no deadline.
const DefaultQueryTimeout = 5 * time.Second

// Document is a keyed set of fields in a named collection. CreatedAt and
// UpdatedAt are assigned by the store.
type Document struct {
	Collection string                 `json:"-"`
	ID         string                 `json:"id"`
	Fields     map[string]interface{} `json:"fields"`
	CreatedAt  time.Time              `json:"createdAt"`
	UpdatedAt  time.Time              `json:"updatedAt"`
}

// String returns a string field or "".
func (d Document) String(key string) string {
	s, _ := d.Fields[key].(string)
	return s
}

// Bool returns a boolean field or false.
func (d Document) Bool(key string) bool {
	b, _ := d.Fields[key].(bool)
	return b
}

// Int returns a numeric field as an int or 0. Backends decode numbers as
// float64 (JSON) or int32/int64 (BSON).
func (d Document) Int(key string) int {
	switch v := d.Fields[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}

// Filter is an equality match on a top-level field.
type Filter struct {
	Field string
	Value interface{}
}

// Eq builds an equality filter.
func Eq(field string, value interface{}) Filter {
	return Filter{Field: field, Value: value}
}

// Query selects documents in one collection. Results are ordered by ID;
// After resumes a scan after the given ID.
type Query struct {
	Collection string
	Filters    []Filter
	Limit      int
	After      string
}

// Store is a document database with single-document atomic writes.
type Store interface {
	// Create writes a new document atomically. It fails with ErrAlreadyExists
	// when the ID is taken.
	Create(ctx context.Context, collection, id string, fields map[string]interface{}) (Document, error)

	// Get reads one document.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Update merges fields into an existing document.
	Update(ctx context.Context, collection, id string, fields map[string]interface{}) error

	// Delete removes a document. Deleting a missing document returns ErrNotFound.
	Delete(ctx context.Context, collection, id string) error

	// Query returns documents matching every filter.
	Query(ctx context.Context, q Query) ([]Document, error)

	// Close releases any resources held by the store.
	Close() error
}

// NewStore creates a store for the configured backend. Postgres stores
// draw their connection from pools so they can share it with the identity
// provider.
func NewStore(ctx context.Context, cfg config.DocumentsConfig, pools *dbpool.Registry) (Store, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemoryStore(), nil
	case "postgres":
		pool, err := pools.Get(ctx, cfg.PostgresURL, cfg.PostgresPool)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(ctx, pool.DB(), cfg.TableName)
	case "mongodb":
		return NewMongoDBStore(ctx, cfg.MongoDBURL, cfg.MongoDBDatabase)
	default:
		return nil, fmt.Errorf("documents: unsupported backend %q", cfg.Backend)
	}
}

func withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultQueryTimeout)
}

func validateKey(collection, id string) error {
	if collection == "" || id == "" {
		return ErrInvalidID
	}
	return nil
}

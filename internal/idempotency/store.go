package idempotency

import (
	"container/list"
	"context"
	"encoding/base64"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/minipay/onboarding/internal/documents"
)

// DefaultCollection holds replayable responses in the document store.
const DefaultCollection = "idempotencyKeys"

// Response is a stored response replayed for a repeated key.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	CachedAt   time.Time
}

// Store keeps responses by scoped idempotency key.
type Store interface {
	Get(ctx context.Context, key string) (*Response, bool)
	Set(ctx context.Context, key string, response *Response, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore is a bounded in-process Store. The least recently used entry
// is evicted once maxSize is reached; expired entries are dropped lazily
// and by a periodic sweep.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	maxSize int

	stop chan struct{}
	done chan struct{}
}

type memoryEntry struct {
	key       string
	response  *Response
	expiresAt time.Time
}

// NewMemoryStore creates a memory store holding at most 10,000 responses.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithSize(10000)
}

// NewMemoryStoreWithSize creates a memory store with a custom bound.
func NewMemoryStoreWithSize(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 1
	}
	s := &MemoryStore{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.sweep(5 * time.Minute)
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Response, bool) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*memoryEntry)
	if now.After(entry.expiresAt) {
		s.removeLocked(el)
		return nil, false
	}
	s.lru.MoveToFront(el)
	return entry.response, true
}

func (s *MemoryStore) Set(_ context.Context, key string, response *Response, ttl time.Duration) error {
	expiresAt := time.Now().Add(ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.response = response
		entry.expiresAt = expiresAt
		s.lru.MoveToFront(el)
		return nil
	}

	// Evict first so the bound holds under concurrent writers.
	for len(s.entries) >= s.maxSize {
		s.removeLocked(s.lru.Back())
	}
	s.entries[key] = s.lru.PushFront(&memoryEntry{key: key, response: response, expiresAt: expiresAt})
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[key]; ok {
		s.removeLocked(el)
	}
	return nil
}

// Len returns the number of stored responses, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	s.lru.Remove(el)
	delete(s.entries, el.Value.(*memoryEntry).key)
}

func (s *MemoryStore) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for el := s.lru.Back(); el != nil; {
				prev := el.Prev()
				if now.After(el.Value.(*memoryEntry).expiresAt) {
					s.removeLocked(el)
				}
				el = prev
			}
			s.mu.Unlock()
		}
	}
}

// Stop ends the background sweep.
func (s *MemoryStore) Stop() {
	close(s.stop)
	<-s.done
}

// Close implements io.Closer for lifecycle registration.
func (s *MemoryStore) Close() error {
	s.Stop()
	return nil
}

// DocumentStore keeps responses in a document collection so replays
// survive restarts and are shared between replicas.
type DocumentStore struct {
	docs       documents.Store
	collection string
}

// NewDocumentStore creates a Store over docs. An empty collection uses
// DefaultCollection.
func NewDocumentStore(docs documents.Store, collection string) *DocumentStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &DocumentStore{docs: docs, collection: collection}
}

func (s *DocumentStore) Get(ctx context.Context, key string) (*Response, bool) {
	doc, err := s.docs.Get(ctx, s.collection, key)
	if err != nil {
		return nil, false
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, doc.String("expiresAt"))
	if err != nil || time.Now().After(expiresAt) {
		return nil, false
	}
	body, err := base64.StdEncoding.DecodeString(doc.String("body"))
	if err != nil {
		return nil, false
	}
	cachedAt, _ := time.Parse(time.RFC3339Nano, doc.String("cachedAt"))

	return &Response{
		StatusCode: doc.Int("statusCode"),
		Headers:    stringMap(doc.Fields["headers"]),
		Body:       body,
		CachedAt:   cachedAt,
	}, true
}

func (s *DocumentStore) Set(ctx context.Context, key string, response *Response, ttl time.Duration) error {
	headers := make(map[string]interface{}, len(response.Headers))
	for k, v := range response.Headers {
		headers[k] = v
	}
	fields := map[string]interface{}{
		"statusCode": response.StatusCode,
		"headers":    headers,
		"body":       base64.StdEncoding.EncodeToString(response.Body),
		"cachedAt":   response.CachedAt.UTC().Format(time.RFC3339Nano),
		"expiresAt":  time.Now().Add(ttl).UTC().Format(time.RFC3339Nano),
	}

	_, err := s.docs.Create(ctx, s.collection, key, fields)
	if errors.Is(err, documents.ErrAlreadyExists) {
		return s.docs.Update(ctx, s.collection, key, fields)
	}
	return err
}

func (s *DocumentStore) Delete(ctx context.Context, key string) error {
	err := s.docs.Delete(ctx, s.collection, key)
	if errors.Is(err, documents.ErrNotFound) {
		return nil
	}
	return err
}

// stringMap accepts the shapes backends decode nested objects into.
func stringMap(v interface{}) map[string]string {
	out := make(map[string]string)
	switch m := v.(type) {
	case map[string]string:
		for k, s := range m {
			out[k] = s
		}
	default:
		// Covers map[string]interface{} and named map types such as bson.M.
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
			return out
		}
		iter := rv.MapRange()
		for iter.Next() {
			if s, ok := iter.Value().Interface().(string); ok {
				out[iter.Key().String()] = s
			}
		}
	}
	return out
}

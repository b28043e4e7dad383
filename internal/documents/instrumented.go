package documents

import (
	"context"
	"errors"

	"github.com/minipay/onboarding/internal/metrics"
)

// instrumentedStore records latency and errors for every store call.
type instrumentedStore struct {
	Store
	metrics *metrics.Metrics
	backend string
}

// Instrument wraps store with Prometheus timing. A nil collector returns
// store unchanged.
func Instrument(store Store, m *metrics.Metrics, backend string) Store {
	if m == nil {
		return store
	}
	return &instrumentedStore{Store: store, metrics: m, backend: backend}
}

func (s *instrumentedStore) Create(ctx context.Context, collection, id string, fields map[string]interface{}) (Document, error) {
	done := metrics.MeasureStoreOp(s.metrics, "create", s.backend)
	doc, err := s.Store.Create(ctx, collection, id, fields)
	done(err)
	return doc, err
}

func (s *instrumentedStore) Get(ctx context.Context, collection, id string) (Document, error) {
	done := metrics.MeasureStoreOp(s.metrics, "get", s.backend)
	doc, err := s.Store.Get(ctx, collection, id)
	// a miss is an answer, not a store failure
	if errors.Is(err, ErrNotFound) {
		done(nil)
	} else {
		done(err)
	}
	return doc, err
}

func (s *instrumentedStore) Update(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	done := metrics.MeasureStoreOp(s.metrics, "update", s.backend)
	err := s.Store.Update(ctx, collection, id, fields)
	done(err)
	return err
}

func (s *instrumentedStore) Delete(ctx context.Context, collection, id string) error {
	done := metrics.MeasureStoreOp(s.metrics, "delete", s.backend)
	err := s.Store.Delete(ctx, collection, id)
	done(err)
	return err
}

func (s *instrumentedStore) Query(ctx context.Context, q Query) ([]Document, error) {
	done := metrics.MeasureStoreOp(s.metrics, "query", s.backend)
	docs, err := s.Store.Query(ctx, q)
	done(err)
	return docs, err
}

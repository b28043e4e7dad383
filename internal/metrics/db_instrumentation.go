package metrics

import (
	"time"
)

// MeasureStoreOp times a store operation. Usage:
//
//	done := metrics.MeasureStoreOp(m, "query", "postgres")
//	docs, err := store.Query(ctx, q)
//	done(err)
func MeasureStoreOp(m *Metrics, operation, backend string) func(error) {
	if m == nil {
		return func(error) {}
	}
	start := time.Now()
	return func(err error) {
		m.ObserveStoreOp(operation, backend, time.Since(start), err)
	}
}

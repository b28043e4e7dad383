package documents

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/minipay/onboarding/internal/metrics"
)

func TestInstrumentCountsErrorsButNotMisses(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	store := Instrument(NewMemoryStore(), m, "memory")
	ctx := context.Background()

	if _, err := store.Create(ctx, "users", "u1", map[string]interface{}{"role": "customer"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Create(ctx, "users", "u1", nil); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate create: %v", err)
	}
	if _, err := store.Get(ctx, "users", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing: %v", err)
	}

	if got := promtest.ToFloat64(m.StoreErrorsTotal.WithLabelValues("create", "memory")); got != 1 {
		t.Errorf("create errors = %v, want 1", got)
	}
	if got := promtest.ToFloat64(m.StoreErrorsTotal.WithLabelValues("get", "memory")); got != 0 {
		t.Errorf("get errors = %v, want 0", got)
	}
	if got := promtest.CollectAndCount(m.StoreOpDuration); got != 2 {
		t.Errorf("duration series = %d, want 2 (create, get)", got)
	}
}

func TestInstrumentWithoutMetrics(t *testing.T) {
	inner := NewMemoryStore()
	if Instrument(inner, nil, "memory") != Store(inner) {
		t.Error("nil metrics should return the store unchanged")
	}
}

package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/minipay/onboarding/internal/config"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// SharedPool is a PostgreSQL connection pool shared by the identity provider
// and the document store when both point at the same database.
type SharedPool struct {
	db   *sql.DB
	once sync.Once
	err  error
}

// NewSharedPool opens and pings a PostgreSQL connection pool.
func NewSharedPool(ctx context.Context, connectionString string, poolConfig config.PostgresPoolConfig) (*SharedPool, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)

	return &SharedPool{db: db}, nil
}

// Registry hands out one SharedPool per connection string.
type Registry struct {
	mu    sync.Mutex
	pools map[string]*SharedPool
}

// NewRegistry creates an empty pool registry.
func NewRegistry() *Registry {
	return &Registry{pools: make(map[string]*SharedPool)}
}

// Get returns the pool for connectionString, opening it on first use.
func (r *Registry) Get(ctx context.Context, connectionString string, poolConfig config.PostgresPoolConfig) (*SharedPool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pool, ok := r.pools[connectionString]; ok {
		return pool, nil
	}
	pool, err := NewSharedPool(ctx, connectionString, poolConfig)
	if err != nil {
		return nil, err
	}
	r.pools[connectionString] = pool
	return pool, nil
}

// Close closes every pool opened through the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for dsn, pool := range r.pools {
		if err := pool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.pools, dsn)
	}
	return firstErr
}

// DB returns the underlying *sql.DB.
func (p *SharedPool) DB() *sql.DB {
	return p.db
}

// Close closes the pool once.
func (p *SharedPool) Close() error {
	p.once.Do(func() {
		p.err = p.db.Close()
	})
	return p.err
}

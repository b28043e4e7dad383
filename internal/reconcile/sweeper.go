package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/minipay/onboarding/internal/config"
	"github.com/minipay/onboarding/internal/documents"
	"github.com/minipay/onboarding/internal/logger"
	"github.com/minipay/onboarding/internal/metrics"
)

// ErrSweeperDisabled is returned by RunNow when sweeping is not enabled.
var ErrSweeperDisabled = errors.New("reconcile: sweeper disabled")

// Sweeper refreshes the cached onboarding flags of every customer profile
// on a schedule, repairing drift between the source collections and the
// display cache.
type Sweeper struct {
	reconciler *Reconciler
	store      documents.Store
	users      string
	cfg        config.SweepConfig
	logger     zerolog.Logger
	metrics    *metrics.Metrics

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// SweepResult summarizes one sweep pass.
type SweepResult struct {
	Visited int
	Failed  int
}

// NewSweeper creates a sweeper over the users collection.
func NewSweeper(r *Reconciler, store documents.Store, users string, cfg config.SweepConfig, m *metrics.Metrics, log zerolog.Logger) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Interval.Duration <= 0 {
		cfg.Interval.Duration = time.Hour
	}
	return &Sweeper{
		reconciler: r,
		store:      store,
		users:      users,
		cfg:        cfg,
		logger:     log,
		metrics:    m,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
}

// Start begins the background loop. A disabled sweeper returns immediately.
func (s *Sweeper) Start() {
	if !s.cfg.Enabled {
		s.logger.Info().Msg("reconcile.sweeper_disabled")
		close(s.doneChan)
		return
	}
	s.logger.Info().Dur("interval", s.cfg.Interval.Duration).Msg("reconcile.sweeper_started")
	go s.run()
}

// Stop ends the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	<-s.doneChan
	s.logger.Info().Msg("reconcile.sweeper_stopped")
	return nil
}

func (s *Sweeper) run() {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.cfg.Interval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Interval.Duration)
			go func() {
				select {
				case <-s.stopChan:
					cancel()
				case <-ctx.Done():
				}
			}()
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error().Err(err).Msg("reconcile.sweep_failed")
			}
			cancel()
		case <-s.stopChan:
			return
		}
	}
}

// RunNow performs one pass immediately.
func (s *Sweeper) RunNow(ctx context.Context) (SweepResult, error) {
	if !s.cfg.Enabled {
		return SweepResult{}, ErrSweeperDisabled
	}
	return s.Sweep(ctx)
}

// Sweep reconciles every customer profile in batches. Individual failures
// are counted; only a failure to list profiles aborts the pass.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	ctx = logger.WithContext(ctx, s.logger)
	var res SweepResult
	after := ""

	for {
		page, err := s.store.Query(ctx, documents.Query{
			Collection: s.users,
			Filters:    []documents.Filter{documents.Eq("role", "customer")},
			Limit:      s.cfg.BatchSize,
			After:      after,
		})
		if err != nil {
			s.metrics.ObserveSweep(res.Visited-res.Failed, res.Failed)
			return res, err
		}
		for _, doc := range page {
			if ctx.Err() != nil {
				s.metrics.ObserveSweep(res.Visited-res.Failed, res.Failed)
				return res, ctx.Err()
			}
			res.Visited++
			if _, err := s.reconciler.Reconcile(ctx, doc.ID, doc.String("country")); err != nil {
				res.Failed++
			}
		}
		if len(page) < s.cfg.BatchSize {
			break
		}
		after = page[len(page)-1].ID
	}

	s.metrics.ObserveSweep(res.Visited-res.Failed, res.Failed)
	s.logger.Info().
		Int("visited", res.Visited).
		Int("failed", res.Failed).
		Msg("reconcile.sweep_completed")
	return res, nil
}

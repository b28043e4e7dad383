package provisioning

import (
	"context"
	"fmt"
	"time"

	"github.com/minipay/onboarding/internal/logger"
	"github.com/minipay/onboarding/internal/metrics"
)

// DefaultCompensationTimeout bounds one full compensation pass.
const DefaultCompensationTimeout = 15 * time.Second

// Compensator undoes completed steps after a failure. It never returns an
// error: every failed undo is logged once and the remaining undos still run.
type Compensator struct {
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewCompensator creates a compensator. A non-positive timeout uses
// DefaultCompensationTimeout.
func NewCompensator(timeout time.Duration, m *metrics.Metrics) *Compensator {
	if timeout <= 0 {
		timeout = DefaultCompensationTimeout
	}
	return &Compensator{timeout: timeout, metrics: m}
}

// Compensate runs Undo for completed in reverse order. It runs on a context
// detached from the caller so a cancelled request still cleans up.
func (c *Compensator) Compensate(ctx context.Context, sequence string, p *Principal, completed []Step) {
	if len(completed) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	log := logger.FromContext(ctx)
	c.metrics.ObserveCompensation(sequence)

	undone := 0
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Undo == nil {
			continue
		}
		if err := safeUndo(ctx, step, p); err != nil {
			log.Error().
				Err(err).
				Str("sequence", sequence).
				Str("step", step.Name).
				Str("principal_id", p.ID).
				Msg("provisioning.compensation.undo_failed")
			c.metrics.ObserveUndoFailure(sequence, step.Name)
			continue
		}
		undone++
	}

	log.Info().
		Str("sequence", sequence).
		Str("principal_id", p.ID).
		Int("undone", undone).
		Msg("provisioning.compensation.completed")
}

func safeUndo(ctx context.Context, step Step, p *Principal) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("undo panicked: %v", r)
		}
	}()
	return step.Undo(ctx, p)
}

package provisioning

import (
	"context"
	"fmt"
	"time"

	"github.com/minipay/onboarding/internal/logger"
	"github.com/minipay/onboarding/internal/metrics"
)

// Action is a side effect against one external system.
type Action func(ctx context.Context, p *Principal) error

// Step is one unit of a sequence. Undo may only touch state created by the
// same step's Forward and may be nil. A BestEffort step's failure is logged
// and the sequence continues.
type Step struct {
	Name       string
	Forward    Action
	Undo       Action
	Reaches    CreationStatus
	BestEffort bool
}

// Sequence is an ordered list of steps executed strictly one after another.
type Sequence struct {
	Name  string
	Steps []Step
}

// StepError records which step failed. The step name is kept for logs and
// never reaches callers.
type StepError struct {
	Sequence string
	Step     string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: step %s: %v", e.Sequence, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// runner executes sequences and hands completed steps to the compensator
// when one fails.
type runner struct {
	compensator *Compensator
	metrics     *metrics.Metrics
}

// run executes seq against p. On failure at step k the completed steps
// 1..k-1 are undone in reverse order before the original error is returned.
func (r *runner) run(ctx context.Context, seq Sequence, p *Principal) error {
	log := logger.FromContext(ctx)
	completed := make([]Step, 0, len(seq.Steps))

	for _, step := range seq.Steps {
		start := time.Now()
		err := safeForward(ctx, step, p)
		r.metrics.ObserveStep(seq.Name, step.Name, time.Since(start), err)

		if err != nil {
			if step.BestEffort {
				log.Warn().
					Err(err).
					Str("sequence", seq.Name).
					Str("step", step.Name).
					Str("principal_id", p.ID).
					Msg("provisioning.step.best_effort_failed")
				continue
			}

			log.Error().
				Err(err).
				Str("sequence", seq.Name).
				Str("step", step.Name).
				Str("principal_id", p.ID).
				Int("completed_steps", len(completed)).
				Msg("provisioning.step.failed")

			r.compensator.Compensate(ctx, seq.Name, p, completed)
			p.Status = StatusRolledBack
			return &StepError{Sequence: seq.Name, Step: step.Name, Err: err}
		}

		completed = append(completed, step)
		if step.Reaches != "" {
			p.Status = step.Reaches
		}
	}

	p.Status = StatusComplete
	return nil
}

// safeForward turns a panicking action into a step failure so the completed
// steps are still compensated.
func safeForward(ctx context.Context, step Step, p *Principal) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("forward panicked: %v", r)
		}
	}()
	return step.Forward(ctx, p)
}

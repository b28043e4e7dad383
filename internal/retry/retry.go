package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/minipay/onboarding/internal/config"
	"github.com/minipay/onboarding/internal/logger"
)

// Policy defines exponential backoff behavior.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Retryable decides whether an error is worth another attempt.
	// Defaults to IsTransient.
	Retryable func(error) bool
}

// DefaultPolicy returns a short policy suited to interactive request paths.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2.0,
	}
}

// PolicyFromConfig converts a config retry block. A disabled block yields a
// single-attempt policy.
func PolicyFromConfig(cfg config.RetryConfig) Policy {
	if !cfg.Enabled {
		return Policy{MaxAttempts: 1}
	}
	p := Policy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialInterval.Duration,
		MaxInterval:     cfg.MaxInterval.Duration,
		Multiplier:      cfg.Multiplier,
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	return p
}

// Backoff returns the delay before attempt n (1-based retry count).
func (p Policy) Backoff(n int) time.Duration {
	delay := p.InitialInterval
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2.0
	}
	for i := 1; i < n; i++ {
		delay = time.Duration(float64(delay) * mult)
		if p.MaxInterval > 0 && delay > p.MaxInterval {
			return p.MaxInterval
		}
	}
	if p.MaxInterval > 0 && delay > p.MaxInterval {
		return p.MaxInterval
	}
	return delay
}

// Do runs operation until it succeeds, returns a non-retryable error, the
// attempts are exhausted or ctx is done. The last error is returned.
func Do[T any](ctx context.Context, p Policy, name string, operation func(context.Context) (T, error)) (T, error) {
	var result T
	var err error

	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = operation(ctx)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil || !retryable(err) || attempt == attempts {
			return result, err
		}

		delay := p.Backoff(attempt)
		log := logger.FromContext(ctx)
		log.Warn().
			Err(err).
			Str("operation", name).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Dur("retry_delay", delay).
			Msg("retry.attempt_failed")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
		}
	}

	return result, err
}

// Temporary marks an error as safe to retry.
type Temporary interface {
	Temporary() bool
}

// IsTransient reports whether err looks like a transient network or server
// failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var tmp Temporary
	if errors.As(err, &tmp) {
		return tmp.Temporary()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"too many requests",
		"rate limit",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

package ratelimit

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/minipay/onboarding/internal/authz"
	"github.com/minipay/onboarding/internal/config"
	apierrors "github.com/minipay/onboarding/internal/errors"
	"github.com/minipay/onboarding/internal/metrics"
)

// Config holds rate limiting configuration.
type Config struct {
	// Global rate limiting (across all callers)
	GlobalEnabled bool
	GlobalLimit   int
	GlobalWindow  time.Duration

	// Per-caller rate limiting (identified by principal or API key)
	PerCallerEnabled bool
	PerCallerLimit   int
	PerCallerWindow  time.Duration

	// Per-IP rate limiting (fallback when the caller is anonymous)
	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration

	// Metrics collector (optional)
	Metrics *metrics.Metrics
}

// DefaultConfig returns default limits. Provisioning is low volume, so
// these only stop obvious abuse.
func DefaultConfig() Config {
	return Config{
		GlobalEnabled: true,
		GlobalLimit:   600,
		GlobalWindow:  time.Minute,

		PerCallerEnabled: true,
		PerCallerLimit:   30,
		PerCallerWindow:  time.Minute,

		PerIPEnabled: true,
		PerIPLimit:   60,
		PerIPWindow:  time.Minute,
	}
}

// FromConfig overlays application config on the defaults. Zero limits and
// windows keep the default values.
func FromConfig(cfg config.RateLimitConfig, m *metrics.Metrics) Config {
	out := DefaultConfig()
	out.Metrics = m

	out.GlobalEnabled = cfg.GlobalEnabled
	if cfg.GlobalLimit > 0 {
		out.GlobalLimit = cfg.GlobalLimit
	}
	if cfg.GlobalWindow.Duration > 0 {
		out.GlobalWindow = cfg.GlobalWindow.Duration
	}

	out.PerCallerEnabled = cfg.PerCallerEnabled
	if cfg.PerCallerLimit > 0 {
		out.PerCallerLimit = cfg.PerCallerLimit
	}
	if cfg.PerCallerWindow.Duration > 0 {
		out.PerCallerWindow = cfg.PerCallerWindow.Duration
	}

	out.PerIPEnabled = cfg.PerIPEnabled
	if cfg.PerIPLimit > 0 {
		out.PerIPLimit = cfg.PerIPLimit
	}
	if cfg.PerIPWindow.Duration > 0 {
		out.PerIPWindow = cfg.PerIPWindow.Duration
	}
	return out
}

// limitHandler writes the rate_limited error and records the hit.
func limitHandler(limitType string, window time.Duration, m *metrics.Metrics) func(http.ResponseWriter, *http.Request) {
	seconds := int(window.Seconds())
	if seconds < 1 {
		seconds = 1
	}

	var message string
	switch limitType {
	case "global":
		message = "Global rate limit exceeded. Please try again later."
	case "per_caller":
		message = "Rate limit exceeded for this caller. Please try again later."
	case "per_ip":
		message = "IP rate limit exceeded. Please try again later."
	default:
		message = "Rate limit exceeded. Please try again later."
	}

	return func(w http.ResponseWriter, r *http.Request) {
		m.ObserveRateLimit(limitType)
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeRateLimited, message, apierrors.DetailRetryAfter, seconds)
	}
}

func passthrough(next http.Handler) http.Handler { return next }

// exempt reports whether the caller bypasses per-caller and per-IP limits.
// Trusted backends share one key across many principals.
func exempt(r *http.Request) bool {
	return authz.FromContext(r.Context()).Has(authz.CapabilityService)
}

// GlobalLimiter creates a global rate limiter middleware.
func GlobalLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled {
		return passthrough
	}
	return httprate.Limit(
		cfg.GlobalLimit,
		cfg.GlobalWindow,
		httprate.WithKeyFuncs(func(*http.Request) (string, error) { return "global", nil }),
		httprate.WithLimitHandler(limitHandler("global", cfg.GlobalWindow, cfg.Metrics)),
	)
}

// CallerLimiter limits each identified caller. Anonymous callers fall back
// to their IP address. It must run after authz.Middleware.
func CallerLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerCallerEnabled {
		return passthrough
	}
	limiter := httprate.Limit(
		cfg.PerCallerLimit,
		cfg.PerCallerWindow,
		httprate.WithKeyFuncs(callerKey),
		httprate.WithLimitHandler(limitHandler("per_caller", cfg.PerCallerWindow, cfg.Metrics)),
	)
	return func(next http.Handler) http.Handler {
		limited := limiter(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt(r) {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

// IPLimiter creates a per-IP rate limiter middleware.
func IPLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled {
		return passthrough
	}
	limiter := httprate.Limit(
		cfg.PerIPLimit,
		cfg.PerIPWindow,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(limitHandler("per_ip", cfg.PerIPWindow, cfg.Metrics)),
	)
	return func(next http.Handler) http.Handler {
		limited := limiter(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt(r) {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

func callerKey(r *http.Request) (string, error) {
	if id := authz.FromContext(r.Context()).ID(); id != "" {
		return id, nil
	}
	ip, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + ip, nil
}

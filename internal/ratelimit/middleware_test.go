package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/minipay/onboarding/internal/authz"
	"github.com/minipay/onboarding/internal/config"
	"github.com/minipay/onboarding/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// withCaller stands in for authz.Middleware.
func withCaller(caller authz.Caller, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(authz.WithCaller(r.Context(), caller)))
	})
}

func serve(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/principals", nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.GlobalEnabled || !cfg.PerCallerEnabled || !cfg.PerIPEnabled {
		t.Errorf("expected every limiter enabled by default: %+v", cfg)
	}
	if cfg.PerCallerLimit != 30 {
		t.Errorf("per-caller limit = %d, want 30", cfg.PerCallerLimit)
	}
}

func TestFromConfigKeepsDefaultsForZeroValues(t *testing.T) {
	cfg := FromConfig(config.RateLimitConfig{
		GlobalEnabled:    true,
		PerCallerEnabled: true,
		PerCallerLimit:   5,
		PerCallerWindow:  config.Duration{Duration: 10 * time.Second},
	}, nil)

	if cfg.GlobalLimit != 600 || cfg.GlobalWindow != time.Minute {
		t.Errorf("global = %d/%s, want defaults", cfg.GlobalLimit, cfg.GlobalWindow)
	}
	if cfg.PerCallerLimit != 5 || cfg.PerCallerWindow != 10*time.Second {
		t.Errorf("per-caller = %d/%s", cfg.PerCallerLimit, cfg.PerCallerWindow)
	}
	if cfg.PerIPEnabled {
		t.Error("per-IP limiter should follow the config flag")
	}
}

func TestGlobalLimiterDisabled(t *testing.T) {
	h := GlobalLimiter(Config{GlobalEnabled: false})(okHandler())
	for i := 0; i < 50; i++ {
		if w := serve(h, "10.0.0.1:1000"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, w.Code)
		}
	}
}

func TestGlobalLimiterEnforcesLimit(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	h := GlobalLimiter(Config{
		GlobalEnabled: true,
		GlobalLimit:   3,
		GlobalWindow:  time.Minute,
		Metrics:       m,
	})(okHandler())

	addrs := []string{"10.0.0.1:1000", "10.0.0.2:1000", "10.0.0.3:1000"}
	for i, addr := range addrs {
		if w := serve(h, addr); w.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, w.Code)
		}
	}

	w := serve(h, "10.0.0.4:1000")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", w.Header().Get("Retry-After"))
	}

	var body struct {
		Error struct {
			Code      string `json:"code"`
			Retryable bool   `json:"retryable"`
		} `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "rate_limited" || !body.Error.Retryable {
		t.Errorf("error = %+v", body.Error)
	}
	if got := promtest.ToFloat64(m.RateLimitHitsTotal.WithLabelValues("global")); got != 1 {
		t.Errorf("rate limit hits = %v, want 1", got)
	}
}

func TestCallerLimiterSeparatesPrincipals(t *testing.T) {
	limiter := CallerLimiter(Config{
		PerCallerEnabled: true,
		PerCallerLimit:   2,
		PerCallerWindow:  time.Minute,
	})
	alice := withCaller(authz.NewCaller("alice"), limiter(okHandler()))
	bob := withCaller(authz.NewCaller("bob"), limiter(okHandler()))

	for i := 0; i < 2; i++ {
		if w := serve(alice, "10.0.0.1:1000"); w.Code != http.StatusOK {
			t.Fatalf("alice request %d: status %d", i, w.Code)
		}
	}
	if w := serve(alice, "10.0.0.1:1000"); w.Code != http.StatusTooManyRequests {
		t.Errorf("alice third request: status %d, want 429", w.Code)
	}
	// Same IP, different principal.
	if w := serve(bob, "10.0.0.1:1000"); w.Code != http.StatusOK {
		t.Errorf("bob: status %d, want 200", w.Code)
	}
}

func TestCallerLimiterFallsBackToIP(t *testing.T) {
	h := withCaller(authz.Anonymous(), CallerLimiter(Config{
		PerCallerEnabled: true,
		PerCallerLimit:   2,
		PerCallerWindow:  time.Minute,
	})(okHandler()))

	for i := 0; i < 2; i++ {
		if w := serve(h, "192.168.1.1:12345"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, w.Code)
		}
	}
	if w := serve(h, "192.168.1.1:12345"); w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
	if w := serve(h, "192.168.1.2:12345"); w.Code != http.StatusOK {
		t.Errorf("other IP: status %d, want 200", w.Code)
	}
}

func TestServiceCallersAreExempt(t *testing.T) {
	cfg := Config{
		PerCallerEnabled: true,
		PerCallerLimit:   1,
		PerCallerWindow:  time.Minute,
		PerIPEnabled:     true,
		PerIPLimit:       1,
		PerIPWindow:      time.Minute,
	}
	h := withCaller(
		authz.NewCaller("scheduler", authz.CapabilityService),
		IPLimiter(cfg)(CallerLimiter(cfg)(okHandler())),
	)

	for i := 0; i < 10; i++ {
		if w := serve(h, "10.1.1.1:1000"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, w.Code)
		}
	}
}

func TestIPLimiterEnforcesLimit(t *testing.T) {
	h := withCaller(authz.Anonymous(), IPLimiter(Config{
		PerIPEnabled: true,
		PerIPLimit:   3,
		PerIPWindow:  time.Minute,
	})(okHandler()))

	ip := "192.168.1.100:54321"
	for i := 0; i < 3; i++ {
		if w := serve(h, ip); w.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, w.Code)
		}
	}
	if w := serve(h, ip); w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
	if w := serve(h, "192.168.1.101:54321"); w.Code != http.StatusOK {
		t.Errorf("different IP: status %d, want 200", w.Code)
	}
}

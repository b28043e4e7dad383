package onboard

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/minipay/onboarding/internal/config"
	"github.com/minipay/onboarding/internal/documents"
	"github.com/minipay/onboarding/internal/identity"
)

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestNewAppRequiresConfig(t *testing.T) {
	if _, err := NewApp(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestNewAppServesProvisioning(t *testing.T) {
	app, err := NewApp(context.Background(), loadConfig(t), WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer app.Close()

	body, _ := json.Marshal(map[string]any{
		"role": "ambassador",
		"profile": map[string]string{
			"email":      "a@b.com",
			"password":   "Str0ng!",
			"firstName":  "A",
			"lastName":   "B",
			"tgUsername": "@ab",
			"phone":      "+100",
			"country":    "Kenya",
		},
	})
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/principals", bytes.NewReader(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Ambassador created successfully") {
		t.Errorf("body = %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `onboarding_provisions_total{outcome="success",role="ambassador"} 1`) {
		t.Errorf("provision metric missing from /metrics output")
	}
}

func TestNewAppWithInjectedBackends(t *testing.T) {
	ids := identity.NewMemoryProvider()
	docs := documents.NewMemoryStore()

	app, err := NewApp(context.Background(), loadConfig(t),
		WithIdentity(ids),
		WithDocuments(docs),
		WithLogger(zerolog.Nop()),
		WithoutRoutes(),
	)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if app.Handler() != nil {
		t.Error("routes registered despite WithoutRoutes")
	}
	if err := app.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Injected backends stay open after Close.
	if _, err := ids.CreateIdentity(context.Background(), "still@open.com", "pass123"); err != nil {
		t.Errorf("injected identity provider was closed: %v", err)
	}
	if _, err := docs.Create(context.Background(), "users", "u1", nil); err != nil {
		t.Errorf("injected store was closed: %v", err)
	}
}

package authz

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDefaultPolicyCanProvision(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		name    string
		caller  Caller
		role    string
		wantErr error
	}{
		{"anyone can create ambassador", Anonymous(), "ambassador", nil},
		{"anyone can create customer", Anonymous(), "customer", nil},
		{"anonymous cannot create admin", Anonymous(), "admin", ErrPermissionDenied},
		{"admin cannot create admin", NewCaller("", CapabilityAdmin), "admin", ErrPermissionDenied},
		{"superadmin can create admin", NewCaller("", CapabilitySuperadmin), "admin", nil},
		{"unknown role", Operator(), "owner", ErrUnknownRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.CanProvision(tt.caller, tt.role)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCanActFor(t *testing.T) {
	p := DefaultPolicy()
	if err := p.CanActFor(NewCaller("U1"), "U1"); err != nil {
		t.Errorf("self: %v", err)
	}
	if err := p.CanActFor(NewCaller("U2"), "U1"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("other principal: err = %v", err)
	}
	if err := p.CanActFor(Anonymous(), ""); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("anonymous with empty id: err = %v", err)
	}
	if err := p.CanActFor(NewCaller("", CapabilityService), "U1"); err != nil {
		t.Errorf("service: %v", err)
	}
	if err := p.CanActFor(NewCaller("", CapabilitySuperadmin), "U1"); err != nil {
		t.Errorf("superadmin: %v", err)
	}
}

func TestMiddlewareResolvesCaller(t *testing.T) {
	mw := Middleware(Config{Enabled: true, Keys: map[string]string{"ops-key": "superadmin, service"}})

	var got Caller
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/principals", nil)
	req.Header.Set(HeaderAPIKey, "ops-key")
	req.Header.Set(HeaderPrincipalID, "U7")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if !got.Has(CapabilitySuperadmin) || !got.Has(CapabilityService) || !got.Has(CapabilityAdmin) {
		t.Errorf("capabilities = %v", got.CapabilityList())
	}
	if got.Subject != "U7" {
		t.Errorf("subject = %q", got.Subject)
	}
	if got.KeyFingerprint == "" || got.KeyFingerprint == "ops-key" {
		t.Errorf("fingerprint = %q", got.KeyFingerprint)
	}
}

func TestMiddlewareRejectsUnknownKey(t *testing.T) {
	mw := Middleware(Config{Enabled: true, Keys: map[string]string{"ops-key": "superadmin"}})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached with unknown key")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderAPIKey, "guess")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestMiddlewareDisabledIgnoresKeys(t *testing.T) {
	mw := Middleware(Config{Enabled: false, Keys: map[string]string{"ops-key": "superadmin"}})

	var got Caller
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderAPIKey, "ops-key")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got.Has(CapabilitySuperadmin) {
		t.Error("disabled keys granted superadmin")
	}
	if !got.Has(CapabilityAny) {
		t.Error("caller missing any")
	}
}

func TestMiddlewareSubjectRequiresDelegatingKey(t *testing.T) {
	mw := Middleware(Config{Enabled: true, Keys: map[string]string{
		"gateway-key": "delegate",
		"plain-key":   "reporting",
	}})

	tests := []struct {
		name        string
		key         string
		wantSubject string
	}{
		{"no key", "", ""},
		{"key without delegation", "plain-key", ""},
		{"delegating key", "gateway-key", "U7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Caller
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = FromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(HeaderPrincipalID, "U7")
			if tt.key != "" {
				req.Header.Set(HeaderAPIKey, tt.key)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if got.Subject != tt.wantSubject {
				t.Errorf("subject = %q, want %q", got.Subject, tt.wantSubject)
			}
		})
	}
}

func TestMiddlewareDisabledIgnoresSubject(t *testing.T) {
	mw := Middleware(Config{Enabled: false})

	var got Caller
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderPrincipalID, "U7")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got.Subject != "" {
		t.Errorf("subject = %q, want anonymous", got.Subject)
	}
	if err := DefaultPolicy().CanActFor(got, "U7"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("CanActFor = %v, want permission denied", err)
	}
}

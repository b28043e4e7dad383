package partner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/minipay/onboarding/internal/circuitbreaker"
	"github.com/minipay/onboarding/internal/config"
)

func newTestClient(t *testing.T, srv *httptest.Server, retryEnabled bool) *HTTPClient {
	t.Helper()
	c, err := NewHTTPClient(config.PartnerConfig{
		Provider: "http",
		BaseURL:  srv.URL,
		APIKey:   "partner-key",
		Timeout:  config.Duration{Duration: 2 * time.Second},
		Retry: config.RetryConfig{
			Enabled:         retryEnabled,
			MaxAttempts:     3,
			InitialInterval: config.Duration{Duration: time.Millisecond},
			MaxInterval:     config.Duration{Duration: 5 * time.Millisecond},
			Multiplier:      2,
		},
	}, circuitbreaker.Disabled(), nil)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	return c
}

func TestCreateCustomerSendsAuthAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/customers" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-Api-Key"); got != "partner-key" {
			t.Errorf("X-Api-Key = %q", got)
		}
		if r.Header.Get("Idempotency-Key") == "" {
			t.Error("missing Idempotency-Key")
		}
		var body CustomerRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.PrincipalID != "U1" || body.Country != "Venezuela" {
			t.Errorf("body = %+v", body)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"cus_1"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, false)
	cust, err := c.CreateCustomer(context.Background(), CustomerRequest{PrincipalID: "U1", Country: "Venezuela"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	if cust.ID != "cus_1" {
		t.Errorf("id = %q, want cus_1", cust.ID)
	}
}

func TestCreateCustomerValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"document number is invalid","field":"documentNumber"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, false)
	_, err := c.CreateCustomer(context.Background(), CustomerRequest{PrincipalID: "U1"})
	v, ok := IsValidation(err)
	if !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if v.Message != "document number is invalid" || v.Field != "documentNumber" || v.StatusCode != 422 {
		t.Errorf("validation error = %+v", v)
	}
	if IsTransient(err) {
		t.Error("validation error reported as transient")
	}
}

func TestRejectedCredentialsAreNotValidation(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"message":"invalid api key"}`))
			}))
			defer srv.Close()

			c := newTestClient(t, srv, false)
			_, err := c.CreateCustomer(context.Background(), CustomerRequest{PrincipalID: "U1"})
			if !errors.Is(err, ErrCredentialsRejected) {
				t.Fatalf("err = %v, want ErrCredentialsRejected", err)
			}
			if _, ok := IsValidation(err); ok {
				t.Error("rejected credentials reported as validation error")
			}
			if IsTransient(err) {
				t.Error("rejected credentials reported as transient")
			}
		})
	}
}

func TestCreateIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, true)
	_, err := c.CreateBankAccount(context.Background(), BankAccountRequest{CustomerID: "cus_1"})
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestDeleteRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/customers/cus_1/bank-accounts/ba_1" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, true)
	if err := c.DeleteBankAccount(context.Background(), "cus_1", "ba_1"); err != nil {
		t.Fatalf("DeleteBankAccount: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestDeleteNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, true)
	if err := c.DeleteCustomer(context.Background(), "cus_gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenBreakerIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, false)
	c.breakers = circuitbreaker.NewManager(circuitbreaker.Config{
		Enabled: true,
		Services: map[circuitbreaker.ServiceType]circuitbreaker.BreakerConfig{
			circuitbreaker.ServicePartnerAPI: {Timeout: time.Minute, ConsecutiveFailures: 1},
		},
	})

	_, _ = c.CreateCustomer(context.Background(), CustomerRequest{})
	_, err := c.CreateCustomer(context.Background(), CustomerRequest{})
	if !circuitbreaker.IsOpen(err) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if !IsTransient(err) {
		t.Error("open breaker should be transient")
	}
}

func TestDisabledClient(t *testing.T) {
	c, err := NewClient(config.PartnerConfig{Provider: "disabled"}, nil, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := c.CreateCustomer(context.Background(), CustomerRequest{}); !errors.Is(err, ErrDisabled) {
		t.Errorf("expected ErrDisabled, got %v", err)
	}
}

func TestNewClientRejectsUnknownProvider(t *testing.T) {
	if _, err := NewClient(config.PartnerConfig{Provider: "kontigo"}, nil, nil); err == nil {
		t.Error("expected error for unknown provider")
	}
}

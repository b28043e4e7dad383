package partner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/minipay/onboarding/internal/circuitbreaker"
	"github.com/minipay/onboarding/internal/config"
	"github.com/minipay/onboarding/internal/httputil"
	"github.com/minipay/onboarding/internal/metrics"
	"github.com/minipay/onboarding/internal/retry"
)

const maxResponseBody = 64 << 10

// HTTPClient calls a REST partner exposing /customers and
// /customers/{id}/bank-accounts.
type HTTPClient struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
	// deletes are idempotent and retried; creates are attempted once
	deletePolicy retry.Policy
}

// NewHTTPClient creates a REST partner client.
func NewHTTPClient(cfg config.PartnerConfig, breakers *circuitbreaker.Manager, m *metrics.Metrics) (*HTTPClient, error) {
	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("partner: invalid base url %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	policy := retry.PolicyFromConfig(cfg.Retry)
	policy.Retryable = func(err error) bool {
		var t *TransientError
		return errors.As(err, &t)
	}
	return &HTTPClient{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		http:         httputil.NewClient(timeout),
		breakers:     breakers,
		metrics:      m,
		deletePolicy: policy,
	}, nil
}

// Name implements Client.
func (c *HTTPClient) Name() string { return "http" }

// CreateCustomer implements Client.
func (c *HTTPClient) CreateCustomer(ctx context.Context, req CustomerRequest) (Customer, error) {
	var out Customer
	if err := c.call(ctx, "create_customer", http.MethodPost, "/customers", req, &out); err != nil {
		return Customer{}, err
	}
	if out.ID == "" {
		return Customer{}, &TransientError{Op: "create_customer", Err: errors.New("response missing customer id")}
	}
	return out, nil
}

// DeleteCustomer implements Client.
func (c *HTTPClient) DeleteCustomer(ctx context.Context, customerID string) error {
	path := "/customers/" + url.PathEscape(customerID)
	_, err := retry.Do(ctx, c.deletePolicy, "partner.delete_customer", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.call(ctx, "delete_customer", http.MethodDelete, path, nil, nil)
	})
	return err
}

// CreateBankAccount implements Client.
func (c *HTTPClient) CreateBankAccount(ctx context.Context, req BankAccountRequest) (BankAccount, error) {
	path := "/customers/" + url.PathEscape(req.CustomerID) + "/bank-accounts"
	var out BankAccount
	if err := c.call(ctx, "create_bank_account", http.MethodPost, path, req, &out); err != nil {
		return BankAccount{}, err
	}
	if out.ID == "" {
		return BankAccount{}, &TransientError{Op: "create_bank_account", Err: errors.New("response missing bank account id")}
	}
	if out.CustomerID == "" {
		out.CustomerID = req.CustomerID
	}
	return out, nil
}

// DeleteBankAccount implements Client.
func (c *HTTPClient) DeleteBankAccount(ctx context.Context, customerID, bankAccountID string) error {
	path := "/customers/" + url.PathEscape(customerID) + "/bank-accounts/" + url.PathEscape(bankAccountID)
	_, err := retry.Do(ctx, c.deletePolicy, "partner.delete_bank_account", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.call(ctx, "delete_bank_account", http.MethodDelete, path, nil, nil)
	})
	return err
}

type rawResponse struct {
	status int
	body   []byte
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Field   string `json:"field"`
}

// call performs one request through the partner breaker. Only transport
// failures and 5xx/429 count against the breaker.
func (c *HTTPClient) call(ctx context.Context, op, method, path string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("partner %s: encode request: %w", op, err)
		}
	}

	start := time.Now()
	resp, err := circuitbreaker.Do(c.breakers, circuitbreaker.ServicePartnerAPI, func() (rawResponse, error) {
		return c.send(ctx, op, method, path, payload)
	})
	if err != nil {
		c.metrics.ObservePartnerCall(c.Name(), op, metrics.StatusClass(resp.status), time.Since(start))
		if circuitbreaker.IsOpen(err) {
			return &TransientError{Op: op, Err: err}
		}
		return err
	}
	c.metrics.ObservePartnerCall(c.Name(), op, metrics.StatusClass(resp.status), time.Since(start))

	if resp.status >= 400 {
		switch {
		case method == http.MethodDelete && resp.status == http.StatusNotFound:
			return fmt.Errorf("partner %s: %w", op, ErrNotFound)
		case resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden:
			return fmt.Errorf("partner %s: status %d: %w", op, resp.status, ErrCredentialsRejected)
		}
		return decodeValidation(resp)
	}
	if out != nil && len(resp.body) > 0 {
		if err := json.Unmarshal(resp.body, out); err != nil {
			return &TransientError{Op: op, StatusCode: resp.status, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

func (c *HTTPClient) send(ctx context.Context, op, method, path string, payload []byte) (rawResponse, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return rawResponse{}, fmt.Errorf("partner %s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	if method == http.MethodPost {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return rawResponse{}, &TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return rawResponse{status: resp.StatusCode}, &TransientError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	raw := rawResponse{status: resp.StatusCode, body: data}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return raw, &TransientError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}
	return raw, nil
}

func decodeValidation(resp rawResponse) error {
	var eb errorBody
	_ = json.Unmarshal(resp.body, &eb)
	msg := eb.Message
	if msg == "" {
		msg = eb.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.status)
	}
	return &ValidationError{StatusCode: resp.status, Message: msg, Field: eb.Field}
}

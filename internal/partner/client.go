package partner

import (
	"context"
	"errors"
	"fmt"

	"github.com/minipay/onboarding/internal/circuitbreaker"
	"github.com/minipay/onboarding/internal/config"
	"github.com/minipay/onboarding/internal/metrics"
)

var (
	// ErrDisabled is returned by every call when no partner backend is configured.
	ErrDisabled = errors.New("partner: integration disabled")
	// ErrNotFound is returned when a delete targets a resource the partner does not know.
	ErrNotFound = errors.New("partner: resource not found")

	// ErrCredentialsRejected is returned when the partner refuses our API key.
	// It is an operator problem, never the caller's.
	ErrCredentialsRejected = errors.New("partner: credentials rejected")
)

// Address is a postal address submitted with a customer.
type Address struct {
	Line1      string `json:"line1"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
}

// CustomerRequest creates a partner customer for a principal.
type CustomerRequest struct {
	PrincipalID    string  `json:"externalId"`
	Email          string  `json:"email"`
	FirstName      string  `json:"firstName"`
	LastName       string  `json:"lastName"`
	Phone          string  `json:"phone"`
	Country        string  `json:"country"`
	DocumentType   string  `json:"documentType"`
	DocumentNumber string  `json:"documentNumber"`
	Address        Address `json:"address"`
}

// Customer is the partner's view of a created customer.
type Customer struct {
	ID string `json:"id"`
}

// BankAccountRequest links a bank account to a partner customer.
type BankAccountRequest struct {
	CustomerID    string `json:"-"`
	HolderName    string `json:"holderName"`
	AccountNumber string `json:"accountNumber"`
	AccountType   string `json:"accountType"`
	Currency      string `json:"currency"`
	Country       string `json:"country"`
	RoutingNumber string `json:"routingNumber,omitempty"`
}

// BankAccount is the partner's view of a linked bank account.
type BankAccount struct {
	ID         string `json:"id"`
	CustomerID string `json:"customerId"`
	Last4      string `json:"last4"`
	BankName   string `json:"bankName"`
}

// Client talks to the customer / bank-account backend.
type Client interface {
	CreateCustomer(ctx context.Context, req CustomerRequest) (Customer, error)
	DeleteCustomer(ctx context.Context, customerID string) error
	CreateBankAccount(ctx context.Context, req BankAccountRequest) (BankAccount, error)
	DeleteBankAccount(ctx context.Context, customerID, bankAccountID string) error
	// Name identifies the backend in logs and metrics.
	Name() string
}

// ValidationError is a rejection by the partner that the caller can fix.
// Message is the partner's own explanation and is safe to show to users.
type ValidationError struct {
	StatusCode int
	Message    string
	Field      string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("partner rejected request (%d): %s: %s", e.StatusCode, e.Field, e.Message)
	}
	return fmt.Sprintf("partner rejected request (%d): %s", e.StatusCode, e.Message)
}

// TransientError wraps a failure that may succeed on retry.
type TransientError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("partner %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("partner %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Temporary marks the error as retryable.
func (e *TransientError) Temporary() bool { return true }

// IsValidation reports whether err is a partner validation rejection and returns it.
func IsValidation(err error) (*ValidationError, bool) {
	var v *ValidationError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

// IsTransient reports whether err is a retryable partner failure.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t) || circuitbreaker.IsOpen(err)
}

// NewClient builds the backend selected by cfg.Provider.
func NewClient(cfg config.PartnerConfig, breakers *circuitbreaker.Manager, m *metrics.Metrics) (Client, error) {
	switch cfg.Provider {
	case "", "disabled":
		return DisabledClient{}, nil
	case "http":
		return NewHTTPClient(cfg, breakers, m)
	case "stripe":
		return NewStripeClient(cfg, breakers, m)
	default:
		return nil, fmt.Errorf("partner: unsupported provider %q", cfg.Provider)
	}
}

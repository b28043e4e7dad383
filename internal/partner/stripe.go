package partner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	stripeapi "github.com/stripe/stripe-go/v72"
	stripeclient "github.com/stripe/stripe-go/v72/client"

	"github.com/minipay/onboarding/internal/circuitbreaker"
	"github.com/minipay/onboarding/internal/config"
	"github.com/minipay/onboarding/internal/metrics"
)

// StripeClient stores partner customers and bank accounts in Stripe.
type StripeClient struct {
	api      *stripeclient.API
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
}

// NewStripeClient creates a Stripe-backed partner client.
func NewStripeClient(cfg config.PartnerConfig, breakers *circuitbreaker.Manager, m *metrics.Metrics) (*StripeClient, error) {
	if cfg.StripeSecretKey == "" {
		return nil, errors.New("partner: stripe secret key required")
	}
	api := &stripeclient.API{}
	api.Init(cfg.StripeSecretKey, nil)
	return &StripeClient{api: api, breakers: breakers, metrics: m}, nil
}

// Name implements Client.
func (c *StripeClient) Name() string { return "stripe" }

// CreateCustomer implements Client.
func (c *StripeClient) CreateCustomer(ctx context.Context, req CustomerRequest) (Customer, error) {
	params := &stripeapi.CustomerParams{
		Email: stripeapi.String(req.Email),
		Name:  stripeapi.String(req.FirstName + " " + req.LastName),
		Phone: stripeapi.String(req.Phone),
		Address: &stripeapi.AddressParams{
			Line1:      stripeapi.String(req.Address.Line1),
			City:       stripeapi.String(req.Address.City),
			State:      stripeapi.String(req.Address.State),
			PostalCode: stripeapi.String(req.Address.PostalCode),
			Country:    stripeapi.String(req.Country),
		},
	}
	params.Context = ctx
	params.AddMetadata("principal_id", req.PrincipalID)
	params.AddMetadata("document_type", req.DocumentType)
	params.AddMetadata("document_number", req.DocumentNumber)

	cust, err := observeStripe(c, "create_customer", func() (*stripeapi.Customer, error) {
		return c.api.Customers.New(params)
	})
	if err != nil {
		return Customer{}, err
	}
	return Customer{ID: cust.ID}, nil
}

// DeleteCustomer implements Client.
func (c *StripeClient) DeleteCustomer(ctx context.Context, customerID string) error {
	params := &stripeapi.CustomerParams{}
	params.Context = ctx
	_, err := observeStripe(c, "delete_customer", func() (*stripeapi.Customer, error) {
		return c.api.Customers.Del(customerID, params)
	})
	return err
}

// CreateBankAccount implements Client.
func (c *StripeClient) CreateBankAccount(ctx context.Context, req BankAccountRequest) (BankAccount, error) {
	params := &stripeapi.BankAccountParams{
		Customer:          stripeapi.String(req.CustomerID),
		AccountHolderName: stripeapi.String(req.HolderName),
		AccountHolderType: stripeapi.String("individual"),
		AccountNumber:     stripeapi.String(req.AccountNumber),
		Country:           stripeapi.String(req.Country),
		Currency:          stripeapi.String(req.Currency),
	}
	if req.RoutingNumber != "" {
		params.RoutingNumber = stripeapi.String(req.RoutingNumber)
	}
	params.Context = ctx
	params.AddMetadata("account_type", req.AccountType)

	ba, err := observeStripe(c, "create_bank_account", func() (*stripeapi.BankAccount, error) {
		return c.api.BankAccounts.New(params)
	})
	if err != nil {
		return BankAccount{}, err
	}
	return BankAccount{ID: ba.ID, CustomerID: req.CustomerID, Last4: ba.Last4, BankName: ba.BankName}, nil
}

// DeleteBankAccount implements Client.
func (c *StripeClient) DeleteBankAccount(ctx context.Context, customerID, bankAccountID string) error {
	params := &stripeapi.BankAccountParams{Customer: stripeapi.String(customerID)}
	params.Context = ctx
	_, err := observeStripe(c, "delete_bank_account", func() (*stripeapi.BankAccount, error) {
		return c.api.BankAccounts.Del(bankAccountID, params)
	})
	return err
}

func observeStripe[T any](c *StripeClient, op string, fn func() (T, error)) (T, error) {
	start := time.Now()
	out, err := circuitbreaker.Do(c.breakers, circuitbreaker.ServicePartnerAPI, func() (T, error) {
		v, err := fn()
		if err != nil {
			return v, classifyStripeError(op, err)
		}
		return v, nil
	})
	c.metrics.ObservePartnerCall(c.Name(), op, metrics.StatusClass(stripeStatus(err)), time.Since(start))
	if err != nil && circuitbreaker.IsOpen(err) {
		return out, &TransientError{Op: op, Err: err}
	}
	return out, err
}

func classifyStripeError(op string, err error) error {
	var serr *stripeapi.Error
	if !errors.As(err, &serr) {
		return &TransientError{Op: op, Err: err}
	}
	switch {
	case serr.Code == stripeapi.ErrorCodeResourceMissing:
		return fmt.Errorf("partner %s: %w", op, ErrNotFound)
	case serr.HTTPStatusCode >= 500 || serr.HTTPStatusCode == http.StatusTooManyRequests:
		return &TransientError{Op: op, StatusCode: serr.HTTPStatusCode, Err: err}
	case serr.HTTPStatusCode == http.StatusUnauthorized || serr.HTTPStatusCode == http.StatusForbidden:
		return fmt.Errorf("partner %s: %w", op, ErrCredentialsRejected)
	case serr.Type == stripeapi.ErrorTypeInvalidRequest || serr.Type == stripeapi.ErrorTypeCard:
		return &ValidationError{StatusCode: serr.HTTPStatusCode, Message: serr.Msg, Field: serr.Param}
	default:
		return &TransientError{Op: op, StatusCode: serr.HTTPStatusCode, Err: err}
	}
}

func stripeStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var v *ValidationError
	if errors.As(err, &v) {
		return v.StatusCode
	}
	var t *TransientError
	if errors.As(err, &t) && t.StatusCode > 0 {
		return t.StatusCode
	}
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	return 0
}

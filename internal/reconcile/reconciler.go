package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/minipay/onboarding/internal/config"
	"github.com/minipay/onboarding/internal/documents"
	apierrors "github.com/minipay/onboarding/internal/errors"
	"github.com/minipay/onboarding/internal/logger"
	"github.com/minipay/onboarding/internal/metrics"
)

// Onboarding steps presented to a returning principal.
const (
	NextStepCreateCustomer  = "create-customer"
	NextStepLinkBankAccount = "link-bank-account"
	NextStepComplete        = "complete"
)

// Record is the onboarding state of a principal computed from source
// systems. It is never read back from the cached profile flags.
type Record struct {
	PrincipalID         string    `json:"principalId"`
	HasCustomerAccount  bool      `json:"hasCustomerAccount"`
	HasBankAccount      bool      `json:"hasBankAccount"`
	HasWalletLinked     bool      `json:"hasWalletLinked"`
	BankAccountRequired bool      `json:"bankAccountRequired"`
	CustomerID          string    `json:"customerId,omitempty"`
	Country             string    `json:"country,omitempty"`
	CheckedAt           time.Time `json:"checkedAt"`
}

// NextStep returns the onboarding step the principal should see next.
func (r Record) NextStep() string {
	switch {
	case !r.HasCustomerAccount:
		return NextStepCreateCustomer
	case !r.HasBankAccount:
		return NextStepLinkBankAccount
	default:
		return NextStepComplete
	}
}

// Reconciler recomputes onboarding flags from the customer, bank account
// and wallet collections.
type Reconciler struct {
	store       documents.Store
	collections config.CollectionsConfig
	policy      BankLinkingPolicy
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewReconciler creates a reconciler over store.
func NewReconciler(store documents.Store, collections config.CollectionsConfig, policy BankLinkingPolicy, m *metrics.Metrics) *Reconciler {
	collections.ApplyDefaults()
	return &Reconciler{
		store:       store,
		collections: collections,
		policy:      policy,
		metrics:     m,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// RequiresBankAccountLinking exposes the configured country policy.
func (r *Reconciler) RequiresBankAccountLinking(country string) bool {
	return r.policy.RequiresBankAccountLinking(country)
}

// Reconcile queries every source system for principalID. The customer
// record's country wins over the country argument. If any query fails the
// affected flags are false, the returned error is retryable and the
// profile cache is left untouched.
func (r *Reconciler) Reconcile(ctx context.Context, principalID, country string) (Record, error) {
	start := time.Now()
	log := logger.FromContext(ctx).With().Str("principal_id", principalID).Logger()
	rec := Record{PrincipalID: principalID, CheckedAt: r.now()}
	var failures []error

	queryFailed := func(source string, err error) {
		log.Warn().Err(err).Str("source", source).Msg("reconcile.query_failed")
		failures = append(failures, err)
	}

	customers, err := r.store.Query(ctx, documents.Query{
		Collection: r.collections.Customers,
		Filters:    []documents.Filter{documents.Eq("principalId", principalID)},
		Limit:      1,
	})
	switch {
	case err != nil:
		queryFailed("customers", err)
	case len(customers) > 0:
		customer := customers[0]
		rec.HasCustomerAccount = true
		rec.CustomerID = customer.ID
		rec.Country = customer.String("country")
		if rec.Country == "" {
			rec.Country = country
		}

		rec.BankAccountRequired = r.policy.RequiresBankAccountLinking(rec.Country)
		if !rec.BankAccountRequired {
			rec.HasBankAccount = true
			break
		}
		accounts, err := r.store.Query(ctx, documents.Query{
			Collection: r.collections.BankAccounts,
			Filters:    []documents.Filter{documents.Eq("customerId", customer.ID)},
			Limit:      1,
		})
		if err != nil {
			queryFailed("bankAccounts", err)
		} else {
			rec.HasBankAccount = len(accounts) > 0
		}
	default:
		rec.Country = country
		rec.BankAccountRequired = r.policy.RequiresBankAccountLinking(country)
	}

	wallets, err := r.store.Query(ctx, documents.Query{
		Collection: r.collections.Wallets,
		Filters:    []documents.Filter{documents.Eq("principalId", principalID)},
		Limit:      1,
	})
	if err != nil {
		queryFailed("wallets", err)
	} else {
		rec.HasWalletLinked = len(wallets) > 0
	}

	if len(failures) > 0 {
		r.metrics.ObserveReconcile("unavailable", time.Since(start))
		return rec, apierrors.Wrap(apierrors.ErrCodeUnavailable,
			"onboarding status could not be verified, try again", errors.Join(failures...))
	}

	r.writeCache(ctx, rec)
	r.metrics.ObserveReconcile("ok", time.Since(start))
	return rec, nil
}

// writeCache stores the flags on the profile for display only. Principals
// without a user profile (staff) are skipped.
func (r *Reconciler) writeCache(ctx context.Context, rec Record) {
	err := r.store.Update(ctx, r.collections.Users, rec.PrincipalID, map[string]interface{}{
		"hasCustomerAccount": rec.HasCustomerAccount,
		"hasBankAccount":     rec.HasBankAccount,
		"hasWalletLinked":    rec.HasWalletLinked,
		"flagsUpdatedAt":     rec.CheckedAt.Format(time.RFC3339Nano),
	})
	if err == nil || errors.Is(err, documents.ErrNotFound) {
		return
	}
	log := logger.FromContext(ctx)
	log.Warn().
		Err(err).
		Str("principal_id", rec.PrincipalID).
		Msg("reconcile.cache_write_failed")
}

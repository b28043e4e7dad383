package provisioning

import (
	"context"
	"errors"
	"time"

	"github.com/minipay/onboarding/internal/authz"
	"github.com/minipay/onboarding/internal/documents"
	apierrors "github.com/minipay/onboarding/internal/errors"
	"github.com/minipay/onboarding/internal/logger"
	"github.com/minipay/onboarding/internal/partner"
	"github.com/minipay/onboarding/internal/reconcile"
)

// CreateCustomerAccount opens a partner customer for an existing customer
// principal and records it, then refreshes the onboarding flags. A claim
// keyed by the principal is written before the partner call, so concurrent
// requests for one principal cannot both open a customer.
func (o *Orchestrator) CreateCustomerAccount(ctx context.Context, principalID string, req CustomerAccountRequest, caller authz.Caller) (CustomerAccountResult, error) {
	if err := o.policy.CanActFor(caller, principalID); err != nil {
		return CustomerAccountResult{}, authzError(err)
	}
	req, fieldErrs := ValidateCustomerAccount(req)
	if len(fieldErrs) > 0 {
		return CustomerAccountResult{}, invalidFields(fieldErrs)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.callTimeout)
	defer cancel()

	profile, err := o.customerProfile(ctx, principalID)
	if err != nil {
		return CustomerAccountResult{}, err
	}
	existing, err := o.findCustomer(ctx, principalID)
	if err != nil {
		return CustomerAccountResult{}, err
	}
	if existing != nil {
		return CustomerAccountResult{}, apierrors.New(apierrors.ErrCodeAlreadyExists, "customer account already exists")
	}

	country := req.Country
	if country == "" {
		country = profile.String("country")
	}
	if country == "" {
		return CustomerAccountResult{}, invalidFields([]FieldError{{Field: "country", Reason: "required"}})
	}

	var customerID string
	p := &Principal{ID: principalID, Role: RoleCustomer}
	seq := Sequence{
		Name: "create-customer-account",
		Steps: []Step{
			{
				Name: "claim-customer",
				Forward: func(ctx context.Context, p *Principal) error {
					_, err := o.docs.Create(ctx, o.collections.CustomerClaims, p.ID, map[string]interface{}{
						"principalId": p.ID,
					})
					if errors.Is(err, documents.ErrAlreadyExists) {
						return apierrors.Wrap(apierrors.ErrCodeAlreadyExists, "customer account already exists", err)
					}
					return err
				},
				Undo: func(ctx context.Context, p *Principal) error {
					return ignoreMissing(o.docs.Delete(ctx, o.collections.CustomerClaims, p.ID), documents.ErrNotFound)
				},
			},
			{
				Name: "create-partner-customer",
				Forward: func(ctx context.Context, p *Principal) error {
					cust, err := o.partner.CreateCustomer(ctx, partner.CustomerRequest{
						PrincipalID:    p.ID,
						Email:          profile.String("email"),
						FirstName:      profile.String("firstName"),
						LastName:       profile.String("lastName"),
						Phone:          profile.String("phone"),
						Country:        country,
						DocumentType:   req.DocumentType,
						DocumentNumber: req.DocumentNumber,
						Address: partner.Address{
							Line1:      req.AddressLine1,
							City:       req.City,
							State:      req.State,
							PostalCode: req.PostalCode,
						},
					})
					if err != nil {
						return err
					}
					customerID = cust.ID
					return nil
				},
				Undo: func(ctx context.Context, p *Principal) error {
					return ignoreMissing(o.partner.DeleteCustomer(ctx, customerID), partner.ErrNotFound)
				},
			},
			{
				Name: "write-customer-record",
				Forward: func(ctx context.Context, p *Principal) error {
					_, err := o.docs.Create(ctx, o.collections.Customers, customerID, map[string]interface{}{
						"principalId":  p.ID,
						"country":      country,
						"documentType": req.DocumentType,
						"provider":     o.partner.Name(),
					})
					return err
				},
				Undo: func(ctx context.Context, p *Principal) error {
					return ignoreMissing(o.docs.Delete(ctx, o.collections.Customers, customerID), documents.ErrNotFound)
				},
			},
		},
	}

	if err := o.runner.run(ctx, seq, p); err != nil {
		return CustomerAccountResult{}, classify(err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("principal_id", principalID).
		Str("customer_id", customerID).
		Msg("provisioning.customer_account_created")

	return CustomerAccountResult{
		CustomerID:          customerID,
		BankAccountRequired: o.reconciler.RequiresBankAccountLinking(country),
		Onboarding:          o.refresh(ctx, principalID, country),
	}, nil
}

// LinkBankAccount links a bank account at the partner to the principal's
// customer and records it.
func (o *Orchestrator) LinkBankAccount(ctx context.Context, principalID string, req BankAccountLinkRequest, caller authz.Caller) (BankAccountResult, error) {
	if err := o.policy.CanActFor(caller, principalID); err != nil {
		return BankAccountResult{}, authzError(err)
	}
	req, fieldErrs := ValidateBankAccount(req)
	if len(fieldErrs) > 0 {
		return BankAccountResult{}, invalidFields(fieldErrs)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.callTimeout)
	defer cancel()

	customer, err := o.findCustomer(ctx, principalID)
	if err != nil {
		return BankAccountResult{}, err
	}
	if customer == nil {
		return BankAccountResult{}, apierrors.New(apierrors.ErrCodeFailedPrecondition,
			"a customer account is required before linking a bank account")
	}
	country := customer.String("country")

	var account partner.BankAccount
	p := &Principal{ID: principalID, Role: RoleCustomer}
	seq := Sequence{
		Name: "link-bank-account",
		Steps: []Step{
			{
				Name: "create-partner-bank-account",
				Forward: func(ctx context.Context, p *Principal) error {
					ba, err := o.partner.CreateBankAccount(ctx, partner.BankAccountRequest{
						CustomerID:    customer.ID,
						HolderName:    req.HolderName,
						AccountNumber: req.AccountNumber,
						AccountType:   req.AccountType,
						Currency:      req.Currency,
						Country:       country,
						RoutingNumber: req.RoutingNumber,
					})
					if err != nil {
						return err
					}
					account = ba
					return nil
				},
				Undo: func(ctx context.Context, p *Principal) error {
					return ignoreMissing(o.partner.DeleteBankAccount(ctx, customer.ID, account.ID), partner.ErrNotFound)
				},
			},
			{
				Name: "write-bank-account-record",
				Forward: func(ctx context.Context, p *Principal) error {
					_, err := o.docs.Create(ctx, o.collections.BankAccounts, account.ID, map[string]interface{}{
						"customerId":  customer.ID,
						"principalId": p.ID,
						"last4":       account.Last4,
						"bankName":    account.BankName,
						"accountType": req.AccountType,
						"currency":    req.Currency,
					})
					return err
				},
				Undo: func(ctx context.Context, p *Principal) error {
					return ignoreMissing(o.docs.Delete(ctx, o.collections.BankAccounts, account.ID), documents.ErrNotFound)
				},
			},
		},
	}

	if err := o.runner.run(ctx, seq, p); err != nil {
		return BankAccountResult{}, classify(err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("principal_id", principalID).
		Str("bank_account_id", account.ID).
		Msg("provisioning.bank_account_linked")

	return BankAccountResult{
		BankAccountID: account.ID,
		Last4:         account.Last4,
		Onboarding:    o.refresh(ctx, principalID, country),
	}, nil
}

// LinkWallet records a wallet address for an existing principal. A
// principal has at most one linked wallet.
func (o *Orchestrator) LinkWallet(ctx context.Context, principalID, address string, caller authz.Caller) (WalletResult, error) {
	if err := o.policy.CanActFor(caller, principalID); err != nil {
		return WalletResult{}, authzError(err)
	}
	if address == "" {
		return WalletResult{}, invalidFields([]FieldError{{Field: "address", Reason: "required"}})
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.callTimeout)
	defer cancel()

	if o.wallets != nil {
		normalized, err := o.wallets.Validate(ctx, address)
		if err != nil {
			return WalletResult{}, classify(err)
		}
		address = normalized
	}

	profile, err := o.customerProfile(ctx, principalID)
	if err != nil {
		return WalletResult{}, err
	}

	p := &Principal{ID: principalID, Role: RoleCustomer}
	seq := Sequence{
		Name: "link-wallet",
		Steps: []Step{
			{
				Name: "write-wallet-record",
				Forward: func(ctx context.Context, p *Principal) error {
					_, err := o.docs.Create(ctx, o.collections.Wallets, p.ID, map[string]interface{}{
						"principalId": p.ID,
						"address":     address,
						"chain":       "solana",
					})
					if errors.Is(err, documents.ErrAlreadyExists) {
						return apierrors.Wrap(apierrors.ErrCodeAlreadyExists, "a wallet is already linked", err)
					}
					return err
				},
			},
		},
	}
	if err := o.runner.run(ctx, seq, p); err != nil {
		return WalletResult{}, classify(err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("principal_id", principalID).
		Str("address", logger.TruncateAddress(address)).
		Msg("provisioning.wallet_linked")

	return WalletResult{
		Address:    address,
		Onboarding: o.refresh(ctx, principalID, profile.String("country")),
	}, nil
}

// Reconcile recomputes the onboarding flags of principalID on behalf of caller.
func (o *Orchestrator) Reconcile(ctx context.Context, principalID, country string, caller authz.Caller) (reconcile.Record, error) {
	if err := o.policy.CanActFor(caller, principalID); err != nil {
		return reconcile.Record{}, authzError(err)
	}
	if country == "" {
		if doc, err := o.docs.Get(ctx, o.collections.Users, principalID); err == nil {
			country = doc.String("country")
		}
	}
	return o.reconciler.Reconcile(ctx, principalID, country)
}

// refresh reconciles after a flow. The flow already succeeded, so a failed
// reconciliation is reported through Stale rather than as an error.
func (o *Orchestrator) refresh(ctx context.Context, principalID, country string) OnboardingStatus {
	rec, err := o.reconciler.Reconcile(ctx, principalID, country)
	status := OnboardingStatus{
		HasCustomerAccount: rec.HasCustomerAccount,
		HasBankAccount:     rec.HasBankAccount,
		HasWalletLinked:    rec.HasWalletLinked,
		CheckedAt:          rec.CheckedAt,
	}
	if err != nil {
		status.Stale = true
		if status.CheckedAt.IsZero() {
			status.CheckedAt = time.Now().UTC()
		}
	}
	return status
}

// customerProfile loads users/{principalID} and requires role customer.
func (o *Orchestrator) customerProfile(ctx context.Context, principalID string) (documents.Document, error) {
	doc, err := o.docs.Get(ctx, o.collections.Users, principalID)
	if errors.Is(err, documents.ErrNotFound) {
		return documents.Document{}, apierrors.New(apierrors.ErrCodeNotFound, "principal not found")
	}
	if err != nil {
		return documents.Document{}, unavailable(err)
	}
	if doc.String("role") != string(RoleCustomer) {
		return documents.Document{}, apierrors.New(apierrors.ErrCodeFailedPrecondition, "principal is not a customer")
	}
	return doc, nil
}

// findCustomer returns the customer record of principalID, or nil.
func (o *Orchestrator) findCustomer(ctx context.Context, principalID string) (*documents.Document, error) {
	docs, err := o.docs.Query(ctx, documents.Query{
		Collection: o.collections.Customers,
		Filters:    []documents.Filter{documents.Eq("principalId", principalID)},
		Limit:      1,
	})
	if err != nil {
		return nil, unavailable(err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return &docs[0], nil
}

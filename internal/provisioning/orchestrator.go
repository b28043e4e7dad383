package provisioning

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/minipay/onboarding/internal/authz"
	"github.com/minipay/onboarding/internal/config"
	"github.com/minipay/onboarding/internal/documents"
	apierrors "github.com/minipay/onboarding/internal/errors"
	"github.com/minipay/onboarding/internal/identity"
	"github.com/minipay/onboarding/internal/logger"
	"github.com/minipay/onboarding/internal/metrics"
	"github.com/minipay/onboarding/internal/notify"
	"github.com/minipay/onboarding/internal/partner"
	"github.com/minipay/onboarding/internal/reconcile"
)

// DefaultCallTimeout bounds one provisioning call when none is configured.
const DefaultCallTimeout = 30 * time.Second

// Reconciler recomputes onboarding flags after a flow changes them.
type Reconciler interface {
	Reconcile(ctx context.Context, principalID, country string) (reconcile.Record, error)
	RequiresBankAccountLinking(country string) bool
}

// WalletValidator normalizes and checks wallet addresses.
type WalletValidator interface {
	Validate(ctx context.Context, address string) (string, error)
}

// Deps are the external systems the orchestrator drives. Identity,
// Documents and Reconciler are required.
type Deps struct {
	Identity   identity.Provider
	Documents  documents.Store
	Partner    partner.Client
	Notifier   notify.Sender
	Wallets    WalletValidator
	Reconciler Reconciler
	Policy     *authz.Policy
	Metrics    *metrics.Metrics
}

// Orchestrator runs provisioning sequences. It holds no per-call state, so
// concurrent calls are independent.
type Orchestrator struct {
	identity    identity.Provider
	docs        documents.Store
	partner     partner.Client
	notifier    notify.Sender
	wallets     WalletValidator
	reconciler  Reconciler
	policy      authz.Policy
	metrics     *metrics.Metrics
	collections config.CollectionsConfig
	callTimeout time.Duration
	orphanAge   time.Duration
	runner      *runner
}

// New creates an orchestrator.
func New(cfg config.OnboardingConfig, deps Deps) *Orchestrator {
	policy := authz.DefaultPolicy()
	if deps.Policy != nil {
		policy = *deps.Policy
	}
	if deps.Partner == nil {
		deps.Partner = partner.DisabledClient{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NoopSender{}
	}
	callTimeout := cfg.CallTimeout.Duration
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	orphanAge := cfg.OrphanMinAge.Duration
	if orphanAge <= 0 {
		orphanAge = DefaultOrphanMinAge
	}
	collections := cfg.Collections
	collections.ApplyDefaults()

	return &Orchestrator{
		identity:    deps.Identity,
		docs:        deps.Documents,
		partner:     deps.Partner,
		notifier:    deps.Notifier,
		wallets:     deps.Wallets,
		reconciler:  deps.Reconciler,
		policy:      policy,
		metrics:     deps.Metrics,
		collections: collections,
		callTimeout: callTimeout,
		orphanAge:   orphanAge,
		runner: &runner{
			compensator: NewCompensator(cfg.CompensationTimeout.Duration, deps.Metrics),
			metrics:     deps.Metrics,
		},
	}
}

var successMessages = map[Role]string{
	RoleAdmin:      "Admin created successfully",
	RoleAmbassador: "Ambassador created successfully",
	RoleCustomer:   "Customer created successfully",
}

// Provision creates a principal of req.Role. Authorization and validation
// run before any external call. A failed step rolls back every completed
// step and the original failure is returned, classified.
func (o *Orchestrator) Provision(ctx context.Context, req Request, caller authz.Caller) (Result, error) {
	start := time.Now()
	role := Role(strings.ToLower(strings.TrimSpace(req.Role)))

	res, err := o.provision(ctx, role, req.Fields, caller)

	label := string(role)
	if !role.Valid() {
		label = "unknown"
	}
	o.metrics.ObserveProvision(label, outcome(err), time.Since(start))
	return res, err
}

func (o *Orchestrator) provision(ctx context.Context, role Role, fields map[string]string, caller authz.Caller) (Result, error) {
	if err := o.policy.CanProvision(caller, string(role)); err != nil {
		return Result{}, authzError(err)
	}
	profile, fieldErrs := Validate(role, fields)
	if len(fieldErrs) > 0 {
		return Result{}, invalidFields(fieldErrs)
	}

	// A disconnecting caller must not abort the sequence half-way.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.callTimeout)
	defer cancel()

	p := &Principal{Role: role, Profile: profile, Status: StatusPending}
	log := logger.FromContext(ctx)
	log.Info().
		Str("role", string(role)).
		Str("email", logger.RedactEmail(profile.Email)).
		Str("phone", logger.RedactPhone(profile.Phone)).
		Msg("provisioning.started")

	if err := o.runner.run(ctx, o.principalSequence(p), p); err != nil {
		classified := classify(err)
		log.Warn().
			Str("role", string(role)).
			Str("principal_id", p.ID).
			Str("code", string(classified.Code)).
			Msg("provisioning.failed")
		return Result{}, classified
	}

	log.Info().
		Str("role", string(role)).
		Str("principal_id", p.ID).
		Msg("provisioning.completed")
	return Result{
		Message:     successMessages[role],
		PrincipalID: p.ID,
		Role:        role,
		Status:      p.Status,
	}, nil
}

// principalSequence builds the identity, profile, claims and verification
// steps shared by every role.
func (o *Orchestrator) principalSequence(p *Principal) Sequence {
	collection := o.collections.Users
	if p.Role.IsStaff() {
		collection = o.collections.Staffs
	}

	return Sequence{
		Name: "provision-" + string(p.Role),
		Steps: []Step{
			{
				Name:    "create-identity",
				Reaches: StatusAuthCreated,
				Forward: func(ctx context.Context, p *Principal) error {
					id, err := o.identity.CreateIdentity(ctx, p.Profile.Email, p.Profile.Password)
					if err != nil {
						return err
					}
					p.ID = id.ID
					return nil
				},
				Undo: func(ctx context.Context, p *Principal) error {
					return ignoreMissing(o.identity.DeleteIdentity(ctx, p.ID), identity.ErrNotFound)
				},
			},
			{
				Name:    "write-profile",
				Reaches: StatusProfileWritten,
				Forward: func(ctx context.Context, p *Principal) error {
					_, err := o.docs.Create(ctx, collection, p.ID, profileDocument(p))
					return err
				},
				Undo: func(ctx context.Context, p *Principal) error {
					return ignoreMissing(o.docs.Delete(ctx, collection, p.ID), documents.ErrNotFound)
				},
			},
			{
				// Covered by deleting the identity on rollback.
				Name:    "set-claims",
				Reaches: StatusClaimsSet,
				Forward: func(ctx context.Context, p *Principal) error {
					return o.identity.SetClaims(ctx, p.ID, map[string]string{"role": string(p.Role)})
				},
			},
			{
				Name:       "send-verification",
				BestEffort: true,
				Forward: func(ctx context.Context, p *Principal) error {
					err := o.notifier.SendVerification(ctx, notify.VerificationRequest{
						PrincipalID: p.ID,
						Email:       p.Profile.Email,
						Role:        string(p.Role),
					})
					if err != nil {
						o.metrics.ObserveVerificationFailure()
					}
					return err
				},
			},
		},
	}
}

func profileDocument(p *Principal) map[string]interface{} {
	doc := map[string]interface{}{
		"email":     p.Profile.Email,
		"firstName": p.Profile.FirstName,
		"lastName":  p.Profile.LastName,
		"phone":     p.Profile.Phone,
		"role":      string(p.Role),
	}
	if p.Profile.TelegramUsername != "" {
		doc["tgUsername"] = p.Profile.TelegramUsername
	}
	if p.Profile.Country != "" {
		doc["country"] = p.Profile.Country
	}
	if p.Profile.ReferralCode != "" {
		doc["referralCode"] = p.Profile.ReferralCode
	}

	switch p.Role {
	case RoleAmbassador:
		doc["kyc"] = "pending"
	case RoleCustomer:
		doc["kyc"] = "pending"
		doc["hasCustomerAccount"] = false
		doc["hasBankAccount"] = false
		doc["hasWalletLinked"] = false
	}
	return doc
}

// ignoreMissing treats "already gone" as a successful undo.
func ignoreMissing(err, notFound error) error {
	if errors.Is(err, notFound) {
		return nil
	}
	return err
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return string(apierrors.CodeOf(err))
}

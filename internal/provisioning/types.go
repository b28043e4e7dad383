package provisioning

import "time"

// Role is the kind of principal being provisioned.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleAmbassador Role = "ambassador"
	RoleCustomer   Role = "customer"
)

// IsStaff reports whether the role is stored in the staff collection.
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleAmbassador
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleAmbassador, RoleCustomer:
		return true
	}
	return false
}

// CreationStatus tracks how far a provisioning attempt got.
type CreationStatus string

const (
	StatusPending        CreationStatus = "pending"
	StatusAuthCreated    CreationStatus = "auth-created"
	StatusProfileWritten CreationStatus = "profile-written"
	StatusClaimsSet      CreationStatus = "claims-set"
	StatusComplete       CreationStatus = "complete"
	StatusRolledBack     CreationStatus = "rolled-back"
)

// Principal is the entity a sequence acts on. ID is empty until the
// identity provider assigns one.
type Principal struct {
	ID      string
	Role    Role
	Profile Profile
	Status  CreationStatus
}

// Profile is the validated input for one provisioning request.
type Profile struct {
	Email            string
	Password         string
	FirstName        string
	LastName         string
	TelegramUsername string
	Phone            string
	Country          string
	ReferralCode     string
}

// Request is the loosely typed provisioning input as received from callers.
type Request struct {
	Role   string            `json:"role"`
	Fields map[string]string `json:"profile"`
}

// Result is returned by a successful Provision.
type Result struct {
	Message     string         `json:"message"`
	PrincipalID string         `json:"principalId"`
	Role        Role           `json:"role"`
	Status      CreationStatus `json:"status"`
}

// FieldError describes one rejected input field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// CustomerAccountRequest opens a partner customer for an existing principal.
type CustomerAccountRequest struct {
	DocumentType   string `json:"documentType"`
	DocumentNumber string `json:"documentNumber"`
	AddressLine1   string `json:"addressLine1"`
	City           string `json:"city"`
	State          string `json:"state"`
	PostalCode     string `json:"postalCode"`
	// Country overrides the profile country when set.
	Country string `json:"country"`
}

// CustomerAccountResult is returned by CreateCustomerAccount.
type CustomerAccountResult struct {
	CustomerID          string           `json:"customerId"`
	BankAccountRequired bool             `json:"bankAccountRequired"`
	Onboarding          OnboardingStatus `json:"onboarding"`
}

// BankAccountLinkRequest links a bank account to the principal's customer.
type BankAccountLinkRequest struct {
	HolderName    string `json:"holderName"`
	AccountNumber string `json:"accountNumber"`
	AccountType   string `json:"accountType"`
	Currency      string `json:"currency"`
	RoutingNumber string `json:"routingNumber"`
}

// BankAccountResult is returned by LinkBankAccount.
type BankAccountResult struct {
	BankAccountID string           `json:"bankAccountId"`
	Last4         string           `json:"last4,omitempty"`
	Onboarding    OnboardingStatus `json:"onboarding"`
}

// WalletResult is returned by LinkWallet.
type WalletResult struct {
	Address    string           `json:"address"`
	Onboarding OnboardingStatus `json:"onboarding"`
}

// OnboardingStatus is the freshly reconciled flag set attached to flow
// results. Stale is set when reconciliation could not complete and the
// flags are fail-closed.
type OnboardingStatus struct {
	HasCustomerAccount bool      `json:"hasCustomerAccount"`
	HasBankAccount     bool      `json:"hasBankAccount"`
	HasWalletLinked    bool      `json:"hasWalletLinked"`
	CheckedAt          time.Time `json:"checkedAt"`
	Stale              bool      `json:"stale,omitempty"`
}

// Orphan is an identity with no profile document in any collection.
type Orphan struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

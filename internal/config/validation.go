package config

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	c.Identity.Backend = strings.ToLower(strings.TrimSpace(c.Identity.Backend))
	if c.Identity.Backend == "" {
		c.Identity.Backend = "memory"
	}
	if c.Identity.TableName == "" {
		c.Identity.TableName = "identities"
	}

	c.Documents.Backend = strings.ToLower(strings.TrimSpace(c.Documents.Backend))
	if c.Documents.Backend == "" {
		c.Documents.Backend = "memory"
	}
	if c.Documents.TableName == "" {
		c.Documents.TableName = "documents"
	}
	if c.Documents.MongoDBDatabase == "" {
		c.Documents.MongoDBDatabase = "onboarding"
	}
	// A single postgres URL serves both stores unless set separately.
	if c.Documents.Backend == "postgres" && c.Documents.PostgresURL == "" {
		c.Documents.PostgresURL = c.Identity.PostgresURL
	}
	if c.Identity.Backend == "postgres" && c.Identity.PostgresURL == "" {
		c.Identity.PostgresURL = c.Documents.PostgresURL
	}

	c.Partner.Provider = strings.ToLower(strings.TrimSpace(c.Partner.Provider))
	if c.Partner.Provider == "" {
		c.Partner.Provider = "disabled"
	}
	if c.Partner.Timeout.Duration <= 0 {
		c.Partner.Timeout = Duration{Duration: 10 * time.Second}
	}
	if c.Notifications.Timeout.Duration <= 0 {
		c.Notifications.Timeout = Duration{Duration: 3 * time.Second}
	}
	if c.Notifications.Headers == nil {
		c.Notifications.Headers = make(map[string]string)
	}
	if c.Wallet.Timeout.Duration <= 0 {
		c.Wallet.Timeout = Duration{Duration: 5 * time.Second}
	}

	if c.Onboarding.CallTimeout.Duration <= 0 {
		c.Onboarding.CallTimeout = Duration{Duration: 30 * time.Second}
	}
	if c.Onboarding.CompensationTimeout.Duration <= 0 {
		c.Onboarding.CompensationTimeout = Duration{Duration: 15 * time.Second}
	}
	if c.Onboarding.OrphanMinAge.Duration <= 0 {
		c.Onboarding.OrphanMinAge = Duration{Duration: 5 * time.Minute}
	}
	if c.Onboarding.Sweep.Interval.Duration <= 0 {
		c.Onboarding.Sweep.Interval = Duration{Duration: time.Hour}
	}
	if c.Onboarding.Sweep.BatchSize <= 0 {
		c.Onboarding.Sweep.BatchSize = 500
	}
	c.Onboarding.Collections.ApplyDefaults()

	if c.APIKey.Keys == nil {
		c.APIKey.Keys = make(map[string]string)
	}

	return c.validate()
}

// ApplyDefaults fills unset collection names.
func (cc *CollectionsConfig) ApplyDefaults() {
	if cc.Staffs == "" {
		cc.Staffs = "staffs"
	}
	if cc.Users == "" {
		cc.Users = "users"
	}
	if cc.Customers == "" {
		cc.Customers = "customers"
	}
	if cc.CustomerClaims == "" {
		cc.CustomerClaims = "customerClaims"
	}
	if cc.BankAccounts == "" {
		cc.BankAccounts = "bankAccounts"
	}
	if cc.Wallets == "" {
		cc.Wallets = "wallets"
	}
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	switch c.Identity.Backend {
	case "memory":
	case "postgres":
		if c.Identity.PostgresURL == "" {
			errs = append(errs, "identity.postgres_url is required when identity.backend is 'postgres'")
		}
	default:
		errs = append(errs, fmt.Sprintf("identity.backend %q is not supported (memory, postgres)", c.Identity.Backend))
	}

	switch c.Documents.Backend {
	case "memory":
	case "postgres":
		if c.Documents.PostgresURL == "" {
			errs = append(errs, "documents.postgres_url is required when documents.backend is 'postgres'")
		}
	case "mongodb":
		if c.Documents.MongoDBURL == "" {
			errs = append(errs, "documents.mongodb_url is required when documents.backend is 'mongodb'")
		}
	default:
		errs = append(errs, fmt.Sprintf("documents.backend %q is not supported (memory, postgres, mongodb)", c.Documents.Backend))
	}

	switch c.Partner.Provider {
	case "disabled":
	case "http":
		if err := validateHTTPURL(c.Partner.BaseURL); err != nil {
			errs = append(errs, fmt.Sprintf("partner.base_url: %v", err))
		}
	case "stripe":
		if c.Partner.StripeSecretKey == "" {
			errs = append(errs, "partner.stripe_secret_key is required when partner.provider is 'stripe'")
		}
	default:
		errs = append(errs, fmt.Sprintf("partner.provider %q is not supported (http, stripe, disabled)", c.Partner.Provider))
	}

	if c.Notifications.VerificationURL != "" {
		if err := validateHTTPURL(c.Notifications.VerificationURL); err != nil {
			errs = append(errs, fmt.Sprintf("notifications.verification_url: %v", err))
		}
	}

	if c.Wallet.VerifyOnChain && c.Wallet.RPCURL == "" {
		errs = append(errs, "wallet.rpc_url is required when wallet.verify_on_chain is enabled")
	}

	for _, country := range c.Onboarding.BankLinkingCountries {
		if strings.TrimSpace(country) == "" {
			errs = append(errs, "onboarding.bank_linking_countries must not contain empty entries")
			break
		}
	}
	if c.Onboarding.Sweep.Enabled && c.Onboarding.Sweep.Interval.Duration < time.Minute {
		errs = append(errs, "onboarding.sweep.interval must be at least 1m")
	}

	if c.APIKey.Enabled && len(c.APIKey.Keys) == 0 {
		errs = append(errs, "api_key.keys must define at least one key when api_key.enabled is true")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateHTTPURL(raw string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
// If pool config is not specified, applies sensible defaults.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}

package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err == nil {
		d.Duration = parsed
		return nil
	}
	if secs, convErr := time.ParseDuration(raw + "s"); convErr == nil {
		d.Duration = secs
		return nil
	}
	return fmt.Errorf("invalid duration value %q: %w", raw, err)
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Identity       IdentityConfig       `yaml:"identity"`
	Documents      DocumentsConfig      `yaml:"documents"`
	Partner        PartnerConfig        `yaml:"partner"`
	Notifications  NotificationsConfig  `yaml:"notifications"`
	Wallet         WalletConfig         `yaml:"wallet"`
	Onboarding     OnboardingConfig     `yaml:"onboarding"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	APIKey         APIKeyConfig         `yaml:"api_key"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // Optional prefix for all routes (e.g., "/api")
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Protects /metrics when set
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // default: 25
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // default: 5
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // default: 5m
}

// IdentityConfig selects and configures the identity provider backend.
type IdentityConfig struct {
	Backend      string             `yaml:"backend"` // "memory" or "postgres"
	PostgresURL  string             `yaml:"postgres_url"`
	TableName    string             `yaml:"table_name"`  // default: identities
	BcryptCost   int                `yaml:"bcrypt_cost"` // default: bcrypt.DefaultCost
	PostgresPool PostgresPoolConfig `yaml:"postgres_pool"`
}

// DocumentsConfig selects and configures the document store backend.
type DocumentsConfig struct {
	Backend         string             `yaml:"backend"` // "memory", "postgres" or "mongodb"
	PostgresURL     string             `yaml:"postgres_url"`
	TableName       string             `yaml:"table_name"` // default: documents
	MongoDBURL      string             `yaml:"mongodb_url"`
	MongoDBDatabase string             `yaml:"mongodb_database"`
	PostgresPool    PostgresPoolConfig `yaml:"postgres_pool"`
}

// PartnerConfig configures the customer / bank-account partner backend.
type PartnerConfig struct {
	Provider        string      `yaml:"provider"` // "http", "stripe" or "disabled"
	BaseURL         string      `yaml:"base_url"`
	APIKey          string      `yaml:"api_key"`
	StripeSecretKey string      `yaml:"stripe_secret_key"`
	Timeout         Duration    `yaml:"timeout"`
	Retry           RetryConfig `yaml:"retry"` // Applied to idempotent (DELETE) calls only
}

// NotificationsConfig configures verification notification delivery.
type NotificationsConfig struct {
	VerificationURL string            `yaml:"verification_url"` // Empty disables delivery
	Headers         map[string]string `yaml:"headers"`
	Timeout         Duration          `yaml:"timeout"`
	Retry           RetryConfig       `yaml:"retry"`
}

// RetryConfig holds exponential backoff settings.
type RetryConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
	Multiplier      float64  `yaml:"multiplier"`
}

// WalletConfig configures wallet address verification.
type WalletConfig struct {
	RPCURL        string   `yaml:"rpc_url"`
	VerifyOnChain bool     `yaml:"verify_on_chain"` // Require the account to exist on chain
	Timeout       Duration `yaml:"timeout"`
}

// OnboardingConfig holds provisioning and reconciliation settings.
type OnboardingConfig struct {
	BankLinkingCountries []string          `yaml:"bank_linking_countries"` // Countries whose customers must link a bank account
	CallTimeout          Duration          `yaml:"call_timeout"`           // Upper bound for one provisioning sequence
	CompensationTimeout  Duration          `yaml:"compensation_timeout"`   // Upper bound for undoing a failed sequence
	OrphanMinAge         Duration          `yaml:"orphan_min_age"`         // Identities younger than this may still be mid-provisioning
	Collections          CollectionsConfig `yaml:"collections"`
	Sweep                SweepConfig       `yaml:"sweep"`
}

// CollectionsConfig maps logical collections to store collection names.
type CollectionsConfig struct {
	Staffs         string `yaml:"staffs"`
	Users          string `yaml:"users"`
	Customers      string `yaml:"customers"`
	CustomerClaims string `yaml:"customer_claims"` // one marker per principal holding a customer
	BankAccounts   string `yaml:"bank_accounts"`
	Wallets        string `yaml:"wallets"`
}

// SweepConfig controls the scheduled onboarding flag refresh.
type SweepConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Interval  Duration `yaml:"interval"`   // default: 1h
	BatchSize int      `yaml:"batch_size"` // default: 500
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	// Per-caller rate limiting (identified by X-Principal-ID or API key)
	PerCallerEnabled bool     `yaml:"per_caller_enabled"`
	PerCallerLimit   int      `yaml:"per_caller_limit"`
	PerCallerWindow  Duration `yaml:"per_caller_window"`

	// Per-IP rate limiting (fallback when caller not identified)
	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// APIKeyConfig maps API keys to the capabilities they grant.
// Values are comma separated capability lists, e.g. "superadmin,service".
type APIKeyConfig struct {
	Enabled bool              `yaml:"enabled"`
	Keys    map[string]string `yaml:"keys"`
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
type CircuitBreakerConfig struct {
	Enabled       bool                 `yaml:"enabled"`
	PartnerAPI    BreakerServiceConfig `yaml:"partner_api"`
	Notifications BreakerServiceConfig `yaml:"notifications"`
	WalletRPC     BreakerServiceConfig `yaml:"wallet_rpc"`
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio
}

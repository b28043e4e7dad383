package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config that runs fully in memory.
func defaultConfig() *Config {
	breaker := BreakerServiceConfig{
		MaxRequests:         3,
		Interval:            Duration{Duration: 60 * time.Second},
		Timeout:             Duration{Duration: 30 * time.Second},
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}

	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 45 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Identity: IdentityConfig{
			Backend:   "memory",
			TableName: "identities",
		},
		Documents: DocumentsConfig{
			Backend:         "memory",
			TableName:       "documents",
			MongoDBDatabase: "onboarding",
		},
		Partner: PartnerConfig{
			Provider: "disabled",
			Timeout:  Duration{Duration: 10 * time.Second},
			Retry: RetryConfig{
				Enabled:         true,
				MaxAttempts:     3,
				InitialInterval: Duration{Duration: 200 * time.Millisecond},
				MaxInterval:     Duration{Duration: 2 * time.Second},
				Multiplier:      2.0,
			},
		},
		Notifications: NotificationsConfig{
			Headers: make(map[string]string),
			Timeout: Duration{Duration: 3 * time.Second},
			Retry: RetryConfig{
				Enabled:         true,
				MaxAttempts:     3,
				InitialInterval: Duration{Duration: 500 * time.Millisecond},
				MaxInterval:     Duration{Duration: 5 * time.Second},
				Multiplier:      2.0,
			},
		},
		Wallet: WalletConfig{
			RPCURL:  "https://api.mainnet-beta.solana.com",
			Timeout: Duration{Duration: 5 * time.Second},
		},
		Onboarding: OnboardingConfig{
			BankLinkingCountries: []string{"Venezuela"},
			CallTimeout:          Duration{Duration: 30 * time.Second},
			CompensationTimeout:  Duration{Duration: 15 * time.Second},
			OrphanMinAge:         Duration{Duration: 5 * time.Minute},
			Collections: CollectionsConfig{
				Staffs:         "staffs",
				Users:          "users",
				Customers:      "customers",
				CustomerClaims: "customerClaims",
				BankAccounts:   "bankAccounts",
				Wallets:        "wallets",
			},
			Sweep: SweepConfig{
				Interval:  Duration{Duration: time.Hour},
				BatchSize: 500,
			},
		},
		RateLimit: RateLimitConfig{
			GlobalEnabled:    true,
			GlobalLimit:      600,
			GlobalWindow:     Duration{Duration: time.Minute},
			PerCallerEnabled: true,
			PerCallerLimit:   30,
			PerCallerWindow:  Duration{Duration: time.Minute},
			PerIPEnabled:     true,
			PerIPLimit:       60,
			PerIPWindow:      Duration{Duration: time.Minute},
		},
		APIKey: APIKeyConfig{
			Keys: make(map[string]string),
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:    true,
			PartnerAPI: breaker,
			Notifications: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 60 * time.Second},
				ConsecutiveFailures: 10,
				FailureRatio:        0.7,
				MinRequests:         20,
			},
			WalletRPC: breaker,
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

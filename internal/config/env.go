package config

import (
	"net/textproto"
	"os"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use the ONBOARD_ prefix.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "ONBOARD_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "ONBOARD_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "ONBOARD_ADMIN_METRICS_API_KEY")
	setListIfEnv(&c.Server.CORSAllowedOrigins, "ONBOARD_CORS_ALLOWED_ORIGINS")
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Logging
	setIfEnv(&c.Logging.Level, "ONBOARD_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "ONBOARD_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "ONBOARD_ENVIRONMENT")

	// Identity provider
	setIfEnv(&c.Identity.Backend, "ONBOARD_IDENTITY_BACKEND")
	setIfEnv(&c.Identity.PostgresURL, "ONBOARD_IDENTITY_POSTGRES_URL")
	setIfEnv(&c.Identity.TableName, "ONBOARD_IDENTITY_TABLE_NAME")

	// Document store
	setIfEnv(&c.Documents.Backend, "ONBOARD_DOCUMENTS_BACKEND")
	setIfEnv(&c.Documents.PostgresURL, "ONBOARD_DOCUMENTS_POSTGRES_URL")
	setIfEnv(&c.Documents.TableName, "ONBOARD_DOCUMENTS_TABLE_NAME")
	setIfEnv(&c.Documents.MongoDBURL, "ONBOARD_DOCUMENTS_MONGODB_URL")
	setIfEnv(&c.Documents.MongoDBDatabase, "ONBOARD_DOCUMENTS_MONGODB_DATABASE")

	// Partner API
	setIfEnv(&c.Partner.Provider, "ONBOARD_PARTNER_PROVIDER")
	setIfEnv(&c.Partner.BaseURL, "ONBOARD_PARTNER_BASE_URL")
	setIfEnv(&c.Partner.APIKey, "ONBOARD_PARTNER_API_KEY")
	setIfEnv(&c.Partner.StripeSecretKey, "ONBOARD_PARTNER_STRIPE_SECRET_KEY")
	setDurationIfEnv(&c.Partner.Timeout, "ONBOARD_PARTNER_TIMEOUT")

	// Notifications
	setIfEnv(&c.Notifications.VerificationURL, "ONBOARD_VERIFICATION_URL")
	setDurationIfEnv(&c.Notifications.Timeout, "ONBOARD_VERIFICATION_TIMEOUT")
	for name, value := range envWithPrefix("ONBOARD_VERIFICATION_HEADER_") {
		if c.Notifications.Headers == nil {
			c.Notifications.Headers = make(map[string]string)
		}
		headerName := textproto.CanonicalMIMEHeaderKey(strings.ReplaceAll(name, "_", "-"))
		c.Notifications.Headers[headerName] = value
	}

	// Wallet
	setIfEnv(&c.Wallet.RPCURL, "ONBOARD_WALLET_RPC_URL")
	setBoolIfEnv(&c.Wallet.VerifyOnChain, "ONBOARD_WALLET_VERIFY_ON_CHAIN")

	// Onboarding
	setListIfEnv(&c.Onboarding.BankLinkingCountries, "ONBOARD_BANK_LINKING_COUNTRIES")
	setDurationIfEnv(&c.Onboarding.CallTimeout, "ONBOARD_CALL_TIMEOUT")
	setDurationIfEnv(&c.Onboarding.CompensationTimeout, "ONBOARD_COMPENSATION_TIMEOUT")
	setDurationIfEnv(&c.Onboarding.OrphanMinAge, "ONBOARD_ORPHAN_MIN_AGE")
	setBoolIfEnv(&c.Onboarding.Sweep.Enabled, "ONBOARD_SWEEP_ENABLED")
	setDurationIfEnv(&c.Onboarding.Sweep.Interval, "ONBOARD_SWEEP_INTERVAL")

	// API keys (ONBOARD_API_KEY_<KEY>=capability[,capability])
	setBoolIfEnv(&c.APIKey.Enabled, "ONBOARD_API_KEY_ENABLED")
	for name, value := range envWithPrefix("ONBOARD_API_KEY_") {
		if name == "ENABLED" {
			continue
		}
		if c.APIKey.Keys == nil {
			c.APIKey.Keys = make(map[string]string)
		}
		c.APIKey.Keys[strings.ToLower(name)] = strings.TrimSpace(value)
	}
}

// envWithPrefix returns env vars starting with prefix, keyed by the remainder.
func envWithPrefix(prefix string) map[string]string {
	out := make(map[string]string)
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], prefix)
		if name == "" {
			continue
		}
		out[name] = parts[1]
	}
	return out
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// setListIfEnv replaces a string slice with a comma separated env value.
func setListIfEnv(target *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var items []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*target = items
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimSuffix(prefix, "/")
}

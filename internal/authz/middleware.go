package authz

import (
	"net/http"
	"strings"

	apierrors "github.com/minipay/onboarding/internal/errors"
	"github.com/minipay/onboarding/internal/logger"
)

const (
	// HeaderAPIKey carries the caller's API key.
	HeaderAPIKey = "X-API-Key"
	// HeaderPrincipalID names the principal the request is made for.
	HeaderPrincipalID = "X-Principal-ID"
)

// Config maps API keys to capability lists.
type Config struct {
	Enabled bool
	// Keys maps the raw key to a comma separated capability list.
	Keys map[string]string
}

// Middleware resolves the Caller for each request and stores it in the
// request context. With keys disabled every caller is anonymous. With keys
// enabled an unknown key is rejected, and X-Principal-ID is honoured only
// for keys that can delegate.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	keys := make(map[string][]Capability, len(cfg.Keys))
	for key, caps := range cfg.Keys {
		keys[strings.TrimSpace(key)] = ParseCapabilities(caps)
	}
	enabled := cfg.Enabled && len(keys) > 0

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := Anonymous()

			if raw := strings.TrimSpace(r.Header.Get(HeaderAPIKey)); enabled && raw != "" {
				caps, ok := keys[raw]
				if !ok {
					log := logger.FromContext(r.Context())
					log.Warn().
						Str("key_fingerprint", Fingerprint(raw)).
						Msg("authz.unknown_api_key")
					apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "invalid API key")
					return
				}
				caller = NewCaller("", caps...)
				caller.KeyFingerprint = Fingerprint(raw)
				if caller.CanDelegate() {
					caller.Subject = strings.TrimSpace(r.Header.Get(HeaderPrincipalID))
				}
			}

			ctx := WithCaller(r.Context(), caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

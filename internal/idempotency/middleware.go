package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/minipay/onboarding/internal/authz"
	apierrors "github.com/minipay/onboarding/internal/errors"
	"github.com/minipay/onboarding/internal/logger"
)

const (
	// HeaderKey is the standard idempotency key header.
	HeaderKey = "Idempotency-Key"
	// HeaderReplay marks a replayed response.
	HeaderReplay = "X-Idempotency-Replay"

	// DefaultTTL is how long a response stays replayable.
	DefaultTTL = 24 * time.Hour
)

// responseWriter captures the status and body for storage.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if rw.statusCode == 0 {
		rw.statusCode = http.StatusOK
	}
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) headers() map[string]string {
	out := make(map[string]string, len(rw.Header()))
	for key := range rw.Header() {
		out[key] = rw.Header().Get(key)
	}
	return out
}

// Middleware replays the stored response when a request repeats an
// Idempotency-Key. Keys are scoped by caller, method and path so one
// caller's key never matches another endpoint or another caller. Only 2xx
// responses are stored; failed attempts may be retried with the same key.
// A repeat that arrives while the first request is still running is
// rejected rather than run twice.
func Middleware(store Store, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	var inFlight sync.Map

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get(HeaderKey)
			if rawKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			key := scopedKey(authz.FromContext(r.Context()).ID(), r.Method, r.URL.Path, rawKey)

			if cached, found := store.Get(r.Context(), key); found {
				log := logger.FromContext(r.Context())
				log.Debug().
					Str("idempotency_key", key).
					Int("status", cached.StatusCode).
					Msg("idempotency.replay")
				for k, v := range cached.Headers {
					w.Header().Set(k, v)
				}
				w.Header().Set(HeaderReplay, "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			if _, running := inFlight.LoadOrStore(key, struct{}{}); running {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeAlreadyExists,
					"a request with this Idempotency-Key is already in progress")
				return
			}
			defer inFlight.Delete(key)

			rw := &responseWriter{ResponseWriter: w}
			next.ServeHTTP(rw, r)

			if rw.statusCode < 200 || rw.statusCode >= 300 {
				return
			}
			response := &Response{
				StatusCode: rw.statusCode,
				Headers:    rw.headers(),
				Body:       rw.body.Bytes(),
				CachedAt:   time.Now(),
			}
			if err := store.Set(r.Context(), key, response, ttl); err != nil {
				log := logger.FromContext(r.Context())
				log.Warn().
					Err(err).
					Str("idempotency_key", key).
					Msg("idempotency.store_failed")
			}
		})
	}
}

// scopedKey hashes the scope so the key is a safe document ID on every backend.
func scopedKey(callerID, method, path, rawKey string) string {
	sum := sha256.Sum256([]byte(callerID + "\x00" + method + "\x00" + path + "\x00" + rawKey))
	return hex.EncodeToString(sum[:])
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/minipay/onboarding/internal/circuitbreaker"
	"github.com/minipay/onboarding/internal/config"
	"github.com/minipay/onboarding/internal/httputil"
	"github.com/minipay/onboarding/internal/logger"
	"github.com/minipay/onboarding/internal/metrics"
	"github.com/minipay/onboarding/internal/retry"
)

// EventVerificationRequested is the event type posted for new identities.
const EventVerificationRequested = "identity.verification_requested"

// ErrDisabled is returned when no verification endpoint is configured.
var ErrDisabled = errors.New("notify: disabled")

// VerificationRequest asks for a verification email to be sent.
type VerificationRequest struct {
	PrincipalID string
	Email       string
	Role        string
}

// VerificationEvent is the JSON body delivered to the verification endpoint.
// EventID is stable across retries so receivers can deduplicate.
type VerificationEvent struct {
	EventID     string    `json:"eventId"`
	EventType   string    `json:"eventType"`
	PrincipalID string    `json:"principalId"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	RequestedAt time.Time `json:"requestedAt"`
}

// Sender delivers verification notifications.
type Sender interface {
	SendVerification(ctx context.Context, req VerificationRequest) error
}

// NoopSender accepts and drops every notification.
type NoopSender struct{}

func (NoopSender) SendVerification(context.Context, VerificationRequest) error { return nil }

// WebhookSender posts verification events with exponential backoff.
type WebhookSender struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
	policy     retry.Policy
	breakers   *circuitbreaker.Manager
	metrics    *metrics.Metrics
	deadLetter DeadLetterStore
	now        func() time.Time
}

// Option customizes a WebhookSender.
type Option func(*WebhookSender)

// WithBreakers routes deliveries through the notifications breaker.
func WithBreakers(m *circuitbreaker.Manager) Option {
	return func(s *WebhookSender) { s.breakers = m }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *WebhookSender) { s.metrics = m }
}

// WithRetryPolicy overrides the policy derived from config.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *WebhookSender) { s.policy = p }
}

// WithDeadLetter persists events that exhausted their retries.
func WithDeadLetter(store DeadLetterStore) Option {
	return func(s *WebhookSender) { s.deadLetter = store }
}

// NewSender returns a WebhookSender, or NoopSender when no URL is configured.
func NewSender(cfg config.NotificationsConfig, opts ...Option) Sender {
	if cfg.VerificationURL == "" {
		return NoopSender{}
	}
	return NewWebhookSender(cfg, opts...)
}

// NewWebhookSender constructs a sender for cfg.VerificationURL.
func NewWebhookSender(cfg config.NotificationsConfig, opts ...Option) *WebhookSender {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	policy := retry.PolicyFromConfig(cfg.Retry)
	policy.Retryable = isRetryable

	s := &WebhookSender{
		url:        cfg.VerificationURL,
		headers:    cfg.Headers,
		httpClient: httputil.NewClient(timeout),
		policy:     policy,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendVerification posts the event and returns the last delivery error.
func (s *WebhookSender) SendVerification(ctx context.Context, req VerificationRequest) error {
	event := VerificationEvent{
		EventID:     "evt_" + uuid.NewString(),
		EventType:   EventVerificationRequested,
		PrincipalID: req.PrincipalID,
		Email:       req.Email,
		Role:        req.Role,
		RequestedAt: s.now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}

	attempts := 0
	_, err = retry.Do(ctx, s.policy, "notify.verification", func(ctx context.Context) (struct{}, error) {
		attempts++
		return circuitbreaker.Do(s.breakers, circuitbreaker.ServiceNotifications, func() (struct{}, error) {
			return struct{}{}, s.post(ctx, event.EventID, payload)
		})
	})

	status := "success"
	if err != nil {
		status = "failed"
		log := logger.FromContext(ctx)
		log.Warn().
			Err(err).
			Str("event_id", event.EventID).
			Str("principal_id", req.PrincipalID).
			Str("email", logger.RedactEmail(req.Email)).
			Int("attempts", attempts).
			Msg("notify.verification_failed")
		s.saveDeadLetter(ctx, log, event, payload, attempts, err)
	}
	s.metrics.ObserveNotification(EventVerificationRequested, status, attempts)
	return err
}

func (s *WebhookSender) post(ctx context.Context, eventID string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", eventID)
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &deliveryError{err: err, retryable: true}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &deliveryError{
		err:       fmt.Errorf("verification endpoint returned %d", resp.StatusCode),
		status:    resp.StatusCode,
		retryable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
	}
}

func (s *WebhookSender) saveDeadLetter(ctx context.Context, log zerolog.Logger, event VerificationEvent, payload []byte, attempts int, cause error) {
	if s.deadLetter == nil {
		return
	}
	failed := FailedNotification{
		ID:          event.EventID,
		URL:         s.url,
		EventType:   event.EventType,
		PrincipalID: event.PrincipalID,
		Payload:     json.RawMessage(payload),
		Attempts:    attempts,
		LastError:   cause.Error(),
		LastAttempt: s.now().UTC(),
	}
	if err := s.deadLetter.SaveFailedNotification(context.WithoutCancel(ctx), failed); err != nil {
		log.Error().Err(err).Str("event_id", event.EventID).Msg("notify.dead_letter_failed")
	}
}

type deliveryError struct {
	err       error
	status    int
	retryable bool
}

func (e *deliveryError) Error() string   { return e.err.Error() }
func (e *deliveryError) Unwrap() error   { return e.err }
func (e *deliveryError) Temporary() bool { return e.retryable }

func isRetryable(err error) bool {
	if circuitbreaker.IsOpen(err) {
		return false
	}
	return retry.IsTransient(err)
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the onboarding service.
// Every Observe method is safe to call on a nil *Metrics.
type Metrics struct {
	// Provisioning metrics
	ProvisionsTotal   *prometheus.CounterVec
	ProvisionDuration *prometheus.HistogramVec
	StepDuration      *prometheus.HistogramVec

	// Compensation metrics
	CompensationsTotal *prometheus.CounterVec
	UndoFailuresTotal  *prometheus.CounterVec

	VerificationFailuresTotal prometheus.Counter

	// Reconciliation metrics
	ReconcilesTotal      *prometheus.CounterVec
	ReconcileDuration    prometheus.Histogram
	SweepRunsTotal       prometheus.Counter
	SweepPrincipalsTotal *prometheus.CounterVec

	// Partner API metrics
	PartnerCallsTotal   *prometheus.CounterVec
	PartnerCallDuration *prometheus.HistogramVec

	// Notification metrics
	NotificationsTotal       *prometheus.CounterVec
	NotificationRetriesTotal prometheus.Counter

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Store metrics
	StoreOpDuration *prometheus.HistogramVec
	StoreErrorsTotal *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		ProvisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onboarding_provisions_total",
				Help: "Provisioning attempts by role and outcome",
			},
			[]string{"role", "outcome"},
		),
		ProvisionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "onboarding_provision_duration_seconds",
				Help:    "End-to-end provisioning duration including compensation",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"role"},
		),
		StepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "onboarding_step_duration_seconds",
				Help:    "Forward action duration per provisioning step",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"sequence", "step", "outcome"},
		),
		CompensationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onboarding_compensations_total",
				Help: "Sequences rolled back after a failed step",
			},
			[]string{"sequence"},
		),
		UndoFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onboarding_undo_failures_total",
				Help: "Undo actions that failed during compensation",
			},
			[]string{"sequence", "step"},
		),
		VerificationFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "onboarding_verification_failures_total",
				Help: "Verification notifications that could not be sent",
			},
		),
		ReconcilesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onboarding_reconciles_total",
				Help: "Onboarding state reconciliations by outcome",
			},
			[]string{"outcome"},
		),
		ReconcileDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "onboarding_reconcile_duration_seconds",
				Help:    "Time taken to recompute onboarding flags",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
		),
		SweepRunsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "onboarding_sweep_runs_total",
				Help: "Scheduled reconciliation sweeps",
			},
		),
		SweepPrincipalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onboarding_sweep_principals_total",
				Help: "Principals visited by scheduled sweeps",
			},
			[]string{"outcome"},
		),
		PartnerCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onboarding_partner_calls_total",
				Help: "Partner API calls by operation and status class",
			},
			[]string{"provider", "operation", "status"},
		),
		PartnerCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "onboarding_partner_call_duration_seconds",
				Help:    "Partner API call latency",
				Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"provider", "operation"},
		),
		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onboarding_notifications_total",
				Help: "Verification notification deliveries by status",
			},
			[]string{"event_type", "status"},
		),
		NotificationRetriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "onboarding_notification_retries_total",
				Help: "Verification notification retry attempts",
			},
		),
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onboarding_rate_limit_hits_total",
				Help: "Requests rejected by rate limiting",
			},
			[]string{"limit_type"},
		),
		StoreOpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "onboarding_store_op_duration_seconds",
				Help:    "Document store operation latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"operation", "backend"},
		),
		StoreErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onboarding_store_errors_total",
				Help: "Document store operations that returned an error",
			},
			[]string{"operation", "backend"},
		),
	}
}

// ObserveProvision records one provisioning call.
func (m *Metrics) ObserveProvision(role, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ProvisionsTotal.WithLabelValues(role, outcome).Inc()
	m.ProvisionDuration.WithLabelValues(role).Observe(duration.Seconds())
}

// ObserveStep records one forward action.
func (m *Metrics) ObserveStep(sequence, step string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.StepDuration.WithLabelValues(sequence, step, outcome).Observe(duration.Seconds())
}

// ObserveCompensation records a rollback of a sequence.
func (m *Metrics) ObserveCompensation(sequence string) {
	if m == nil {
		return
	}
	m.CompensationsTotal.WithLabelValues(sequence).Inc()
}

// ObserveUndoFailure records an undo action that failed.
func (m *Metrics) ObserveUndoFailure(sequence, step string) {
	if m == nil {
		return
	}
	m.UndoFailuresTotal.WithLabelValues(sequence, step).Inc()
}

// ObserveVerificationFailure records a verification notification that was not sent.
func (m *Metrics) ObserveVerificationFailure() {
	if m == nil {
		return
	}
	m.VerificationFailuresTotal.Inc()
}

// ObserveReconcile records a reconciliation.
func (m *Metrics) ObserveReconcile(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ReconcilesTotal.WithLabelValues(outcome).Inc()
	m.ReconcileDuration.Observe(duration.Seconds())
}

// ObserveSweep records a sweep run and how many principals succeeded or failed.
func (m *Metrics) ObserveSweep(succeeded, failed int) {
	if m == nil {
		return
	}
	m.SweepRunsTotal.Inc()
	m.SweepPrincipalsTotal.WithLabelValues("ok").Add(float64(succeeded))
	m.SweepPrincipalsTotal.WithLabelValues("unavailable").Add(float64(failed))
}

// ObservePartnerCall records a partner API call. status is an HTTP status
// class ("2xx", "4xx", "5xx") or "error" for transport failures.
func (m *Metrics) ObservePartnerCall(provider, operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.PartnerCallsTotal.WithLabelValues(provider, operation, status).Inc()
	m.PartnerCallDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// ObserveNotification records a notification delivery outcome.
func (m *Metrics) ObserveNotification(eventType, status string, attempts int) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(eventType, status).Inc()
	if attempts > 1 {
		m.NotificationRetriesTotal.Add(float64(attempts - 1))
	}
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.WithLabelValues(limitType).Inc()
}

// ObserveStoreOp records a document store operation.
func (m *Metrics) ObserveStoreOp(operation, backend string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.StoreOpDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
	if err != nil {
		m.StoreErrorsTotal.WithLabelValues(operation, backend).Inc()
	}
}

// StatusClass buckets an HTTP status code for metric labels.
func StatusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "error"
	}
}

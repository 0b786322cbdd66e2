// Package metrics provides Prometheus metrics for the ZRC control plane.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "zrc"
)

// Metrics contains all Prometheus metrics for the control plane.
type Metrics struct {
	// Pairing metrics
	InvitesIssued       prometheus.Counter
	InvitesConsumed      prometheus.Counter
	InvitesExpired       prometheus.Counter
	PairingsCompleted    prometheus.Counter
	PairingsRejected     *prometheus.CounterVec
	PairingLatency       prometheus.Histogram

	// Session metrics
	SessionsActive       prometheus.Gauge
	SessionsEstablished  prometheus.Counter
	SessionsTerminated   *prometheus.CounterVec
	SessionInitLatency   prometheus.Histogram

	// Replay and security metrics
	ReplayRejections  *prometheus.CounterVec
	EnvelopeOpenFailures prometheus.Counter
	TicketVerifyFailures prometheus.Counter

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec

	// Policy metrics
	ConsentPrompts  *prometheus.CounterVec
	PolicyDecisions *prometheus.CounterVec

	// Audit metrics
	AuditEventsAppended prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		InvitesIssued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invites_issued_total",
			Help:      "Total number of pairing invites issued",
		}),
		InvitesConsumed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invites_consumed_total",
			Help:      "Total number of pairing invites consumed",
		}),
		InvitesExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invites_expired_total",
			Help:      "Total number of pairing invites that expired unused",
		}),
		PairingsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairings_completed_total",
			Help:      "Total number of pairings completed successfully",
		}),
		PairingsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairings_rejected_total",
			Help:      "Total pairing attempts rejected, by reason",
		}, []string{"reason"}),
		PairingLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pairing_latency_seconds",
			Help:      "Histogram of time from invite consumption to pairing completion",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active sessions",
		}),
		SessionsEstablished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_established_total",
			Help:      "Total number of sessions established",
		}),
		SessionsTerminated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_terminated_total",
			Help:      "Total sessions terminated, by reason",
		}, []string{"reason"}),
		SessionInitLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_init_latency_seconds",
			Help:      "Histogram of session initialization latency",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		ReplayRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_rejections_total",
			Help:      "Total frames rejected by the replay filter, by stream",
		}, []string{"stream"}),
		EnvelopeOpenFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelope_open_failures_total",
			Help:      "Total envelope decryption failures",
		}),
		TicketVerifyFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticket_verify_failures_total",
			Help:      "Total session ticket signature verification failures",
		}),

		RateLimitHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total requests rejected by the rate limiter, by operation",
		}, []string{"operation"}),

		ConsentPrompts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consent_prompts_total",
			Help:      "Total consent prompts shown, by outcome",
		}, []string{"outcome"}),
		PolicyDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_decisions_total",
			Help:      "Total policy evaluations, by decision",
		}, []string{"decision"}),

		AuditEventsAppended: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_appended_total",
			Help:      "Total audit log entries appended",
		}),
	}
}

// RecordInviteIssued records a new invite being issued.
func (m *Metrics) RecordInviteIssued() { m.InvitesIssued.Inc() }

// RecordInviteConsumed records an invite being consumed.
func (m *Metrics) RecordInviteConsumed() { m.InvitesConsumed.Inc() }

// RecordInviteExpired records an invite expiring unused.
func (m *Metrics) RecordInviteExpired() { m.InvitesExpired.Inc() }

// RecordPairingCompleted records a pairing completing successfully, with
// the end-to-end latency from invite consumption.
func (m *Metrics) RecordPairingCompleted(latencySeconds float64) {
	m.PairingsCompleted.Inc()
	m.PairingLatency.Observe(latencySeconds)
}

// RecordPairingRejected records a pairing attempt being rejected.
func (m *Metrics) RecordPairingRejected(reason string) {
	m.PairingsRejected.WithLabelValues(reason).Inc()
}

// RecordSessionEstablished records a session being established.
func (m *Metrics) RecordSessionEstablished(latencySeconds float64) {
	m.SessionsActive.Inc()
	m.SessionsEstablished.Inc()
	m.SessionInitLatency.Observe(latencySeconds)
}

// RecordSessionTerminated records a session ending.
func (m *Metrics) RecordSessionTerminated(reason string) {
	m.SessionsActive.Dec()
	m.SessionsTerminated.WithLabelValues(reason).Inc()
}

// RecordReplayRejection records a frame rejected by the replay filter.
func (m *Metrics) RecordReplayRejection(stream string) {
	m.ReplayRejections.WithLabelValues(stream).Inc()
}

// RecordEnvelopeOpenFailure records an envelope decryption failure.
func (m *Metrics) RecordEnvelopeOpenFailure() { m.EnvelopeOpenFailures.Inc() }

// RecordTicketVerifyFailure records a session ticket verification failure.
func (m *Metrics) RecordTicketVerifyFailure() { m.TicketVerifyFailures.Inc() }

// RecordRateLimitHit records a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimitHit(operation string) {
	m.RateLimitHits.WithLabelValues(operation).Inc()
}

// RecordConsentPrompt records a consent prompt being shown and its outcome.
func (m *Metrics) RecordConsentPrompt(outcome string) {
	m.ConsentPrompts.WithLabelValues(outcome).Inc()
}

// RecordPolicyDecision records a policy evaluation outcome.
func (m *Metrics) RecordPolicyDecision(decision string) {
	m.PolicyDecisions.WithLabelValues(decision).Inc()
}

// RecordAuditEvent records an audit log entry being appended.
func (m *Metrics) RecordAuditEvent() { m.AuditEventsAppended.Inc() }

// Package metrics exposes Prometheus counters/gauges/histograms for the
// session orchestrator. Labels are kept low-cardinality (target, quit
// reason, outcome) — never session ids — per spec.md §6.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds one process's (or one test's) full set of session-orchestrator
// collectors, registered against a caller-supplied *prometheus.Registry rather
// than the global default — so unrelated Sessions sharing a test binary, or a
// CLI run with metrics disabled, never collide on shared collector state
// (SPEC_FULL.md §6).
type Metrics struct {
	sessionsStarted        *prometheus.CounterVec
	sessionsFinished       *prometheus.CounterVec
	sessionsActive         prometheus.Gauge
	versionRenegotiations  *prometheus.CounterVec
	sessionRequestDuration *prometheus.HistogramVec
	senkushaMTU            prometheus.Histogram
	senkushaRTT            prometheus.Histogram
	loginPINAttempts       *prometheus.CounterVec
	streamOutcomes         *prometheus.CounterVec
}

// New registers the full collector set against reg and returns a Metrics
// bound to it.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sessionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpsession",
			Name:      "sessions_started_total",
			Help:      "Total number of sessions started, by initial target.",
		}, []string{"target"}),

		sessionsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpsession",
			Name:      "sessions_finished_total",
			Help:      "Total number of sessions that reached a terminal state, by quit reason.",
		}, []string{"quit_reason"}),

		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "rpsession",
			Name:      "sessions_active",
			Help:      "Current number of sessions that have started but not yet finished.",
		}),

		versionRenegotiations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpsession",
			Name:      "version_renegotiations_total",
			Help:      "Total number of session-request version renegotiation attempts, by next target.",
		}, []string{"next_target"}),

		sessionRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rpsession",
			Subsystem: "session_request",
			Name:      "duration_seconds",
			Help:      "Time spent in the session-request exchange.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),

		senkushaMTU: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rpsession",
			Subsystem: "senkusha",
			Name:      "mtu_bytes",
			Help:      "Measured path MTU in bytes.",
			Buckets:   []float64{576, 1024, 1200, 1300, 1400, 1452},
		}),

		senkushaRTT: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rpsession",
			Subsystem: "senkusha",
			Name:      "rtt_seconds",
			Help:      "Measured path round-trip time in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),

		loginPINAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpsession",
			Name:      "login_pin_attempts_total",
			Help:      "Total number of login PIN submissions, by outcome.",
		}, []string{"outcome"}),

		streamOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpsession",
			Name:      "stream_outcomes_total",
			Help:      "Total number of stream connection runs, by outcome.",
		}, []string{"outcome"}),
	}
}

// RecordSessionStarted increments sessionsStarted and sessionsActive.
func (m *Metrics) RecordSessionStarted(target string) {
	m.sessionsStarted.WithLabelValues(target).Inc()
	m.sessionsActive.Inc()
}

// RecordSessionFinished decrements sessionsActive and increments
// sessionsFinished for the given quit reason.
func (m *Metrics) RecordSessionFinished(quitReason string) {
	m.sessionsActive.Dec()
	m.sessionsFinished.WithLabelValues(quitReason).Inc()
}

// RecordRenegotiation increments versionRenegotiations for nextTarget.
func (m *Metrics) RecordRenegotiation(nextTarget string) {
	m.versionRenegotiations.WithLabelValues(nextTarget).Inc()
}

// RecordSessionRequestDuration observes the session-request exchange latency.
func (m *Metrics) RecordSessionRequestDuration(outcome string, seconds float64) {
	m.sessionRequestDuration.WithLabelValues(outcome).Observe(seconds)
}

// RecordSenkusha observes one MTU/RTT probe result.
func (m *Metrics) RecordSenkusha(mtuBytes float64, rttSeconds float64) {
	m.senkushaMTU.Observe(mtuBytes)
	m.senkushaRTT.Observe(rttSeconds)
}

// RecordLoginPINAttempt increments loginPINAttempts for outcome.
func (m *Metrics) RecordLoginPINAttempt(outcome string) {
	m.loginPINAttempts.WithLabelValues(outcome).Inc()
}

// RecordStreamOutcome increments streamOutcomes for outcome.
func (m *Metrics) RecordStreamOutcome(outcome string) {
	m.streamOutcomes.WithLabelValues(outcome).Inc()
}

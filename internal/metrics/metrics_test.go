package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return New(prometheus.NewRegistry())
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestRecordSessionLifecycleUpdatesCountersAndGauge(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordSessionStarted("PS5_1")
	if got, want := gaugeValue(t, m.sessionsActive), 1.0; got != want {
		t.Fatalf("sessionsActive = %v, want %v", got, want)
	}
	if got, want := counterValue(t, m.sessionsStarted.WithLabelValues("PS5_1")), 1.0; got != want {
		t.Fatalf("sessionsStarted = %v, want %v", got, want)
	}

	m.RecordSessionFinished("stopped")
	if got, want := gaugeValue(t, m.sessionsActive), 0.0; got != want {
		t.Fatalf("sessionsActive after finish = %v, want %v", got, want)
	}
	if got, want := counterValue(t, m.sessionsFinished.WithLabelValues("stopped")), 1.0; got != want {
		t.Fatalf("sessionsFinished = %v, want %v", got, want)
	}
}

func TestRecordRenegotiation(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordRenegotiation("PS4_9")
	if got, want := counterValue(t, m.versionRenegotiations.WithLabelValues("PS4_9")), 1.0; got != want {
		t.Fatalf("versionRenegotiations = %v, want %v", got, want)
	}
}

func TestRecordLoginPINAttempt(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordLoginPINAttempt("incorrect")
	if got, want := counterValue(t, m.loginPINAttempts.WithLabelValues("incorrect")), 1.0; got != want {
		t.Fatalf("loginPINAttempts = %v, want %v", got, want)
	}
}

func TestRecordStreamOutcome(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordStreamOutcome("success")
	if got, want := counterValue(t, m.streamOutcomes.WithLabelValues("success")), 1.0; got != want {
		t.Fatalf("streamOutcomes = %v, want %v", got, want)
	}
}

func TestNewRegistersDistinctMetricsPerRegistry(t *testing.T) {
	a := New(prometheus.NewRegistry())
	b := New(prometheus.NewRegistry())
	a.RecordSessionStarted("PS5_1")
	if got := gaugeValue(t, b.sessionsActive); got != 0 {
		t.Fatalf("second Metrics instance observed the first's state: sessionsActive = %v", got)
	}
}

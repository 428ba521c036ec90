// Package telemetry holds the Prometheus metrics and OpenTelemetry
// tracing plumbing shared by the provisioning and gateway layers.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Service registry keys published by the telemetry module.
const (
	MetricsService  = "telemetry.metrics"
	RegistryService = "telemetry.registry"
)

// TracerName is the instrumentation scope used for provisioning spans.
const TracerName = "chatforge/provision"

// Metrics aggregates the application's Prometheus collectors. A nil
// *Metrics is a valid no-op recorder so callers never need to branch on
// whether telemetry is enabled.
type Metrics struct {
	updates     prometheus.Counter
	runs        *prometheus.CounterVec
	topics      prometheus.Counter
	stepErrors  *prometheus.CounterVec
	runDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		updates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatforge_updates_total",
			Help: "Inbound channel events processed.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatforge_provision_runs_total",
			Help: "Provisioning runs by result.",
		}, []string{"result"}),
		topics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatforge_topics_created_total",
			Help: "Forum topics created across all runs.",
		}),
		stepErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatforge_step_errors_total",
			Help: "Non-fatal provisioning step errors by step.",
		}, []string{"step"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatforge_provision_duration_seconds",
			Help:    "Wall time of provisioning runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	reg.MustRegister(m.updates, m.runs, m.topics, m.stepErrors, m.runDuration)
	return m
}

// RecordUpdate counts one inbound channel event.
func (m *Metrics) RecordUpdate() {
	if m == nil {
		return
	}
	m.updates.Inc()
}

// RecordRun counts a finished provisioning run. result is "ok" or "failed".
func (m *Metrics) RecordRun(result string, seconds float64) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
	m.runDuration.Observe(seconds)
}

// RecordTopics counts created topics.
func (m *Metrics) RecordTopics(n int) {
	if m == nil {
		return
	}
	m.topics.Add(float64(n))
}

// RecordStepError counts a non-fatal step error.
func (m *Metrics) RecordStepError(step string) {
	if m == nil {
		return
	}
	m.stepErrors.WithLabelValues(step).Inc()
}

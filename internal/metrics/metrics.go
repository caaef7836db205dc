// Package metrics exposes process-local Prometheus counters and
// histograms for the scheduler and builder: builds started/succeeded/
// failed, build duration, and queue depth. This is operator-facing
// observability, distinct from the notification and TUI output sinks.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the registry and instruments. A nil *Metrics is safe
// to call methods on only via the nil checks callers already perform
// before invoking it (see internal/scheduler).
type Metrics struct {
	registry      *prometheus.Registry
	buildsStarted *prometheus.CounterVec
	buildsResult  *prometheus.CounterVec
	buildDuration *prometheus.HistogramVec
	queueDepth    prometheus.Gauge
}

// New creates a fresh registry and registers all instruments.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		buildsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poltergeist_builds_started_total",
			Help: "Number of builds started, by target.",
		}, []string{"target"}),
		buildsResult: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poltergeist_builds_result_total",
			Help: "Number of builds completed, by target and outcome.",
		}, []string{"target", "outcome"}),
		buildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "poltergeist_build_duration_seconds",
			Help:    "Build duration in seconds, by target.",
			Buckets: prometheus.DefBuckets,
		}, []string{"target"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poltergeist_queue_depth",
			Help: "Number of targets currently pending or building.",
		}),
	}
	reg.MustRegister(m.buildsStarted, m.buildsResult, m.buildDuration, m.queueDepth)
	return m
}

// Registry exposes the underlying registry so cmd/poltergeist can wire
// up an HTTP handler for it.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// BuildStarted records the start of a build for target.
func (m *Metrics) BuildStarted(target string) {
	m.buildsStarted.WithLabelValues(target).Inc()
}

// BuildFinished records a build's outcome and duration.
func (m *Metrics) BuildFinished(target string, success bool, durationSeconds interface{ Seconds() float64 }) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.buildsResult.WithLabelValues(target, outcome).Inc()
	m.buildDuration.WithLabelValues(target).Observe(durationSeconds.Seconds())
}

// SetQueueDepth reports the current count of pending-or-building targets.
func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

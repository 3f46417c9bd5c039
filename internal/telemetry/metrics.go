package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry with the service's collectors.
type Metrics struct {
	registry    *prometheus.Registry
	runs        *prometheus.CounterVec
	phases      *prometheus.HistogramVec
	completions *prometheus.CounterVec
}

var phaseBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30, 45, 60}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snippet_runs_total",
			Help: "Finished runs by terminal state.",
		}, []string{"outcome"}),
		phases: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "snippet_phase_duration_seconds",
			Help:    "Time spent compiling and running submissions.",
			Buckets: phaseBuckets,
		}, []string{"phase"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snippet_completions_total",
			Help: "Completion requests by result.",
		}, []string{"status"}),
	}
	m.registry.MustRegister(
		m.runs,
		m.phases,
		m.completions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RecordRun counts a run that reached the given terminal state.
func (m *Metrics) RecordRun(outcome string) {
	m.runs.WithLabelValues(outcome).Inc()
}

// ObservePhase records how long a run spent in a phase.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	m.phases.WithLabelValues(phase).Observe(d.Seconds())
}

func (m *Metrics) RecordCompletion(status string) {
	m.completions.WithLabelValues(status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

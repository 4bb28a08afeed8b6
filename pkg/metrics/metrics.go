package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the update engine's Prometheus metrics. All methods are safe
// on a nil *Metrics so the engine runs without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	Cycles          *prometheus.CounterVec
	Entries         *prometheus.CounterVec
	Conflicts       prometheus.Counter
	CompletionTime  prometheus.Histogram
	ProfileBytes    prometheus.Gauge
	LastCommitEpoch prometheus.Gauge
}

// New creates the metrics on a private registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// result: processed, idle, paused, error
		Cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_memory_cycles_total",
			Help: "Update cycles by result",
		}, []string{"result"}),

		// outcome: updated, unchanged, skipped, failed
		Entries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_memory_entries_total",
			Help: "Log entries evaluated by outcome",
		}, []string{"outcome"}),

		Conflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "llm_memory_commit_conflicts_total",
			Help: "Commits abandoned because another writer advanced the checkpoint",
		}),

		CompletionTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "llm_memory_completion_duration_seconds",
			Help:    "Latency of profile update completions",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		ProfileBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "llm_memory_profile_bytes",
			Help: "Size of the committed profile",
		}),

		LastCommitEpoch: factory.NewGauge(prometheus.GaugeOpts{
			Name: "llm_memory_last_commit_timestamp_seconds",
			Help: "Unix time of the last successful commit",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordCycle counts a finished cycle
func (m *Metrics) RecordCycle(result string) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(result).Inc()
}

// RecordEntry counts an evaluated entry
func (m *Metrics) RecordEntry(outcome string) {
	if m == nil {
		return
	}
	m.Entries.WithLabelValues(outcome).Inc()
}

// RecordConflict counts an abandoned commit
func (m *Metrics) RecordConflict() {
	if m == nil {
		return
	}
	m.Conflicts.Inc()
}

// RecordCompletion records completion latency in seconds
func (m *Metrics) RecordCompletion(seconds float64) {
	if m == nil {
		return
	}
	m.CompletionTime.Observe(seconds)
}

// RecordCommit records the committed profile size and commit time
func (m *Metrics) RecordCommit(profileBytes int, unixSeconds float64) {
	if m == nil {
		return
	}
	m.ProfileBytes.Set(float64(profileBytes))
	m.LastCommitEpoch.Set(unixSeconds)
}

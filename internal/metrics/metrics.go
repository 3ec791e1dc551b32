// Package metrics exposes Prometheus instrumentation for the cache and
// query layers.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "parsekit"
	subsystem = "cache"
)

// Query path label values.
const (
	PathLocal  = "local"
	PathRemote = "remote"
)

// Metrics groups every collector. Create one per registry with New.
type Metrics struct {
	queries          *prometheus.CounterVec
	fallbacks        *prometheus.CounterVec
	populations      *prometheus.CounterVec
	populateDuration *prometheus.HistogramVec
	fetchBatchSize   *prometheus.HistogramVec
	relationLookups  *prometheus.CounterVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// to expose them on the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		queries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "queries_total",
				Help:      "Total number of queries by class and evaluation path",
			},
			[]string{"class", "path"},
		),
		fallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "local_fallbacks_total",
				Help:      "Total number of queries that could not be answered locally, by reason",
			},
			[]string{"class", "reason"},
		),
		populations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "populations_total",
				Help:      "Total number of full-class populations by status",
			},
			[]string{"class", "status"},
		),
		populateDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "populate_duration_seconds",
				Help:      "Duration of full-class populations in seconds",
			},
			[]string{"class"},
		),
		fetchBatchSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "fetch_batch_size",
				Help:      "Number of objectIds coalesced into one remote fetch",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
			},
			[]string{"class"},
		),
		relationLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "relation_lookups_total",
				Help:      "Total number of relation lookups by result (hit, miss, shared)",
			},
			[]string{"class", "result"},
		),
	}
}

// Query counts one query answered through path.
func (m *Metrics) Query(class, path string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(class, path).Inc()
}

// Fallback counts one query that left the local path, with a short reason
// such as "expired", "include" or "pointer".
func (m *Metrics) Fallback(class, reason string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(class, reason).Inc()
}

// Populated records one population attempt.
func (m *Metrics) Populated(class string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.populations.WithLabelValues(class, status).Inc()
	m.populateDuration.WithLabelValues(class).Observe(elapsed.Seconds())
}

// FetchBatch records the size of one coalesced fetch.
func (m *Metrics) FetchBatch(class string, n int) {
	if m == nil {
		return
	}
	m.fetchBatchSize.WithLabelValues(class).Observe(float64(n))
}

// RelationLookup counts one relation cache lookup.
func (m *Metrics) RelationLookup(class, result string) {
	if m == nil {
		return
	}
	m.relationLookups.WithLabelValues(class, result).Inc()
}

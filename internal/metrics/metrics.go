// Package metrics holds the Prometheus collectors for imports, enrichment,
// the lookup API and its cache. Collectors register on the default registry
// and are served at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Import
	ImportRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grimoire_import_records_total",
			Help: "Imported records by source and outcome",
		},
		[]string{"source", "outcome"}, // inserted, updated, unchanged, skipped, error
	)

	ImportWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grimoire_import_field_warnings_total",
			Help: "Field values dropped during normalization",
		},
		[]string{"field"},
	)

	ImportBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "grimoire_import_batch_duration_seconds",
			Help:    "Time to process one import batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	MergeConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grimoire_merge_conflicts_total",
			Help: "Equal-priority conflicts where the first value was kept",
		},
		[]string{"field"},
	)

	// Enrichment
	EnrichLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grimoire_enrich_lookups_total",
			Help: "Enrichment lookups by provider and result",
		},
		[]string{"provider", "result"}, // enriched, unchanged, no_match, skipped, error
	)

	EnrichLookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grimoire_enrich_lookup_duration_seconds",
			Help:    "Duration of provider lookups",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grimoire_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grimoire_circuit_breaker_state_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grimoire_api_requests_total",
			Help: "API requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grimoire_api_request_duration_seconds",
			Help:    "API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Cache
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grimoire_cache_hits_total",
			Help: "Response cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grimoire_cache_misses_total",
			Help: "Response cache misses",
		},
	)

	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grimoire_cache_invalidations_total",
			Help: "Cache invalidations by trigger",
		},
		[]string{"trigger"}, // notify, reconnect, import
	)
)

// RecordImport counts one record outcome.
func RecordImport(source, outcome string) {
	ImportRecords.WithLabelValues(source, outcome).Inc()
}

// RecordEnrichLookup counts one provider lookup and its latency.
func RecordEnrichLookup(provider, result string, duration time.Duration) {
	EnrichLookups.WithLabelValues(provider, result).Inc()
	EnrichLookupDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordAPIRequest counts one API request.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordBreakerTransition updates the breaker gauges on a state change.
// States follow gobreaker's numbering.
func RecordBreakerTransition(name string, to int, fromName, toName string) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(to))
	CircuitBreakerTransitions.WithLabelValues(name, fromName, toName).Inc()
}

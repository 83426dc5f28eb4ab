package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Cache (C2)
var (
	CacheItemsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "safetyamp",
			Subsystem: "cache",
			Name:      "items_total",
			Help:      "Number of items currently stored in a named cache.",
		},
		[]string{"cache"},
	)

	CacheLastUpdatedTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "safetyamp",
			Subsystem: "cache",
			Name:      "last_updated_timestamp",
			Help:      "Unix timestamp of the last successful cache write.",
		},
		[]string{"cache"},
	)

	CacheTTLSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "safetyamp",
			Subsystem: "cache",
			Name:      "ttl_seconds",
			Help:      "Configured TTL in seconds for a named cache.",
		},
		[]string{"cache"},
	)
)

// HTTP client pool (C1)
var (
	HTTPClientRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "safetyamp",
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total outbound HTTP requests by service/method/status.",
		},
		[]string{"service", "method", "status"},
	)

	RateLimitWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "safetyamp",
			Subsystem: "http_client",
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for a rate-limit token before a request.",
			Buckets:   []float64{0, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"service"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "safetyamp",
			Subsystem: "http_client",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per service (0=closed, 1=half-open, 2=open).",
		},
		[]string{"service"},
	)
)

// Syncers (C6) / Orchestrator (C7)
var (
	SyncDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "safetyamp",
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Duration of one syncer pass, by entity type.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"entity_type"},
	)

	ChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "safetyamp",
			Subsystem: "changes",
			Name:      "total",
			Help:      "Total reconciliation decisions by entity type, operation and status.",
		},
		[]string{"entity_type", "operation", "status"},
	)
)

// All returns every reconciler-specific metric for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		CacheItemsTotal,
		CacheLastUpdatedTimestamp,
		CacheTTLSeconds,
		HTTPClientRequestsTotal,
		RateLimitWaitSeconds,
		CircuitBreakerState,
		SyncDurationSeconds,
		ChangesTotal,
	}
}

// NewMetricsRegistry builds a Prometheus registry with the standard Go
// and process collectors plus any extra collectors supplied.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}

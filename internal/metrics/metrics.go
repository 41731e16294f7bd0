// Package metrics holds the Prometheus collectors exported on the admin listener.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "upae"

var (
	once sync.Once

	// HTTPRequestsTotal counts finished requests. route is the router
	// pattern (e.g. /s/{slug}), never the raw path, to keep cardinality bounded.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HTTPInflightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_inflight_requests",
			Help:      "Requests currently being served.",
		},
	)

	// UploadAttemptsTotal counts single provider attempts; outcome is
	// "success" or "failure".
	UploadAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_provider_attempts_total",
			Help:      "Upload attempts per provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	UploadAttemptDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_provider_attempt_duration_seconds",
			Help:      "Latency of a single provider attempt.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider"},
	)

	UploadExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_exhausted_total",
			Help:      "Dispatches where every provider failed.",
		},
	)

	// SlugDraws observes how many candidates an allocation needed.
	SlugDraws = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slug_draws",
			Help:      "Candidate draws per slug allocation.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34},
		},
	)

	SlugCollisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slug_collisions_total",
			Help:      "Rejected slug candidates by detection point (exists, insert).",
		},
		[]string{"stage"},
	)

	// CacheOperations counts keystore cache lookups by level (l1, l2, bloom)
	// and result (hit, hit_negative, miss).
	CacheOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keystore_cache_operations_total",
			Help:      "Keystore cache lookups by level and result.",
		},
		[]string{"level", "result"},
	)
)

// Init registers the collectors with the default registry. Safe to call more
// than once; the registry panics on duplicate registration.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDurationSeconds,
			HTTPInflightRequests,
			UploadAttemptsTotal,
			UploadAttemptDurationSeconds,
			UploadExhaustedTotal,
			SlugDraws,
			SlugCollisionsTotal,
			CacheOperations,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// Package metrics exposes the Prometheus registry of the proxy and the
// HTTP-level metrics shared by the server middleware.
//
// Package-specific metrics are defined next to the code that records them:
//
// Upstream Metrics (pkg/client):
//   - vigia_upstream_attempts_total{outcome} (Counter)
//   - vigia_upstream_attempt_failures_total{reason} (Counter): server, client, payload, timeout, network
//   - vigia_upstream_attempt_duration_seconds (Histogram)
//   - vigia_upstream_retries_total (Counter)
//   - vigia_upstream_retry_backoff_seconds (Histogram)
//   - vigia_upstream_retry_exhausted_total (Counter)
//
// Cache Metrics (pkg/cache):
//   - vigia_cache_hits_total{store} (Counter)
//   - vigia_cache_misses_total{store} (Counter)
//   - vigia_cache_entries{store} (Gauge)
//   - vigia_cache_flushes_total (Counter)
//   - vigia_cache_errors_total{operation} (Counter)
//
// Scheduler Metrics (pkg/scheduler):
//   - vigia_scheduled_flushes_total{result} (Counter)
//
// Example Prometheus Queries:
//
//	# Cache Hit Rate
//	sum(rate(vigia_cache_hits_total[5m])) /
//	(sum(rate(vigia_cache_hits_total[5m])) + sum(rate(vigia_cache_misses_total[5m])))
//
//	# P95 Request Latency per route
//	histogram_quantile(0.95, sum by (le, route) (rate(vigia_http_request_duration_seconds_bucket[5m])))
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registerer used by the proxy.
// Every package registers its metrics through promauto.With(Registry).
var Registry = prometheus.DefaultRegisterer

// Gatherer is the source served by Handler.
var Gatherer = prometheus.DefaultGatherer

var (
	// HTTPRequests counts responses by route template and status code
	HTTPRequests = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigia_http_requests_total",
			Help: "Total HTTP requests served by route and status code",
		},
		[]string{"route", "code"},
	)

	// HTTPDuration tracks request latency by route template
	HTTPDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigia_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	buildInfo = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigia_build_info",
			Help: "Constant 1, labeled with the running version",
		},
		[]string{"version"},
	)
)

// ObserveRequest records one served HTTP request.
func ObserveRequest(route string, code int, duration time.Duration) {
	HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	HTTPDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// SetBuildInfo publishes the running version.
func SetBuildInfo(version string) {
	buildInfo.WithLabelValues(version).Set(1)
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

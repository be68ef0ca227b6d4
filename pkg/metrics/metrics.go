// Package metrics exposes the Prometheus registry shared by all pager packages.
// Collectors are defined next to the code that updates them (admission,
// server, client, pagination, cache, ratelimit) and registered via promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registerer used by every pager collector.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the Prometheus gatherer served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler serves all registered metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(Registry, promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
}

// Metrics Documentation
//
// Admission Metrics (pkg/admission):
//   - pager_admission_decisions_total{outcome} (Counter): granted or rejected page requests
//   - pager_admission_noise_points_total (Counter): simulated foreign load added to the bucket
//   - pager_admission_bucket_points (Gauge): bucket content after the last decision
//   - pager_admission_queue_depth (Gauge): requests waiting for the controller
//
// HTTP Metrics (pkg/server):
//   - pager_http_requests_total{method, path, status} (Counter): path is the chi route pattern
//   - pager_http_request_duration_seconds{method, path, status} (Histogram)
//
// Client Metrics (pkg/client):
//   - pager_client_requests_total{status} (Counter): page requests by HTTP status
//   - pager_client_request_duration_seconds{status} (Histogram)
//   - pager_client_errors_total{class} (Counter): failures by class (client, server, rate_limit, network)
//
// Stream Metrics (pkg/pagination):
//   - pager_stream_fetches_total (Counter)
//   - pager_stream_rejections_total (Counter): 429 responses
//   - pager_stream_throttles_total (Counter): sleeps before a request
//   - pager_stream_backoff_seconds{reason} (Histogram): throttle or rejection sleeps
//   - pager_stream_records_total (Counter)
//   - pager_stream_errors_total{kind} (Counter): terminal stream errors
//
// Cache Metrics (pkg/cache):
//   - pager_cache_hits_total, pager_cache_misses_total (Counter)
//   - pager_cache_stored_bytes_total (Counter)
//   - pager_cache_errors_total{operation} (Counter)
//
// Tracker Metrics (pkg/ratelimit):
//   - pager_bucket_points_observed, pager_bucket_capacity_observed (Gauge)
//   - pager_bucket_snapshots_recorded_total (Counter)
//
// Example Prometheus Queries:
//
//   # Rejection Rate
//   sum(rate(pager_admission_decisions_total{outcome="rejected"}[5m])) /
//   sum(rate(pager_admission_decisions_total[5m]))
//
//   # Bucket Saturation
//   pager_admission_bucket_points / 500
//
//   # Time Streams Spend Sleeping
//   sum(rate(pager_stream_backoff_seconds_sum[5m])) by (reason)

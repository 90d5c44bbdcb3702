// Package metrics provides the centralized Prometheus metrics registry
// for the downloader. All metrics are defined in their owning packages
// (fetch, pacing, cache, runner) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the downloader.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/fetch):
//   - econfetch_requests_total{source, status} (Counter): Upstream requests by source API and HTTP status
//   - econfetch_request_duration_seconds{source} (Histogram): Upstream request duration by source
//   - econfetch_errors_total{class} (Counter): Fetch errors by class (client_error, server_error, rate_limited, network_error)
//
// Retry Metrics (pkg/fetch):
//   - econfetch_retries_total{error_class} (Counter): Retry attempts by error class
//   - econfetch_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - econfetch_retry_exhausted_total{error_class} (Counter): Fetches that exhausted max attempts
//
// Pacing Metrics (pkg/pacing):
//   - econfetch_pacing_wait_seconds{source} (Histogram): Time spent waiting on the per-source pacer
//   - econfetch_pacing_delays_total{source} (Counter): Requests delayed by the per-source pacer
//
// Cache Metrics (pkg/cache):
//   - econfetch_cache_hits_total (Counter): Payload cache hits
//   - econfetch_cache_misses_total (Counter): Payload cache misses
//   - econfetch_cache_errors_total{operation} (Counter): Cache operation errors (get, set, delete)
//
// Run Metrics (pkg/runner):
//   - econfetch_year_outcomes_total{source, status} (Counter): Terminal year outcomes by source and status
//   - econfetch_dataset_duration_seconds{source} (Histogram): Wall-clock duration of one dataset's year loop
//   - econfetch_datasets_total{status} (Counter): Datasets processed by dataset-level status
//   - econfetch_run_duration_seconds (Histogram): Wall-clock duration of a full download run
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(econfetch_cache_hits_total[5m])) /
//   (sum(rate(econfetch_cache_hits_total[5m])) + sum(rate(econfetch_cache_misses_total[5m])))
//
//   # Year Error Rate by Source
//   sum by (source) (rate(econfetch_year_outcomes_total{status="error"}[15m])) /
//   sum by (source) (rate(econfetch_year_outcomes_total[15m]))
//
//   # Retry Exhaustion Rate
//   rate(econfetch_retry_exhausted_total[15m])
//
//   # P95 Upstream Latency by Source
//   histogram_quantile(0.95, sum by (source, le) (rate(econfetch_request_duration_seconds_bucket[5m])))
//
//   # Pacing Overhead per Source
//   sum by (source) (rate(econfetch_pacing_wait_seconds_sum[15m]))

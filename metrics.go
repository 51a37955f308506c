package energygrid

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request lifecycle,
// cache, token refresh and polling layers. It is safe for concurrent use and
// every record method tolerates a nil receiver.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheStale  *prometheus.CounterVec
	cacheSize   *prometheus.GaugeVec

	tokenRefreshes *prometheus.CounterVec
	authFailures   prometheus.Counter

	pollCycles *prometheus.CounterVec

	normalizeFallbacks *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec

	registry prometheus.Registerer
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using supplied registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	mc := &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "energygrid_requests_total",
				Help: "Total number of HTTP requests made",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "energygrid_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "energygrid_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "energygrid_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "endpoint", "attempt"},
		),
		cacheHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "energygrid_cache_hits_total",
				Help: "Total number of cache hits served fresh",
			},
			[]string{"endpoint"},
		),
		cacheMisses: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "energygrid_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"endpoint"},
		),
		cacheStale: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "energygrid_cache_stale_served_total",
				Help: "Total number of stale cache entries served while revalidating",
			},
			[]string{"endpoint"},
		),
		cacheSize: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "energygrid_cache_size",
				Help: "Current number of entries in cache",
			},
			[]string{"name"},
		),
		tokenRefreshes: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "energygrid_token_refreshes_total",
				Help: "Total number of token refresh exchanges by outcome",
			},
			[]string{"outcome"},
		),
		authFailures: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "energygrid_auth_failures_total",
				Help: "Total number of terminal authentication failures",
			},
		),
		pollCycles: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "energygrid_poll_cycles_total",
				Help: "Total number of polling cycles by result",
			},
			[]string{"result"},
		),
		normalizeFallbacks: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "energygrid_normalize_fallbacks_total",
				Help: "Total number of responses that fell back to whole-body payload",
			},
			[]string{"shape"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "energygrid_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type", "method", "endpoint"},
		),
		registry: registry,
	}

	return mc
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}
	statusCodeStr := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, statusCodeStr, endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, statusCodeStr, endpoint).Observe(duration.Seconds())
}

// RecordRequestStart increments in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd decrements in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordRetry increments retry counter for an attempt.
func (mc *MetricsCollector) RecordRetry(method, endpoint string, attempt int) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(method, endpoint, strconv.Itoa(attempt)).Inc()
}

// RecordCacheHit increments fresh cache hit counter.
func (mc *MetricsCollector) RecordCacheHit(endpoint string) {
	if mc == nil {
		return
	}
	mc.cacheHits.WithLabelValues(endpoint).Inc()
}

// RecordCacheMiss increments cache miss counter.
func (mc *MetricsCollector) RecordCacheMiss(endpoint string) {
	if mc == nil {
		return
	}
	mc.cacheMisses.WithLabelValues(endpoint).Inc()
}

// RecordCacheStale increments the stale-served counter.
func (mc *MetricsCollector) RecordCacheStale(endpoint string) {
	if mc == nil {
		return
	}
	mc.cacheStale.WithLabelValues(endpoint).Inc()
}

// RecordCacheSize sets cache size gauge.
func (mc *MetricsCollector) RecordCacheSize(name string, size int) {
	if mc == nil {
		return
	}
	mc.cacheSize.WithLabelValues(name).Set(float64(size))
}

// RecordTokenRefresh increments the refresh counter for an outcome.
func (mc *MetricsCollector) RecordTokenRefresh(outcome string) {
	if mc == nil {
		return
	}
	mc.tokenRefreshes.WithLabelValues(outcome).Inc()
}

// RecordAuthFailure increments the terminal auth failure counter.
func (mc *MetricsCollector) RecordAuthFailure() {
	if mc == nil {
		return
	}
	mc.authFailures.Inc()
}

// RecordPollCycle increments the poll cycle counter for a result
// (progress, completed, failed, timeout).
func (mc *MetricsCollector) RecordPollCycle(result string) {
	if mc == nil {
		return
	}
	mc.pollCycles.WithLabelValues(result).Inc()
}

// RecordNormalizeFallback counts a response that was not envelope-shaped.
func (mc *MetricsCollector) RecordNormalizeFallback(shape BodyShape) {
	if mc == nil {
		return
	}
	mc.normalizeFallbacks.WithLabelValues(shape.String()).Inc()
}

// RecordError increments error counter by type.
func (mc *MetricsCollector) RecordError(errorType, method, endpoint string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(errorType, method, endpoint).Inc()
}

package datafetch

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector exports the fetch layer's behaviour to Prometheus. All
// methods are nil-safe so a client without metrics can call them freely.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec
	payloadBytes     *prometheus.HistogramVec

	attemptsTotal *prometheus.CounterVec
	retriesTotal  *prometheus.CounterVec

	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheSize      *prometheus.GaugeVec
	cacheEvictions *prometheus.CounterVec

	deduplicationHits *prometheus.CounterVec

	errorsTotal  *prometheus.CounterVec
	abortedTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetricsCollector creates a collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector on the supplied registerer.
func NewMetricsCollectorWithRegistry(registerer prometheus.Registerer) *MetricsCollector {
	f := promauto.With(registerer)
	mc := &MetricsCollector{
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datafetch_requests_total",
				Help: "Total number of logical requests by outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "datafetch_request_duration_seconds",
				Help:    "Duration of logical requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "outcome"},
		),
		requestsInFlight: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "datafetch_requests_in_flight",
				Help: "Number of physical requests currently in flight",
			},
			[]string{"endpoint"},
		),
		payloadBytes: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "datafetch_payload_bytes",
				Help:    "Size of fetched payloads in bytes",
				Buckets: prometheus.ExponentialBuckets(256, 4, 8),
			},
			[]string{"endpoint"},
		),
		attemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datafetch_attempts_total",
				Help: "Total number of physical attempts by result kind",
			},
			[]string{"endpoint", "result"},
		),
		retriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datafetch_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"endpoint", "attempt"},
		),
		cacheHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datafetch_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"endpoint"},
		),
		cacheMisses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datafetch_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"endpoint"},
		),
		cacheSize: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "datafetch_cache_size",
				Help: "Current number of entries in cache",
			},
			[]string{"name"},
		),
		cacheEvictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datafetch_cache_evictions_total",
				Help: "Total number of cache entries removed by capacity or expiry",
			},
			[]string{"name", "reason"},
		),
		deduplicationHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datafetch_deduplication_hits_total",
				Help: "Total number of callers attached to an in-flight request",
			},
			[]string{"endpoint"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datafetch_errors_total",
				Help: "Total number of failed logical requests by kind",
			},
			[]string{"kind", "endpoint"},
		),
		abortedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datafetch_aborted_total",
				Help: "Total number of logical requests cancelled by their caller",
			},
			[]string{"endpoint"},
		),
	}

	if reg, ok := registerer.(*prometheus.Registry); ok {
		mc.registry = reg
	}
	return mc
}

// RecordRequest records the outcome and duration of a logical request.
func (mc *MetricsCollector) RecordRequest(endpoint, outcome string, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.requestsTotal.WithLabelValues(endpoint, outcome).Inc()
	mc.requestDuration.WithLabelValues(endpoint, outcome).Observe(duration.Seconds())
}

// RecordRequestStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(endpoint string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(endpoint).Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(endpoint string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(endpoint).Dec()
}

// RecordPayloadSize observes a payload size.
func (mc *MetricsCollector) RecordPayloadSize(endpoint string, size int) {
	if mc == nil {
		return
	}
	mc.payloadBytes.WithLabelValues(endpoint).Observe(float64(size))
}

// RecordAttempt counts a physical attempt; result is "ok" or an error kind.
func (mc *MetricsCollector) RecordAttempt(endpoint, result string) {
	if mc == nil {
		return
	}
	mc.attemptsTotal.WithLabelValues(endpoint, result).Inc()
}

// RecordRetry counts a retry; attempt is the zero-based attempt index.
func (mc *MetricsCollector) RecordRetry(endpoint string, attempt int) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(endpoint, strconv.Itoa(attempt)).Inc()
}

// RecordCacheHit increments the cache hit counter.
func (mc *MetricsCollector) RecordCacheHit(endpoint string) {
	if mc == nil {
		return
	}
	mc.cacheHits.WithLabelValues(endpoint).Inc()
}

// RecordCacheMiss increments the cache miss counter.
func (mc *MetricsCollector) RecordCacheMiss(endpoint string) {
	if mc == nil {
		return
	}
	mc.cacheMisses.WithLabelValues(endpoint).Inc()
}

// RecordCacheSize sets the cache size gauge.
func (mc *MetricsCollector) RecordCacheSize(name string, size int) {
	if mc == nil {
		return
	}
	mc.cacheSize.WithLabelValues(name).Set(float64(size))
}

// RecordCacheEviction counts an eviction; reason is "capacity" or "expired".
func (mc *MetricsCollector) RecordCacheEviction(name, reason string) {
	if mc == nil {
		return
	}
	mc.cacheEvictions.WithLabelValues(name, reason).Inc()
}

// RecordDeduplicationHit counts a caller that attached to an in-flight request.
func (mc *MetricsCollector) RecordDeduplicationHit(endpoint string) {
	if mc == nil {
		return
	}
	mc.deduplicationHits.WithLabelValues(endpoint).Inc()
}

// RecordError counts a failed logical request by kind.
func (mc *MetricsCollector) RecordError(kind ErrorKind, endpoint string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(string(kind), endpoint).Inc()
}

// RecordAborted counts a cancelled logical request. Cancellations are not
// endpoint health signals and are kept out of the error counter.
func (mc *MetricsCollector) RecordAborted(endpoint string) {
	if mc == nil {
		return
	}
	mc.abortedTotal.WithLabelValues(endpoint).Inc()
}

// GetRegistry exposes the underlying registry when one was supplied.
func (mc *MetricsCollector) GetRegistry() *prometheus.Registry {
	if mc == nil {
		return nil
	}
	return mc.registry
}

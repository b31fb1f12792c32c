package observability

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/helixir/data-repository-service/internal/domain"
)

// Metrics contains all Prometheus metrics for the data repository service.
// Metrics are organized by subsystem: data client calls, cache, change events,
// and the HTTP API. All counters and histograms are registered via promauto
// with the default Prometheus registry.
type Metrics struct {
	// ClientCallsTotal counts data client calls, labeled by collection and operation.
	ClientCallsTotal *prometheus.CounterVec

	// ClientCallsFailed counts failed data client calls, labeled by collection, operation and error class.
	ClientCallsFailed *prometheus.CounterVec

	// ClientCallDuration observes data client call duration in seconds.
	ClientCallDuration *prometheus.HistogramVec

	// ItemsPerPage observes the number of items returned per ReadAll page, labeled by collection.
	ItemsPerPage *prometheus.HistogramVec

	// CacheHits counts read-through cache hits, labeled by collection.
	CacheHits *prometheus.CounterVec

	// CacheMisses counts read-through cache misses, labeled by collection.
	CacheMisses *prometheus.CounterVec

	// CacheInvalidations counts cache entries removed after writes, labeled by collection.
	CacheInvalidations *prometheus.CounterVec

	// EventsPublished counts change events published, labeled by collection and operation.
	EventsPublished *prometheus.CounterVec

	// EventsFailed counts change events that could not be published.
	EventsFailed *prometheus.CounterVec

	// HTTPRequestsTotal counts API requests, labeled by method, route and status code.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPRequestDuration observes API request duration in seconds, labeled by method and route.
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Data clients
		ClientCallsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_calls_total",
			Help:      "Total number of data client calls by collection and operation",
		}, []string{"collection", "operation"}),
		ClientCallsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_calls_failed_total",
			Help:      "Total number of failed data client calls",
		}, []string{"collection", "operation", "error_class"}),
		ClientCallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "client_call_duration_seconds",
			Help:      "Duration of data client calls in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"collection", "operation"}),
		ItemsPerPage: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "items_per_page",
			Help:      "Number of items returned per ReadAll page",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"collection"}),

		// Cache
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of read-through cache hits",
		}, []string{"collection"}),
		CacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of read-through cache misses",
		}, []string{"collection"}),
		CacheInvalidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidations_total",
			Help:      "Total number of cache entries invalidated by writes",
		}, []string{"collection"}),

		// Events
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of change events published",
		}, []string{"collection", "operation"}),
		EventsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_failed_total",
			Help:      "Total number of change events that failed to publish",
		}, []string{"collection", "operation"}),

		// HTTP API
		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of API requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// RecordClientCall records a data client call. A nil err counts as success.
func (m *Metrics) RecordClientCall(collection, operation string, durationSeconds float64, err error) {
	m.ClientCallsTotal.WithLabelValues(collection, operation).Inc()
	m.ClientCallDuration.WithLabelValues(collection, operation).Observe(durationSeconds)
	if err != nil {
		m.ClientCallsFailed.WithLabelValues(collection, operation, ErrorClass(err)).Inc()
	}
}

// RecordPageSize records the number of items in a ReadAll page.
func (m *Metrics) RecordPageSize(collection string, count int) {
	m.ItemsPerPage.WithLabelValues(collection).Observe(float64(count))
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit(collection string) {
	m.CacheHits.WithLabelValues(collection).Inc()
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss(collection string) {
	m.CacheMisses.WithLabelValues(collection).Inc()
}

// RecordCacheInvalidation records a cache entry removed after a write.
func (m *Metrics) RecordCacheInvalidation(collection string) {
	m.CacheInvalidations.WithLabelValues(collection).Inc()
}

// RecordEventPublished records a published change event.
func (m *Metrics) RecordEventPublished(collection, operation string) {
	m.EventsPublished.WithLabelValues(collection, operation).Inc()
}

// RecordEventFailed records a change event that failed to publish.
func (m *Metrics) RecordEventFailed(collection, operation string) {
	m.EventsFailed.WithLabelValues(collection, operation).Inc()
}

// RecordHTTPRequest records a completed API request.
func (m *Metrics) RecordHTTPRequest(method, route, status string, durationSeconds float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

// ErrorClass returns a low-cardinality label for err.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrBadRequest):
		return "bad_request"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrServiceUnavailable):
		return "unavailable"
	case errors.Is(err, domain.ErrInternalError):
		return "internal"
	case errors.Is(err, domain.ErrInvalidFormat):
		return "invalid_format"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	}
	if httpErr, ok := domain.AsHTTPError(err); ok && httpErr.StatusCode >= 400 {
		return "http_other"
	}
	return "unknown"
}

// Package metrics exposes poller instrumentation through Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/classeviva-hub/classeviva-poller/internal/domain/school"
	"github.com/classeviva-hub/classeviva-poller/internal/domain/shared"
)

const namespace = "classeviva"

// PollMetrics registers the poller collectors on its own registry. It
// serves the coordinator, the emitter, the portal client and the HTTP
// server.
type PollMetrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	cycles        *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	fetches       *prometheus.CounterVec
	stale         *prometheus.GaugeVec
	newItems      *prometheus.CounterVec
	notifications *prometheus.CounterVec
	requests      *prometheus.CounterVec
	requestTime   *prometheus.HistogramVec
	logins        *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// NewPollMetrics creates and registers every collector.
func NewPollMetrics() *PollMetrics {
	registry := prometheus.NewRegistry()

	m := &PollMetrics{
		registry: registry,
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Poll cycles by outcome (ok, partial, auth_failed).",
		}, []string{"account", "result"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Duration of poll cycles.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"account"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "category_fetches_total",
			Help:      "Category fetches by error kind (none on success).",
		}, []string{"account", "category", "error_kind"}),
		stale: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "category_stale",
			Help:      "1 when the category failed in the latest cycle.",
		}, []string{"account", "category"}),
		newItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "new_items_total",
			Help:      "Records detected as new.",
		}, []string{"account", "category"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications by event type and publish outcome.",
		}, []string{"account", "event_type", "status"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Requests to the portal by endpoint and status.",
		}, []string{"endpoint", "status"}),
		requestTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Latency of requests to the portal.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result (ok, rejected, error).",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Requests served by the read surface.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency of requests served by the read surface.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	registry.MustRegister(
		m.cycles, m.cycleDuration, m.fetches, m.stale, m.newItems, m.notifications,
		m.requests, m.requestTime, m.logins, m.httpRequests, m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return m
}

// Handler exposes the Prometheus HTTP handler.
func (m *PollMetrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the registry holding the collectors.
func (m *PollMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCycle records a finished cycle.
func (m *PollMetrics) ObserveCycle(account, result string, elapsed time.Duration) {
	m.cycles.WithLabelValues(account, result).Inc()
	m.cycleDuration.WithLabelValues(account).Observe(elapsed.Seconds())
}

// ObserveCategory records one category fetch. An empty errorKind means
// the fetch succeeded.
func (m *PollMetrics) ObserveCategory(account string, cat school.Category, errorKind string) {
	stale := 1.0
	if errorKind == "" {
		errorKind = "none"
		stale = 0
	}
	m.fetches.WithLabelValues(account, string(cat), errorKind).Inc()
	m.stale.WithLabelValues(account, string(cat)).Set(stale)
}

// ObserveNewItems records how many records of cat were new.
func (m *PollMetrics) ObserveNewItems(account string, cat school.Category, count int) {
	if count <= 0 {
		return
	}
	m.newItems.WithLabelValues(account, string(cat)).Add(float64(count))
}

// ObserveNotification records one publish attempt.
func (m *PollMetrics) ObserveNotification(account string, eventType shared.EventType, published bool) {
	status := "published"
	if !published {
		status = "failed"
	}
	m.notifications.WithLabelValues(account, string(eventType), status).Inc()
}

// ObserveRequest records one exchange with the portal.
func (m *PollMetrics) ObserveRequest(endpoint, status string, elapsed time.Duration) {
	m.requests.WithLabelValues(endpoint, status).Inc()
	m.requestTime.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// ObserveLogin records one login attempt.
func (m *PollMetrics) ObserveLogin(result string) {
	m.logins.WithLabelValues(result).Inc()
}

// GinMiddleware records every request served by the router. Paths are the
// route templates, so account names do not blow up label cardinality.
func (m *PollMetrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.httpRequests.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

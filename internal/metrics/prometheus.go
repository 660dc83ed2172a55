// Package metrics provides Prometheus metrics for the sync server.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge

	operationsTotal  *prometheus.CounterVec
	conflictsTotal   *prometheus.CounterVec
	pushDuration     prometheus.Histogram
	pullEntities     prometheus.Histogram
	versionRetries   prometheus.Counter
	eventQueueDepth  prometheus.Gauge
	healthStatus     prometheus.Gauge
}

var globalMetrics *Metrics

// NewMetrics creates and registers Prometheus metrics. Registration is
// process-global, so repeated calls return the same instance.
func NewMetrics() *Metrics {
	if globalMetrics != nil {
		return globalMetrics
	}

	globalMetrics = &Metrics{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldsync_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fieldsync_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		requestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fieldsync_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),
		operationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldsync_sync_operations_total",
				Help: "Total number of pushed operations by terminal status",
			},
			[]string{"status"},
		),
		conflictsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldsync_conflicts_total",
				Help: "Total number of conflict records created by field kind",
			},
			[]string{"kind"},
		),
		pushDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fieldsync_push_duration_seconds",
				Help:    "Push batch handling duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),
		pullEntities: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fieldsync_pull_entities",
				Help:    "Number of entities returned per pull",
				Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
			},
		),
		versionRetries: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fieldsync_version_conflicts_total",
				Help: "Total number of optimistic version check failures",
			},
		),
		eventQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fieldsync_status_event_queue_depth",
				Help: "Number of status events waiting to be published",
			},
		),
		healthStatus: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fieldsync_health_status",
				Help: "Health status of the sync server (1 = healthy, 0 = unhealthy)",
			},
		),
	}

	return globalMetrics
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	m.requestsTotal.WithLabelValues(method, path, status).Inc()
	m.requestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordOperation records one pushed operation's terminal status.
func (m *Metrics) RecordOperation(status string) {
	m.operationsTotal.WithLabelValues(status).Inc()
}

// RecordConflict records a conflict record creation.
func (m *Metrics) RecordConflict(kind string) {
	m.conflictsTotal.WithLabelValues(kind).Inc()
}

// RecordPush records a push batch duration.
func (m *Metrics) RecordPush(duration time.Duration) {
	m.pushDuration.Observe(duration.Seconds())
}

// RecordPull records the entity count of a pull response.
func (m *Metrics) RecordPull(entities int) {
	m.pullEntities.Observe(float64(entities))
}

// RecordVersionRetry records an optimistic version check failure.
func (m *Metrics) RecordVersionRetry() {
	m.versionRetries.Inc()
}

// SetEventQueueDepth sets the status event queue depth.
func (m *Metrics) SetEventQueueDepth(depth int) {
	m.eventQueueDepth.Set(float64(depth))
}

// IncRequestsInFlight increments the in-flight requests counter.
func (m *Metrics) IncRequestsInFlight() {
	m.requestsInFlight.Inc()
}

// DecRequestsInFlight decrements the in-flight requests counter.
func (m *Metrics) DecRequestsInFlight() {
	m.requestsInFlight.Dec()
}

// SetHealthStatus sets the health status.
func (m *Metrics) SetHealthStatus(healthy bool) {
	if healthy {
		m.healthStatus.Set(1)
	} else {
		m.healthStatus.Set(0)
	}
}

// MetricsServer provides a separate HTTP server for Prometheus metrics.
type MetricsServer struct {
	server *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates a new metrics server.
func NewMetricsServer(port int, path string, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	return &MetricsServer{
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
		logger: logger,
	}
}

// Start starts the metrics server.
func (ms *MetricsServer) Start() error {
	ms.logger.Info("starting metrics server", zap.String("addr", ms.server.Addr))
	return ms.server.ListenAndServe()
}

// Shutdown gracefully shuts down the metrics server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

// MetricsMiddleware creates middleware that records HTTP metrics.
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.IncRequestsInFlight()
			defer m.DecRequestsInFlight()

			start := time.Now()
			rw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			m.RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
		})
	}
}

// metricsResponseWriter wraps http.ResponseWriter to capture metrics.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code.
func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

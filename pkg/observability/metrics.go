package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the audit service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Capture pipeline metrics
	CaptureTotal    *prometheus.CounterVec
	CaptureFailures prometheus.Counter
	CaptureDropped  prometheus.Counter
	CaptureRetries  prometheus.Counter

	// Query engine metrics
	QueryTotal    *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec

	// Retention sweeper metrics
	SweepsTotal        *prometheus.CounterVec
	SweptRecordsTotal  prometheus.Counter
	ArchivedBatchTotal prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics. Passing nil
// uses a fresh registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chronicle_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		CaptureTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_capture_total",
				Help: "Audit records captured and persisted",
			},
			[]string{"action"},
		),
		CaptureFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chronicle_capture_failures_total",
				Help: "Audit records lost after exhausting store write retries",
			},
		),
		CaptureDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chronicle_capture_dropped_total",
				Help: "Audit records dropped because the capture queue was full",
			},
		),
		CaptureRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chronicle_capture_retries_total",
				Help: "Retried audit store writes",
			},
		),
		QueryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_query_total",
				Help: "Audit query operations",
			},
			[]string{"operation", "status"},
		),
		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chronicle_query_duration_seconds",
				Help:    "Audit query duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		SweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_sweeps_total",
				Help: "Retention sweep runs",
			},
			[]string{"status"},
		),
		SweptRecordsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chronicle_swept_records_total",
				Help: "Audit records removed by the retention sweeper",
			},
		),
		ArchivedBatchTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chronicle_archived_batches_total",
				Help: "Record batches archived before deletion",
			},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chronicle_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chronicle_db_connections_idle",
				Help: "Idle database connections",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CaptureTotal,
		m.CaptureFailures,
		m.CaptureDropped,
		m.CaptureRetries,
		m.QueryTotal,
		m.QueryDuration,
		m.SweepsTotal,
		m.SweptRecordsTotal,
		m.ArchivedBatchTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveQuery records one query operation's outcome and duration.
func (m *Metrics) ObserveQuery(operation string, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.QueryTotal.WithLabelValues(operation, status).Inc()
	m.QueryDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// CollectDBStats copies connection pool gauges from the database handle.
func (m *Metrics) CollectDBStats(db *sql.DB) {
	stats := db.Stats()
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// MetricsMiddleware instruments HTTP handlers.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		elapsed := time.Since(start)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(elapsed.Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login results recorded on LoginsTotal
const (
	LoginResultSuccess     = "success"
	LoginResultFailure     = "failure"
	LoginResultRateLimited = "rate_limited"
)

// Session eviction reasons recorded on SessionEvictionsTotal
const (
	EvictionReplaced = "replaced"
	EvictionExpired  = "expired"
	EvictionRevoked  = "revoked"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Authentication and session metrics
	LoginsTotal              *prometheus.CounterVec
	LogoutsTotal             prometheus.Counter
	SessionEvictionsTotal    *prometheus.CounterVec
	ActiveSessions           prometheus.Gauge
	SessionStoreErrorsTotal  *prometheus.CounterVec
	SessionStoreRetriesTotal *prometheus.CounterVec

	// Menu directory metrics
	MenuSnapshotLoadsTotal *prometheus.CounterVec
	MenuSnapshotNodes      prometheus.Gauge
	MenuFallbackTotal      *prometheus.CounterVec
	MenuCacheHitsTotal     prometheus.Counter
	MenuCacheMissesTotal   prometheus.Counter

	// Database metrics
	DBConnectionsOpen prometheus.Gauge
	DBConnectionsIdle prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govrec_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "govrec_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "govrec_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "path"},
		),

		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govrec_logins_total",
				Help: "Total number of login attempts by result",
			},
			[]string{"result"},
		),
		LogoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "govrec_logouts_total",
				Help: "Total number of logouts",
			},
		),
		SessionEvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govrec_session_evictions_total",
				Help: "Total number of sessions removed by reason",
			},
			[]string{"reason"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "govrec_active_sessions",
				Help: "Number of unexpired sessions",
			},
		),
		SessionStoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govrec_session_store_errors_total",
				Help: "Total number of session store failures after retries",
			},
			[]string{"operation"},
		),
		SessionStoreRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govrec_session_store_retries_total",
				Help: "Total number of retried session store calls",
			},
			[]string{"operation"},
		),

		MenuSnapshotLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govrec_menu_snapshot_loads_total",
				Help: "Total number of menu snapshot loads by result",
			},
			[]string{"result"},
		),
		MenuSnapshotNodes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "govrec_menu_snapshot_nodes",
				Help: "Number of menu nodes in the published snapshot",
			},
		),
		MenuFallbackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govrec_menu_fallback_total",
				Help: "Total number of accessible-menu requests served by the empty-grant fallback",
			},
			[]string{"role"},
		),
		MenuCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "govrec_menu_cache_hits_total",
				Help: "Total number of accessible-menu cache hits",
			},
		),
		MenuCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "govrec_menu_cache_misses_total",
				Help: "Total number of accessible-menu cache misses",
			},
		),

		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "govrec_db_connections_open",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "govrec_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.LoginsTotal,
		m.LogoutsTotal,
		m.SessionEvictionsTotal,
		m.ActiveSessions,
		m.SessionStoreErrorsTotal,
		m.SessionStoreRetriesTotal,
		m.MenuSnapshotLoadsTotal,
		m.MenuSnapshotNodes,
		m.MenuFallbackTotal,
		m.MenuCacheHitsTotal,
		m.MenuCacheMissesTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsIdle,
	)

	return m
}

// NewTestMetrics returns metrics registered on a fresh private registry
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel returns the matched route template so path parameters do not
// explode label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := routeLabel(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, gatherer prometheus.Gatherer) {
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

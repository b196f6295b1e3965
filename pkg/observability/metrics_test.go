package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	require.NotNil(t, metrics)

	metrics.LoginsTotal.WithLabelValues(LoginResultSuccess).Inc()
	metrics.SessionEvictionsTotal.WithLabelValues(EvictionReplaced).Inc()
	metrics.MenuFallbackTotal.WithLabelValues("ROLE_USER").Inc()

	families, err := registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["govrec_logins_total"])
	assert.True(t, names["govrec_session_evictions_total"])
	assert.True(t, names["govrec_menu_fallback_total"])
	assert.True(t, names["govrec_active_sessions"])
}

func TestNewMetrics_DoubleRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)

	assert.Panics(t, func() { NewMetrics(registry) })
}

func TestMetrics_LoginCounters(t *testing.T) {
	metrics := NewTestMetrics()

	metrics.LoginsTotal.WithLabelValues(LoginResultSuccess).Inc()
	metrics.LoginsTotal.WithLabelValues(LoginResultFailure).Inc()
	metrics.LoginsTotal.WithLabelValues(LoginResultFailure).Inc()

	expected := `
# HELP govrec_logins_total Total number of login attempts by result
# TYPE govrec_logins_total counter
govrec_logins_total{result="failure"} 2
govrec_logins_total{result="success"} 1
`
	assert.NoError(t, testutil.CollectAndCompare(metrics.LoginsTotal, strings.NewReader(expected)))
}

func TestMetrics_ActiveSessionsGauge(t *testing.T) {
	metrics := NewTestMetrics()

	metrics.ActiveSessions.Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.ActiveSessions))
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	metrics := NewTestMetrics()

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(metrics))
	router.HandleFunc("/menus/{code}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	for _, code := range []string{"SYS", "USR", "DOC"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/menus/"+code, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	expected := `
# HELP govrec_http_requests_total Total number of HTTP requests
# TYPE govrec_http_requests_total counter
govrec_http_requests_total{method="GET",path="/menus/{code}",status="200"} 3
`
	assert.NoError(t, testutil.CollectAndCompare(metrics.HTTPRequestsTotal, strings.NewReader(expected)))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.HTTPRequestDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.HTTPResponseSize))
}

func TestHTTPMetricsMiddleware_RecordsStatus(t *testing.T) {
	metrics := NewTestMetrics()

	handler := HTTPMetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/me", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(
		metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "401")))
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusCreated)
	n, err := rw.Write([]byte("hello"))

	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, http.StatusCreated, rw.statusCode)
	assert.Equal(t, 5, rw.bytesWritten)
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.LogoutsTotal.Inc()

	router := mux.NewRouter()
	RegisterMetricsEndpoint(router, registry)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "govrec_logouts_total 1")
}

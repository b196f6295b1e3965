package audit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
}

func TestMiddleware_Handler(t *testing.T) {
	logger := NewRecordingLogger(0)
	middleware := NewMiddleware(logger, true)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	req := httptest.NewRequest("GET", "/menus/root", nil)
	rec := httptest.NewRecorder()
	middleware.Handler(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	events := logger.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeHTTPRequest, events[0].EventType)
	assert.Equal(t, "GET", events[0].Method)
	assert.Equal(t, "/menus/root", events[0].Path)
	assert.Equal(t, http.StatusOK, events[0].StatusCode)
	assert.Equal(t, EventStatusSuccess, events[0].Status)
	assert.Contains(t, events[0].Metadata, "duration_ms")
}

func TestMiddleware_Handler_LogMutationsOnly(t *testing.T) {
	logger := NewRecordingLogger(0)
	wrapped := NewMiddleware(logger, false).Handler(okHandler(http.StatusOK))

	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/menus/hierarchy", nil))
	assert.Empty(t, logger.Events())

	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("PUT", "/menus/3/hide", nil))
	assert.Len(t, logger.Events(), 1)
}

func TestMiddleware_Handler_StatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected EventStatus
	}{
		{http.StatusInternalServerError, EventStatusFailure},
		{http.StatusBadRequest, EventStatusFailure},
		{http.StatusUnauthorized, EventStatusDenied},
		{http.StatusForbidden, EventStatusDenied},
	}

	for _, tt := range tests {
		logger := NewRecordingLogger(0)
		wrapped := NewMiddleware(logger, false).Handler(okHandler(tt.status))

		wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/menus/code/X", nil))

		events := logger.Events()
		require.Len(t, events, 1)
		assert.Equal(t, tt.status, events[0].StatusCode)
		assert.Equal(t, tt.expected, events[0].Status, "status %d", tt.status)
	}
}

func TestMiddleware_Handler_LogSensitiveEndpoints(t *testing.T) {
	logger := NewRecordingLogger(0)
	wrapped := NewMiddleware(logger, false).Handler(okHandler(http.StatusOK))

	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/auth/me", nil))
	assert.Len(t, logger.Events(), 1)
}

func TestMiddleware_InstallsLoggerAndClientAddress(t *testing.T) {
	logger := NewRecordingLogger(0)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := FromContext(r.Context()).LogAuthentication(r.Context(), EventTypeAuthLoginFailed, nil, "bob", EventStatusFailure, "bad password")
		assert.NoError(t, err)
		w.WriteHeader(http.StatusUnauthorized)
	})

	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	req.Header.Set("User-Agent", "test-agent")
	NewMiddleware(logger, false).Handler(handler).ServeHTTP(httptest.NewRecorder(), req)

	failed := logger.EventsOfType(EventTypeAuthLoginFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "203.0.113.7", failed[0].IPAddress)
	assert.Equal(t, "test-agent", failed[0].UserAgent)
	assert.Len(t, logger.EventsOfType(EventTypeHTTPRequest), 1)
}

func TestNewMiddleware_NilLogger(t *testing.T) {
	wrapped := NewMiddleware(nil, true).Handler(okHandler(http.StatusNoContent))
	rec := httptest.NewRecorder()

	wrapped.ServeHTTP(rec, httptest.NewRequest("DELETE", "/menus/1/permissions/ROLE_USER", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

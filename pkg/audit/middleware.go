package audit

import (
	"net/http"
	"strings"
	"time"
)

// sensitivePrefixes are always audited, whatever the method or outcome
var sensitivePrefixes = []string{"/auth", "/menus/reinitialize"}

// Middleware provides HTTP middleware for audit logging
type Middleware struct {
	logger         Logger
	logAllRequests bool // If false, only log mutations, failures and sensitive operations
}

// NewMiddleware creates a new audit middleware
func NewMiddleware(logger Logger, logAllRequests bool) *Middleware {
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &Middleware{
		logger:         logger,
		logAllRequests: logAllRequests,
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Handler wraps an HTTP handler with audit logging. The audit logger and the
// client address are made available to handlers through the request context.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ctx := WithLogger(r.Context(), m.logger)
		ctx = withRequestInfo(ctx, r)

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		r = r.WithContext(ctx)
		next.ServeHTTP(wrapped, r)

		if m.logAllRequests || m.shouldLogRequest(r, wrapped.statusCode) {
			// audit failures never fail the request
			_ = m.logger.LogHTTPRequest(ctx, r, wrapped.statusCode, time.Since(startTime), nil)
		}
	})
}

// shouldLogRequest determines if a request should be logged
func (m *Middleware) shouldLogRequest(r *http.Request, statusCode int) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead && r.Method != http.MethodOptions {
		return true
	}
	if statusCode >= 400 {
		return true
	}
	return isSensitiveEndpoint(r.URL.Path)
}

func isSensitiveEndpoint(path string) bool {
	for _, prefix := range sensitivePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

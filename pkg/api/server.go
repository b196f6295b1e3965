package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/govrec/govrec/pkg/audit"
	"github.com/govrec/govrec/pkg/auth"
	"github.com/govrec/govrec/pkg/errutil"
	"github.com/govrec/govrec/pkg/httputil"
	"github.com/govrec/govrec/pkg/menu"
	"github.com/govrec/govrec/pkg/middleware"
	"github.com/govrec/govrec/pkg/observability"
)

// Dependencies are the services the API serves. Auth, Directory, Resolver
// and Sessions are required.
type Dependencies struct {
	Auth      *auth.Service
	Directory *menu.Directory
	Resolver  *menu.Resolver
	Sessions  *middleware.SessionMiddleware

	// LoginLimiter throttles POST /auth/login per client address; nil disables it
	LoginLimiter middleware.Limiter

	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Health   *observability.HealthChecker
	AuditLog audit.Logger

	AllowedOrigins []string
}

// Server represents the API server
type Server struct {
	router  *mux.Router
	handler http.Handler
	deps    Dependencies
}

// NewServer creates the API server and registers every route
func NewServer(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NewNopLogger()
	}
	if deps.AuditLog == nil {
		deps.AuditLog = audit.NoOpLogger{}
	}

	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
	}
	s.setupRoutes()
	s.handler = s.buildHandler()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "route not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorCode(w, http.StatusMethodNotAllowed, errutil.CodeValidation, "method not allowed", nil)
	})

	if s.deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.deps.Metrics))
	}

	NewAuthHandlers(s.deps.Auth, s.deps.Resolver, s.deps.Sessions.Cookie(), s.deps.LoginLimiter, s.deps.Logger).RegisterRoutes(s.router)
	NewMenuHandlers(s.deps.Directory, s.deps.Resolver).RegisterRoutes(s.router)

	if s.deps.Health != nil {
		observability.RegisterHealthRoutes(s.router, s.deps.Health)
	}
	if s.deps.Gatherer != nil {
		observability.RegisterMetricsEndpoint(s.router, s.deps.Gatherer)
	}
}

// buildHandler wraps the router with the request pipeline. The session
// middleware runs before audit so audit events carry the caller.
func (s *Server) buildHandler() http.Handler {
	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.deps.Logger),
		httputil.RecoveryMiddleware,
		httputil.CORSMiddleware(s.deps.AllowedOrigins),
		httputil.MaxBytesMiddleware(1<<20),
		s.deps.Sessions.Handler,
		audit.NewMiddleware(s.deps.AuditLog, false).Handler,
	)
	return otelhttp.NewHandler(chain(s.router), "govrec")
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the router for additional route registration
func (s *Server) Router() *mux.Router {
	return s.router
}

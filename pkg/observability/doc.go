// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry spans, health checks and graceful shutdown.
//
// # Structured Logging
//
// Logs are JSON lines written through logrus:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("login_id", loginID).Info("login succeeded")
//
// Request-scoped logging picks up the request and user IDs bound by the HTTP
// middleware:
//
//	observability.FromContext(ctx).Warn("no menu grants for role")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.LoginsTotal.WithLabelValues(observability.LoginResultSuccess).Inc()
//
// HTTPMetricsMiddleware labels requests by their gorilla/mux route template.
//
// # Tracing
//
//	ctx, span := observability.StartSpan(ctx, "auth.Login")
//	defer func() { observability.EndSpan(span, err) }()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, observability.WithRedisRequired())
//	observability.RegisterHealthRoutes(router, checker)
//
// # Graceful Shutdown
//
//	sm := observability.NewShutdownManager(logger, server, 30*time.Second)
//	sm.RegisterShutdownFunc("sweeper", sweeper.Stop)
//	err := sm.WaitForShutdown(ctx)
package observability

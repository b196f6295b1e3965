package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/govrec/govrec/pkg/api"
	"github.com/govrec/govrec/pkg/audit"
	"github.com/govrec/govrec/pkg/auth"
	"github.com/govrec/govrec/pkg/config"
	"github.com/govrec/govrec/pkg/menu"
	"github.com/govrec/govrec/pkg/middleware"
	"github.com/govrec/govrec/pkg/observability"
	"github.com/govrec/govrec/pkg/session"
	"github.com/govrec/govrec/pkg/storage"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("version", version)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("govrec stopped with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Resources opened before the shutdown manager takes them over are
	// released here on an early return
	var cleanups []func()
	owned := false
	defer func() {
		if owned {
			return
		}
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()

	db, dialect, err := storage.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	cleanups = append(cleanups, func() { _ = db.Close() })
	logger.WithField("driver", dialect.Driver).Info("Database connected")

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = storage.OpenRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		cleanups = append(cleanups, func() { _ = redisClient.Close() })
		logger.Info("Redis connected, sessions are shared across instances")
	}

	auditLog := audit.NewLogrusLogger(os.Stdout, audit.WithActorResolver(audit.NewContextActorResolver()))

	// Users
	users := auth.NewSQLUserStore(db, dialect)
	if err := users.EnsureSchema(ctx); err != nil {
		return err
	}

	// Menus
	menuStore := menu.NewSQLStore(db, dialect, audit.NewContextActorResolver())
	if err := menuStore.EnsureSchema(ctx); err != nil {
		return err
	}
	directory := menu.NewDirectory(menuStore,
		menu.WithDirectoryLogger(logger),
		menu.WithDirectoryMetrics(metrics),
		menu.WithDirectoryAudit(auditLog),
	)
	if err := directory.Load(ctx); err != nil {
		return err
	}
	if n, err := directory.Len(ctx); err != nil {
		return err
	} else if n == 0 && cfg.Menu.SeedOnEmpty {
		logger.Info("Menu store is empty, seeding default menus")
		if err := directory.Reinitialize(ctx); err != nil {
			return err
		}
	}
	resolver := menu.NewResolver(directory,
		menu.WithFallbackPolicy(cfg.Menu.FallbackPolicy),
		menu.WithAccessibleCache(cfg.Menu.CacheSize, cfg.Menu.CacheTTL),
		menu.WithResolverLogger(logger),
		menu.WithResolverMetrics(metrics),
	)

	// Sessions
	var base session.Registry
	if redisClient != nil {
		base = session.NewRedisRegistry(redisClient, session.WithMetrics(metrics), session.WithLogger(logger))
	} else {
		base = session.NewMemoryRegistry(session.WithMetrics(metrics), session.WithLogger(logger))
	}
	sessions := session.NewRetryingRegistry(base,
		session.WithRetryPolicy(cfg.Session.MaxRetries, cfg.Session.RetryBase),
		session.WithRetryMetrics(metrics),
		session.WithRetryLogger(logger),
	)
	sweeper := session.NewSweeper(sessions, cfg.Session.SweepSchedule, logger, metrics)
	if err := sweeper.Start(); err != nil {
		return err
	}
	cleanups = append(cleanups, func() { _ = sweeper.Stop(context.Background()) })

	service := auth.NewService(users, sessions, auth.NewBcryptHasher(cfg.Auth.BcryptCost),
		auth.WithAuditLogger(auditLog),
		auth.WithMetrics(metrics),
		auth.WithLogger(logger),
		auth.WithSessionTTL(cfg.Session.DefaultTTL, cfg.Session.RememberMeTTL),
	)
	if err := bootstrapAdmin(ctx, service, cfg.Auth, logger); err != nil {
		return err
	}

	// Login throttling
	limiterCtx, stopLimiter := context.WithCancel(ctx)
	defer stopLimiter()
	var loginLimiter middleware.Limiter
	if cfg.Auth.LoginRateLimit > 0 {
		limitCfg := &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.Auth.LoginRateLimit,
			WindowDuration:    cfg.Auth.LoginRateWindow,
			BurstSize:         cfg.Auth.LoginRateBurst,
		}
		if redisClient != nil {
			loginLimiter = middleware.NewRedisRateLimiter(redisClient, limitCfg, "")
		} else {
			local := middleware.NewRateLimiter(limitCfg)
			local.StartCleanup(limiterCtx)
			loginLimiter = local
		}
	}

	healthOpts := []observability.HealthOption{observability.WithVersion(version), observability.WithPoolMetrics(metrics)}
	if redisClient != nil {
		healthOpts = append(healthOpts, observability.WithRedisRequired())
	}
	health := observability.NewHealthChecker(db, redisClient, healthOpts...)

	deps := api.Dependencies{
		Auth:      service,
		Directory: directory,
		Resolver:  resolver,
		Sessions: middleware.NewSessionMiddleware(sessions, middleware.SessionConfig{
			Cookie: middleware.SessionCookie{
				Name:   cfg.Session.CookieName,
				Secure: cfg.Session.CookieSecure,
			},
		}, logger),
		LoginLimiter:   loginLimiter,
		Logger:         logger,
		Metrics:        metrics,
		Health:         health,
		AuditLog:       auditLog,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
	if metrics != nil {
		deps.Gatherer = registry
	}
	apiServer := api.NewServer(deps)

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           apiServer,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Probes and scrapes get their own port so they bypass sessions and CORS
	probeRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(probeRouter, health)
	if metrics != nil {
		observability.RegisterMetricsEndpoint(probeRouter, registry)
	}
	probeServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           probeRouter,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("database", func(context.Context) error { return db.Close() })
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error { return redisClient.Close() })
	}
	shutdown.RegisterShutdownFunc("session-sweeper", sweeper.Stop)
	shutdown.RegisterShutdownFunc("login-limiter", func(context.Context) error {
		stopLimiter()
		return nil
	})
	shutdown.RegisterShutdownFunc("probe-server", probeServer.Shutdown)
	owned = true

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("Starting govrec API server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", probeServer.Addr).Info("Starting health server")
		if err := probeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// Returns on a signal, or when either listener fails and cancels gctx
		return shutdown.WaitForShutdown(gctx)
	})

	return g.Wait()
}

// bootstrapAdmin creates the administrator account on first start when a
// bootstrap password is configured
func bootstrapAdmin(ctx context.Context, service *auth.Service, cfg config.AuthConfig, logger *observability.Logger) error {
	if cfg.BootstrapAdminPassword == "" {
		return nil
	}

	id, created, err := service.BootstrapAdmin(ctx, auth.SignupRequest{
		LoginID:  cfg.BootstrapAdminUsername,
		Username: cfg.BootstrapAdminUsername,
		Email:    cfg.BootstrapAdminEmail,
		Password: cfg.BootstrapAdminPassword,
		FullName: "Administrator",
	})
	if err != nil {
		return err
	}
	if created {
		logger.WithFields(map[string]interface{}{
			"user_id":  id,
			"username": cfg.BootstrapAdminUsername,
		}).Info("Bootstrap administrator created")
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/govrec/govrec/pkg/menu"
	"github.com/govrec/govrec/pkg/observability"
	"github.com/govrec/govrec/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Database storage.DatabaseConfig
	Redis    storage.RedisConfig

	// Session and login settings
	Session SessionConfig
	Auth    AuthConfig

	// Menu authorization settings
	Menu MenuConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	AllowedOrigins []string
}

// SessionConfig holds session registry and cookie settings
type SessionConfig struct {
	CookieName    string
	CookieSecure  bool
	DefaultTTL    time.Duration
	RememberMeTTL time.Duration
	SweepSchedule string
	MaxRetries    uint64
	RetryBase     time.Duration
}

// AuthConfig holds credential and login settings
type AuthConfig struct {
	BcryptCost int

	LoginRateLimit  int
	LoginRateWindow time.Duration
	LoginRateBurst  int

	// Bootstrap administrator, created at startup when the password is set
	BootstrapAdminUsername string
	BootstrapAdminEmail    string
	BootstrapAdminPassword string
}

// MenuConfig holds menu directory and resolver settings
type MenuConfig struct {
	FallbackPolicy menu.FallbackPolicy
	CacheSize      int
	CacheTTL       time.Duration
	SeedOnEmpty    bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	menuCfg, err := loadMenuConfig()
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Session:       loadSessionConfig(),
		Auth:          loadAuthConfig(),
		Menu:          menuCfg,
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GOVREC_HOST", "0.0.0.0"),
		Port:            getEnv("GOVREC_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GOVREC_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GOVREC_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GOVREC_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GOVREC_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("GOVREC_HEALTH_PORT", "9090"),
		AllowedOrigins:  getEnvList("GOVREC_ALLOWED_ORIGINS"),
	}
}

// loadDatabaseConfig loads database configuration from environment
func loadDatabaseConfig() storage.DatabaseConfig {
	return storage.DatabaseConfig{
		Driver:      getEnv("GOVREC_DB_DRIVER", storage.DriverSQLite),
		URL:         getEnv("GOVREC_DB_URL", "file:govrec.db?_busy_timeout=5000"),
		MaxConns:    getEnvInt("GOVREC_DB_MAX_CONNS", 20),
		MinConns:    getEnvInt("GOVREC_DB_MIN_CONNS", 2),
		Timeout:     getEnvDuration("GOVREC_DB_TIMEOUT", 10*time.Second),
		MaxLifetime: getEnvDuration("GOVREC_DB_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime: getEnvDuration("GOVREC_DB_MAX_IDLE_TIME", 5*time.Minute),
	}
}

// loadRedisConfig loads Redis configuration from environment. An empty URL
// keeps sessions in process.
func loadRedisConfig() storage.RedisConfig {
	return storage.RedisConfig{
		URL:        getEnv("GOVREC_REDIS_URL", ""),
		Password:   getEnv("GOVREC_REDIS_PASSWORD", ""),
		MaxRetries: getEnvInt("GOVREC_REDIS_MAX_RETRIES", 0),
		PoolSize:   getEnvInt("GOVREC_REDIS_POOL_SIZE", 0),
	}
}

func loadSessionConfig() SessionConfig {
	return SessionConfig{
		CookieName:    getEnv("GOVREC_SESSION_COOKIE", "GOVREC_SESSION"),
		CookieSecure:  getEnvBool("GOVREC_SESSION_COOKIE_SECURE", false),
		DefaultTTL:    getEnvDuration("GOVREC_SESSION_TTL", 8*time.Hour),
		RememberMeTTL: getEnvDuration("GOVREC_SESSION_REMEMBER_ME_TTL", 30*24*time.Hour),
		SweepSchedule: getEnv("GOVREC_SESSION_SWEEP_SCHEDULE", "@every 1m"),
		MaxRetries:    uint64(getEnvInt("GOVREC_SESSION_STORE_RETRIES", 3)),
		RetryBase:     getEnvDuration("GOVREC_SESSION_STORE_RETRY_BASE", 50*time.Millisecond),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		BcryptCost:             getEnvInt("GOVREC_BCRYPT_COST", 10),
		LoginRateLimit:         getEnvInt("GOVREC_LOGIN_RATE_LIMIT", 10),
		LoginRateWindow:        getEnvDuration("GOVREC_LOGIN_RATE_WINDOW", time.Minute),
		LoginRateBurst:         getEnvInt("GOVREC_LOGIN_RATE_BURST", 5),
		BootstrapAdminUsername: getEnv("GOVREC_BOOTSTRAP_ADMIN_USERNAME", "admin"),
		BootstrapAdminEmail:    getEnv("GOVREC_BOOTSTRAP_ADMIN_EMAIL", "admin@localhost.localdomain"),
		BootstrapAdminPassword: getEnv("GOVREC_BOOTSTRAP_ADMIN_PASSWORD", ""),
	}
}

func loadMenuConfig() (MenuConfig, error) {
	raw := getEnv("GOVREC_MENU_FALLBACK_POLICY", string(menu.FallbackNone))
	policy, ok := menu.ParseFallbackPolicy(strings.ToLower(raw))
	if !ok {
		return MenuConfig{}, fmt.Errorf("invalid menu fallback policy: %s (must be none or all-visible)", raw)
	}
	return MenuConfig{
		FallbackPolicy: policy,
		CacheSize:      getEnvInt("GOVREC_MENU_CACHE_SIZE", menu.DefaultCacheSize),
		CacheTTL:       getEnvDuration("GOVREC_MENU_CACHE_TTL", menu.DefaultCacheTTL),
		SeedOnEmpty:    getEnvBool("GOVREC_MENU_SEED_ON_EMPTY", true),
	}, nil
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("GOVREC_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("GOVREC_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Database.Driver {
	case storage.DriverPostgres, storage.DriverSQLite:
	default:
		return fmt.Errorf("invalid database driver: %s (must be %s or %s)", c.Database.Driver, storage.DriverPostgres, storage.DriverSQLite)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if c.Session.CookieName == "" {
		return fmt.Errorf("session cookie name is required")
	}
	if c.Session.DefaultTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Session.RememberMeTTL < c.Session.DefaultTTL {
		return fmt.Errorf("remember-me TTL must not be shorter than the session TTL")
	}
	if _, err := cron.ParseStandard(c.Session.SweepSchedule); err != nil {
		return fmt.Errorf("invalid session sweep schedule %q: %w", c.Session.SweepSchedule, err)
	}

	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("bcrypt cost must be between 4 and 31, got %d", c.Auth.BcryptCost)
	}
	if c.Auth.LoginRateLimit > 0 && c.Auth.LoginRateWindow <= 0 {
		return fmt.Errorf("login rate window must be positive when rate limiting is enabled")
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated environment variable, dropping blanks
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

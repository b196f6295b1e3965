// Package config loads and validates configuration from GOVREC_* environment
// variables, with defaults for every setting.
//
// # Configuration Structure
//
// Server settings:
//
//	GOVREC_HOST="0.0.0.0"
//	GOVREC_PORT="8080"
//	GOVREC_HEALTH_PORT="9090"
//	GOVREC_READ_TIMEOUT="15s"
//	GOVREC_ALLOWED_ORIGINS="https://app.example.com,https://admin.example.com"
//
// Storage settings:
//
//	GOVREC_DB_DRIVER="postgres"          # postgres or sqlite3
//	GOVREC_DB_URL="postgres://govrec@localhost/govrec?sslmode=disable"
//	GOVREC_REDIS_URL="redis://localhost:6379/0"   # empty keeps sessions in process
//
// Sessions and login:
//
//	GOVREC_SESSION_COOKIE="GOVREC_SESSION"
//	GOVREC_SESSION_TTL="8h"
//	GOVREC_SESSION_REMEMBER_ME_TTL="720h"
//	GOVREC_SESSION_SWEEP_SCHEDULE="@every 1m"
//	GOVREC_LOGIN_RATE_LIMIT="10"         # 0 disables
//	GOVREC_BOOTSTRAP_ADMIN_PASSWORD="..." # creates the admin account at startup
//
// Menus:
//
//	GOVREC_MENU_FALLBACK_POLICY="none"   # none or all-visible
//	GOVREC_MENU_CACHE_SIZE="256"         # 0 disables the accessible-menu cache
//
// Observability:
//
//	GOVREC_LOG_LEVEL="info"
//	GOVREC_METRICS_ENABLED="true"
//
// # Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config

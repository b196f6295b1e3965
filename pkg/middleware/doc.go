// Package middleware resolves the caller's session into a request identity
// and gates routes on it.
//
// # Session resolution
//
// SessionMiddleware reads the session token from the session cookie, or from
// an "Authorization: Session <token>" header, touches the session in the
// registry and binds a security.Identity to the request context:
//
//	sessions := middleware.NewSessionMiddleware(registry, middleware.SessionConfig{
//		Cookie: middleware.SessionCookie{Name: "GOVREC_SESSION", Secure: true},
//	}, logger)
//	router.Use(sessions.Handler)
//
// A missing, malformed, unknown or expired token leaves the request
// anonymous. A live session read from the cookie gets the cookie re-issued
// with its refreshed lifetime, unless the handler sets or clears it itself. Paths on the public allow-list skip resolution entirely.
//
// # Gates
//
//	router.Handle("/auth/me", middleware.RequireAuthenticated(handler))
//	router.Handle("/menus/reinitialize", middleware.RequireRole(security.RoleAdmin)(handler))
//
// RequireAuthenticated answers 401 UNAUTHENTICATED for anonymous callers.
// RequireRole answers 401 for anonymous callers and 403 FORBIDDEN for callers
// without the role; denials are written to the audit log.
//
// # Rate limiting
//
// RateLimiter is an in-process token bucket; RedisRateLimiter is a fixed
// window shared across instances. Either backs RateLimit, which answers
// 429 RATE_LIMITED:
//
//	limiter := middleware.NewRateLimiter(middleware.LoginRateLimitConfig())
//	router.Handle("/auth/login", middleware.RateLimit(limiter, middleware.ClientIPKey("login"), logger)(handler))
package middleware

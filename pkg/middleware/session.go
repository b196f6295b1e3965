package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/govrec/govrec/pkg/contextkeys"
	"github.com/govrec/govrec/pkg/observability"
	"github.com/govrec/govrec/pkg/security"
	"github.com/govrec/govrec/pkg/session"
)

// DefaultCookieName is the session cookie name when none is configured
const DefaultCookieName = "GOVREC_SESSION"

// authorizationScheme is the Authorization header scheme carrying a session token
const authorizationScheme = "Session"

// DefaultPublicPaths are path prefixes served without session resolution
var DefaultPublicPaths = []string{
	"/auth/login",
	"/auth/signup",
	"/auth/status",
	"/health",
	"/error",
	"/metrics",
}

// SessionConfig configures SessionMiddleware
type SessionConfig struct {
	Cookie      SessionCookie
	PublicPaths []string
}

// SessionMiddleware binds the identity of the caller's session to each request
type SessionMiddleware struct {
	registry    session.Registry
	tokens      *session.TokenGenerator
	cookie      SessionCookie
	publicPaths []string
	logger      *observability.Logger
}

// NewSessionMiddleware creates the middleware. Zero config fields take the
// package defaults.
func NewSessionMiddleware(registry session.Registry, cfg SessionConfig, logger *observability.Logger) *SessionMiddleware {
	if cfg.PublicPaths == nil {
		cfg.PublicPaths = DefaultPublicPaths
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &SessionMiddleware{
		registry:    registry,
		tokens:      session.NewTokenGenerator(),
		cookie:      cfg.Cookie.withDefaults(),
		publicPaths: cfg.PublicPaths,
		logger:      logger,
	}
}

// Cookie returns the configured session cookie
func (m *SessionMiddleware) Cookie() SessionCookie {
	return m.cookie
}

// Handler wraps an HTTP handler with session resolution. A session read from
// the cookie gets the cookie re-issued with the refreshed lifetime.
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.isPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, fromCookie := sessionToken(r, m.cookie.Name)
		if token == "" || m.tokens.ValidateTokenFormat(token) != nil {
			next.ServeHTTP(w, r)
			return
		}

		sess, err := m.registry.Touch(r.Context(), token)
		if err != nil {
			if !errors.Is(err, session.ErrNotFound) {
				m.logger.WithError(err).WithField("path", r.URL.Path).Warn("session lookup failed, continuing anonymously")
			}
			next.ServeHTTP(w, r)
			return
		}

		identity := &security.Identity{
			Principal:     sess.Username,
			UserID:        sess.UserID,
			Authorities:   security.NormalizeAuthorities(sess.Authorities),
			Authenticated: true,
			SessionToken:  token,
		}
		ctx := security.WithIdentity(r.Context(), identity)
		ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(sess.UserID, 10))

		if !fromCookie {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		rw := &refreshWriter{ResponseWriter: w, cookie: m.cookie, token: token, ttl: sess.MaxInactiveInterval}
		next.ServeHTTP(rw, r.WithContext(ctx))
		rw.apply()
	})
}

func (m *SessionMiddleware) isPublic(path string) bool {
	for _, prefix := range m.publicPaths {
		if path == prefix || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}

// SessionToken extracts the session token from the named cookie, falling back
// to an "Authorization: Session <token>" header
func SessionToken(r *http.Request, cookieName string) string {
	token, _ := sessionToken(r, cookieName)
	return token
}

func sessionToken(r *http.Request, cookieName string) (token string, fromCookie bool) {
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}

	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, authorizationScheme) {
		return "", false
	}
	return strings.TrimSpace(token), false
}

package middleware

import (
	"net/http"

	"github.com/govrec/govrec/pkg/audit"
	"github.com/govrec/govrec/pkg/errutil"
	"github.com/govrec/govrec/pkg/httputil"
	"github.com/govrec/govrec/pkg/observability"
	"github.com/govrec/govrec/pkg/security"
)

// RequireAuthenticated rejects anonymous callers with 401
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !security.FromContext(r.Context()).Authenticated {
			httputil.WriteAppError(w, r, errutil.Unauthenticated())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole creates middleware that admits only callers holding role.
// Anonymous callers get 401, authenticated callers without the role get 403.
func RequireRole(role string) func(http.Handler) http.Handler {
	role = security.NormalizeRole(role)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := security.FromContext(r.Context())
			if !identity.Authenticated {
				httputil.WriteAppError(w, r, errutil.Unauthenticated())
				return
			}

			if !identity.HasAuthority(role) {
				if err := audit.LogDenied(r.Context(), audit.ResourceTypeEndpoint, r.Method+" "+r.URL.Path, "missing "+role); err != nil {
					observability.FromContext(r.Context()).WithError(err).Warn("failed to record access denial")
				}
				httputil.WriteAppError(w, r, errutil.Forbidden(role))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

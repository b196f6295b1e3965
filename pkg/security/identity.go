// Package security holds the request-scoped identity that the session
// middleware derives from a session and installs into the request context.
//
// The identity is an explicit value on context.Context; there is no global or
// goroutine-local "current user". A request without a resolved session simply
// has no identity, which readers observe as Anonymous().
package security

import (
	"context"
	"sort"
	"strings"

	"github.com/govrec/govrec/pkg/contextkeys"
)

// Built-in role names
const (
	RoleUser  = "ROLE_USER"
	RoleAdmin = "ROLE_ADMIN"

	rolePrefix = "ROLE_"
)

// AnonymousPrincipal is the principal name of an unauthenticated caller
const AnonymousPrincipal = "anonymous"

// Identity is the ambient identity of one request
type Identity struct {
	Principal     string   `json:"principal"`
	UserID        int64    `json:"user_id,omitempty"`
	Authorities   []string `json:"authorities"`
	Authenticated bool     `json:"authenticated"`

	// SessionToken is the token the identity was resolved from
	SessionToken string `json:"-"`
}

// Anonymous returns the identity of a caller without a valid session
func Anonymous() *Identity {
	return &Identity{Principal: AnonymousPrincipal, Authorities: []string{}}
}

// HasAuthority reports whether the identity holds the role
func (i *Identity) HasAuthority(role string) bool {
	if i == nil || !i.Authenticated {
		return false
	}
	want := NormalizeRole(role)
	for _, a := range i.Authorities {
		if NormalizeRole(a) == want {
			return true
		}
	}
	return false
}

// NormalizeRole upper-cases a role name and adds the ROLE_ prefix, so
// "admin", "ADMIN" and "ROLE_ADMIN" all name the same role
func NormalizeRole(role string) string {
	r := strings.ToUpper(strings.TrimSpace(role))
	if r == "" {
		return ""
	}
	if !strings.HasPrefix(r, rolePrefix) {
		r = rolePrefix + r
	}
	return r
}

// NormalizeAuthorities normalizes, deduplicates and sorts a role list
func NormalizeAuthorities(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		n := NormalizeRole(r)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// WithIdentity binds the identity to the request context
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return contextkeys.WithIdentity(ctx, identity)
}

// FromContext returns the bound identity, or Anonymous() when none is bound
func FromContext(ctx context.Context) *Identity {
	if identity, ok := ctx.Value(contextkeys.IdentityKey).(*Identity); ok && identity != nil {
		return identity
	}
	return Anonymous()
}

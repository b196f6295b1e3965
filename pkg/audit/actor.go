package audit

import (
	"context"

	"github.com/govrec/govrec/pkg/security"
)

// SystemActor is recorded when a change is made outside an authenticated request,
// for example by the startup seed or a scheduled job
const SystemActor = "system"

// ActorResolver names whoever is responsible for the current operation
type ActorResolver interface {
	CurrentActor(ctx context.Context) string
}

// ActorFunc adapts a function to ActorResolver
type ActorFunc func(ctx context.Context) string

// CurrentActor calls f(ctx)
func (f ActorFunc) CurrentActor(ctx context.Context) string {
	return f(ctx)
}

// ContextActorResolver reads the identity bound to the request context
type ContextActorResolver struct{}

// NewContextActorResolver returns the default resolver
func NewContextActorResolver() ContextActorResolver {
	return ContextActorResolver{}
}

// CurrentActor returns the authenticated principal, or SystemActor
func (ContextActorResolver) CurrentActor(ctx context.Context) string {
	if ctx == nil {
		return SystemActor
	}
	identity := security.FromContext(ctx)
	if !identity.Authenticated || identity.Principal == "" {
		return SystemActor
	}
	return identity.Principal
}

package auth

import (
	"context"

	"github.com/kaif394/Gymble0/internal/domain"
	authlib "github.com/kaif394/Gymble0/internal/platform/auth"
)

// Claims mirrors the shared auth claims type for service convenience.
type Claims = authlib.Claims

// Config mirrors the shared auth config.
type Config = authlib.Config

type actorContextKey struct{}

// WithClaims stores the claims in the request context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return authlib.WithClaims(ctx, claims)
}

// FromContext retrieves claims from context.
func FromContext(ctx context.Context) (*Claims, bool) {
	return authlib.FromContext(ctx)
}

// WithActor stores a resolved actor in the request context.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the actor resolved by Middleware, or derives one
// from the request claims when the middleware did not run.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	if actor, ok := ctx.Value(actorContextKey{}).(domain.Actor); ok {
		return actor, true
	}
	claims, ok := FromContext(ctx)
	if !ok || claims == nil {
		return domain.Actor{}, false
	}
	return ActorFromClaims(claims), true
}

// ActorFromClaims maps token claims onto a domain actor. Unknown roles map to
// an actor with no role; only the display scope grants it anything.
func ActorFromClaims(claims *Claims) domain.Actor {
	return domain.Actor{
		UserID:  claims.Subject,
		GymID:   claims.GymID,
		Role:    RoleOf(claims.Role),
		Display: claims.HasScope(ScopeDisplay),
	}
}

package auth

import (
	"fmt"
	"net/http"

	authlib "github.com/kaif394/Gymble0/internal/platform/auth"
	httptransport "github.com/kaif394/Gymble0/internal/transport/http"
)

// Middleware authenticates bearer tokens and resolves them to attendance
// actors. Tokens whose role and scopes grant nothing in this service are
// refused before reaching a handler.
type Middleware struct {
	inner authlib.Middleware
}

// NewMiddleware constructs Middleware with validation config.
func NewMiddleware(cfg Config) Middleware {
	inner := authlib.NewMiddleware(cfg, public)
	inner.Unauthorized = func(w http.ResponseWriter, _ *http.Request, err error) {
		httptransport.WriteError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	}
	return Middleware{inner: inner}
}

// Wrap attaches authentication handling to an http.Handler.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return m.inner.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if public(r) {
			next.ServeHTTP(w, r)
			return
		}
		claims, ok := FromContext(r.Context())
		if !ok {
			httptransport.WriteError(w, http.StatusUnauthorized, "unauthorized", authlib.ErrMissingToken.Error())
			return
		}
		actor := ActorFromClaims(claims)
		if actor.Role == "" && !actor.Display {
			httptransport.WriteError(w, http.StatusForbidden, "forbidden", fmt.Sprintf("role %q has no access to attendance", claims.Role))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	}))
}

func public(r *http.Request) bool {
	return r.URL.Path == "/healthz" || r.Method == http.MethodOptions
}

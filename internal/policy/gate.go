// Package policy maps user roles to permissions and enforces them on routes.
package policy

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/diewo77/go-heatcrm/auth"
	"github.com/diewo77/go-heatcrm/httpx"
)

// AuthGate is the central authorization point. It resolves the caller's
// current role and active flag through a cache.
type AuthGate struct {
	Resolver *CachedResolver
}

func NewAuthGate(inner Resolver, cacheTTL time.Duration) *AuthGate {
	return &AuthGate{Resolver: NewCachedResolver(inner, cacheTTL)}
}

func (ag *AuthGate) subject(ctx context.Context) (Subject, bool) {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return Subject{}, false
	}
	s, err := ag.Resolver.Resolve(ctx, id.UserID)
	if err != nil {
		slog.Error("resolve user failed", "user_id", id.UserID, "error", err)
		return Subject{}, false
	}
	return s, s.Active
}

// Can reports whether the caller may perform action on resourceType.
func (ag *AuthGate) Can(ctx context.Context, resourceType string, action Action) bool {
	s, ok := ag.subject(ctx)
	if !ok {
		return false
	}
	return ProfileFor(s.Role).HasPermission(NewPermission(resourceType, action))
}

// VerifyUser reports whether userID is still an active user. It is installed
// as the token manager's user verifier.
func (ag *AuthGate) VerifyUser(ctx context.Context, userID uint) bool {
	s, err := ag.Resolver.Resolve(ctx, userID)
	if err != nil {
		slog.Error("resolve user failed", "user_id", userID, "error", err)
		return false
	}
	return s.Active
}

func (ag *AuthGate) InvalidateUser(userID uint) { ag.Resolver.Invalidate(userID) }

// RequirePermission returns middleware that rejects callers lacking
// resourceType:action.
func (ag *AuthGate) RequirePermission(resourceType string, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := auth.IdentityFromContext(r.Context()); !ok {
				httpx.WriteError(w, r, httpx.Unauthorized(""))
				return
			}
			if !ag.Can(r.Context(), resourceType, action) {
				httpx.WriteError(w, r, httpx.Forbidden(""))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin returns middleware that only lets admins through.
func (ag *AuthGate) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := auth.IdentityFromContext(r.Context()); !ok {
				httpx.WriteError(w, r, httpx.Unauthorized(""))
				return
			}
			s, ok := ag.subject(r.Context())
			if !ok || !ProfileFor(s.Role).IsAdmin() {
				httpx.WriteError(w, r, httpx.Forbidden("admin role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/diewo77/go-heatcrm/httpx"
)

type ctxKey string

const identityCtxKey = ctxKey("identity")

// Identity is the authenticated principal attached to a request.
type Identity struct {
	UserID    uint
	AccountID uint
	Role      string
}

// UserVerifier is an optional callback to validate that a token's user still
// exists and is active. If nil, no extra verification is performed.
type UserVerifier func(ctx context.Context, uid uint) bool

// WithIdentity stores the identity in context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey, id)
}

// IdentityFromContext extracts the identity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey).(Identity)
	if !ok || id.UserID == 0 {
		return Identity{}, false
	}
	return id, true
}

// BearerToken returns the access token carried by r. Browsers cannot set
// headers on a WebSocket handshake, so upgrades may pass it as access_token.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

// Middleware attaches the identity to the request context if a valid access
// token is present. It never rejects; see RequireAuth.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tok := BearerToken(r); tok != "" {
			if id, err := m.ParseAccess(tok); err == nil {
				r = r.WithContext(WithIdentity(r.Context(), id))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth returns 401 JSON unless the request carries a valid identity
// whose user passes the configured verifier.
func (m *Manager) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			httpx.WriteError(w, r, httpx.Unauthorized(""))
			return
		}
		if m.verifier != nil && !m.verifier(r.Context(), id.UserID) {
			httpx.WriteError(w, r, httpx.Unauthorized("account disabled"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

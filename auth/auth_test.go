package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager("access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour)
	require.NoError(t, err)
	return m
}

func TestNewManagerRequiresSecrets(t *testing.T) {
	_, err := NewManager("", "x", time.Minute, time.Hour)
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestAccessRoundTrip(t *testing.T) {
	m := newTestManager(t)
	want := Identity{UserID: 7, AccountID: 3, Role: "surveyor"}
	iss, err := m.IssueAccess(want)
	require.NoError(t, err)

	got, err := m.ParseAccess(iss.Token)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRefreshCannotBeUsedAsAccess(t *testing.T) {
	m := newTestManager(t)
	iss, err := m.IssueRefresh(Identity{UserID: 1, AccountID: 1, Role: "admin"})
	require.NoError(t, err)

	_, err = m.ParseAccess(iss.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	id, jti, err := m.ParseRefresh(iss.Token)
	require.NoError(t, err)
	assert.Equal(t, iss.ID, jti)
	assert.Equal(t, uint(1), id.UserID)
}

func TestExpiredTokenRejected(t *testing.T) {
	m := newTestManager(t)
	past := time.Now().Add(-time.Hour)
	m.now = func() time.Time { return past }
	iss, err := m.IssueAccess(Identity{UserID: 1, AccountID: 1})
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.ParseAccess(iss.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestWrongSecretRejected(t *testing.T) {
	m := newTestManager(t)
	other, err := NewManager("another", "another-refresh", time.Minute, time.Hour)
	require.NoError(t, err)
	iss, err := other.IssueAccess(Identity{UserID: 1, AccountID: 1})
	require.NoError(t, err)

	_, err = m.ParseAccess(iss.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = m.ParseAccess("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRequireAuth(t *testing.T) {
	m := newTestManager(t)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := IdentityFromContext(r.Context())
		assert.Equal(t, uint(5), id.UserID)
		w.WriteHeader(http.StatusNoContent)
	})
	h := m.Middleware(m.RequireAuth(ok))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "UnauthorizedError")

	iss, err := m.IssueAccess(Identity{UserID: 5, AccountID: 2, Role: "office"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+iss.Token)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	m.SetUserVerifier(func(ctx context.Context, uid uint) bool { return false })
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBearerTokenQueryOnlyForUpgrade(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/live?access_token=abc", nil)
	assert.Empty(t, BearerToken(r))
	r.Header.Set("Upgrade", "websocket")
	assert.Equal(t, "abc", BearerToken(r))
}

func TestPasswordHash(t *testing.T) {
	h, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, CheckPassword(h, "correct horse"))
	assert.False(t, CheckPassword(h, "wrong"))
	assert.False(t, CheckPassword("", ""), "empty hash never matches")
	assert.False(t, CheckPassword("", "placeholder password"))
}

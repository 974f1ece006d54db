package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType distinguishes access from refresh tokens so one can never be
// replayed as the other.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingKey   = errors.New("token secret is empty")
)

type Claims struct {
	AccountID uint      `json:"aid"`
	Role      string    `json:"role"`
	Type      TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// Manager issues and verifies HS256 tokens. Access and refresh tokens are
// signed with distinct secrets.
type Manager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
	verifier      UserVerifier
}

func NewManager(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) (*Manager, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, ErrMissingKey
	}
	return &Manager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}, nil
}

// SetUserVerifier configures the verifier used by RequireAuth.
func (m *Manager) SetUserVerifier(v UserVerifier) { m.verifier = v }

// Issued is a freshly signed token.
type Issued struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

func (m *Manager) IssueAccess(id Identity) (Issued, error) {
	return m.issue(id, TokenAccess, m.accessSecret, m.accessTTL)
}

// IssueRefresh signs a refresh token. The returned ID (jti) should be stored
// so the token can be revoked.
func (m *Manager) IssueRefresh(id Identity) (Issued, error) {
	return m.issue(id, TokenRefresh, m.refreshSecret, m.refreshTTL)
}

func (m *Manager) issue(id Identity, typ TokenType, secret []byte, ttl time.Duration) (Issued, error) {
	now := m.now()
	exp := now.Add(ttl)
	jti := uuid.NewString()
	claims := Claims{
		AccountID: id.AccountID,
		Role:      id.Role,
		Type:      typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(id.UserID), 10),
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return Issued{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return Issued{Token: signed, ID: jti, ExpiresAt: exp}, nil
}

func (m *Manager) ParseAccess(tok string) (Identity, error) {
	id, _, err := m.parse(tok, TokenAccess, m.accessSecret)
	return id, err
}

// ParseRefresh verifies a refresh token and returns its identity and jti.
func (m *Manager) ParseRefresh(tok string) (Identity, string, error) {
	return m.parse(tok, TokenRefresh, m.refreshSecret)
}

func (m *Manager) parse(tok string, want TokenType, secret []byte) (Identity, string, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Type != want {
		return Identity{}, "", fmt.Errorf("%w: unexpected token type %q", ErrInvalidToken, claims.Type)
	}
	uid, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || uid == 0 || claims.AccountID == 0 {
		return Identity{}, "", fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return Identity{UserID: uint(uid), AccountID: claims.AccountID, Role: claims.Role}, claims.ID, nil
}

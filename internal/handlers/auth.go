package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/diewo77/go-heatcrm/auth"
	"github.com/diewo77/go-heatcrm/httpx"
	"github.com/diewo77/go-heatcrm/internal/db"
	"github.com/diewo77/go-heatcrm/internal/models"
	"github.com/diewo77/go-heatcrm/internal/services"
	"github.com/diewo77/go-heatcrm/validation"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuthHandler handles registration, login, token refresh and the caller's
// own profile.
type AuthHandler struct {
	db     *gorm.DB
	tokens *auth.Manager
	audit  *services.AuditRecorder
	now    func() time.Time
	// checkPassword compares a stored hash with a candidate password.
	checkPassword func(hash, plain string) bool
}

func NewAuthHandler(db *gorm.DB, tokens *auth.Manager, audit *services.AuditRecorder) *AuthHandler {
	return &AuthHandler{db: db, tokens: tokens, audit: audit, now: time.Now, checkPassword: auth.CheckPassword}
}

type registerRequest struct {
	AccountName string `json:"accountName"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type tokenResponse struct {
	AccessToken      string       `json:"accessToken"`
	RefreshToken     string       `json:"refreshToken"`
	ExpiresAt        time.Time    `json:"expiresAt"`
	RefreshExpiresAt time.Time    `json:"refreshExpiresAt"`
	User             *models.User `json:"user"`
}

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// issueTokens signs a token pair and records the refresh session in tx.
func (h *AuthHandler) issueTokens(tx *gorm.DB, u *models.User) (*tokenResponse, error) {
	id := auth.Identity{UserID: u.ID, AccountID: u.AccountID, Role: string(u.Role)}
	access, err := h.tokens.IssueAccess(id)
	if err != nil {
		return nil, err
	}
	refresh, err := h.tokens.IssueRefresh(id)
	if err != nil {
		return nil, err
	}
	sess := models.RefreshSession{TokenID: refresh.ID, UserID: u.ID, ExpiresAt: refresh.ExpiresAt.UTC()}
	if err := tx.Create(&sess).Error; err != nil {
		return nil, err
	}
	return &tokenResponse{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		ExpiresAt:        access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		User:             u,
	}, nil
}

// Register creates a new account with its first admin user.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) error {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return err
	}
	req.Email = normalizeEmail(req.Email)
	v := validation.Violations{}
	validation.Required("accountName", req.AccountName, v)
	validation.Email("email", req.Email, v)
	validation.MinLength("password", req.Password, auth.MinPasswordLength, v)
	validation.Required("firstName", req.FirstName, v)
	if err := violations(v); err != nil {
		return err
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return err
	}

	var resp *tokenResponse
	err = h.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		acc := models.Account{Name: strings.TrimSpace(req.AccountName)}
		if err := tx.Create(&acc).Error; err != nil {
			return err
		}
		u := models.User{
			AccountID:   acc.ID,
			Email:       req.Email,
			Password:    hash,
			FirstName:   strings.TrimSpace(req.FirstName),
			LastName:    strings.TrimSpace(req.LastName),
			Role:        models.RoleAdmin,
			IsActive:    true,
			Preferences: datatypes.NewJSONType(models.DefaultCognitiveProfile()),
		}
		if err := tx.Create(&u).Error; err != nil {
			return err
		}
		var err error
		resp, err = h.issueTokens(tx, &u)
		return err
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return httpx.Conflict("email already registered")
		}
		return err
	}
	h.audit.Record(r.Context(), models.AuditLog{
		AccountID: resp.User.AccountID, UserID: &resp.User.ID,
		Action: services.ActionCreate, EntityType: "account", EntityID: resp.User.AccountID,
		IPAddress: clientIP(r),
	})
	httpx.JSON(w, http.StatusCreated, resp)
	return nil
}

// Login exchanges credentials for a token pair. Unknown email, wrong
// password and deactivated accounts all look the same to the caller.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) error {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return err
	}
	v := validation.Violations{}
	validation.Required("email", req.Email, v)
	validation.Required("password", req.Password, v)
	if err := violations(v); err != nil {
		return err
	}

	var u models.User
	err := h.db.WithContext(r.Context()).Where("email = ?", normalizeEmail(req.Email)).First(&u).Error
	if err != nil && !db.IsNotFound(err) {
		return err
	}
	// Unknown emails leave u empty and still go through a comparison.
	matched := h.checkPassword(u.Password, req.Password)
	if err != nil || !matched || !u.IsActive {
		return httpx.Unauthorized("invalid credentials")
	}

	var resp *tokenResponse
	err = h.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		now := h.now().UTC()
		u.LastLoginAt = &now
		if err := tx.Model(&u).Update("last_login_at", now).Error; err != nil {
			return err
		}
		var err error
		resp, err = h.issueTokens(tx, &u)
		return err
	})
	if err != nil {
		return err
	}
	h.audit.Record(r.Context(), models.AuditLog{
		AccountID: u.AccountID, UserID: &u.ID,
		Action: services.ActionLogin, EntityType: "user", EntityID: u.ID,
		IPAddress: clientIP(r),
	})
	httpx.JSON(w, http.StatusOK, resp)
	return nil
}

// loadSession validates a refresh token against its stored session.
func (h *AuthHandler) loadSession(tx *gorm.DB, token string) (*models.RefreshSession, auth.Identity, error) {
	id, jti, err := h.tokens.ParseRefresh(token)
	if err != nil {
		return nil, auth.Identity{}, httpx.Unauthorized("invalid refresh token")
	}
	var sess models.RefreshSession
	if err := tx.Where("token_id = ? AND user_id = ?", jti, id.UserID).First(&sess).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, id, httpx.Unauthorized("invalid refresh token")
		}
		return nil, id, err
	}
	return &sess, id, nil
}

// Refresh rotates a refresh token: the presented session is revoked and a new
// pair is issued.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) error {
	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		return httpx.Validation(map[string]string{"refreshToken": "required"})
	}
	var resp *tokenResponse
	err := h.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		sess, id, err := h.loadSession(tx, req.RefreshToken)
		if err != nil {
			return err
		}
		now := h.now().UTC()
		if !sess.Usable(now) {
			return httpx.Unauthorized("refresh token expired or revoked")
		}
		var u models.User
		if err := tx.Where("id = ? AND account_id = ?", id.UserID, id.AccountID).First(&u).Error; err != nil {
			if db.IsNotFound(err) {
				return httpx.Unauthorized("invalid refresh token")
			}
			return err
		}
		if !u.IsActive {
			return httpx.Unauthorized("account disabled")
		}
		res := tx.Model(&models.RefreshSession{}).
			Where("id = ? AND revoked_at IS NULL", sess.ID).
			Update("revoked_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return httpx.Unauthorized("refresh token expired or revoked")
		}
		resp, err = h.issueTokens(tx, &u)
		return err
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, resp)
	return nil
}

// Logout revokes the presented refresh token. Revoking an already revoked
// session is not an error.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) error {
	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return err
	}
	sess, _, err := h.loadSession(h.db.WithContext(r.Context()), req.RefreshToken)
	if err != nil {
		return err
	}
	if sess.RevokedAt == nil {
		if err := h.db.WithContext(r.Context()).Model(sess).Update("revoked_at", h.now().UTC()).Error; err != nil {
			return err
		}
	}
	httpx.NoContent(w)
	return nil
}

func (h *AuthHandler) currentUser(r *http.Request) (*models.User, error) {
	id, err := identity(r)
	if err != nil {
		return nil, err
	}
	var u models.User
	err = h.db.WithContext(r.Context()).Where("id = ? AND account_id = ?", id.UserID, id.AccountID).First(&u).Error
	if db.IsNotFound(err) {
		return nil, httpx.Unauthorized("")
	}
	return &u, err
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) error {
	u, err := h.currentUser(r)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, u)
	return nil
}

// ChangePassword requires the current password. Every other refresh session
// of the user is revoked.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) error {
	u, err := h.currentUser(r)
	if err != nil {
		return err
	}
	var req changePasswordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return err
	}
	v := validation.Violations{}
	validation.Required("currentPassword", req.CurrentPassword, v)
	validation.MinLength("newPassword", req.NewPassword, auth.MinPasswordLength, v)
	if err := violations(v); err != nil {
		return err
	}
	if !auth.CheckPassword(u.Password, req.CurrentPassword) {
		return httpx.Validation(map[string]string{"currentPassword": "incorrect"})
	}
	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	err = h.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(u).Update("password", hash).Error; err != nil {
			return err
		}
		return tx.Model(&models.RefreshSession{}).
			Where("user_id = ? AND revoked_at IS NULL", u.ID).
			Update("revoked_at", h.now().UTC()).Error
	})
	if err != nil {
		return err
	}
	record(h.audit, r, services.ActionUpdate, "user", u.ID, map[string]any{"password": "changed"})
	httpx.NoContent(w)
	return nil
}

func (h *AuthHandler) GetPreferences(w http.ResponseWriter, r *http.Request) error {
	u, err := h.currentUser(r)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, u.Preferences.Data())
	return nil
}

// UpdatePreferences replaces the caller's preferences. Omitted flags keep
// their stored value.
func (h *AuthHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) error {
	u, err := h.currentUser(r)
	if err != nil {
		return err
	}
	prefs := u.Preferences.Data()
	if err := httpx.DecodeJSON(r, &prefs); err != nil {
		return err
	}
	u.Preferences = datatypes.NewJSONType(prefs)
	if err := h.db.WithContext(r.Context()).Model(u).Update("preferences", u.Preferences).Error; err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, prefs)
	return nil
}

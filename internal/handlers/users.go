package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/diewo77/go-heatcrm/auth"
	"github.com/diewo77/go-heatcrm/httpx"
	"github.com/diewo77/go-heatcrm/internal/db"
	"github.com/diewo77/go-heatcrm/internal/models"
	"github.com/diewo77/go-heatcrm/internal/policy"
	"github.com/diewo77/go-heatcrm/internal/services"
	"github.com/diewo77/go-heatcrm/validation"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UserHandler manages the users of the caller's account. Listing is open to
// staff; changes are admin only.
type UserHandler struct {
	db    *gorm.DB
	gate  *policy.AuthGate
	audit *services.AuditRecorder
	now   func() time.Time
}

func NewUserHandler(db *gorm.DB, gate *policy.AuthGate, audit *services.AuditRecorder) *UserHandler {
	return &UserHandler{db: db, gate: gate, audit: audit, now: time.Now}
}

type createUserRequest struct {
	Email     string          `json:"email"`
	Password  string          `json:"password"`
	FirstName string          `json:"firstName"`
	LastName  string          `json:"lastName"`
	Role      models.UserRole `json:"role"`
}

type updateUserRequest struct {
	FirstName *string          `json:"firstName"`
	LastName  *string          `json:"lastName"`
	Role      *models.UserRole `json:"role"`
	IsActive  *bool            `json:"isActive"`
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) error {
	id, err := identity(r)
	if err != nil {
		return err
	}
	p, err := httpx.ParsePage(r)
	if err != nil {
		return err
	}
	q := h.db.WithContext(r.Context()).Model(&models.User{}).Where("account_id = ?", id.AccountID)
	q = search(q, r.URL.Query().Get("search"), "email", "first_name", "last_name")
	if role := r.URL.Query().Get("role"); role != "" {
		q = q.Where("role = ?", role)
	}
	active, err := queryBool(r, "active")
	if err != nil {
		return err
	}
	if active != nil {
		q = q.Where("is_active = ?", *active)
	}
	page, err := paginate[models.User](q, p, func(q *gorm.DB) *gorm.DB {
		return q.Order("last_name, first_name, id")
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, page)
	return nil
}

func (h *UserHandler) load(r *http.Request) (*models.User, auth.Identity, error) {
	return loadScoped[models.User](h.db.WithContext(r.Context()), r, "user")
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) error {
	u, _, err := h.load(r)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, u)
	return nil
}

func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) error {
	id, err := identity(r)
	if err != nil {
		return err
	}
	var req createUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return err
	}
	req.Email = normalizeEmail(req.Email)
	if req.Role == "" {
		req.Role = models.RoleSurveyor
	}
	v := validation.Violations{}
	validation.Email("email", req.Email, v)
	validation.MinLength("password", req.Password, auth.MinPasswordLength, v)
	validation.Required("firstName", req.FirstName, v)
	validation.OneOf("role", req.Role, models.UserRoles, v)
	if err := violations(v); err != nil {
		return err
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return err
	}
	u := models.User{
		AccountID:   id.AccountID,
		Email:       req.Email,
		Password:    hash,
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		Role:        req.Role,
		IsActive:    true,
		Preferences: datatypes.NewJSONType(models.DefaultCognitiveProfile()),
	}
	if err := h.db.WithContext(r.Context()).Create(&u).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return httpx.Conflict("email already registered")
		}
		return err
	}
	record(h.audit, r, services.ActionCreate, "user", u.ID, map[string]any{"role": u.Role})
	httpx.JSON(w, http.StatusCreated, u)
	return nil
}

// Update changes name, role or active flag. Admins cannot demote or
// deactivate themselves.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) error {
	u, id, err := h.load(r)
	if err != nil {
		return err
	}
	var req updateUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return err
	}
	v := validation.Violations{}
	if req.Role != nil {
		validation.Required("role", string(*req.Role), v)
		validation.OneOf("role", *req.Role, models.UserRoles, v)
		if u.ID == id.UserID && *req.Role != u.Role {
			v["role"] = "cannot_change_own_role"
		}
	}
	if req.IsActive != nil && !*req.IsActive && u.ID == id.UserID {
		v["isActive"] = "cannot_deactivate_self"
	}
	if err := violations(v); err != nil {
		return err
	}
	changes := map[string]any{}
	if req.FirstName != nil {
		u.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		u.LastName = strings.TrimSpace(*req.LastName)
	}
	if req.Role != nil && *req.Role != u.Role {
		changes["role"] = map[string]any{"from": u.Role, "to": *req.Role}
		u.Role = *req.Role
	}
	if req.IsActive != nil && *req.IsActive != u.IsActive {
		changes["isActive"] = *req.IsActive
		u.IsActive = *req.IsActive
	}
	err = h.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(u).Select("first_name", "last_name", "role", "is_active").Updates(u).Error; err != nil {
			return err
		}
		if !u.IsActive {
			return h.revokeSessions(tx, u.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	h.gate.InvalidateUser(u.ID)
	record(h.audit, r, services.ActionUpdate, "user", u.ID, changes)
	httpx.JSON(w, http.StatusOK, u)
	return nil
}

func (h *UserHandler) revokeSessions(tx *gorm.DB, userID uint) error {
	return tx.Model(&models.RefreshSession{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", h.now().UTC()).Error
}

// Delete deactivates the user. Rows they created stay attributed to them.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) error {
	u, id, err := h.load(r)
	if err != nil {
		return err
	}
	if u.ID == id.UserID {
		return httpx.Validation(map[string]string{"id": "cannot_deactivate_self"})
	}
	err = h.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(u).Update("is_active", false).Error; err != nil {
			return err
		}
		return h.revokeSessions(tx, u.ID)
	})
	if err != nil {
		return err
	}
	h.gate.InvalidateUser(u.ID)
	record(h.audit, r, services.ActionDelete, "user", u.ID, map[string]any{"deactivated": true})
	httpx.NoContent(w)
	return nil
}

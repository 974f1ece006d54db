package models

import (
	"slices"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Account is the tenant boundary.
type Account struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Name      string    `gorm:"size:255;not null" json:"name"`
}

// UserRole controls write permissions.
type UserRole string

const (
	RoleAdmin    UserRole = "admin"
	RoleSurveyor UserRole = "surveyor"
	RoleOffice   UserRole = "office"
	RoleReadonly UserRole = "readonly"
)

var UserRoles = []UserRole{RoleAdmin, RoleSurveyor, RoleOffice, RoleReadonly}

func (r UserRole) Valid() bool { return slices.Contains(UserRoles, r) }

// CognitiveProfile holds per-user accessibility preferences for the client UI.
type CognitiveProfile struct {
	FocusModeEnabled          bool `json:"focusModeEnabled"`
	ReadingRulerEnabled       bool `json:"readingRulerEnabled"`
	BionicReadingEnabled      bool `json:"bionicReadingEnabled"`
	SoftErrorsEnabled         bool `json:"softErrorsEnabled"`
	ConfirmDestructiveActions bool `json:"confirmDestructiveActions"`
	ReducedMotion             bool `json:"reducedMotion"`
	CelebrationsEnabled       bool `json:"celebrationsEnabled"`
}

// DefaultCognitiveProfile is applied to new users.
func DefaultCognitiveProfile() CognitiveProfile {
	return CognitiveProfile{
		SoftErrorsEnabled:         true,
		ConfirmDestructiveActions: true,
		CelebrationsEnabled:       true,
	}
}

// User represents an authenticated user in the system.
type User struct {
	ID          uint                                 `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time                            `json:"createdAt"`
	UpdatedAt   time.Time                            `json:"updatedAt"`
	AccountID   uint                                 `gorm:"index;not null" json:"accountId"`
	Account     *Account                             `gorm:"foreignKey:AccountID" json:"-"`
	Email       string                               `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Password    string                               `gorm:"size:255;not null" json:"-"` // bcrypt hash
	FirstName   string                               `gorm:"size:100" json:"firstName"`
	LastName    string                               `gorm:"size:100" json:"lastName"`
	Role        UserRole                             `gorm:"size:20;not null;default:'surveyor'" json:"role"`
	IsActive    bool                                 `gorm:"not null" json:"isActive"`
	LastLoginAt *time.Time                           `json:"lastLoginAt,omitempty"`
	Preferences datatypes.JSONType[CognitiveProfile] `json:"preferences"`
}

func (u *User) GetAccountID() uint { return u.AccountID }

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// RefreshSession records an issued refresh token so it can be revoked.
type RefreshSession struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time  `json:"createdAt"`
	TokenID   string     `gorm:"size:64;uniqueIndex;not null" json:"-"`
	UserID    uint       `gorm:"index;not null" json:"userId"`
	ExpiresAt time.Time  `gorm:"not null" json:"expiresAt"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}

// Usable reports whether the session can still mint tokens at now.
func (s *RefreshSession) Usable(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog is append-only; nothing updates or deletes rows.
type AuditLog struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	CreatedAt  time.Time         `gorm:"index" json:"createdAt"`
	AccountID  uint              `gorm:"index;not null" json:"accountId"`
	UserID     *uint             `gorm:"index" json:"userId,omitempty"`
	Action     string            `gorm:"size:50;not null" json:"action"`
	EntityType string            `gorm:"size:50;not null;index:idx_audit_entity" json:"entityType"`
	EntityID   uint              `gorm:"index:idx_audit_entity" json:"entityId"`
	Changes    datatypes.JSONMap `json:"changes,omitempty"`
	IPAddress  string            `gorm:"size:64" json:"ipAddress,omitempty"`
}

package services

import (
	"context"
	"log/slog"

	"github.com/diewo77/go-heatcrm/internal/models"
	"gorm.io/gorm"
)

// Audit actions.
const (
	ActionCreate    = "create"
	ActionUpdate    = "update"
	ActionDelete    = "delete"
	ActionLogin     = "login"
	ActionSend      = "send"
	ActionView      = "view"
	ActionAccept    = "accept"
	ActionReject    = "reject"
	ActionDuplicate = "duplicate"
	ActionShare     = "share"
	ActionUnshare   = "unshare"
)

// AuditRecorder appends audit rows. A failed write is logged and otherwise
// ignored so it never fails the request that triggered it.
type AuditRecorder struct {
	db *gorm.DB
}

func NewAuditRecorder(db *gorm.DB) *AuditRecorder { return &AuditRecorder{db: db} }

func (a *AuditRecorder) Record(ctx context.Context, entry models.AuditLog) {
	if a == nil || a.db == nil {
		return
	}
	entry.ID = 0
	if err := a.db.WithContext(ctx).Create(&entry).Error; err != nil {
		slog.Warn("audit write failed",
			"action", entry.Action,
			"entity", entry.EntityType,
			"entity_id", entry.EntityID,
			"error", err)
	}
}

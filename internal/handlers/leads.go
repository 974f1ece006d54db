package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/diewo77/go-heatcrm/httpx"
	"github.com/diewo77/go-heatcrm/internal/models"
	"github.com/diewo77/go-heatcrm/internal/services"
	"github.com/diewo77/go-heatcrm/validation"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type LeadHandler struct {
	db    *gorm.DB
	audit *services.AuditRecorder
}

func NewLeadHandler(db *gorm.DB, audit *services.AuditRecorder) *LeadHandler {
	return &LeadHandler{db: db, audit: audit}
}

type leadInput struct {
	CustomerID     uint                `json:"customerId"`
	Title          string              `json:"title"`
	Description    string              `json:"description"`
	Source         string              `json:"source"`
	Status         models.LeadStatus   `json:"status"`
	Priority       models.LeadPriority `json:"priority"`
	EstimatedValue *decimal.Decimal    `json:"estimatedValue"`
	AssignedToID   *uint               `json:"assignedToId"`
	NextFollowUp   *time.Time          `json:"nextFollowUp"`
}

func leadInputFrom(l *models.Lead) leadInput {
	return leadInput{
		CustomerID: l.CustomerID, Title: l.Title, Description: l.Description, Source: l.Source,
		Status: l.Status, Priority: l.Priority, EstimatedValue: l.EstimatedValue,
		AssignedToID: l.AssignedToID, NextFollowUp: l.NextFollowUp,
	}
}

// validate checks the body and that referenced rows belong to the account.
func (in *leadInput) validate(tx *gorm.DB, accountID uint) (validation.Violations, error) {
	if in.Status == "" {
		in.Status = models.LeadNew
	}
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}
	v := validation.Violations{}
	validation.RequiredID("customerId", in.CustomerID, v)
	validation.Required("title", in.Title, v)
	validation.OneOf("status", in.Status, models.LeadStatuses, v)
	validation.OneOf("priority", in.Priority, models.LeadPriorities, v)
	if in.EstimatedValue != nil {
		validation.NonNegativeDecimal("estimatedValue", *in.EstimatedValue, v)
	}
	if in.CustomerID != 0 {
		if err := checkRef(tx, &models.Customer{}, accountID, &in.CustomerID, "customerId", v); err != nil {
			return nil, err
		}
	}
	if err := checkRef(tx, &models.User{}, accountID, in.AssignedToID, "assignedToId", v); err != nil {
		return nil, err
	}
	return v, nil
}

func (in leadInput) apply(l *models.Lead) {
	l.CustomerID = in.CustomerID
	l.Title = strings.TrimSpace(in.Title)
	l.Description = in.Description
	l.Source = in.Source
	l.Status = in.Status
	l.Priority = in.Priority
	l.EstimatedValue = in.EstimatedValue
	l.AssignedToID = in.AssignedToID
	l.NextFollowUp = utcPtr(in.NextFollowUp)
}

func (h *LeadHandler) List(w http.ResponseWriter, r *http.Request) error {
	id, err := identity(r)
	if err != nil {
		return err
	}
	p, err := httpx.ParsePage(r)
	if err != nil {
		return err
	}
	qs := r.URL.Query()
	q := h.db.WithContext(r.Context()).Model(&models.Lead{}).Where("account_id = ?", id.AccountID)
	q = search(q, qs.Get("search"), "title", "description")
	if s := qs.Get("status"); s != "" {
		q = q.Where("status = ?", s)
	}
	if s := qs.Get("priority"); s != "" {
		q = q.Where("priority = ?", s)
	}
	assignee, err := queryUint(r, "assignedTo")
	if err != nil {
		return err
	}
	if assignee != nil {
		q = q.Where("assigned_to_id = ?", *assignee)
	}
	customer, err := queryUint(r, "customerId")
	if err != nil {
		return err
	}
	if customer != nil {
		q = q.Where("customer_id = ?", *customer)
	}
	page, err := paginate[models.Lead](q, p, func(q *gorm.DB) *gorm.DB {
		return q.Preload("Customer").Order("created_at DESC, id DESC")
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, page)
	return nil
}

func (h *LeadHandler) Create(w http.ResponseWriter, r *http.Request) error {
	id, err := identity(r)
	if err != nil {
		return err
	}
	var in leadInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		return err
	}
	tx := h.db.WithContext(r.Context())
	v, err := in.validate(tx, id.AccountID)
	if err != nil {
		return err
	}
	if err := violations(v); err != nil {
		return err
	}
	l := models.Lead{AccountID: id.AccountID}
	in.apply(&l)
	if err := tx.Create(&l).Error; err != nil {
		return dbError(err, "lead")
	}
	record(h.audit, r, services.ActionCreate, "lead", l.ID, nil)
	httpx.JSON(w, http.StatusCreated, l)
	return nil
}

func (h *LeadHandler) load(r *http.Request) (*models.Lead, error) {
	l, _, err := loadScoped[models.Lead](h.db.WithContext(r.Context()).Preload("Customer"), r, "lead")
	return l, err
}

func (h *LeadHandler) Get(w http.ResponseWriter, r *http.Request) error {
	l, err := h.load(r)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, l)
	return nil
}

func (h *LeadHandler) Update(w http.ResponseWriter, r *http.Request) error {
	l, err := h.load(r)
	if err != nil {
		return err
	}
	in := leadInputFrom(l)
	if err := httpx.DecodeJSON(r, &in); err != nil {
		return err
	}
	tx := h.db.WithContext(r.Context())
	v, err := in.validate(tx, l.AccountID)
	if err != nil {
		return err
	}
	if err := violations(v); err != nil {
		return err
	}
	before := l.Status
	in.apply(l)
	l.Customer = nil
	if err := tx.Save(l).Error; err != nil {
		return dbError(err, "lead")
	}
	var changes map[string]any
	if before != l.Status {
		changes = map[string]any{"status": map[string]any{"from": before, "to": l.Status}}
	}
	record(h.audit, r, services.ActionUpdate, "lead", l.ID, changes)
	httpx.JSON(w, http.StatusOK, l)
	return nil
}

func (h *LeadHandler) Delete(w http.ResponseWriter, r *http.Request) error {
	l, err := h.load(r)
	if err != nil {
		return err
	}
	err = h.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Quote{}).Where("lead_id = ? AND account_id = ?", l.ID, l.AccountID).
			Update("lead_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Lead{}, l.ID).Error
	})
	if err != nil {
		return err
	}
	record(h.audit, r, services.ActionDelete, "lead", l.ID, nil)
	httpx.NoContent(w)
	return nil
}

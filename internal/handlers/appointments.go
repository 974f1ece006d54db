package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/diewo77/go-heatcrm/httpx"
	"github.com/diewo77/go-heatcrm/internal/models"
	"github.com/diewo77/go-heatcrm/internal/services"
	"github.com/diewo77/go-heatcrm/validation"
	"gorm.io/gorm"
)

type AppointmentHandler struct {
	db    *gorm.DB
	audit *services.AuditRecorder
}

func NewAppointmentHandler(db *gorm.DB, audit *services.AuditRecorder) *AppointmentHandler {
	return &AppointmentHandler{db: db, audit: audit}
}

type appointmentInput struct {
	CustomerID     uint                     `json:"customerId"`
	QuoteID        *uint                    `json:"quoteId"`
	AssignedToID   *uint                    `json:"assignedToId"`
	Title          string                   `json:"title"`
	Type           string                   `json:"type"`
	Location       string                   `json:"location"`
	Notes          string                   `json:"notes"`
	Status         models.AppointmentStatus `json:"status"`
	ScheduledStart time.Time                `json:"scheduledStart"`
	ScheduledEnd   time.Time                `json:"scheduledEnd"`
	ActualStart    *time.Time               `json:"actualStart"`
	ActualEnd      *time.Time               `json:"actualEnd"`
}

func appointmentInputFrom(a *models.Appointment) appointmentInput {
	return appointmentInput{
		CustomerID: a.CustomerID, QuoteID: a.QuoteID, AssignedToID: a.AssignedToID,
		Title: a.Title, Type: a.Type, Location: a.Location, Notes: a.Notes, Status: a.Status,
		ScheduledStart: a.ScheduledStart, ScheduledEnd: a.ScheduledEnd,
		ActualStart: a.ActualStart, ActualEnd: a.ActualEnd,
	}
}

func (in *appointmentInput) validate(tx *gorm.DB, accountID uint) (validation.Violations, error) {
	if in.Status == "" {
		in.Status = models.AppointmentScheduled
	}
	v := validation.Violations{}
	validation.RequiredID("customerId", in.CustomerID, v)
	validation.Required("title", in.Title, v)
	validation.OneOf("status", in.Status, models.AppointmentStatuses, v)
	switch {
	case in.ScheduledStart.IsZero():
		v["scheduledStart"] = "required"
	case in.ScheduledEnd.IsZero():
		v["scheduledEnd"] = "required"
	default:
		validation.After("scheduledEnd", in.ScheduledStart, in.ScheduledEnd, v)
	}
	if in.ActualStart != nil && in.ActualEnd != nil {
		validation.After("actualEnd", *in.ActualStart, *in.ActualEnd, v)
	}
	if in.CustomerID != 0 {
		if err := checkRef(tx, &models.Customer{}, accountID, &in.CustomerID, "customerId", v); err != nil {
			return nil, err
		}
	}
	if err := checkRef(tx, &models.Quote{}, accountID, in.QuoteID, "quoteId", v); err != nil {
		return nil, err
	}
	if err := checkRef(tx, &models.User{}, accountID, in.AssignedToID, "assignedToId", v); err != nil {
		return nil, err
	}
	return v, nil
}

func (in appointmentInput) apply(a *models.Appointment) {
	a.CustomerID = in.CustomerID
	a.QuoteID = in.QuoteID
	a.AssignedToID = in.AssignedToID
	a.Title = strings.TrimSpace(in.Title)
	a.Type = in.Type
	a.Location = in.Location
	a.Notes = in.Notes
	a.Status = in.Status
	a.ScheduledStart = in.ScheduledStart.UTC()
	a.ScheduledEnd = in.ScheduledEnd.UTC()
	a.ActualStart = utcPtr(in.ActualStart)
	a.ActualEnd = utcPtr(in.ActualEnd)
}

// List filters by status, customer, assignee and a scheduledStart window
// (from inclusive, to exclusive).
func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) error {
	id, err := identity(r)
	if err != nil {
		return err
	}
	p, err := httpx.ParsePage(r)
	if err != nil {
		return err
	}
	q := h.db.WithContext(r.Context()).Model(&models.Appointment{}).Where("account_id = ?", id.AccountID)
	if s := r.URL.Query().Get("status"); s != "" {
		q = q.Where("status = ?", s)
	}
	customer, err := queryUint(r, "customerId")
	if err != nil {
		return err
	}
	if customer != nil {
		q = q.Where("customer_id = ?", *customer)
	}
	assignee, err := queryUint(r, "assignedTo")
	if err != nil {
		return err
	}
	if assignee != nil {
		q = q.Where("assigned_to_id = ?", *assignee)
	}
	from, err := queryTime(r, "from")
	if err != nil {
		return err
	}
	if from != nil {
		q = q.Where("scheduled_start >= ?", *from)
	}
	to, err := queryTime(r, "to")
	if err != nil {
		return err
	}
	if to != nil {
		q = q.Where("scheduled_start < ?", *to)
	}
	page, err := paginate[models.Appointment](q, p, func(q *gorm.DB) *gorm.DB {
		return q.Preload("Customer").Order("scheduled_start, id")
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, page)
	return nil
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) error {
	id, err := identity(r)
	if err != nil {
		return err
	}
	var in appointmentInput
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
	a := models.Appointment{AccountID: id.AccountID}
	in.apply(&a)
	if err := tx.Create(&a).Error; err != nil {
		return dbError(err, "appointment")
	}
	record(h.audit, r, services.ActionCreate, "appointment", a.ID, nil)
	httpx.JSON(w, http.StatusCreated, a)
	return nil
}

func (h *AppointmentHandler) load(r *http.Request) (*models.Appointment, error) {
	a, _, err := loadScoped[models.Appointment](h.db.WithContext(r.Context()).Preload("Customer"), r, "appointment")
	return a, err
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) error {
	a, err := h.load(r)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, a)
	return nil
}

func (h *AppointmentHandler) Update(w http.ResponseWriter, r *http.Request) error {
	a, err := h.load(r)
	if err != nil {
		return err
	}
	in := appointmentInputFrom(a)
	if err := httpx.DecodeJSON(r, &in); err != nil {
		return err
	}
	tx := h.db.WithContext(r.Context())
	v, err := in.validate(tx, a.AccountID)
	if err != nil {
		return err
	}
	if err := violations(v); err != nil {
		return err
	}
	in.apply(a)
	a.Customer = nil
	if err := tx.Save(a).Error; err != nil {
		return dbError(err, "appointment")
	}
	record(h.audit, r, services.ActionUpdate, "appointment", a.ID, map[string]any{"status": a.Status})
	httpx.JSON(w, http.StatusOK, a)
	return nil
}

func (h *AppointmentHandler) Delete(w http.ResponseWriter, r *http.Request) error {
	a, err := h.load(r)
	if err != nil {
		return err
	}
	err = h.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.VisitSession{}).Where("appointment_id = ? AND account_id = ?", a.ID, a.AccountID).
			Update("appointment_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Appointment{}, a.ID).Error
	})
	if err != nil {
		return err
	}
	record(h.audit, r, services.ActionDelete, "appointment", a.ID, nil)
	httpx.NoContent(w)
	return nil
}

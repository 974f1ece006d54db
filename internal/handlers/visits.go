package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/diewo77/go-heatcrm/httpx"
	"github.com/diewo77/go-heatcrm/internal/models"
	"github.com/diewo77/go-heatcrm/internal/services"
	"github.com/diewo77/go-heatcrm/internal/storage"
	"github.com/diewo77/go-heatcrm/validation"
	"gorm.io/gorm"
)

// shareIDBytes gives 192 bits of entropy, 32 URL-safe characters.
const shareIDBytes = 24

type VisitHandler struct {
	db    *gorm.DB
	store storage.Store
	audit *services.AuditRecorder
	now   func() time.Time
}

func NewVisitHandler(db *gorm.DB, store storage.Store, audit *services.AuditRecorder) *VisitHandler {
	return &VisitHandler{db: db, store: store, audit: audit, now: time.Now}
}

type visitInput struct {
	CustomerID    uint               `json:"customerId"`
	AppointmentID *uint              `json:"appointmentId"`
	SurveyorID    uint               `json:"surveyorId"`
	Status        models.VisitStatus `json:"status"`
	StartedAt     *time.Time         `json:"startedAt"`
	Notes         string             `json:"notes"`
}

func visitInputFrom(v *models.VisitSession) visitInput {
	started := v.StartedAt
	return visitInput{
		CustomerID: v.CustomerID, AppointmentID: v.AppointmentID, SurveyorID: v.SurveyorID,
		Status: v.Status, StartedAt: &started, Notes: v.Notes,
	}
}

func (in *visitInput) validate(tx *gorm.DB, accountID uint) (validation.Violations, error) {
	if in.Status == "" {
		in.Status = models.VisitInProgress
	}
	v := validation.Violations{}
	validation.RequiredID("customerId", in.CustomerID, v)
	validation.OneOf("status", in.Status, models.VisitStatuses, v)
	if in.CustomerID != 0 {
		if err := checkRef(tx, &models.Customer{}, accountID, &in.CustomerID, "customerId", v); err != nil {
			return nil, err
		}
	}
	if err := checkRef(tx, &models.Appointment{}, accountID, in.AppointmentID, "appointmentId", v); err != nil {
		return nil, err
	}
	if err := checkRef(tx, &models.User{}, accountID, &in.SurveyorID, "surveyorId", v); err != nil {
		return nil, err
	}
	return v, nil
}

func (in visitInput) apply(v *models.VisitSession, now time.Time) {
	v.CustomerID = in.CustomerID
	v.AppointmentID = in.AppointmentID
	v.SurveyorID = in.SurveyorID
	v.Status = in.Status
	v.Notes = in.Notes
	if in.StartedAt != nil {
		v.StartedAt = in.StartedAt.UTC()
	} else if v.StartedAt.IsZero() {
		v.StartedAt = now.UTC()
	}
}

func (h *VisitHandler) List(w http.ResponseWriter, r *http.Request) error {
	id, err := identity(r)
	if err != nil {
		return err
	}
	p, err := httpx.ParsePage(r)
	if err != nil {
		return err
	}
	q := h.db.WithContext(r.Context()).Model(&models.VisitSession{}).Where("account_id = ?", id.AccountID)
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
	page, err := paginate[models.VisitSession](q, p, func(q *gorm.DB) *gorm.DB {
		return q.Preload("Customer").Order("started_at DESC, id DESC")
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, page)
	return nil
}

// Create starts a visit. The surveyor defaults to the caller.
func (h *VisitHandler) Create(w http.ResponseWriter, r *http.Request) error {
	id, err := identity(r)
	if err != nil {
		return err
	}
	var in visitInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		return err
	}
	if in.SurveyorID == 0 {
		in.SurveyorID = id.UserID
	}
	tx := h.db.WithContext(r.Context())
	v, err := in.validate(tx, id.AccountID)
	if err != nil {
		return err
	}
	if err := violations(v); err != nil {
		return err
	}
	visit := models.VisitSession{AccountID: id.AccountID}
	in.apply(&visit, h.now())
	if err := tx.Create(&visit).Error; err != nil {
		return dbError(err, "visit")
	}
	record(h.audit, r, services.ActionCreate, "visit", visit.ID, nil)
	httpx.JSON(w, http.StatusCreated, visit)
	return nil
}

// loadVisit fetches the visit named by the {id} path value within the
// caller's account.
func loadVisit(tx *gorm.DB, r *http.Request) (*models.VisitSession, error) {
	v, _, err := loadScoped[models.VisitSession](tx, r, "visit")
	return v, err
}

func orderBySort(db *gorm.DB) *gorm.DB { return db.Order("sort_order, id") }
func orderByID(db *gorm.DB) *gorm.DB   { return db.Order("id") }

// Get returns the visit with every child collection.
func (h *VisitHandler) Get(w http.ResponseWriter, r *http.Request) error {
	id, err := identity(r)
	if err != nil {
		return err
	}
	vid, err := pathID(r, "id", "visit")
	if err != nil {
		return err
	}
	var v models.VisitSession
	err = h.db.WithContext(r.Context()).
		Preload("Customer").
		Preload("Modules", orderBySort).
		Preload("Observations", orderByID).
		Preload("Media", orderByID).
		Preload("Transcripts", orderByID).
		Where("id = ? AND account_id = ?", vid, id.AccountID).First(&v).Error
	if err != nil {
		return dbError(err, "visit")
	}
	httpx.JSON(w, http.StatusOK, v)
	return nil
}

func (h *VisitHandler) Update(w http.ResponseWriter, r *http.Request) error {
	tx := h.db.WithContext(r.Context())
	visit, err := loadVisit(tx, r)
	if err != nil {
		return err
	}
	in := visitInputFrom(visit)
	if err := httpx.DecodeJSON(r, &in); err != nil {
		return err
	}
	v, err := in.validate(tx, visit.AccountID)
	if err != nil {
		return err
	}
	if err := violations(v); err != nil {
		return err
	}
	in.apply(visit, h.now())
	if err := tx.Save(visit).Error; err != nil {
		return dbError(err, "visit")
	}
	record(h.audit, r, services.ActionUpdate, "visit", visit.ID, map[string]any{"status": visit.Status})
	httpx.JSON(w, http.StatusOK, visit)
	return nil
}

// deleteVisitRows removes the children of the given visits and the visits
// themselves, returning the stored file names of their media.
func deleteVisitRows(tx *gorm.DB, accountID uint, visitIDs []uint) ([]string, error) {
	if len(visitIDs) == 0 {
		return nil, nil
	}
	var files []string
	if err := tx.Model(&models.MediaAttachment{}).
		Where("visit_id IN ? AND account_id = ?", visitIDs, accountID).
		Pluck("stored_name", &files).Error; err != nil {
		return nil, err
	}
	for _, model := range []any{
		&models.VisitObservation{}, &models.Transcription{}, &models.SurveyModule{},
	} {
		if err := tx.Where("visit_id IN ?", visitIDs).Delete(model).Error; err != nil {
			return nil, err
		}
	}
	if err := tx.Where("visit_id IN ? AND account_id = ?", visitIDs, accountID).Delete(&models.MediaAttachment{}).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("id IN ? AND account_id = ?", visitIDs, accountID).Delete(&models.VisitSession{}).Error; err != nil {
		return nil, err
	}
	return files, nil
}

func (h *VisitHandler) Delete(w http.ResponseWriter, r *http.Request) error {
	visit, err := loadVisit(h.db.WithContext(r.Context()), r)
	if err != nil {
		return err
	}
	var files []string
	err = h.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		var err error
		files, err = deleteVisitRows(tx, visit.AccountID, []uint{visit.ID})
		return err
	})
	if err != nil {
		return err
	}
	removeFiles(h.store, files)
	record(h.audit, r, services.ActionDelete, "visit", visit.ID, nil)
	httpx.NoContent(w)
	return nil
}

func (h *VisitHandler) Complete(w http.ResponseWriter, r *http.Request) error {
	tx := h.db.WithContext(r.Context())
	visit, err := loadVisit(tx, r)
	if err != nil {
		return err
	}
	now := h.now().UTC()
	visit.Status = models.VisitCompleted
	visit.CompletedAt = &now
	if err := tx.Model(visit).Updates(map[string]any{"status": visit.Status, "completed_at": now}).Error; err != nil {
		return err
	}
	record(h.audit, r, services.ActionUpdate, "visit", visit.ID, map[string]any{"status": visit.Status})
	httpx.JSON(w, http.StatusOK, visit)
	return nil
}

func newShareID() (string, error) {
	b := make([]byte, shareIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

type shareResponse struct {
	ShareID string `json:"shareId"`
	Path    string `json:"path"`
}

// Share returns the visit's public share id, creating one if needed.
func (h *VisitHandler) Share(w http.ResponseWriter, r *http.Request) error {
	tx := h.db.WithContext(r.Context())
	visit, err := loadVisit(tx, r)
	if err != nil {
		return err
	}
	status := http.StatusOK
	if visit.ShareID == nil {
		sid, err := newShareID()
		if err != nil {
			return err
		}
		if err := tx.Model(visit).Update("share_id", sid).Error; err != nil {
			return dbError(err, "share link")
		}
		visit.ShareID = &sid
		status = http.StatusCreated
		record(h.audit, r, services.ActionShare, "visit", visit.ID, nil)
	}
	httpx.JSON(w, status, shareResponse{ShareID: *visit.ShareID, Path: "/api/public/view/" + *visit.ShareID})
	return nil
}

func (h *VisitHandler) Unshare(w http.ResponseWriter, r *http.Request) error {
	tx := h.db.WithContext(r.Context())
	visit, err := loadVisit(tx, r)
	if err != nil {
		return err
	}
	if visit.ShareID != nil {
		if err := tx.Model(visit).Update("share_id", nil).Error; err != nil {
			return err
		}
		record(h.audit, r, services.ActionUnshare, "visit", visit.ID, nil)
	}
	httpx.NoContent(w)
	return nil
}

// publicCustomer omits contact details from shared views.
type publicCustomer struct {
	FirstName            string `json:"firstName"`
	LastName             string `json:"lastName"`
	City                 string `json:"city,omitempty"`
	Postcode             string `json:"postcode,omitempty"`
	PropertyType         string `json:"propertyType,omitempty"`
	Bedrooms             *int   `json:"bedrooms,omitempty"`
	YearBuilt            *int   `json:"yearBuilt,omitempty"`
	CurrentHeatingSystem string `json:"currentHeatingSystem,omitempty"`
}

type publicVisit struct {
	ID          uint               `json:"id"`
	Status      models.VisitStatus `json:"status"`
	StartedAt   time.Time          `json:"startedAt"`
	CompletedAt *time.Time         `json:"completedAt,omitempty"`
	Notes       string             `json:"notes,omitempty"`
}

type publicView struct {
	Visit        publicVisit               `json:"visit"`
	Customer     *publicCustomer           `json:"customer"`
	Modules      []models.SurveyModule     `json:"modules"`
	Observations []models.VisitObservation `json:"observations"`
	Media        []publicMedia             `json:"media"`
}

// publicMedia adds the share-scoped download path to an attachment.
type publicMedia struct {
	models.MediaAttachment
	URL string `json:"url"`
}

// PublicView serves a shared visit without authentication.
func (h *VisitHandler) PublicView(w http.ResponseWriter, r *http.Request) error {
	sid := r.PathValue("shareId")
	if sid == "" {
		return httpx.NotFound("shared visit")
	}
	var v models.VisitSession
	err := h.db.WithContext(r.Context()).
		Preload("Customer").
		Preload("Modules", orderBySort).
		Preload("Observations", orderByID).
		Preload("Media", orderByID).
		Where("share_id = ?", sid).First(&v).Error
	if err != nil {
		return dbError(err, "shared visit")
	}
	out := publicView{
		Visit: publicVisit{
			ID: v.ID, Status: v.Status, StartedAt: v.StartedAt, CompletedAt: v.CompletedAt, Notes: v.Notes,
		},
		Modules:      v.Modules,
		Observations: v.Observations,
		Media:        make([]publicMedia, 0, len(v.Media)),
	}
	for _, m := range v.Media {
		out.Media = append(out.Media, publicMedia{
			MediaAttachment: m,
			URL:             "/api/public/view/" + sid + "/media/" + strconv.FormatUint(uint64(m.ID), 10),
		})
	}
	if c := v.Customer; c != nil {
		out.Customer = &publicCustomer{
			FirstName: c.FirstName, LastName: c.LastName, City: c.City, Postcode: c.Postcode,
			PropertyType: c.PropertyType, Bedrooms: c.Bedrooms, YearBuilt: c.YearBuilt,
			CurrentHeatingSystem: c.CurrentHeatingSystem,
		}
	}
	if out.Modules == nil {
		out.Modules = []models.SurveyModule{}
	}
	if out.Observations == nil {
		out.Observations = []models.VisitObservation{}
	}
	httpx.JSON(w, http.StatusOK, out)
	return nil
}

// PublicMedia serves a file attached to a shared visit without
// authentication.
func (h *VisitHandler) PublicMedia(w http.ResponseWriter, r *http.Request) error {
	sid := r.PathValue("shareId")
	if sid == "" {
		return httpx.NotFound("shared visit")
	}
	mid, err := pathID(r, "id", "media")
	if err != nil {
		return err
	}
	tx := h.db.WithContext(r.Context())
	var v models.VisitSession
	if err := tx.Select("id", "account_id").Where("share_id = ?", sid).First(&v).Error; err != nil {
		return dbError(err, "shared visit")
	}
	var m models.MediaAttachment
	if err := tx.Where("id = ? AND visit_id = ? AND account_id = ?", mid, v.ID, v.AccountID).First(&m).Error; err != nil {
		return dbError(err, "media")
	}
	return serveMedia(w, r, h.store, &m)
}

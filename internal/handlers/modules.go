package handlers

import (
	"net/http"
	"time"

	"github.com/diewo77/go-heatcrm/httpx"
	"github.com/diewo77/go-heatcrm/internal/models"
	"github.com/diewo77/go-heatcrm/internal/services"
	"github.com/diewo77/go-heatcrm/validation"
	"gorm.io/gorm"
)

// ModuleHandler serves the survey modules nested under a visit.
type ModuleHandler struct {
	db    *gorm.DB
	audit *services.AuditRecorder
	now   func() time.Time
}

func NewModuleHandler(db *gorm.DB, audit *services.AuditRecorder) *ModuleHandler {
	return &ModuleHandler{db: db, audit: audit, now: time.Now}
}

type moduleInput struct {
	ModuleType models.ModuleType   `json:"moduleType"`
	Status     models.ModuleStatus `json:"status"`
	Data       map[string]any      `json:"data"`
	SortOrder  int                 `json:"sortOrder"`
}

func (in *moduleInput) validate() validation.Violations {
	if in.Status == "" {
		in.Status = models.ModulePending
	}
	v := validation.Violations{}
	validation.Required("moduleType", string(in.ModuleType), v)
	validation.OneOf("moduleType", in.ModuleType, models.ModuleTypes, v)
	validation.OneOf("status", in.Status, models.ModuleStatuses, v)
	return v
}

// apply copies in onto m. Moving into completed stamps completedAt once;
// leaving it clears the stamp.
func (in moduleInput) apply(m *models.SurveyModule, now time.Time) {
	m.ModuleType = in.ModuleType
	m.Data = in.Data
	if m.Data == nil {
		m.Data = map[string]any{}
	}
	m.SortOrder = in.SortOrder
	switch {
	case in.Status == models.ModuleCompleted && m.CompletedAt == nil:
		t := now.UTC()
		m.CompletedAt = &t
	case in.Status != models.ModuleCompleted:
		m.CompletedAt = nil
	}
	m.Status = in.Status
}

func (h *ModuleHandler) List(w http.ResponseWriter, r *http.Request) error {
	tx := h.db.WithContext(r.Context())
	visit, err := loadVisit(tx, r)
	if err != nil {
		return err
	}
	mods := []models.SurveyModule{}
	if err := tx.Where("visit_id = ?", visit.ID).Order("sort_order, id").Find(&mods).Error; err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, mods)
	return nil
}

func (h *ModuleHandler) Create(w http.ResponseWriter, r *http.Request) error {
	tx := h.db.WithContext(r.Context())
	visit, err := loadVisit(tx, r)
	if err != nil {
		return err
	}
	var in moduleInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		return err
	}
	if err := violations(in.validate()); err != nil {
		return err
	}
	m := models.SurveyModule{VisitID: visit.ID}
	in.apply(&m, h.now())
	if err := tx.Create(&m).Error; err != nil {
		return dbError(err, "module")
	}
	record(h.audit, r, services.ActionCreate, "survey_module", m.ID, map[string]any{"moduleType": m.ModuleType})
	httpx.JSON(w, http.StatusCreated, m)
	return nil
}

func (h *ModuleHandler) load(r *http.Request) (*models.SurveyModule, error) {
	tx := h.db.WithContext(r.Context())
	visit, err := loadVisit(tx, r)
	if err != nil {
		return nil, err
	}
	mid, err := pathID(r, "moduleId", "module")
	if err != nil {
		return nil, err
	}
	var m models.SurveyModule
	if err := tx.Where("id = ? AND visit_id = ?", mid, visit.ID).First(&m).Error; err != nil {
		return nil, dbError(err, "module")
	}
	return &m, nil
}

func (h *ModuleHandler) Get(w http.ResponseWriter, r *http.Request) error {
	m, err := h.load(r)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, m)
	return nil
}

// Update applies the fields present in the body. A data object replaces the
// stored one.
func (h *ModuleHandler) Update(w http.ResponseWriter, r *http.Request) error {
	m, err := h.load(r)
	if err != nil {
		return err
	}
	in := moduleInput{ModuleType: m.ModuleType, Status: m.Status, SortOrder: m.SortOrder}
	if err := httpx.DecodeJSON(r, &in); err != nil {
		return err
	}
	if in.Data == nil {
		in.Data = m.Data
	}
	if err := violations(in.validate()); err != nil {
		return err
	}
	in.apply(m, h.now())
	if err := h.db.WithContext(r.Context()).Save(m).Error; err != nil {
		return dbError(err, "module")
	}
	record(h.audit, r, services.ActionUpdate, "survey_module", m.ID, map[string]any{"status": m.Status})
	httpx.JSON(w, http.StatusOK, m)
	return nil
}

func (h *ModuleHandler) Delete(w http.ResponseWriter, r *http.Request) error {
	m, err := h.load(r)
	if err != nil {
		return err
	}
	if err := h.db.WithContext(r.Context()).Delete(m).Error; err != nil {
		return err
	}
	record(h.audit, r, services.ActionDelete, "survey_module", m.ID, nil)
	httpx.NoContent(w)
	return nil
}

func (h *ModuleHandler) Complete(w http.ResponseWriter, r *http.Request) error {
	m, err := h.load(r)
	if err != nil {
		return err
	}
	in := moduleInput{ModuleType: m.ModuleType, Status: models.ModuleCompleted, Data: m.Data, SortOrder: m.SortOrder}
	in.apply(m, h.now())
	if err := h.db.WithContext(r.Context()).Save(m).Error; err != nil {
		return err
	}
	record(h.audit, r, services.ActionUpdate, "survey_module", m.ID, map[string]any{"status": m.Status})
	httpx.JSON(w, http.StatusOK, m)
	return nil
}

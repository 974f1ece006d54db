package handlers

import (
	"net/http"
	"strings"

	"github.com/diewo77/go-heatcrm/httpx"
	"github.com/diewo77/go-heatcrm/internal/models"
	"github.com/diewo77/go-heatcrm/internal/services"
	"github.com/diewo77/go-heatcrm/validation"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BoilerHandler serves the shared boiler catalog. It is not account scoped;
// writes are gated to admins by the router.
type BoilerHandler struct {
	db    *gorm.DB
	audit *services.AuditRecorder
}

func NewBoilerHandler(db *gorm.DB, audit *services.AuditRecorder) *BoilerHandler {
	return &BoilerHandler{db: db, audit: audit}
}

type boilerInput struct {
	Manufacturer   string           `json:"manufacturer"`
	Model          string           `json:"model"`
	FuelType       string           `json:"fuelType"`
	BoilerType     string           `json:"boilerType"`
	OutputKW       *decimal.Decimal `json:"outputKw"`
	EfficiencyPct  *decimal.Decimal `json:"efficiencyPct"`
	ErPRating      string           `json:"erpRating"`
	Specifications map[string]any   `json:"specifications"`
}

func (in boilerInput) validate() validation.Violations {
	v := validation.Violations{}
	validation.Required("manufacturer", in.Manufacturer, v)
	validation.Required("model", in.Model, v)
	if in.OutputKW != nil {
		validation.NonNegativeDecimal("outputKw", *in.OutputKW, v)
	}
	if in.EfficiencyPct != nil {
		validation.RangeDecimal("efficiencyPct", *in.EfficiencyPct, 0, 100, v)
	}
	return v
}

func (in boilerInput) apply(b *models.BoilerSpecification) {
	b.Manufacturer = strings.TrimSpace(in.Manufacturer)
	b.Model = strings.TrimSpace(in.Model)
	b.FuelType = in.FuelType
	b.BoilerType = in.BoilerType
	b.OutputKW = in.OutputKW
	b.EfficiencyPct = in.EfficiencyPct
	b.ErPRating = strings.ToUpper(strings.TrimSpace(in.ErPRating))
	b.Specifications = in.Specifications
}

func (h *BoilerHandler) List(w http.ResponseWriter, r *http.Request) error {
	p, err := httpx.ParsePage(r)
	if err != nil {
		return err
	}
	q := h.db.WithContext(r.Context()).Model(&models.BoilerSpecification{})
	q = search(q, r.URL.Query().Get("search"), "manufacturer", "model")
	if f := r.URL.Query().Get("fuelType"); f != "" {
		q = q.Where("fuel_type = ?", f)
	}
	page, err := paginate[models.BoilerSpecification](q, p, func(q *gorm.DB) *gorm.DB {
		return q.Order("manufacturer, model")
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, page)
	return nil
}

func (h *BoilerHandler) load(r *http.Request) (*models.BoilerSpecification, error) {
	bid, err := pathID(r, "id", "boiler")
	if err != nil {
		return nil, err
	}
	var b models.BoilerSpecification
	if err := h.db.WithContext(r.Context()).First(&b, bid).Error; err != nil {
		return nil, dbError(err, "boiler")
	}
	return &b, nil
}

func (h *BoilerHandler) Get(w http.ResponseWriter, r *http.Request) error {
	b, err := h.load(r)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, b)
	return nil
}

func (h *BoilerHandler) Create(w http.ResponseWriter, r *http.Request) error {
	var in boilerInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		return err
	}
	if err := violations(in.validate()); err != nil {
		return err
	}
	var b models.BoilerSpecification
	in.apply(&b)
	if err := h.db.WithContext(r.Context()).Create(&b).Error; err != nil {
		return dbError(err, "boiler")
	}
	record(h.audit, r, services.ActionCreate, "boiler", b.ID, nil)
	httpx.JSON(w, http.StatusCreated, b)
	return nil
}

func (h *BoilerHandler) Update(w http.ResponseWriter, r *http.Request) error {
	b, err := h.load(r)
	if err != nil {
		return err
	}
	in := boilerInput{
		Manufacturer: b.Manufacturer, Model: b.Model, FuelType: b.FuelType, BoilerType: b.BoilerType,
		OutputKW: b.OutputKW, EfficiencyPct: b.EfficiencyPct, ErPRating: b.ErPRating,
	}
	if err := httpx.DecodeJSON(r, &in); err != nil {
		return err
	}
	if in.Specifications == nil {
		in.Specifications = b.Specifications
	}
	if err := violations(in.validate()); err != nil {
		return err
	}
	in.apply(b)
	if err := h.db.WithContext(r.Context()).Save(b).Error; err != nil {
		return dbError(err, "boiler")
	}
	record(h.audit, r, services.ActionUpdate, "boiler", b.ID, nil)
	httpx.JSON(w, http.StatusOK, b)
	return nil
}

func (h *BoilerHandler) Delete(w http.ResponseWriter, r *http.Request) error {
	b, err := h.load(r)
	if err != nil {
		return err
	}
	if err := h.db.WithContext(r.Context()).Delete(b).Error; err != nil {
		return err
	}
	record(h.audit, r, services.ActionDelete, "boiler", b.ID, map[string]any{"model": b.Manufacturer + " " + b.Model})
	httpx.NoContent(w)
	return nil
}

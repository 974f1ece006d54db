package handlers

import (
	"net/http"
	"strings"

	"github.com/diewo77/go-heatcrm/httpx"
	"github.com/diewo77/go-heatcrm/internal/db"
	"github.com/diewo77/go-heatcrm/internal/models"
	"github.com/diewo77/go-heatcrm/internal/services"
	"github.com/diewo77/go-heatcrm/validation"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ProductHandler struct {
	db    *gorm.DB
	audit *services.AuditRecorder
}

func NewProductHandler(db *gorm.DB, audit *services.AuditRecorder) *ProductHandler {
	return &ProductHandler{db: db, audit: audit}
}

type productInput struct {
	SKU            string           `json:"sku"`
	Name           string           `json:"name"`
	Description    string           `json:"description"`
	Category       string           `json:"category"`
	Manufacturer   string           `json:"manufacturer"`
	Model          string           `json:"model"`
	UnitPrice      decimal.Decimal  `json:"unitPrice"`
	CostPrice      *decimal.Decimal `json:"costPrice"`
	StockQuantity  int              `json:"stockQuantity"`
	IsActive       *bool            `json:"isActive"`
	Specifications map[string]any   `json:"specifications"`
}

func productInputFrom(p *models.Product) productInput {
	active := p.IsActive
	return productInput{
		SKU: p.SKU, Name: p.Name, Description: p.Description, Category: p.Category,
		Manufacturer: p.Manufacturer, Model: p.Model, UnitPrice: p.UnitPrice, CostPrice: p.CostPrice,
		StockQuantity: p.StockQuantity, IsActive: &active, Specifications: p.Specifications,
	}
}

func (in productInput) validate() validation.Violations {
	v := validation.Violations{}
	validation.Required("sku", in.SKU, v)
	validation.Required("name", in.Name, v)
	validation.NonNegativeDecimal("unitPrice", in.UnitPrice, v)
	if in.CostPrice != nil {
		validation.NonNegativeDecimal("costPrice", *in.CostPrice, v)
	}
	if in.StockQuantity < 0 {
		v["stockQuantity"] = "must_be_non_negative"
	}
	return v
}

func (in productInput) apply(p *models.Product) {
	p.SKU = strings.TrimSpace(in.SKU)
	p.Name = strings.TrimSpace(in.Name)
	p.Description = in.Description
	p.Category = in.Category
	p.Manufacturer = in.Manufacturer
	p.Model = in.Model
	p.UnitPrice = in.UnitPrice
	p.CostPrice = in.CostPrice
	p.StockQuantity = in.StockQuantity
	p.IsActive = in.IsActive == nil || *in.IsActive
	p.Specifications = in.Specifications
}

func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) error {
	id, err := identity(r)
	if err != nil {
		return err
	}
	p, err := httpx.ParsePage(r)
	if err != nil {
		return err
	}
	q := h.db.WithContext(r.Context()).Model(&models.Product{}).Where("account_id = ?", id.AccountID)
	q = search(q, r.URL.Query().Get("search"), "name", "sku", "manufacturer", "model")
	if c := r.URL.Query().Get("category"); c != "" {
		q = q.Where("category = ?", c)
	}
	active, err := queryBool(r, "active")
	if err != nil {
		return err
	}
	if active != nil {
		q = q.Where("is_active = ?", *active)
	}
	page, err := paginate[models.Product](q, p, func(q *gorm.DB) *gorm.DB {
		return q.Order("name, id")
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, page)
	return nil
}

// Create rejects a SKU already used in the account with 409.
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) error {
	id, err := identity(r)
	if err != nil {
		return err
	}
	var in productInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		return err
	}
	if err := violations(in.validate()); err != nil {
		return err
	}
	p := models.Product{AccountID: id.AccountID}
	in.apply(&p)
	if err := h.db.WithContext(r.Context()).Create(&p).Error; err != nil {
		return skuError(err)
	}
	record(h.audit, r, services.ActionCreate, "product", p.ID, map[string]any{"sku": p.SKU})
	httpx.JSON(w, http.StatusCreated, p)
	return nil
}

func skuError(err error) error {
	if db.IsUniqueViolation(err) {
		return httpx.Conflict("a product with this SKU already exists")
	}
	return dbError(err, "product")
}

func (h *ProductHandler) load(r *http.Request) (*models.Product, error) {
	p, _, err := loadScoped[models.Product](h.db.WithContext(r.Context()), r, "product")
	return p, err
}

func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) error {
	p, err := h.load(r)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, p)
	return nil
}

func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) error {
	p, err := h.load(r)
	if err != nil {
		return err
	}
	in := productInputFrom(p)
	in.Specifications = nil
	if err := httpx.DecodeJSON(r, &in); err != nil {
		return err
	}
	if in.Specifications == nil {
		in.Specifications = p.Specifications
	}
	if err := violations(in.validate()); err != nil {
		return err
	}
	in.apply(p)
	if err := h.db.WithContext(r.Context()).Save(p).Error; err != nil {
		return skuError(err)
	}
	record(h.audit, r, services.ActionUpdate, "product", p.ID, nil)
	httpx.JSON(w, http.StatusOK, p)
	return nil
}

// Delete keeps quote lines that referenced the product; they lose the link
// but keep their description and price.
func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) error {
	p, err := h.load(r)
	if err != nil {
		return err
	}
	err = h.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.QuoteLine{}).Where("product_id = ?", p.ID).Update("product_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Product{}, p.ID).Error
	})
	if err != nil {
		return err
	}
	record(h.audit, r, services.ActionDelete, "product", p.ID, map[string]any{"sku": p.SKU})
	httpx.NoContent(w)
	return nil
}

package handlers

import (
	"net/http"
	"strings"

	"github.com/diewo77/go-heatcrm/httpx"
	"github.com/diewo77/go-heatcrm/internal/export"
	"github.com/diewo77/go-heatcrm/internal/models"
	"github.com/diewo77/go-heatcrm/internal/services"
	"github.com/diewo77/go-heatcrm/internal/storage"
	"github.com/diewo77/go-heatcrm/validation"
	"gorm.io/gorm"
)

type CustomerHandler struct {
	db    *gorm.DB
	store storage.Store
	audit *services.AuditRecorder
}

func NewCustomerHandler(db *gorm.DB, store storage.Store, audit *services.AuditRecorder) *CustomerHandler {
	return &CustomerHandler{db: db, store: store, audit: audit}
}

type customerInput struct {
	FirstName            string `json:"firstName"`
	LastName             string `json:"lastName"`
	Email                string `json:"email"`
	Phone                string `json:"phone"`
	AddressLine1         string `json:"addressLine1"`
	AddressLine2         string `json:"addressLine2"`
	City                 string `json:"city"`
	Postcode             string `json:"postcode"`
	PropertyType         string `json:"propertyType"`
	Bedrooms             *int   `json:"bedrooms"`
	YearBuilt            *int   `json:"yearBuilt"`
	CurrentHeatingSystem string `json:"currentHeatingSystem"`
	Notes                string `json:"notes"`
}

func customerInputFrom(c *models.Customer) customerInput {
	return customerInput{
		FirstName: c.FirstName, LastName: c.LastName, Email: c.Email, Phone: c.Phone,
		AddressLine1: c.AddressLine1, AddressLine2: c.AddressLine2, City: c.City, Postcode: c.Postcode,
		PropertyType: c.PropertyType, Bedrooms: c.Bedrooms, YearBuilt: c.YearBuilt,
		CurrentHeatingSystem: c.CurrentHeatingSystem, Notes: c.Notes,
	}
}

func (in customerInput) validate() validation.Violations {
	v := validation.Violations{}
	validation.Required("firstName", in.FirstName, v)
	validation.Required("lastName", in.LastName, v)
	if strings.TrimSpace(in.Email) != "" {
		validation.Email("email", in.Email, v)
	}
	if in.Bedrooms != nil && *in.Bedrooms < 0 {
		v["bedrooms"] = "must_be_non_negative"
	}
	if in.YearBuilt != nil && (*in.YearBuilt < 1000 || *in.YearBuilt > 9999) {
		v["yearBuilt"] = "out_of_range"
	}
	return v
}

func (in customerInput) apply(c *models.Customer) {
	c.FirstName = strings.TrimSpace(in.FirstName)
	c.LastName = strings.TrimSpace(in.LastName)
	c.Email = strings.TrimSpace(in.Email)
	c.Phone = strings.TrimSpace(in.Phone)
	c.AddressLine1 = in.AddressLine1
	c.AddressLine2 = in.AddressLine2
	c.City = in.City
	c.Postcode = strings.ToUpper(strings.TrimSpace(in.Postcode))
	c.PropertyType = in.PropertyType
	c.Bedrooms = in.Bedrooms
	c.YearBuilt = in.YearBuilt
	c.CurrentHeatingSystem = in.CurrentHeatingSystem
	c.Notes = in.Notes
}

func (h *CustomerHandler) query(r *http.Request, accountID uint) *gorm.DB {
	q := h.db.WithContext(r.Context()).Model(&models.Customer{}).Where("account_id = ?", accountID)
	return search(q, r.URL.Query().Get("search"),
		"first_name", "last_name", "email", "phone", "postcode", "city")
}

func (h *CustomerHandler) List(w http.ResponseWriter, r *http.Request) error {
	id, err := identity(r)
	if err != nil {
		return err
	}
	p, err := httpx.ParsePage(r)
	if err != nil {
		return err
	}
	page, err := paginate[models.Customer](h.query(r, id.AccountID), p, func(q *gorm.DB) *gorm.DB {
		return q.Order("last_name, first_name, id")
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, page)
	return nil
}

func (h *CustomerHandler) Create(w http.ResponseWriter, r *http.Request) error {
	id, err := identity(r)
	if err != nil {
		return err
	}
	var in customerInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		return err
	}
	if err := violations(in.validate()); err != nil {
		return err
	}
	c := models.Customer{AccountID: id.AccountID}
	in.apply(&c)
	if err := h.db.WithContext(r.Context()).Create(&c).Error; err != nil {
		return dbError(err, "customer")
	}
	record(h.audit, r, services.ActionCreate, "customer", c.ID, nil)
	httpx.JSON(w, http.StatusCreated, c)
	return nil
}

func (h *CustomerHandler) load(r *http.Request) (*models.Customer, error) {
	c, _, err := loadScoped[models.Customer](h.db.WithContext(r.Context()), r, "customer")
	return c, err
}

func (h *CustomerHandler) Get(w http.ResponseWriter, r *http.Request) error {
	c, err := h.load(r)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, c)
	return nil
}

// Update applies the fields present in the body; absent fields keep their
// stored value.
func (h *CustomerHandler) Update(w http.ResponseWriter, r *http.Request) error {
	c, err := h.load(r)
	if err != nil {
		return err
	}
	in := customerInputFrom(c)
	if err := httpx.DecodeJSON(r, &in); err != nil {
		return err
	}
	if err := violations(in.validate()); err != nil {
		return err
	}
	in.apply(c)
	if err := h.db.WithContext(r.Context()).Save(c).Error; err != nil {
		return dbError(err, "customer")
	}
	record(h.audit, r, services.ActionUpdate, "customer", c.ID, nil)
	httpx.JSON(w, http.StatusOK, c)
	return nil
}

// Delete removes the customer with its leads, quotes, appointments, visits
// and media. Stored files are removed after the rows are gone.
func (h *CustomerHandler) Delete(w http.ResponseWriter, r *http.Request) error {
	c, err := h.load(r)
	if err != nil {
		return err
	}
	var files []string
	err = h.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		var visitIDs []uint
		if err := tx.Model(&models.VisitSession{}).Where("customer_id = ? AND account_id = ?", c.ID, c.AccountID).Pluck("id", &visitIDs).Error; err != nil {
			return err
		}
		names, err := deleteVisitRows(tx, c.AccountID, visitIDs)
		if err != nil {
			return err
		}
		files = append(files, names...)

		owned := func(model any) *gorm.DB {
			return tx.Model(model).Select("id").Where("customer_id = ? AND account_id = ?", c.ID, c.AccountID)
		}
		// Rows of other customers may still point at what is removed below.
		refs := []struct {
			model  any
			column string
			ids    *gorm.DB
		}{
			{&models.Appointment{}, "quote_id", owned(&models.Quote{})},
			{&models.Quote{}, "lead_id", owned(&models.Lead{})},
			{&models.VisitSession{}, "appointment_id", owned(&models.Appointment{})},
			{&models.Transcription{}, "audio_media_id", owned(&models.MediaAttachment{})},
		}
		for _, ref := range refs {
			if err := unlink(tx, ref.model, ref.column, ref.ids); err != nil {
				return err
			}
		}

		var media []models.MediaAttachment
		if err := tx.Where("customer_id = ? AND account_id = ?", c.ID, c.AccountID).Find(&media).Error; err != nil {
			return err
		}
		for _, m := range media {
			files = append(files, m.StoredName)
		}
		if err := tx.Where("customer_id = ? AND account_id = ?", c.ID, c.AccountID).Delete(&models.MediaAttachment{}).Error; err != nil {
			return err
		}

		if err := tx.Where("quote_id IN (?)", owned(&models.Quote{})).Delete(&models.QuoteLine{}).Error; err != nil {
			return err
		}
		for _, model := range []any{&models.Appointment{}, &models.Quote{}, &models.Lead{}} {
			if err := tx.Where("customer_id = ? AND account_id = ?", c.ID, c.AccountID).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Delete(c).Error
	})
	if err != nil {
		return err
	}
	removeFiles(h.store, files)
	record(h.audit, r, services.ActionDelete, "customer", c.ID, map[string]any{"name": c.FullName()})
	httpx.NoContent(w)
	return nil
}

// Export writes every matching customer as CSV or XLSX.
func (h *CustomerHandler) Export(w http.ResponseWriter, r *http.Request) error {
	id, err := identity(r)
	if err != nil {
		return err
	}
	var customers []models.Customer
	if err := h.query(r, id.AccountID).Order("last_name, first_name, id").Find(&customers).Error; err != nil {
		return err
	}
	return writeTable(w, r, "customers", export.CustomersTable(customers))
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diewo77/go-heatcrm/internal/models"
	"github.com/diewo77/go-heatcrm/validation"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrQuoteNotFound    = errors.New("quote not found")
	ErrCustomerNotFound = errors.New("customer not found")
	ErrLeadNotFound     = errors.New("lead not found")
	ErrProductNotFound  = errors.New("product not found")
	ErrNoLines          = errors.New("quote requires at least one line")
)

type LineInput struct {
	ProductID   *uint           `json:"productId"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Discount    decimal.Decimal `json:"discount"`
}

func (l LineInput) validate(prefix string, v validation.Violations) {
	if l.ProductID == nil {
		validation.Required(prefix+"description", l.Description, v)
	}
	if l.Quantity < 1 {
		v[prefix+"quantity"] = "must_be_positive"
	}
	validation.NonNegativeDecimal(prefix+"unitPrice", l.UnitPrice, v)
	validation.NonNegativeDecimal(prefix+"discount", l.Discount, v)
}

// QuoteInput is the payload for creating a quote.
type QuoteInput struct {
	CustomerID uint            `json:"customerId"`
	LeadID     *uint           `json:"leadId"`
	Title      string          `json:"title"`
	Notes      string          `json:"notes"`
	Terms      string          `json:"terms"`
	TaxRate    decimal.Decimal `json:"taxRate"`
	ValidUntil *time.Time      `json:"validUntil"`
	Lines      []LineInput     `json:"lines"`
}

func (in QuoteInput) Validate() validation.Violations {
	v := validation.Violations{}
	validation.RequiredID("customerId", in.CustomerID, v)
	validation.RangeDecimal("taxRate", in.TaxRate, 0, 100, v)
	if len(in.Lines) == 0 {
		v["lines"] = "required"
	}
	for i, l := range in.Lines {
		l.validate(fmt.Sprintf("lines[%d].", i), v)
	}
	return v
}

// OptionalID tells an absent JSON field apart from an explicit null.
type OptionalID struct {
	Set   bool
	Value *uint
}

// SetID returns an OptionalID holding id.
func SetID(id uint) OptionalID { return OptionalID{Set: true, Value: &id} }

// ClearID returns an OptionalID that removes the reference.
func ClearID() OptionalID { return OptionalID{Set: true} }

func (o *OptionalID) UnmarshalJSON(b []byte) error {
	o.Set = true
	o.Value = nil
	if string(b) == "null" {
		return nil
	}
	var id uint
	if err := json.Unmarshal(b, &id); err != nil {
		return err
	}
	o.Value = &id
	return nil
}

// QuotePatch updates a quote. Nil fields are left alone; a non-nil Lines
// replaces every line. LeadID set to null unlinks the lead.
type QuotePatch struct {
	CustomerID *uint            `json:"customerId"`
	LeadID     OptionalID       `json:"leadId"`
	Title      *string          `json:"title"`
	Notes      *string          `json:"notes"`
	Terms      *string          `json:"terms"`
	TaxRate    *decimal.Decimal `json:"taxRate"`
	ValidUntil *time.Time       `json:"validUntil"`
	Lines      []LineInput      `json:"lines"`
}

func (p QuotePatch) Validate() validation.Violations {
	v := validation.Violations{}
	if p.CustomerID != nil {
		validation.RequiredID("customerId", *p.CustomerID, v)
	}
	if p.TaxRate != nil {
		validation.RangeDecimal("taxRate", *p.TaxRate, 0, 100, v)
	}
	if p.Lines != nil && len(p.Lines) == 0 {
		v["lines"] = "required"
	}
	for i, l := range p.Lines {
		l.validate(fmt.Sprintf("lines[%d].", i), v)
	}
	return v
}

// QuoteService owns every multi-statement quote operation.
type QuoteService struct {
	db     *gorm.DB
	strict bool
	now    func() time.Time
}

// NewQuoteService builds the service. With strict set, status changes must
// follow the transition table.
func NewQuoteService(db *gorm.DB, strict bool) *QuoteService {
	return &QuoteService{db: db, strict: strict, now: time.Now}
}

func (s *QuoteService) Strict() bool { return s.strict }

func preloadLines(db *gorm.DB) *gorm.DB { return db.Order("sort_order, id") }

func (s *QuoteService) load(tx *gorm.DB, accountID, id uint) (*models.Quote, error) {
	var q models.Quote
	err := tx.Preload("Lines", preloadLines).Preload("Customer").
		Where("account_id = ?", accountID).First(&q, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrQuoteNotFound
	}
	if err != nil {
		return nil, err
	}
	q.MarkExpiry(s.now())
	return &q, nil
}

// Get returns the quote with its lines and customer.
func (s *QuoteService) Get(ctx context.Context, accountID, id uint) (*models.Quote, error) {
	return s.load(s.db.WithContext(ctx), accountID, id)
}

// Create stores a draft quote, its lines and a fresh number atomically.
func (s *QuoteService) Create(ctx context.Context, accountID, userID uint, in QuoteInput) (*models.Quote, error) {
	if len(in.Lines) == 0 {
		return nil, ErrNoLines
	}
	var id uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkCustomer(tx, accountID, in.CustomerID); err != nil {
			return err
		}
		if err := checkLead(tx, accountID, in.CustomerID, in.LeadID); err != nil {
			return err
		}
		lines, err := buildLines(tx, accountID, in.Lines)
		if err != nil {
			return err
		}
		number, err := NextQuoteNumber(tx, accountID, s.now())
		if err != nil {
			return err
		}
		q := models.Quote{
			AccountID:   accountID,
			QuoteNumber: number,
			CustomerID:  in.CustomerID,
			LeadID:      in.LeadID,
			Title:       strings.TrimSpace(in.Title),
			Notes:       in.Notes,
			Terms:       in.Terms,
			Status:      models.QuoteDraft,
			TaxRate:     in.TaxRate,
			ValidUntil:  in.ValidUntil,
			CreatedByID: userID,
			Lines:       lines,
		}
		ApplyTotals(&q)
		if err := tx.Create(&q).Error; err != nil {
			return err
		}
		id = q.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, accountID, id)
}

// Update edits a quote in place. New lines replace the old ones and totals
// are recomputed against the resulting tax rate.
func (s *QuoteService) Update(ctx context.Context, accountID, id uint, p QuotePatch) (*models.Quote, error) {
	if p.Lines != nil && len(p.Lines) == 0 {
		return nil, ErrNoLines
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q, err := s.load(tx, accountID, id)
		if err != nil {
			return err
		}
		q.Customer = nil
		if p.CustomerID != nil && *p.CustomerID != q.CustomerID {
			if err := checkCustomer(tx, accountID, *p.CustomerID); err != nil {
				return err
			}
			q.CustomerID = *p.CustomerID
		}
		if p.LeadID.Set {
			q.LeadID = p.LeadID.Value
		}
		// The lead must stay with the quote's customer, including after a
		// customer change.
		if err := checkLead(tx, accountID, q.CustomerID, q.LeadID); err != nil {
			return err
		}
		if p.Title != nil {
			q.Title = strings.TrimSpace(*p.Title)
		}
		if p.Notes != nil {
			q.Notes = *p.Notes
		}
		if p.Terms != nil {
			q.Terms = *p.Terms
		}
		if p.TaxRate != nil {
			q.TaxRate = *p.TaxRate
		}
		if p.ValidUntil != nil {
			q.ValidUntil = p.ValidUntil
		}
		if p.Lines != nil {
			lines, err := buildLines(tx, accountID, p.Lines)
			if err != nil {
				return err
			}
			if err := tx.Where("quote_id = ?", q.ID).Delete(&models.QuoteLine{}).Error; err != nil {
				return err
			}
			for i := range lines {
				lines[i].QuoteID = q.ID
			}
			q.Lines = lines
		}
		ApplyTotals(q)
		if err := tx.Omit(clause.Associations).Save(q).Error; err != nil {
			return err
		}
		if p.Lines != nil {
			return tx.Create(&q.Lines).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, accountID, id)
}

// Delete removes the quote and its lines and unlinks appointments booked
// against it.
func (s *QuoteService) Delete(ctx context.Context, accountID, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var q models.Quote
		if err := tx.Select("id").Where("account_id = ?", accountID).First(&q, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrQuoteNotFound
			}
			return err
		}
		if err := tx.Model(&models.Appointment{}).Where("quote_id = ? AND account_id = ?", q.ID, accountID).
			Update("quote_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Where("quote_id = ?", q.ID).Delete(&models.QuoteLine{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Quote{}, q.ID).Error
	})
}

// Duplicate clones a quote as a new draft. Lines and totals are copied as
// stored, not recalculated.
func (s *QuoteService) Duplicate(ctx context.Context, accountID, userID, id uint) (*models.Quote, error) {
	var newID uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		src, err := s.load(tx, accountID, id)
		if err != nil {
			return err
		}
		number, err := NextQuoteNumber(tx, accountID, s.now())
		if err != nil {
			return err
		}
		clone := models.Quote{
			AccountID:   accountID,
			QuoteNumber: number,
			CustomerID:  src.CustomerID,
			LeadID:      src.LeadID,
			Title:       src.Title,
			Notes:       src.Notes,
			Terms:       src.Terms,
			Status:      models.QuoteDraft,
			TaxRate:     src.TaxRate,
			Subtotal:    src.Subtotal,
			TaxAmount:   src.TaxAmount,
			Total:       src.Total,
			ValidUntil:  src.ValidUntil,
			CreatedByID: userID,
		}
		for _, l := range src.Lines {
			clone.Lines = append(clone.Lines, models.QuoteLine{
				ProductID:   l.ProductID,
				Description: l.Description,
				Quantity:    l.Quantity,
				UnitPrice:   l.UnitPrice,
				Discount:    l.Discount,
				LineTotal:   l.LineTotal,
				SortOrder:   l.SortOrder,
			})
		}
		if err := tx.Create(&clone).Error; err != nil {
			return err
		}
		newID = clone.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, accountID, newID)
}

// Transition moves the quote to status to and stamps the matching timestamp.
// Outside strict mode any move is accepted.
func (s *QuoteService) Transition(ctx context.Context, accountID, id uint, to models.QuoteStatus) (*models.Quote, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var q models.Quote
		if err := tx.Where("account_id = ?", accountID).First(&q, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrQuoteNotFound
			}
			return err
		}
		if s.strict && !CanTransition(q.Status, to) {
			return &TransitionError{From: q.Status, To: to}
		}
		updates := map[string]any{"status": to}
		now := s.now().UTC()
		switch to {
		case models.QuoteSent:
			updates["sent_at"] = now
		case models.QuoteViewed:
			updates["viewed_at"] = now
		case models.QuoteAccepted:
			updates["accepted_at"] = now
		case models.QuoteRejected:
			updates["rejected_at"] = now
		}
		return tx.Model(&q).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, accountID, id)
}

func checkCustomer(tx *gorm.DB, accountID, customerID uint) error {
	var n int64
	if err := tx.Model(&models.Customer{}).Where("id = ? AND account_id = ?", customerID, accountID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

// checkLead accepts a nil lead, or one of the account that belongs to
// customerID.
func checkLead(tx *gorm.DB, accountID, customerID uint, leadID *uint) error {
	if leadID == nil {
		return nil
	}
	var n int64
	err := tx.Model(&models.Lead{}).
		Where("id = ? AND account_id = ? AND customer_id = ?", *leadID, accountID, customerID).
		Count(&n).Error
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeadNotFound
	}
	return nil
}

// buildLines turns inputs into rows, checking product references belong to
// the account. An empty description falls back to the product name.
func buildLines(tx *gorm.DB, accountID uint, in []LineInput) ([]models.QuoteLine, error) {
	lines := make([]models.QuoteLine, 0, len(in))
	for i, l := range in {
		desc := strings.TrimSpace(l.Description)
		if l.ProductID != nil {
			var p models.Product
			err := tx.Select("id", "name").Where("account_id = ?", accountID).First(&p, *l.ProductID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrProductNotFound
			}
			if err != nil {
				return nil, err
			}
			if desc == "" {
				desc = p.Name
			}
		}
		lines = append(lines, models.QuoteLine{
			ProductID:   l.ProductID,
			Description: desc,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			Discount:    l.Discount,
			SortOrder:   i,
		})
	}
	return lines, nil
}

package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// QuoteStatus represents the lifecycle state of a quote.
type QuoteStatus string

const (
	QuoteDraft    QuoteStatus = "draft"
	QuoteSent     QuoteStatus = "sent"
	QuoteViewed   QuoteStatus = "viewed"
	QuoteAccepted QuoteStatus = "accepted"
	QuoteRejected QuoteStatus = "rejected"
	QuoteExpired  QuoteStatus = "expired"
)

var QuoteStatuses = []QuoteStatus{QuoteDraft, QuoteSent, QuoteViewed, QuoteAccepted, QuoteRejected, QuoteExpired}

// Quote is a priced proposal for a customer, optionally tied to a lead.
type Quote struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	AccountID uint      `gorm:"not null;uniqueIndex:idx_quotes_account_number" json:"accountId"`

	QuoteNumber string `gorm:"size:32;not null;uniqueIndex:idx_quotes_account_number" json:"quoteNumber"`

	CustomerID uint      `gorm:"index;not null" json:"customerId"`
	Customer   *Customer `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	LeadID     *uint     `gorm:"index" json:"leadId,omitempty"`

	Title  string      `gorm:"size:255" json:"title,omitempty"`
	Notes  string      `gorm:"type:text" json:"notes,omitempty"`
	Terms  string      `gorm:"type:text" json:"terms,omitempty"`
	Status QuoteStatus `gorm:"size:20;not null;default:'draft';index" json:"status"`

	TaxRate   decimal.Decimal `gorm:"type:numeric(6,3);not null;default:0" json:"taxRate"`
	Subtotal  decimal.Decimal `gorm:"type:numeric(14,4);not null;default:0" json:"subtotal"`
	TaxAmount decimal.Decimal `gorm:"type:numeric(14,4);not null;default:0" json:"taxAmount"`
	Total     decimal.Decimal `gorm:"type:numeric(14,4);not null;default:0" json:"total"`

	ValidUntil *time.Time `json:"validUntil,omitempty"`
	SentAt     *time.Time `json:"sentAt,omitempty"`
	ViewedAt   *time.Time `json:"viewedAt,omitempty"`
	AcceptedAt *time.Time `json:"acceptedAt,omitempty"`
	RejectedAt *time.Time `json:"rejectedAt,omitempty"`

	CreatedByID uint `gorm:"index" json:"createdById"`

	Lines []QuoteLine `gorm:"foreignKey:QuoteID;constraint:OnDelete:CASCADE" json:"lines"`

	// IsExpired is computed on read, see MarkExpiry.
	IsExpired bool `gorm:"-" json:"isExpired"`
}

// IsClosed is true once the customer has answered.
func (q *Quote) IsClosed() bool {
	return q.Status == QuoteAccepted || q.Status == QuoteRejected
}

// PastDue reports whether validUntil has passed without an answer. Nothing
// moves the quote to expired automatically; callers read this instead.
func (q *Quote) PastDue(now time.Time) bool {
	if q.Status == QuoteExpired {
		return true
	}
	return q.ValidUntil != nil && !q.IsClosed() && now.After(*q.ValidUntil)
}

// MarkExpiry fills the computed IsExpired field.
func (q *Quote) MarkExpiry(now time.Time) { q.IsExpired = q.PastDue(now) }

// QuoteLine is one priced row of a quote.
type QuoteLine struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	QuoteID   uint     `gorm:"index;not null" json:"quoteId"`
	ProductID *uint    `gorm:"index" json:"productId,omitempty"`
	Product   *Product `gorm:"foreignKey:ProductID;constraint:OnDelete:SET NULL" json:"product,omitempty"`

	Description string          `gorm:"size:500;not null" json:"description"`
	Quantity    int             `gorm:"not null;default:1" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(14,4);not null" json:"unitPrice"`
	Discount    decimal.Decimal `gorm:"type:numeric(14,4);not null;default:0" json:"discount"`
	LineTotal   decimal.Decimal `gorm:"type:numeric(14,4);not null" json:"lineTotal"`
	SortOrder   int             `gorm:"not null;default:0" json:"sortOrder"`
}

// QuoteSequence holds the last issued quote number per account and year.
type QuoteSequence struct {
	ID        uint `gorm:"primaryKey"`
	AccountID uint `gorm:"not null;uniqueIndex:idx_quote_seq_account_year"`
	Year      int  `gorm:"not null;uniqueIndex:idx_quote_seq_account_year"`
	LastValue int  `gorm:"not null"`
}

// FormatQuoteNumber renders QUO-{year}-{seq:03d}.
func FormatQuoteNumber(year, seq int) string {
	return fmt.Sprintf("QUO-%d-%03d", year, seq)
}

package models

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Customer is a homeowner or landlord with one surveyed property.
type Customer struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	AccountID uint      `gorm:"index;not null" json:"accountId"`

	FirstName string `gorm:"size:100;not null" json:"firstName"`
	LastName  string `gorm:"size:100;not null" json:"lastName"`
	Email     string `gorm:"size:255" json:"email,omitempty"`
	Phone     string `gorm:"size:50" json:"phone,omitempty"`

	AddressLine1 string `gorm:"size:255" json:"addressLine1,omitempty"`
	AddressLine2 string `gorm:"size:255" json:"addressLine2,omitempty"`
	City         string `gorm:"size:100" json:"city,omitempty"`
	Postcode     string `gorm:"size:20" json:"postcode,omitempty"`

	PropertyType         string `gorm:"size:50" json:"propertyType,omitempty"`
	Bedrooms             *int   `json:"bedrooms,omitempty"`
	YearBuilt            *int   `json:"yearBuilt,omitempty"`
	CurrentHeatingSystem string `gorm:"size:100" json:"currentHeatingSystem,omitempty"`
	Notes                string `gorm:"type:text" json:"notes,omitempty"`
}

func (c *Customer) GetAccountID() uint { return c.AccountID }

func (c *Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// FullAddress joins the non-empty address parts, one per line.
func (c *Customer) FullAddress() string {
	var parts []string
	for _, s := range []string{c.AddressLine1, c.AddressLine2, strings.TrimSpace(c.City + " " + c.Postcode)} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

type LeadStatus string

const (
	LeadNew       LeadStatus = "new"
	LeadContacted LeadStatus = "contacted"
	LeadQualified LeadStatus = "qualified"
	LeadConverted LeadStatus = "converted"
	LeadLost      LeadStatus = "lost"
)

var LeadStatuses = []LeadStatus{LeadNew, LeadContacted, LeadQualified, LeadConverted, LeadLost}

type LeadPriority string

const (
	PriorityLow    LeadPriority = "low"
	PriorityMedium LeadPriority = "medium"
	PriorityHigh   LeadPriority = "high"
	PriorityUrgent LeadPriority = "urgent"
)

var LeadPriorities = []LeadPriority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

// Lead is a sales opportunity for a customer.
type Lead struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	AccountID uint      `gorm:"index;not null" json:"accountId"`

	CustomerID uint      `gorm:"index;not null" json:"customerId"`
	Customer   *Customer `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`

	Title          string           `gorm:"size:255;not null" json:"title"`
	Description    string           `gorm:"type:text" json:"description,omitempty"`
	Source         string           `gorm:"size:100" json:"source,omitempty"`
	Status         LeadStatus       `gorm:"size:20;not null;default:'new';index" json:"status"`
	Priority       LeadPriority     `gorm:"size:20;not null;default:'medium'" json:"priority"`
	EstimatedValue *decimal.Decimal `gorm:"type:numeric(14,4)" json:"estimatedValue,omitempty"`
	AssignedToID   *uint            `gorm:"index" json:"assignedToId,omitempty"`
	NextFollowUp   *time.Time       `json:"nextFollowUp,omitempty"`
}

func (l *Lead) GetAccountID() uint { return l.AccountID }

// IsOpen reports whether the lead still needs work.
func (l *Lead) IsOpen() bool {
	return !slices.Contains([]LeadStatus{LeadConverted, LeadLost}, l.Status)
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Product is a catalog item; SKU is unique per account.
type Product struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	AccountID uint      `gorm:"not null;uniqueIndex:idx_products_account_sku" json:"accountId"`

	SKU            string            `gorm:"size:64;not null;uniqueIndex:idx_products_account_sku" json:"sku"`
	Name           string            `gorm:"size:255;not null" json:"name"`
	Description    string            `gorm:"type:text" json:"description,omitempty"`
	Category       string            `gorm:"size:100;index" json:"category,omitempty"`
	Manufacturer   string            `gorm:"size:100" json:"manufacturer,omitempty"`
	Model          string            `gorm:"size:100" json:"model,omitempty"`
	UnitPrice      decimal.Decimal   `gorm:"type:numeric(14,4);not null;default:0" json:"unitPrice"`
	CostPrice      *decimal.Decimal  `gorm:"type:numeric(14,4)" json:"costPrice,omitempty"`
	StockQuantity  int               `gorm:"not null;default:0" json:"stockQuantity"`
	IsActive       bool              `gorm:"not null" json:"isActive"`
	Specifications datatypes.JSONMap `json:"specifications,omitempty"`
}

func (p *Product) GetAccountID() uint { return p.AccountID }

// BoilerSpecification is global reference data shared by all accounts.
type BoilerSpecification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Manufacturer   string            `gorm:"size:100;not null;uniqueIndex:idx_boiler_make_model" json:"manufacturer"`
	Model          string            `gorm:"size:150;not null;uniqueIndex:idx_boiler_make_model" json:"model"`
	FuelType       string            `gorm:"size:30;index" json:"fuelType,omitempty"`
	BoilerType     string            `gorm:"size:30" json:"boilerType,omitempty"`
	OutputKW       *decimal.Decimal  `gorm:"type:numeric(8,2)" json:"outputKw,omitempty"`
	EfficiencyPct  *decimal.Decimal  `gorm:"type:numeric(5,2)" json:"efficiencyPct,omitempty"`
	ErPRating      string            `gorm:"size:5" json:"erpRating,omitempty"`
	Specifications datatypes.JSONMap `json:"specifications,omitempty"`
}

package services

import (
	"github.com/diewo77/go-heatcrm/internal/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Totals are the derived money fields of a quote.
type Totals struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	TaxAmount decimal.Decimal `json:"taxAmount"`
	Total     decimal.Decimal `json:"total"`
}

// LineTotal is quantity × unitPrice − discount. A discount larger than the
// gross amount yields a negative total; it is not clamped.
func LineTotal(quantity int, unitPrice, discount decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Sub(discount)
}

// CalculateTotals sums the lines and applies taxRate as a percentage.
func CalculateTotals(lines []models.QuoteLine, taxRate decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(LineTotal(l.Quantity, l.UnitPrice, l.Discount))
	}
	tax := subtotal.Mul(taxRate).Div(hundred)
	return Totals{Subtotal: subtotal, TaxAmount: tax, Total: subtotal.Add(tax)}
}

// ApplyTotals refreshes every line total and the quote totals in place.
func ApplyTotals(q *models.Quote) {
	for i := range q.Lines {
		l := &q.Lines[i]
		l.LineTotal = LineTotal(l.Quantity, l.UnitPrice, l.Discount)
	}
	t := CalculateTotals(q.Lines, q.TaxRate)
	q.Subtotal, q.TaxAmount, q.Total = t.Subtotal, t.TaxAmount, t.Total
}

package export

import (
	"fmt"
	"strconv"

	"github.com/diewo77/go-heatcrm/internal/models"
	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

var (
	bold      = props.Text{Style: fontstyle.Bold, Size: 10}
	right     = props.Text{Align: align.Right, Size: 10}
	boldRight = props.Text{Style: fontstyle.Bold, Align: align.Right, Size: 10}
	small     = props.Text{Size: 9}
)

// QuotePDF renders a customer-facing quote. Lines and Customer must be
// loaded.
func QuotePDF(q *models.Quote, companyName string) ([]byte, error) {
	cfg := config.NewBuilder().
		WithLeftMargin(15).
		WithTopMargin(15).
		WithRightMargin(15).
		Build()
	m := maroto.New(cfg)

	m.AddRows(
		text.NewRow(12, companyName, props.Text{Size: 16, Style: fontstyle.Bold}),
		text.NewRow(8, "Quote "+q.QuoteNumber, props.Text{Size: 12, Style: fontstyle.Bold, Align: align.Right}),
	)
	if q.Title != "" {
		m.AddRows(text.NewRow(7, q.Title, props.Text{Size: 11}))
	}

	m.AddRow(6,
		text.NewCol(6, "Issued: "+q.CreatedAt.Format("02 Jan 2006"), small),
		text.NewCol(6, "Valid until: "+validUntil(q), props.Text{Size: 9, Align: align.Right}),
	)
	if c := q.Customer; c != nil {
		m.AddRows(text.NewRow(6, "Prepared for", bold), text.NewRow(5, c.FullName(), small))
		if addr := c.FullAddress(); addr != "" {
			m.AddRows(text.NewRow(12, addr, small))
		}
	}
	m.AddRows(line.NewRow(4))

	m.AddRow(7,
		text.NewCol(6, "Description", bold),
		text.NewCol(1, "Qty", boldRight),
		text.NewCol(2, "Unit", boldRight),
		text.NewCol(1, "Disc.", boldRight),
		text.NewCol(2, "Total", boldRight),
	)
	for _, l := range q.Lines {
		m.AddRow(6,
			text.NewCol(6, l.Description, props.Text{Size: 10}),
			text.NewCol(1, strconv.Itoa(l.Quantity), right),
			text.NewCol(2, l.UnitPrice.StringFixed(2), right),
			text.NewCol(1, l.Discount.StringFixed(2), right),
			text.NewCol(2, l.LineTotal.StringFixed(2), right),
		)
	}
	m.AddRows(line.NewRow(4))

	m.AddRow(6, text.NewCol(10, "Subtotal", boldRight), text.NewCol(2, q.Subtotal.StringFixed(2), right))
	m.AddRow(6,
		text.NewCol(10, fmt.Sprintf("Tax (%s%%)", q.TaxRate.String()), boldRight),
		text.NewCol(2, q.TaxAmount.StringFixed(2), right),
	)
	m.AddRow(8, text.NewCol(10, "Total", boldRight), text.NewCol(2, q.Total.StringFixed(2), boldRight))

	if q.Terms != "" {
		m.AddRows(text.NewRow(8, "Terms", bold), text.NewRow(20, q.Terms, small))
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate quote pdf: %w", err)
	}
	return doc.GetBytes(), nil
}

func validUntil(q *models.Quote) string {
	if q.ValidUntil == nil {
		return "-"
	}
	return q.ValidUntil.Format("02 Jan 2006")
}

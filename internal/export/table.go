// Package export renders account data as CSV, XLSX and PDF documents.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/diewo77/go-heatcrm/internal/models"
	"github.com/xuri/excelize/v2"
)

// Table is a header row plus data rows, ready for any tabular format.
type Table struct {
	Sheet   string
	Headers []string
	Rows    [][]string
}

func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Headers); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

// WriteXLSX writes t as a single-sheet workbook with a bold header row.
func WriteXLSX(w io.Writer, t Table) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := t.Sheet
	if sheet == "" {
		sheet = "Sheet1"
	}
	index, err := f.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D3D3D3"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	for i, h := range t.Headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, headerStyle)
	}
	for r, row := range t.Rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			f.SetCellValue(sheet, cell, v)
		}
	}
	if n := len(t.Headers); n > 0 {
		last, _ := excelize.ColumnNumberToName(n)
		f.SetColWidth(sheet, "A", last, 18)
	}
	if sheet != "Sheet1" {
		f.DeleteSheet("Sheet1")
	}
	return f.Write(w)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// QuotesTable lists quotes with their customer; quotes should have Customer
// preloaded.
func QuotesTable(quotes []models.Quote) Table {
	t := Table{
		Sheet:   "Quotes",
		Headers: []string{"Number", "Customer", "Title", "Status", "Subtotal", "Tax", "Total", "Valid Until", "Created"},
	}
	for _, q := range quotes {
		customer := ""
		if q.Customer != nil {
			customer = q.Customer.FullName()
		}
		t.Rows = append(t.Rows, []string{
			q.QuoteNumber, customer, q.Title, string(q.Status),
			q.Subtotal.StringFixed(2), q.TaxAmount.StringFixed(2), q.Total.StringFixed(2),
			formatDate(q.ValidUntil), q.CreatedAt.Format("2006-01-02"),
		})
	}
	return t
}

func CustomersTable(customers []models.Customer) Table {
	t := Table{
		Sheet: "Customers",
		Headers: []string{"ID", "First Name", "Last Name", "Email", "Phone", "Address", "City", "Postcode",
			"Property Type", "Heating System"},
	}
	for _, c := range customers {
		t.Rows = append(t.Rows, []string{
			strconv.FormatUint(uint64(c.ID), 10), c.FirstName, c.LastName, c.Email, c.Phone,
			c.AddressLine1, c.City, c.Postcode, c.PropertyType, c.CurrentHeatingSystem,
		})
	}
	return t
}

package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/diewo77/go-heatcrm/httpx"
	"github.com/diewo77/go-heatcrm/internal/export"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// writeTable streams t in the format named by ?format= (csv by default).
func writeTable(w http.ResponseWriter, r *http.Request, name string, t export.Table) error {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	filename := fmt.Sprintf("%s-%s.%s", name, time.Now().UTC().Format("20060102"), format)
	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
		return export.WriteCSV(w, t)
	case "xlsx":
		w.Header().Set("Content-Type", xlsxContentType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
		return export.WriteXLSX(w, t)
	}
	return httpx.Validation(map[string]string{"format": "must_be_one_of:csv,xlsx"})
}

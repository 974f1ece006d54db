// Package models defines the persisted entities. Every entity except
// BoilerSpecification belongs to exactly one Account.
package models

import "github.com/shopspring/decimal"

func init() {
	// Money is exchanged as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// AccountScoped is implemented by tenant-owned entities that handlers load
// by id.
type AccountScoped interface {
	GetAccountID() uint
}

// All lists every model in dependency order for AutoMigrate.
func All() []any {
	return []any{
		&Account{},
		&User{},
		&RefreshSession{},
		&Customer{},
		&Lead{},
		&Product{},
		&Quote{},
		&QuoteLine{},
		&QuoteSequence{},
		&Appointment{},
		&VisitSession{},
		&SurveyModule{},
		&MediaAttachment{},
		&Transcription{},
		&VisitObservation{},
		&BoilerSpecification{},
		&AuditLog{},
	}
}

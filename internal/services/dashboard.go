package services

import (
	"context"
	"time"

	"github.com/diewo77/go-heatcrm/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	upcomingWindow = 7 * 24 * time.Hour
	recentLimit    = 5
)

type DashboardStats struct {
	Customers            int64                 `json:"customers"`
	OpenLeads            int64                 `json:"openLeads"`
	LeadsByStatus        map[string]int64      `json:"leadsByStatus"`
	QuotesByStatus       map[string]int64      `json:"quotesByStatus"`
	AcceptedQuoteValue   decimal.Decimal       `json:"acceptedQuoteValue"`
	UpcomingAppointments int64                 `json:"upcomingAppointments"`
	RecentQuotes         []models.Quote        `json:"recentQuotes"`
	RecentVisits         []models.VisitSession `json:"recentVisits"`
}

type DashboardService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDashboardService(db *gorm.DB) *DashboardService {
	return &DashboardService{db: db, now: time.Now}
}

type statusCount struct {
	Status string
	Count  int64
}

func countByStatus(db *gorm.DB, model any, accountID uint) (map[string]int64, error) {
	var rows []statusCount
	err := db.Model(model).Select("status, COUNT(*) AS count").
		Where("account_id = ?", accountID).Group("status").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

// Stats aggregates the account's headline numbers.
func (s *DashboardService) Stats(ctx context.Context, accountID uint) (*DashboardStats, error) {
	db := s.db.WithContext(ctx)
	now := s.now().UTC()
	st := &DashboardStats{RecentQuotes: []models.Quote{}, RecentVisits: []models.VisitSession{}}

	if err := db.Model(&models.Customer{}).Where("account_id = ?", accountID).Count(&st.Customers).Error; err != nil {
		return nil, err
	}
	var err error
	if st.LeadsByStatus, err = countByStatus(db, &models.Lead{}, accountID); err != nil {
		return nil, err
	}
	for status, n := range st.LeadsByStatus {
		l := models.Lead{Status: models.LeadStatus(status)}
		if l.IsOpen() {
			st.OpenLeads += n
		}
	}
	if st.QuotesByStatus, err = countByStatus(db, &models.Quote{}, accountID); err != nil {
		return nil, err
	}

	var accepted decimal.NullDecimal
	err = db.Model(&models.Quote{}).Select("SUM(total)").
		Where("account_id = ? AND status = ?", accountID, models.QuoteAccepted).
		Row().Scan(&accepted)
	if err != nil {
		return nil, err
	}
	st.AcceptedQuoteValue = decimal.Zero
	if accepted.Valid {
		st.AcceptedQuoteValue = accepted.Decimal
	}

	err = db.Model(&models.Appointment{}).
		Where("account_id = ? AND scheduled_start >= ? AND scheduled_start < ?", accountID, now, now.Add(upcomingWindow)).
		Where("status IN ?", []models.AppointmentStatus{models.AppointmentScheduled, models.AppointmentConfirmed}).
		Count(&st.UpcomingAppointments).Error
	if err != nil {
		return nil, err
	}

	if err := db.Preload("Customer").Where("account_id = ?", accountID).
		Order("created_at DESC, id DESC").Limit(recentLimit).Find(&st.RecentQuotes).Error; err != nil {
		return nil, err
	}
	for i := range st.RecentQuotes {
		st.RecentQuotes[i].MarkExpiry(now)
	}
	if err := db.Preload("Customer").Where("account_id = ?", accountID).
		Order("started_at DESC, id DESC").Limit(recentLimit).Find(&st.RecentVisits).Error; err != nil {
		return nil, err
	}
	return st, nil
}

package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/diewo77/go-heatcrm/httpx"
	"github.com/diewo77/go-heatcrm/internal/export"
	"github.com/diewo77/go-heatcrm/internal/models"
	"github.com/diewo77/go-heatcrm/internal/services"
	"gorm.io/gorm"
)

// QuoteHandler exposes the quote engine over HTTP.
type QuoteHandler struct {
	db    *gorm.DB
	svc   *services.QuoteService
	audit *services.AuditRecorder
	now   func() time.Time
}

func NewQuoteHandler(db *gorm.DB, svc *services.QuoteService, audit *services.AuditRecorder) *QuoteHandler {
	return &QuoteHandler{db: db, svc: svc, audit: audit, now: time.Now}
}

func (h *QuoteHandler) query(r *http.Request, accountID uint) (*gorm.DB, error) {
	q := h.db.WithContext(r.Context()).Model(&models.Quote{}).Where("account_id = ?", accountID)
	q = search(q, r.URL.Query().Get("search"), "quote_number", "title")
	if s := r.URL.Query().Get("status"); s != "" {
		q = q.Where("status = ?", s)
	}
	customer, err := queryUint(r, "customerId")
	if err != nil {
		return nil, err
	}
	if customer != nil {
		q = q.Where("customer_id = ?", *customer)
	}
	return q, nil
}

func (h *QuoteHandler) List(w http.ResponseWriter, r *http.Request) error {
	id, err := identity(r)
	if err != nil {
		return err
	}
	p, err := httpx.ParsePage(r)
	if err != nil {
		return err
	}
	q, err := h.query(r, id.AccountID)
	if err != nil {
		return err
	}
	page, err := paginate[models.Quote](q, p, func(q *gorm.DB) *gorm.DB {
		return q.Preload("Customer").Order("created_at DESC, id DESC")
	})
	if err != nil {
		return err
	}
	now := h.now()
	for i := range page.Data {
		page.Data[i].MarkExpiry(now)
	}
	httpx.JSON(w, http.StatusOK, page)
	return nil
}

func (h *QuoteHandler) Create(w http.ResponseWriter, r *http.Request) error {
	id, err := identity(r)
	if err != nil {
		return err
	}
	var in services.QuoteInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		return err
	}
	if err := violations(in.Validate()); err != nil {
		return err
	}
	in.ValidUntil = utcPtr(in.ValidUntil)
	q, err := h.svc.Create(r.Context(), id.AccountID, id.UserID, in)
	if err != nil {
		return serviceError(err)
	}
	record(h.audit, r, services.ActionCreate, "quote", q.ID, map[string]any{"quoteNumber": q.QuoteNumber})
	httpx.JSON(w, http.StatusCreated, q)
	return nil
}

func (h *QuoteHandler) Get(w http.ResponseWriter, r *http.Request) error {
	id, err := identity(r)
	if err != nil {
		return err
	}
	qid, err := pathID(r, "id", "quote")
	if err != nil {
		return err
	}
	q, err := h.svc.Get(r.Context(), id.AccountID, qid)
	if err != nil {
		return serviceError(err)
	}
	httpx.JSON(w, http.StatusOK, q)
	return nil
}

func (h *QuoteHandler) Update(w http.ResponseWriter, r *http.Request) error {
	id, err := identity(r)
	if err != nil {
		return err
	}
	qid, err := pathID(r, "id", "quote")
	if err != nil {
		return err
	}
	var patch services.QuotePatch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		return err
	}
	if err := violations(patch.Validate()); err != nil {
		return err
	}
	patch.ValidUntil = utcPtr(patch.ValidUntil)
	q, err := h.svc.Update(r.Context(), id.AccountID, qid, patch)
	if err != nil {
		return serviceError(err)
	}
	changes := map[string]any{"linesReplaced": patch.Lines != nil}
	record(h.audit, r, services.ActionUpdate, "quote", q.ID, changes)
	httpx.JSON(w, http.StatusOK, q)
	return nil
}

func (h *QuoteHandler) Delete(w http.ResponseWriter, r *http.Request) error {
	id, err := identity(r)
	if err != nil {
		return err
	}
	qid, err := pathID(r, "id", "quote")
	if err != nil {
		return err
	}
	if err := h.svc.Delete(r.Context(), id.AccountID, qid); err != nil {
		return serviceError(err)
	}
	record(h.audit, r, services.ActionDelete, "quote", qid, nil)
	httpx.NoContent(w)
	return nil
}

// transition returns a handler moving the quote to status to.
func (h *QuoteHandler) transition(to models.QuoteStatus, action string) httpx.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		id, err := identity(r)
		if err != nil {
			return err
		}
		qid, err := pathID(r, "id", "quote")
		if err != nil {
			return err
		}
		q, err := h.svc.Transition(r.Context(), id.AccountID, qid, to)
		if err != nil {
			return serviceError(err)
		}
		record(h.audit, r, action, "quote", q.ID, map[string]any{"status": to})
		httpx.JSON(w, http.StatusOK, q)
		return nil
	}
}

func (h *QuoteHandler) Send() httpx.HandlerFunc {
	return h.transition(models.QuoteSent, services.ActionSend)
}

func (h *QuoteHandler) View() httpx.HandlerFunc {
	return h.transition(models.QuoteViewed, services.ActionView)
}

func (h *QuoteHandler) Accept() httpx.HandlerFunc {
	return h.transition(models.QuoteAccepted, services.ActionAccept)
}

func (h *QuoteHandler) Reject() httpx.HandlerFunc {
	return h.transition(models.QuoteRejected, services.ActionReject)
}

func (h *QuoteHandler) Duplicate(w http.ResponseWriter, r *http.Request) error {
	id, err := identity(r)
	if err != nil {
		return err
	}
	qid, err := pathID(r, "id", "quote")
	if err != nil {
		return err
	}
	q, err := h.svc.Duplicate(r.Context(), id.AccountID, id.UserID, qid)
	if err != nil {
		return serviceError(err)
	}
	record(h.audit, r, services.ActionDuplicate, "quote", q.ID, map[string]any{"sourceId": qid})
	httpx.JSON(w, http.StatusCreated, q)
	return nil
}

// PDF renders the quote as a downloadable document headed with the account
// name.
func (h *QuoteHandler) PDF(w http.ResponseWriter, r *http.Request) error {
	id, err := identity(r)
	if err != nil {
		return err
	}
	qid, err := pathID(r, "id", "quote")
	if err != nil {
		return err
	}
	q, err := h.svc.Get(r.Context(), id.AccountID, qid)
	if err != nil {
		return serviceError(err)
	}
	var acc models.Account
	if err := h.db.WithContext(r.Context()).First(&acc, id.AccountID).Error; err != nil {
		return err
	}
	doc, err := export.QuotePDF(q, acc.Name)
	if err != nil {
		return fmt.Errorf("render quote %d: %w", q.ID, err)
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+q.QuoteNumber+`.pdf"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(doc)))
	_, err = w.Write(doc)
	return err
}

func (h *QuoteHandler) Export(w http.ResponseWriter, r *http.Request) error {
	id, err := identity(r)
	if err != nil {
		return err
	}
	q, err := h.query(r, id.AccountID)
	if err != nil {
		return err
	}
	var quotes []models.Quote
	if err := q.Preload("Customer").Order("created_at DESC, id DESC").Find(&quotes).Error; err != nil {
		return err
	}
	return writeTable(w, r, "quotes", export.QuotesTable(quotes))
}

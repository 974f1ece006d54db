// Package handlers implements the JSON API. Every handler scopes reads and
// writes to the caller's account; rows of another account are reported as
// not found.
package handlers

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/diewo77/go-heatcrm/auth"
	"github.com/diewo77/go-heatcrm/httpx"
	"github.com/diewo77/go-heatcrm/internal/db"
	"github.com/diewo77/go-heatcrm/internal/models"
	"github.com/diewo77/go-heatcrm/internal/services"
	"github.com/diewo77/go-heatcrm/validation"
	"gorm.io/gorm"
)

func identity(r *http.Request) (auth.Identity, error) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return auth.Identity{}, httpx.Unauthorized("")
	}
	return id, nil
}

// pathID parses a numeric path parameter. Anything unparsable cannot name a
// row, so it is reported as not found.
func pathID(r *http.Request, name, resource string) (uint, error) {
	n, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil || n == 0 {
		return 0, httpx.NotFound(resource)
	}
	return uint(n), nil
}

func queryUint(r *http.Request, key string) (*uint, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return nil, httpx.Validation(map[string]string{key: "invalid_id"})
	}
	u := uint(n)
	return &u, nil
}

func queryBool(r *http.Request, key string) (*bool, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, httpx.Validation(map[string]string{key: "invalid_value"})
	}
	return &b, nil
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		if t, err = time.Parse(time.DateOnly, v); err != nil {
			return nil, httpx.Validation(map[string]string{key: "invalid_date"})
		}
	}
	t = t.UTC()
	return &t, nil
}

// search adds a case-insensitive substring match over cols.
func search(q *gorm.DB, term string, cols ...string) *gorm.DB {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" || len(cols) == 0 {
		return q
	}
	like := "%" + term + "%"
	conds := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		conds[i] = "LOWER(" + c + ") LIKE ?"
		args[i] = like
	}
	return q.Where("("+strings.Join(conds, " OR ")+")", args...)
}

// paginate counts q and loads one page of it. prepare, if set, only applies
// to the page query (preloads, ordering).
func paginate[T any](q *gorm.DB, p httpx.PageParams, prepare func(*gorm.DB) *gorm.DB) (httpx.Page[T], error) {
	base := q.Session(&gorm.Session{})
	var total int64
	if err := base.Count(&total).Error; err != nil {
		return httpx.Page[T]{}, err
	}
	items := []T{}
	if int64(p.Offset()) < total {
		pq := base
		if prepare != nil {
			pq = prepare(pq)
		}
		if err := pq.Limit(p.PageSize).Offset(p.Offset()).Find(&items).Error; err != nil {
			return httpx.Page[T]{}, err
		}
	}
	return httpx.NewPage(items, p, total), nil
}

// dbError maps storage errors onto the API taxonomy.
func dbError(err error, resource string) error {
	switch {
	case err == nil:
		return nil
	case db.IsNotFound(err):
		return httpx.NotFound(resource)
	case db.IsUniqueViolation(err):
		return httpx.Conflict(resource + " already exists")
	case db.IsForeignKeyViolation(err):
		return httpx.Conflict(resource + " is referenced by other records")
	}
	return err
}

// serviceError maps quote engine errors onto the API taxonomy.
func serviceError(err error) error {
	var te *services.TransitionError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &te):
		return httpx.InvalidTransition(string(te.From), string(te.To))
	case errors.Is(err, services.ErrQuoteNotFound):
		return httpx.NotFound("quote")
	case errors.Is(err, services.ErrNoLines):
		return httpx.Validation(map[string]string{"lines": "required"})
	case errors.Is(err, services.ErrCustomerNotFound):
		return httpx.Validation(map[string]string{"customerId": "not_found"})
	case errors.Is(err, services.ErrLeadNotFound):
		return httpx.Validation(map[string]string{"leadId": "not_found"})
	case errors.Is(err, services.ErrProductNotFound):
		return httpx.Validation(map[string]string{"productId": "not_found"})
	}
	return dbError(err, "quote")
}

func violations(v validation.Violations) error {
	if v.Empty() {
		return nil
	}
	return httpx.Validation(v)
}

// loadScoped loads the row of T named by the "id" path value from the
// caller's account. Rows of another account are reported as not found.
func loadScoped[T any, PT interface {
	*T
	models.AccountScoped
}](tx *gorm.DB, r *http.Request, resource string) (PT, auth.Identity, error) {
	id, err := identity(r)
	if err != nil {
		return nil, id, err
	}
	rid, err := pathID(r, "id", resource)
	if err != nil {
		return nil, id, err
	}
	row := PT(new(T))
	if err := tx.Where("id = ? AND account_id = ?", rid, id.AccountID).First(row).Error; err != nil {
		return nil, id, dbError(err, resource)
	}
	if row.GetAccountID() != id.AccountID {
		return nil, id, httpx.NotFound(resource)
	}
	return row, id, nil
}

// belongs reports whether row id of model exists in the account.
func belongs(tx *gorm.DB, model any, accountID, id uint) (bool, error) {
	var n int64
	err := tx.Model(model).Where("id = ? AND account_id = ?", id, accountID).Count(&n).Error
	return n > 0, err
}

// checkRef adds a not_found violation when ref is set but not in the account.
func checkRef(tx *gorm.DB, model any, accountID uint, ref *uint, field string, v validation.Violations) error {
	if ref == nil {
		return nil
	}
	ok, err := belongs(tx, model, accountID, *ref)
	if err != nil {
		return err
	}
	if !ok {
		v[field] = "not_found"
	}
	return nil
}

// unlink clears column on every row of model that points at one of ids.
func unlink(tx *gorm.DB, model any, column string, ids *gorm.DB) error {
	return tx.Model(model).Where(column+" IN (?)", ids).Update(column, nil).Error
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// record writes an audit row for the request's caller.
func record(rec *services.AuditRecorder, r *http.Request, action, entity string, entityID uint, changes map[string]any) {
	id, _ := auth.IdentityFromContext(r.Context())
	entry := models.AuditLog{
		AccountID:  id.AccountID,
		Action:     action,
		EntityType: entity,
		EntityID:   entityID,
		Changes:    changes,
		IPAddress:  clientIP(r),
	}
	if id.UserID != 0 {
		uid := id.UserID
		entry.UserID = &uid
	}
	rec.Record(r.Context(), entry)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

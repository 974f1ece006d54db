package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/diewo77/go-heatcrm/httpx"
	"github.com/diewo77/go-heatcrm/internal/db"
	"github.com/diewo77/go-heatcrm/internal/models"
	"github.com/diewo77/go-heatcrm/internal/policy"
	"github.com/diewo77/go-heatcrm/internal/services"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserHandler(f *fixture) (*UserHandler, *policy.AuthGate) {
	gate := policy.NewAuthGate(policy.NewDBResolver(f.db), time.Minute)
	return NewUserHandler(f.db, gate, f.audit), gate
}

func TestUserCreate(t *testing.T) {
	f := newFixture(t)
	h, _ := newUserHandler(f)
	me := identityOf(f.admin)

	rr := do(t, h.Create, http.MethodPost, "/api/users", map[string]any{
		"email": "New.Surveyor@Acme.test", "password": "long-enough", "firstName": "Sam",
	}, &me)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	u := decode[models.User](t, rr)
	assert.Equal(t, "new.surveyor@acme.test", u.Email)
	assert.Equal(t, models.RoleSurveyor, u.Role)
	assert.Equal(t, f.account.ID, u.AccountID)
	assert.True(t, u.IsActive)

	rr = do(t, h.Create, http.MethodPost, "/api/users", map[string]any{
		"email": "new.surveyor@acme.test", "password": "long-enough", "firstName": "Sam",
	}, &me)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, h.Create, http.MethodPost, "/api/users", map[string]any{
		"email": "x@acme.test", "password": "long-enough", "firstName": "X", "role": "owner",
	}, &me)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_value", errorKind(t, rr).Details.(map[string]any)["role"])
}

func TestUserSelfProtection(t *testing.T) {
	f := newFixture(t)
	h, _ := newUserHandler(f)
	me := identityOf(f.admin)
	self := idStr(f.admin.ID)

	rr := do(t, h.Update, http.MethodPut, "/api/users/x", map[string]any{"role": "readonly"}, &me, "id", self)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "cannot_change_own_role", errorKind(t, rr).Details.(map[string]any)["role"])

	rr = do(t, h.Update, http.MethodPut, "/api/users/x", map[string]any{"isActive": false}, &me, "id", self)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "cannot_deactivate_self", errorKind(t, rr).Details.(map[string]any)["isActive"])

	rr = do(t, h.Delete, http.MethodDelete, "/api/users/x", nil, &me, "id", self)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h.Update, http.MethodPut, "/api/users/x", map[string]any{"firstName": "Renamed"}, &me, "id", self)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Renamed", decode[models.User](t, rr).FirstName)
}

func TestUserDeactivationRevokesAccess(t *testing.T) {
	f := newFixture(t)
	h, gate := newUserHandler(f)
	me := identityOf(f.admin)
	office := f.user(t, f.account.ID, "office@acme.test", models.RoleOffice)
	require.NoError(t, f.db.Create(&models.RefreshSession{TokenID: "jti-1", UserID: office.ID, ExpiresAt: time.Now().UTC().Add(time.Hour)}).Error)

	require.True(t, gate.VerifyUser(t.Context(), office.ID))

	rr := do(t, h.Update, http.MethodPut, "/api/users/x", map[string]any{"role": "readonly"}, &me, "id", idStr(office.ID))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, models.RoleReadonly, decode[models.User](t, rr).Role)

	rr = do(t, h.Delete, http.MethodDelete, "/api/users/x", nil, &me, "id", idStr(office.ID))
	require.Equal(t, http.StatusNoContent, rr.Code)

	var u models.User
	require.NoError(t, f.db.First(&u, office.ID).Error)
	assert.False(t, u.IsActive)
	var sess models.RefreshSession
	require.NoError(t, f.db.Where("token_id = ?", "jti-1").First(&sess).Error)
	assert.NotNil(t, sess.RevokedAt)
	assert.False(t, gate.VerifyUser(t.Context(), office.ID), "cached subject is invalidated")

	rr = do(t, h.List, http.MethodGet, "/api/users?active=false", nil, &me)
	require.Equal(t, http.StatusOK, rr.Code)
	page := decode[httpx.Page[models.User]](t, rr)
	require.Len(t, page.Data, 1)
	assert.Equal(t, office.ID, page.Data[0].ID)
}

func TestUserTenantIsolation(t *testing.T) {
	f := newFixture(t)
	h, _ := newUserHandler(f)
	me := identityOf(f.admin)

	rr := do(t, h.Delete, http.MethodDelete, "/api/users/x", nil, &me, "id", idStr(f.otherAdmin.ID))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h.List, http.MethodGet, "/api/users", nil, &me)
	require.Equal(t, http.StatusOK, rr.Code)
	for _, u := range decode[httpx.Page[models.User]](t, rr).Data {
		assert.Equal(t, f.account.ID, u.AccountID)
	}
}

func TestBoilerCatalog(t *testing.T) {
	f := newFixture(t)
	h := NewBoilerHandler(f.db, f.audit)
	me := identityOf(f.admin)
	them := identityOf(f.otherAdmin)
	_, err := db.Seed(f.db)
	require.NoError(t, err)

	rr := do(t, h.Create, http.MethodPost, "/api/boilers", map[string]any{
		"manufacturer": "Acme", "model": "Hydro 24", "fuelType": "gas", "efficiencyPct": 101,
	}, &me)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "out_of_range", errorKind(t, rr).Details.(map[string]any)["efficiencyPct"])

	rr = do(t, h.Create, http.MethodPost, "/api/boilers", map[string]any{
		"manufacturer": "Acme", "model": "Hydro 24", "fuelType": "gas", "efficiencyPct": 94, "erpRating": "a",
		"specifications": map[string]any{"flue": "60/100"},
	}, &me)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	b := decode[models.BoilerSpecification](t, rr)
	assert.Equal(t, "A", b.ErPRating)

	rr = do(t, h.Create, http.MethodPost, "/api/boilers", map[string]any{"manufacturer": "Acme", "model": "Hydro 24"}, &me)
	assert.Equal(t, http.StatusConflict, rr.Code)

	// The catalog is shared between accounts.
	rr = do(t, h.List, http.MethodGet, "/api/boilers?search=hydro", nil, &them)
	require.Equal(t, http.StatusOK, rr.Code)
	page := decode[httpx.Page[models.BoilerSpecification]](t, rr)
	require.Len(t, page.Data, 1)
	assert.Equal(t, b.ID, page.Data[0].ID)

	rr = do(t, h.Update, http.MethodPut, "/api/boilers/x", map[string]any{"outputKw": 24}, &me, "id", idStr(b.ID))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decode[models.BoilerSpecification](t, rr)
	require.NotNil(t, updated.OutputKW)
	assert.True(t, updated.OutputKW.Equal(decimal.NewFromInt(24)))
	assert.Equal(t, "60/100", updated.Specifications["flue"])

	rr = do(t, h.Delete, http.MethodDelete, "/api/boilers/x", nil, &me, "id", idStr(b.ID))
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, h.Get, http.MethodGet, "/api/boilers/x", nil, &me, "id", idStr(b.ID))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDashboardStats(t *testing.T) {
	f := newFixture(t)
	h := NewDashboardHandler(services.NewDashboardService(f.db))
	me := identityOf(f.admin)
	c := f.customer(t, f.account.ID, "Dash", "Board")
	f.customer(t, f.other.ID, "Other", "Tenant")
	require.NoError(t, f.db.Create(&models.Lead{AccountID: f.account.ID, CustomerID: c.ID, Title: "Open", Status: models.LeadNew, Priority: models.PriorityLow}).Error)

	rr := do(t, h.Stats, http.MethodGet, "/api/dashboard/stats", nil, &me)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	stats := decode[services.DashboardStats](t, rr)
	assert.EqualValues(t, 1, stats.Customers)
	assert.EqualValues(t, 1, stats.OpenLeads)
	assert.EqualValues(t, 1, stats.LeadsByStatus["new"])
}

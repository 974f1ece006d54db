package handlers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/diewo77/go-heatcrm/httpx"
	"github.com/diewo77/go-heatcrm/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createVisit(t *testing.T, f *fixture, h *VisitHandler, customerID uint) models.VisitSession {
	t.Helper()
	me := identityOf(f.admin)
	rr := do(t, h.Create, http.MethodPost, "/api/visits", map[string]any{"customerId": customerID, "notes": "Loft access via hatch"}, &me)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[models.VisitSession](t, rr)
}

func TestVisitCreateDefaults(t *testing.T) {
	f := newFixture(t)
	h := NewVisitHandler(f.db, newStore(t), f.audit)
	c := f.customer(t, f.account.ID, "Visit", "Customer")

	v := createVisit(t, f, h, c.ID)
	assert.Equal(t, f.admin.ID, v.SurveyorID)
	assert.Equal(t, models.VisitInProgress, v.Status)
	assert.False(t, v.StartedAt.IsZero())
	assert.Nil(t, v.ShareID)

	me := identityOf(f.admin)
	rr := do(t, h.Create, http.MethodPost, "/api/visits", map[string]any{"customerId": c.ID, "surveyorId": f.otherAdmin.ID}, &me)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "not_found", errorKind(t, rr).Details.(map[string]any)["surveyorId"])
}

func TestVisitShareAndPublicView(t *testing.T) {
	f := newFixture(t)
	h := NewVisitHandler(f.db, newStore(t), f.audit)
	me := identityOf(f.admin)
	c := models.Customer{AccountID: f.account.ID, FirstName: "Private", LastName: "Person", Email: "secret@example.test", Phone: "07700 900123", City: "Leeds"}
	require.NoError(t, f.db.Create(&c).Error)
	v := createVisit(t, f, h, c.ID)
	require.NoError(t, f.db.Create(&models.SurveyModule{VisitID: v.ID, ModuleType: models.ModuleBoiler, Status: models.ModulePending}).Error)

	rr := do(t, h.Share, http.MethodPost, "/api/visits/x/share", nil, &me, "id", idStr(v.ID))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	share := decode[shareResponse](t, rr)
	assert.Len(t, share.ShareID, 32)
	assert.True(t, strings.HasSuffix(share.Path, share.ShareID))

	rr = do(t, h.Share, http.MethodPost, "/api/visits/x/share", nil, &me, "id", idStr(v.ID))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, share.ShareID, decode[shareResponse](t, rr).ShareID, "share id is stable")

	rr = do(t, h.PublicView, http.MethodGet, "/api/public/view/x", nil, nil, "shareId", share.ShareID)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	view := decode[publicView](t, rr)
	assert.Equal(t, v.ID, view.Visit.ID)
	require.NotNil(t, view.Customer)
	assert.Equal(t, "Leeds", view.Customer.City)
	assert.Len(t, view.Modules, 1)
	assert.NotContains(t, rr.Body.String(), "secret@example.test")
	assert.NotContains(t, rr.Body.String(), "07700")
	assert.Contains(t, rr.Body.String(), `"media":[]`)

	rr = do(t, h.PublicView, http.MethodGet, "/api/public/view/x", nil, nil, "shareId", "not-a-real-share")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h.Unshare, http.MethodDelete, "/api/visits/x/share", nil, &me, "id", idStr(v.ID))
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, h.PublicView, http.MethodGet, "/api/public/view/x", nil, nil, "shareId", share.ShareID)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPublicMediaScopedToShare(t *testing.T) {
	f := newFixture(t)
	store := newStore(t)
	h := NewVisitHandler(f.db, store, f.audit)
	me := identityOf(f.admin)
	c := f.customer(t, f.account.ID, "Shared", "Home")
	shared := createVisit(t, f, h, c.ID)
	private := createVisit(t, f, h, c.ID)

	attach := func(visitID uint, filename, mimeType, body string) models.MediaAttachment {
		t.Helper()
		name, size, err := store.Save(filename, strings.NewReader(body))
		require.NoError(t, err)
		m := models.MediaAttachment{AccountID: f.account.ID, VisitID: &visitID, StoredName: name,
			OriginalName: filename, MimeType: mimeType, SizeBytes: size}
		require.NoError(t, f.db.Create(&m).Error)
		return m
	}
	photo := attach(shared.ID, "boiler.jpg", "image/jpeg", "jpeg bytes")
	drawing := attach(shared.ID, "plan.svg", "image/svg+xml", "<svg/>")
	hidden := attach(private.ID, "hidden.jpg", "image/jpeg", "private bytes")

	rr := do(t, h.Share, http.MethodPost, "/api/visits/x/share", nil, &me, "id", idStr(shared.ID))
	require.Equal(t, http.StatusCreated, rr.Code)
	sid := decode[shareResponse](t, rr).ShareID

	rr = do(t, h.PublicView, http.MethodGet, "/api/public/view/x", nil, nil, "shareId", sid)
	require.Equal(t, http.StatusOK, rr.Code)
	view := decode[publicView](t, rr)
	require.Len(t, view.Media, 2)
	assert.Equal(t, "/api/public/view/"+sid+"/media/"+idStr(photo.ID), view.Media[0].URL)

	rr = do(t, h.PublicMedia, http.MethodGet, view.Media[0].URL, nil, nil, "shareId", sid, "id", idStr(photo.ID))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "jpeg bytes", rr.Body.String())
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Disposition"), "inline"))

	rr = do(t, h.PublicMedia, http.MethodGet, "/x", nil, nil, "shareId", sid, "id", idStr(drawing.ID))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Disposition"), "attachment"), "svg is downloaded")

	for name, pv := range map[string][]string{
		"media of another visit": {"shareId", sid, "id", idStr(hidden.ID)},
		"unknown share":          {"shareId", "nope", "id", idStr(photo.ID)},
		"garbage id":             {"shareId", sid, "id", "abc"},
	} {
		t.Run(name, func(t *testing.T) {
			rr := do(t, h.PublicMedia, http.MethodGet, "/x", nil, nil, pv...)
			assert.Equal(t, http.StatusNotFound, rr.Code)
		})
	}

	rr = do(t, h.Unshare, http.MethodDelete, "/api/visits/x/share", nil, &me, "id", idStr(shared.ID))
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, h.PublicMedia, http.MethodGet, "/x", nil, nil, "shareId", sid, "id", idStr(photo.ID))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestVisitShareIsTenantScoped(t *testing.T) {
	f := newFixture(t)
	h := NewVisitHandler(f.db, newStore(t), f.audit)
	them := identityOf(f.otherAdmin)
	v := createVisit(t, f, h, f.customer(t, f.account.ID, "Visit", "Customer").ID)

	rr := do(t, h.Share, http.MethodPost, "/api/visits/x/share", nil, &them, "id", idStr(v.ID))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = do(t, h.Get, http.MethodGet, "/api/visits/x", nil, &them, "id", idStr(v.ID))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestVisitCompleteAndGet(t *testing.T) {
	f := newFixture(t)
	h := NewVisitHandler(f.db, newStore(t), f.audit)
	me := identityOf(f.admin)
	v := createVisit(t, f, h, f.customer(t, f.account.ID, "Visit", "Customer").ID)

	rr := do(t, h.Complete, http.MethodPost, "/api/visits/x/complete", nil, &me, "id", idStr(v.ID))
	require.Equal(t, http.StatusOK, rr.Code)
	done := decode[models.VisitSession](t, rr)
	assert.Equal(t, models.VisitCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	rr = do(t, h.Get, http.MethodGet, "/api/visits/x", nil, &me, "id", idStr(v.ID))
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[models.VisitSession](t, rr)
	require.NotNil(t, got.Customer)
	assert.Equal(t, "Visit", got.Customer.FirstName)

	rr = do(t, h.List, http.MethodGet, "/api/visits?status=completed", nil, &me)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[httpx.Page[models.VisitSession]](t, rr).Data, 1)
}

func TestVisitDeleteCascades(t *testing.T) {
	f := newFixture(t)
	store := newStore(t)
	h := NewVisitHandler(f.db, store, f.audit)
	me := identityOf(f.admin)
	c := f.customer(t, f.account.ID, "Visit", "Customer")
	v := createVisit(t, f, h, c.ID)

	name, _, err := store.Save("meter.jpg", strings.NewReader("jpeg"))
	require.NoError(t, err)
	media := models.MediaAttachment{AccountID: f.account.ID, VisitID: &v.ID, StoredName: name, MimeType: "image/jpeg"}
	require.NoError(t, f.db.Create(&media).Error)
	tr := models.Transcription{VisitID: v.ID, Text: "boiler is 15 years old", Source: models.SourceUpload, Status: models.TranscriptionCompleted}
	require.NoError(t, f.db.Create(&tr).Error)
	require.NoError(t, f.db.Create(&models.VisitObservation{VisitID: v.ID, TranscriptionID: &tr.ID, Category: "boiler", Label: "age", Value: "15", Source: models.ObservationAI}).Error)
	require.NoError(t, f.db.Create(&models.SurveyModule{VisitID: v.ID, ModuleType: models.ModuleGeneral, Status: models.ModulePending}).Error)

	rr := do(t, h.Delete, http.MethodDelete, "/api/visits/x", nil, &me, "id", idStr(v.ID))
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	for _, model := range []any{&models.VisitSession{}, &models.MediaAttachment{}, &models.Transcription{}, &models.VisitObservation{}, &models.SurveyModule{}} {
		var n int64
		require.NoError(t, f.db.Model(model).Count(&n).Error)
		assert.Zero(t, n, "%T rows left", model)
	}
	_, err = store.Open(name)
	assert.Error(t, err)

	var customers int64
	f.db.Model(&models.Customer{}).Where("id = ?", c.ID).Count(&customers)
	assert.EqualValues(t, 1, customers)
}

func TestModuleLifecycle(t *testing.T) {
	f := newFixture(t)
	vh := NewVisitHandler(f.db, newStore(t), f.audit)
	h := NewModuleHandler(f.db, f.audit)
	me := identityOf(f.admin)
	v := createVisit(t, f, vh, f.customer(t, f.account.ID, "Visit", "Customer").ID)
	vid := idStr(v.ID)

	rr := do(t, h.Create, http.MethodPost, "/api/visits/x/modules", map[string]any{"moduleType": ""}, &me, "id", vid)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "required", errorKind(t, rr).Details.(map[string]any)["moduleType"])
	rr = do(t, h.Create, http.MethodPost, "/api/visits/x/modules", map[string]any{"moduleType": "jacuzzi"}, &me, "id", vid)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h.Create, http.MethodPost, "/api/visits/x/modules", map[string]any{
		"moduleType": "boiler", "data": map[string]any{"make": "Worcester", "ageYears": 12},
	}, &me, "id", vid)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	m := decode[models.SurveyModule](t, rr)
	assert.Equal(t, models.ModulePending, m.Status)
	mid := idStr(m.ID)

	rr = do(t, h.Update, http.MethodPut, "/api/visits/x/modules/y", map[string]any{"data": map[string]any{"make": "Vaillant"}}, &me, "id", vid, "moduleId", mid)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decode[models.SurveyModule](t, rr)
	assert.Equal(t, "Vaillant", updated.Data["make"])
	assert.NotContains(t, updated.Data, "ageYears", "data is replaced, not merged")

	rr = do(t, h.Update, http.MethodPut, "/api/visits/x/modules/y", map[string]any{"sortOrder": 3}, &me, "id", vid, "moduleId", mid)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Vaillant", decode[models.SurveyModule](t, rr).Data["make"], "absent data keeps the stored value")

	rr = do(t, h.Complete, http.MethodPost, "/api/visits/x/modules/y/complete", nil, &me, "id", vid, "moduleId", mid)
	require.Equal(t, http.StatusOK, rr.Code)
	done := decode[models.SurveyModule](t, rr)
	assert.Equal(t, models.ModuleCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	rr = do(t, h.Update, http.MethodPut, "/api/visits/x/modules/y", map[string]any{"status": "in_progress"}, &me, "id", vid, "moduleId", mid)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Nil(t, decode[models.SurveyModule](t, rr).CompletedAt)

	rr = do(t, h.List, http.MethodGet, "/api/visits/x/modules", nil, &me, "id", vid)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]models.SurveyModule](t, rr), 1)

	them := identityOf(f.otherAdmin)
	rr = do(t, h.Get, http.MethodGet, "/api/visits/x/modules/y", nil, &them, "id", vid, "moduleId", mid)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h.Delete, http.MethodDelete, "/api/visits/x/modules/y", nil, &me, "id", vid, "moduleId", mid)
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, h.Get, http.MethodGet, "/api/visits/x/modules/y", nil, &me, "id", vid, "moduleId", mid)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

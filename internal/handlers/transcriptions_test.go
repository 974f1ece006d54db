package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/diewo77/go-heatcrm/internal/models"
	"github.com/diewo77/go-heatcrm/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenTranscriber struct{ stream.Placeholder }

func (brokenTranscriber) Transcribe(context.Context, io.Reader, string) (stream.Segment, error) {
	return stream.Segment{}, errors.New("provider unavailable")
}

type transcriptionFixture struct {
	*fixture
	h     *TranscriptionHandler
	visit models.VisitSession
	vid   string
}

func newTranscriptionFixture(t *testing.T, tr stream.Transcriber) *transcriptionFixture {
	t.Helper()
	f := newFixture(t)
	c := f.customer(t, f.account.ID, "Transcribed", "Customer")
	v := models.VisitSession{AccountID: f.account.ID, CustomerID: c.ID, SurveyorID: f.admin.ID, Status: models.VisitInProgress, StartedAt: time.Now().UTC()}
	require.NoError(t, f.db.Create(&v).Error)
	hub := stream.NewHub(time.Minute, tr)
	t.Cleanup(hub.CloseAll)
	h := NewTranscriptionHandler(f.db, newStore(t), 1<<20, tr, stream.Placeholder{}, hub, f.audit)
	return &transcriptionFixture{fixture: f, h: h, visit: v, vid: idStr(v.ID)}
}

func TestTranscriptionFromText(t *testing.T) {
	tf := newTranscriptionFixture(t, stream.Placeholder{})
	me := identityOf(tf.admin)

	rr := do(t, tf.h.Create, http.MethodPost, "/api/visits/x/transcriptions", map[string]string{"text": "  "}, &me, "id", tf.vid)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, tf.h.Create, http.MethodPost, "/api/visits/x/transcriptions", map[string]string{
		"text": "Combi boiler, about fifteen years old, eight radiators.", "language": "en",
	}, &me, "id", tf.vid)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	tr := decode[models.Transcription](t, rr)
	assert.Equal(t, models.SourceUpload, tr.Source)
	assert.Equal(t, models.TranscriptionCompleted, tr.Status)

	rr = do(t, tf.h.List, http.MethodGet, "/api/visits/x/transcriptions", nil, &me, "id", tf.vid)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]models.Transcription](t, rr), 1)

	them := identityOf(tf.otherAdmin)
	rr = do(t, tf.h.List, http.MethodGet, "/api/visits/x/transcriptions", nil, &them, "id", tf.vid)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestTranscriptionFromAudio(t *testing.T) {
	tf := newTranscriptionFixture(t, stream.Placeholder{})
	me := identityOf(tf.admin)

	rr := upload(t, tf.h.Create, me, "audio", "walkround.webm", "audio/webm", []byte("webm frames"), nil, "id", tf.vid)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	tr := decode[models.Transcription](t, rr)
	assert.Equal(t, models.TranscriptionCompleted, tr.Status)
	assert.NotEmpty(t, tr.Text)
	require.NotNil(t, tr.AudioMediaID)

	var m models.MediaAttachment
	require.NoError(t, tf.db.First(&m, *tr.AudioMediaID).Error)
	require.NotNil(t, m.VisitID)
	assert.Equal(t, tf.visit.ID, *m.VisitID)
	assert.Equal(t, "audio/webm", m.MimeType)

	rr = upload(t, tf.h.Create, me, "audio", "photo.jpg", "image/jpeg", []byte("jpeg"), nil, "id", tf.vid)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "unsupported_type", errorKind(t, rr).Details.(map[string]any)["audio"])
	var media int64
	tf.db.Model(&models.MediaAttachment{}).Count(&media)
	assert.EqualValues(t, 1, media, "rejected upload leaves no row")
}

func TestTranscriptionProviderFailureIsRecorded(t *testing.T) {
	tf := newTranscriptionFixture(t, brokenTranscriber{})
	me := identityOf(tf.admin)

	rr := upload(t, tf.h.Create, me, "audio", "memo.m4a", "audio/mp4", []byte("m4a"), nil, "id", tf.vid)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	tr := decode[models.Transcription](t, rr)
	assert.Equal(t, models.TranscriptionFailed, tr.Status)

	rr = do(t, tf.h.Extract, http.MethodPost, "/api/visits/x/transcriptions/y/extract", nil, &me, "id", tf.vid, "tid", idStr(tr.ID))
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestExtractAndObservations(t *testing.T) {
	tf := newTranscriptionFixture(t, stream.Placeholder{})
	me := identityOf(tf.admin)
	rr := do(t, tf.h.Create, http.MethodPost, "/api/visits/x/transcriptions", map[string]string{"text": "Combi, fifteen years."}, &me, "id", tf.vid)
	require.Equal(t, http.StatusCreated, rr.Code)
	tr := decode[models.Transcription](t, rr)

	rr = do(t, tf.h.Extract, http.MethodPost, "/api/visits/x/transcriptions/y/extract", nil, &me, "id", tf.vid, "tid", idStr(tr.ID))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	found := decode[[]models.VisitObservation](t, rr)
	require.NotEmpty(t, found)
	for _, o := range found {
		assert.Equal(t, models.ObservationAI, o.Source)
		require.NotNil(t, o.TranscriptionID)
		assert.Equal(t, tr.ID, *o.TranscriptionID)
	}

	rr = do(t, tf.h.CreateObservation, http.MethodPost, "/api/visits/x/observations", map[string]any{
		"category": "boiler", "label": "Flue", "value": "horizontal", "confidence": 1.5,
	}, &me, "id", tf.vid)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "out_of_range", errorKind(t, rr).Details.(map[string]any)["confidence"])

	rr = do(t, tf.h.CreateObservation, http.MethodPost, "/api/visits/x/observations", map[string]any{
		"category": "property", "label": "Loft insulation", "value": "270", "unit": "mm", "confidence": 1,
	}, &me, "id", tf.vid)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	manual := decode[models.VisitObservation](t, rr)
	assert.Equal(t, models.ObservationManual, manual.Source)

	rr = do(t, tf.h.ListObservations, http.MethodGet, "/api/visits/x/observations?category=property", nil, &me, "id", tf.vid)
	require.Equal(t, http.StatusOK, rr.Code)
	for _, o := range decode[[]models.VisitObservation](t, rr) {
		assert.Equal(t, "property", o.Category)
	}

	rr = do(t, tf.h.DeleteObservation, http.MethodDelete, "/api/visits/x/observations/y", nil, &me, "id", tf.vid, "oid", idStr(manual.ID))
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, tf.h.DeleteObservation, http.MethodDelete, "/api/visits/x/observations/y", nil, &me, "id", tf.vid, "oid", idStr(manual.ID))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/diewo77/go-heatcrm/httpx"
	"github.com/diewo77/go-heatcrm/internal/models"
	"github.com/diewo77/go-heatcrm/internal/services"
	"github.com/diewo77/go-heatcrm/internal/storage"
	"github.com/diewo77/go-heatcrm/internal/stream"
	"github.com/diewo77/go-heatcrm/validation"
	"gorm.io/gorm"
)

// TranscriptionHandler covers a visit's transcriptions, the observations
// extracted from them and the live transcription socket.
type TranscriptionHandler struct {
	db          *gorm.DB
	up          uploader
	transcriber stream.Transcriber
	extractor   stream.Extractor
	hub         *stream.Hub
	audit       *services.AuditRecorder
}

func NewTranscriptionHandler(db *gorm.DB, store storage.Store, maxBytes int64, t stream.Transcriber, e stream.Extractor, hub *stream.Hub, audit *services.AuditRecorder) *TranscriptionHandler {
	return &TranscriptionHandler{
		db:          db,
		up:          uploader{store: store, maxBytes: maxBytes},
		transcriber: t,
		extractor:   e,
		hub:         hub,
		audit:       audit,
	}
}

type transcriptionRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Create stores a transcription from either a multipart "audio" upload,
// which is run through the transcriber, or a JSON body carrying the text.
func (h *TranscriptionHandler) Create(w http.ResponseWriter, r *http.Request) error {
	tx := h.db.WithContext(r.Context())
	visit, err := loadVisit(tx, r)
	if err != nil {
		return err
	}
	var t *models.Transcription
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		t, err = h.fromAudio(w, r, visit)
	} else {
		t, err = h.fromText(r, visit)
	}
	if err != nil {
		return err
	}
	record(h.audit, r, services.ActionCreate, "transcription", t.ID, map[string]any{"source": t.Source, "status": t.Status})
	httpx.JSON(w, http.StatusCreated, t)
	return nil
}

func (h *TranscriptionHandler) fromText(r *http.Request, visit *models.VisitSession) (*models.Transcription, error) {
	var req transcriptionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return nil, err
	}
	v := validation.Violations{}
	validation.Required("text", req.Text, v)
	if err := violations(v); err != nil {
		return nil, err
	}
	t := models.Transcription{
		VisitID:  visit.ID,
		Text:     strings.TrimSpace(req.Text),
		Language: req.Language,
		Source:   models.SourceUpload,
		Status:   models.TranscriptionCompleted,
	}
	if err := h.db.WithContext(r.Context()).Create(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// fromAudio keeps the audio as a media attachment of the visit. A provider
// failure is recorded on the transcription rather than failing the upload.
func (h *TranscriptionHandler) fromAudio(w http.ResponseWriter, r *http.Request, visit *models.VisitSession) (*models.Transcription, error) {
	id, err := identity(r)
	if err != nil {
		return nil, err
	}
	if err := h.up.parse(w, r); err != nil {
		return nil, err
	}
	tx := h.db.WithContext(r.Context())
	visitID, customerID := visit.ID, visit.CustomerID
	m, err := h.up.save(tx, r, "audio", models.MediaAttachment{
		AccountID:    visit.AccountID,
		VisitID:      &visitID,
		CustomerID:   &customerID,
		UploadedByID: id.UserID,
	})
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(m.MimeType, "audio/") && !strings.HasPrefix(m.MimeType, "video/") {
		tx.Delete(m)
		removeFiles(h.up.store, []string{m.StoredName})
		return nil, httpx.Validation(map[string]string{"audio": "unsupported_type"})
	}

	t := models.Transcription{
		VisitID:      visit.ID,
		AudioMediaID: &m.ID,
		Source:       models.SourceUpload,
		Status:       models.TranscriptionPending,
	}
	if err := tx.Create(&t).Error; err != nil {
		return nil, err
	}
	seg, err := h.transcribe(r, m)
	if err != nil {
		t.Status = models.TranscriptionFailed
	} else {
		t.Status = models.TranscriptionCompleted
		t.Text = seg.Text
		t.Language = seg.Language
		t.DurationSec = seg.DurationSec
		t.Confidence = seg.Confidence
	}
	if err := tx.Save(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (h *TranscriptionHandler) transcribe(r *http.Request, m *models.MediaAttachment) (stream.Segment, error) {
	f, err := h.up.store.Open(m.StoredName)
	if err != nil {
		return stream.Segment{}, err
	}
	defer f.Close()
	return h.transcriber.Transcribe(r.Context(), f, m.MimeType)
}

func (h *TranscriptionHandler) List(w http.ResponseWriter, r *http.Request) error {
	tx := h.db.WithContext(r.Context())
	visit, err := loadVisit(tx, r)
	if err != nil {
		return err
	}
	out := []models.Transcription{}
	if err := tx.Where("visit_id = ?", visit.ID).Order("created_at, id").Find(&out).Error; err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, out)
	return nil
}

// Extract runs the extractor over a transcription and stores each result
// as an ai observation.
func (h *TranscriptionHandler) Extract(w http.ResponseWriter, r *http.Request) error {
	tx := h.db.WithContext(r.Context())
	visit, err := loadVisit(tx, r)
	if err != nil {
		return err
	}
	tid, err := pathID(r, "tid", "transcription")
	if err != nil {
		return err
	}
	var t models.Transcription
	if err := tx.Where("id = ? AND visit_id = ?", tid, visit.ID).First(&t).Error; err != nil {
		return dbError(err, "transcription")
	}
	if t.Status != models.TranscriptionCompleted {
		return httpx.Conflict("transcription is not completed")
	}
	found, err := h.extractor.Extract(r.Context(), t.Text)
	if err != nil {
		return err
	}
	obs := make([]models.VisitObservation, 0, len(found))
	for _, o := range found {
		obs = append(obs, models.VisitObservation{
			VisitID:         visit.ID,
			TranscriptionID: &t.ID,
			Category:        o.Category,
			Label:           o.Label,
			Value:           o.Value,
			Unit:            o.Unit,
			Confidence:      o.Confidence,
			Source:          models.ObservationAI,
		})
	}
	if len(obs) > 0 {
		if err := tx.Create(&obs).Error; err != nil {
			return err
		}
	}
	httpx.JSON(w, http.StatusCreated, obs)
	return nil
}

func (h *TranscriptionHandler) ListObservations(w http.ResponseWriter, r *http.Request) error {
	tx := h.db.WithContext(r.Context())
	visit, err := loadVisit(tx, r)
	if err != nil {
		return err
	}
	out := []models.VisitObservation{}
	q := tx.Where("visit_id = ?", visit.ID)
	if c := r.URL.Query().Get("category"); c != "" {
		q = q.Where("category = ?", c)
	}
	if err := q.Order("id").Find(&out).Error; err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, out)
	return nil
}

type observationRequest struct {
	Category   string  `json:"category"`
	Label      string  `json:"label"`
	Value      string  `json:"value"`
	Unit       string  `json:"unit"`
	Confidence float64 `json:"confidence"`
}

// CreateObservation records a manually entered observation.
func (h *TranscriptionHandler) CreateObservation(w http.ResponseWriter, r *http.Request) error {
	tx := h.db.WithContext(r.Context())
	visit, err := loadVisit(tx, r)
	if err != nil {
		return err
	}
	var req observationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return err
	}
	v := validation.Violations{}
	validation.Required("category", req.Category, v)
	validation.Required("label", req.Label, v)
	validation.RangeFloat("confidence", req.Confidence, 0, 1, v)
	if err := violations(v); err != nil {
		return err
	}
	o := models.VisitObservation{
		VisitID:    visit.ID,
		Category:   strings.TrimSpace(req.Category),
		Label:      strings.TrimSpace(req.Label),
		Value:      req.Value,
		Unit:       req.Unit,
		Confidence: req.Confidence,
		Source:     models.ObservationManual,
	}
	if err := tx.Create(&o).Error; err != nil {
		return err
	}
	httpx.JSON(w, http.StatusCreated, o)
	return nil
}

func (h *TranscriptionHandler) DeleteObservation(w http.ResponseWriter, r *http.Request) error {
	tx := h.db.WithContext(r.Context())
	visit, err := loadVisit(tx, r)
	if err != nil {
		return err
	}
	oid, err := pathID(r, "oid", "observation")
	if err != nil {
		return err
	}
	res := tx.Where("id = ? AND visit_id = ?", oid, visit.ID).Delete(&models.VisitObservation{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return httpx.NotFound("observation")
	}
	httpx.NoContent(w)
	return nil
}

// Live upgrades to the live transcription socket. The finished transcript
// is stored as a live transcription of the visit.
func (h *TranscriptionHandler) Live(w http.ResponseWriter, r *http.Request) error {
	visit, err := loadVisit(h.db.WithContext(r.Context()), r)
	if err != nil {
		return err
	}
	visitID := visit.ID
	h.hub.Serve(w, r, func(ctx context.Context, text string, elapsed time.Duration) (uint, error) {
		t := models.Transcription{
			VisitID:     visitID,
			Text:        text,
			Source:      models.SourceLive,
			Status:      models.TranscriptionCompleted,
			DurationSec: elapsed.Seconds(),
		}
		if err := h.db.WithContext(ctx).Create(&t).Error; err != nil {
			return 0, err
		}
		return t.ID, nil
	})
	return nil
}

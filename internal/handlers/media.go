package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/diewo77/go-heatcrm/httpx"
	"github.com/diewo77/go-heatcrm/internal/models"
	"github.com/diewo77/go-heatcrm/internal/services"
	"github.com/diewo77/go-heatcrm/internal/storage"
	"github.com/diewo77/go-heatcrm/validation"
	"gorm.io/gorm"
)

// multipartOverhead is allowed on top of the file limit for form fields and
// part headers.
const multipartOverhead = 1 << 20

// uploader parses multipart bodies and persists one file as a media row.
type uploader struct {
	store    storage.Store
	maxBytes int64
}

func (u uploader) parse(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, u.maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return httpx.Validation(map[string]string{"file": "too_large"})
		}
		return httpx.Validation(map[string]string{"body": "invalid_multipart"})
	}
	return nil
}

// save stores the form file named field and inserts m describing it. The
// file is removed again when the row cannot be written.
func (u uploader) save(tx *gorm.DB, r *http.Request, field string, m models.MediaAttachment) (*models.MediaAttachment, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, httpx.Validation(map[string]string{field: "required"})
	}
	defer file.Close()
	mimeType, err := storage.DetectType(header.Header.Get("Content-Type"), header.Filename)
	if err != nil {
		return nil, httpx.Validation(map[string]string{field: "unsupported_type"})
	}
	if header.Size > u.maxBytes {
		return nil, httpx.Validation(map[string]string{field: "too_large"})
	}
	name, size, err := u.store.Save(header.Filename, file)
	if errors.Is(err, storage.ErrTooLarge) {
		return nil, httpx.Validation(map[string]string{field: "too_large"})
	}
	if err != nil {
		return nil, err
	}
	m.StoredName = name
	m.OriginalName = header.Filename
	m.MimeType = mimeType
	m.SizeBytes = size
	if err := tx.Create(&m).Error; err != nil {
		removeFiles(u.store, []string{name})
		return nil, err
	}
	return &m, nil
}

// removeFiles deletes stored files after their rows are gone. Failures only
// leave orphaned files, so they are logged.
func removeFiles(store storage.Store, names []string) {
	if store == nil {
		return
	}
	for _, name := range names {
		if err := store.Remove(name); err != nil {
			slog.Warn("remove stored file", "name", name, "error", err)
		}
	}
}

type MediaHandler struct {
	db    *gorm.DB
	up    uploader
	audit *services.AuditRecorder
}

func NewMediaHandler(db *gorm.DB, store storage.Store, maxBytes int64, audit *services.AuditRecorder) *MediaHandler {
	return &MediaHandler{db: db, up: uploader{store: store, maxBytes: maxBytes}, audit: audit}
}

func formUint(r *http.Request, key string) (*uint, error) {
	v := strings.TrimSpace(r.FormValue(key))
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

// Upload accepts multipart field "file" with optional visitId, customerId
// and caption.
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) error {
	id, err := identity(r)
	if err != nil {
		return err
	}
	if err := h.up.parse(w, r); err != nil {
		return err
	}
	visitID, err := formUint(r, "visitId")
	if err != nil {
		return err
	}
	customerID, err := formUint(r, "customerId")
	if err != nil {
		return err
	}
	tx := h.db.WithContext(r.Context())
	v := validation.Violations{}
	if err := checkRef(tx, &models.VisitSession{}, id.AccountID, visitID, "visitId", v); err != nil {
		return err
	}
	if err := checkRef(tx, &models.Customer{}, id.AccountID, customerID, "customerId", v); err != nil {
		return err
	}
	if err := violations(v); err != nil {
		return err
	}
	m, err := h.up.save(tx, r, "file", models.MediaAttachment{
		AccountID:    id.AccountID,
		VisitID:      visitID,
		CustomerID:   customerID,
		Caption:      strings.TrimSpace(r.FormValue("caption")),
		UploadedByID: id.UserID,
	})
	if err != nil {
		return err
	}
	record(h.audit, r, services.ActionCreate, "media", m.ID, map[string]any{"mimeType": m.MimeType, "size": m.SizeBytes})
	httpx.JSON(w, http.StatusCreated, m)
	return nil
}

func (h *MediaHandler) List(w http.ResponseWriter, r *http.Request) error {
	id, err := identity(r)
	if err != nil {
		return err
	}
	p, err := httpx.ParsePage(r)
	if err != nil {
		return err
	}
	q := h.db.WithContext(r.Context()).Model(&models.MediaAttachment{}).Where("account_id = ?", id.AccountID)
	visitID, err := queryUint(r, "visitId")
	if err != nil {
		return err
	}
	if visitID != nil {
		q = q.Where("visit_id = ?", *visitID)
	}
	customerID, err := queryUint(r, "customerId")
	if err != nil {
		return err
	}
	if customerID != nil {
		q = q.Where("customer_id = ?", *customerID)
	}
	page, err := paginate[models.MediaAttachment](q, p, func(q *gorm.DB) *gorm.DB {
		return q.Order("created_at DESC, id DESC")
	})
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, page)
	return nil
}

func (h *MediaHandler) load(r *http.Request) (*models.MediaAttachment, error) {
	m, _, err := loadScoped[models.MediaAttachment](h.db.WithContext(r.Context()), r, "media")
	return m, err
}

func (h *MediaHandler) Get(w http.ResponseWriter, r *http.Request) error {
	m, err := h.load(r)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, m)
	return nil
}

// File streams the stored bytes with the recorded content type.
func (h *MediaHandler) File(w http.ResponseWriter, r *http.Request) error {
	m, err := h.load(r)
	if err != nil {
		return err
	}
	return serveMedia(w, r, h.up.store, m)
}

// serveMedia writes the stored file of m. Types a browser could execute as
// a document are sent as attachments.
func serveMedia(w http.ResponseWriter, r *http.Request, store storage.Store, m *models.MediaAttachment) error {
	f, err := store.Open(m.StoredName)
	if errors.Is(err, storage.ErrNotFound) {
		return httpx.NotFound("media file")
	}
	if err != nil {
		return err
	}
	defer f.Close()
	disposition := "attachment"
	if storage.InlineSafe(m.MimeType) {
		disposition = "inline"
	}
	w.Header().Set("Content-Type", m.MimeType)
	w.Header().Set("Content-Disposition", disposition+`; filename="`+strings.ReplaceAll(m.OriginalName, `"`, "")+`"`)
	w.Header().Set("Content-Security-Policy", "sandbox")
	http.ServeContent(w, r, m.OriginalName, m.UpdatedAt, f)
	return nil
}

func (h *MediaHandler) Delete(w http.ResponseWriter, r *http.Request) error {
	m, err := h.load(r)
	if err != nil {
		return err
	}
	err = h.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Transcription{}).Where("audio_media_id = ?", m.ID).Update("audio_media_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(m).Error
	})
	if err != nil {
		return err
	}
	removeFiles(h.up.store, []string{m.StoredName})
	record(h.audit, r, services.ActionDelete, "media", m.ID, nil)
	httpx.NoContent(w)
	return nil
}

type annotateRequest struct {
	Annotations map[string]any `json:"annotations"`
	Caption     *string        `json:"caption"`
}

// Annotate replaces the annotations and, when given, the caption.
func (h *MediaHandler) Annotate(w http.ResponseWriter, r *http.Request) error {
	m, err := h.load(r)
	if err != nil {
		return err
	}
	var req annotateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return err
	}
	if req.Annotations == nil && req.Caption == nil {
		return httpx.Validation(map[string]string{"annotations": "required"})
	}
	updates := map[string]any{}
	if req.Annotations != nil {
		m.Annotations = req.Annotations
		updates["annotations"] = m.Annotations
	}
	if req.Caption != nil {
		m.Caption = strings.TrimSpace(*req.Caption)
		updates["caption"] = m.Caption
	}
	if err := h.db.WithContext(r.Context()).Model(m).Updates(updates).Error; err != nil {
		return err
	}
	record(h.audit, r, services.ActionUpdate, "media", m.ID, map[string]any{"annotated": true})
	httpx.JSON(w, http.StatusOK, m)
	return nil
}

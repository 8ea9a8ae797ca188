package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kimhsiao/fieldsync/backend/internal/connectivity"
	"github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

// Handler serves the REST routes over a Service.
type Handler struct {
	svc       Service
	logger    *logging.Logger
	maxUpload int64
}

type createdResponse struct {
	ID   models.UUID `json:"id"`
	Tipo models.Kind `json:"tipo"`
}

type errorResponse struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

// =====================================================
// Health and status
// =====================================================

// Health handles GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"online": h.svc.Monitor().Online(),
	})
}

// GetStatus handles GET /api/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Status(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ListPending handles GET /api/pending.
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.svc.GetPending(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

// SyncNow handles POST /api/sync. It waits for the drain to finish.
func (h *Handler) SyncNow(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.SyncNow(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Cleanup handles POST /api/cleanup?days=N. Without days the configured
// retention is used.
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	days := h.svc.Config().RetentionDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, r, errors.Newf(errors.ErrInvalid, "days must be an integer, got %q", v))
			return
		}
		days = n
	}
	report, err := h.svc.Cleanup(r.Context(), days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// SetConnectivity handles PUT /api/connectivity. The platform shell calls
// it to forward its own network callbacks; it only works when the core
// was built with a manual monitor.
func (h *Handler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Online == nil {
		h.writeError(w, r, errors.New(errors.ErrInvalid, "body must be {\"online\": bool}"))
		return
	}
	manual, ok := h.svc.Monitor().(*connectivity.Manual)
	if !ok {
		h.writeError(w, r, errors.New(errors.ErrConflict, "connectivity is detected automatically"))
		return
	}
	changed := manual.SetOnline(*req.Online)
	writeJSON(w, http.StatusOK, map[string]bool{"online": *req.Online, "changed": changed})
}

// =====================================================
// Entity creation
// =====================================================

// CreateVisit handles POST /api/visitas.
func (h *Handler) CreateVisit(w http.ResponseWriter, r *http.Request) {
	var v models.Visit
	if !h.decode(w, r, &v) {
		return
	}
	id, err := h.svc.CreateVisit(r.Context(), &v)
	h.created(w, r, models.KindVisita, id, err)
}

// CreateAction handles POST /api/acciones.
func (h *Handler) CreateAction(w http.ResponseWriter, r *http.Request) {
	var a models.Action
	if !h.decode(w, r, &a) {
		return
	}
	id, err := h.svc.CreateAction(r.Context(), &a)
	h.created(w, r, models.KindAccion, id, err)
}

// CreatePhoto handles POST /api/fotos. The body is multipart with a JSON
// "metadata" field and the image in "file".
func (h *Handler) CreatePhoto(w http.ResponseWriter, r *http.Request) {
	var p models.Photo
	data, ok := h.readUpload(w, r, &p)
	if !ok {
		return
	}
	id, err := h.svc.CreatePhoto(r.Context(), &p, data)
	h.created(w, r, models.KindFoto, id, err)
}

// CreateAudio handles POST /api/audios, shaped like CreatePhoto.
func (h *Handler) CreateAudio(w http.ResponseWriter, r *http.Request) {
	var a models.Audio
	data, ok := h.readUpload(w, r, &a)
	if !ok {
		return
	}
	id, err := h.svc.CreateAudio(r.Context(), &a, data)
	h.created(w, r, models.KindAudio, id, err)
}

func (h *Handler) created(w http.ResponseWriter, r *http.Request, kind models.Kind, id models.UUID, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{ID: id, Tipo: kind})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, r, errors.Wrap(errors.ErrInvalid, "invalid json", err))
		return false
	}
	return true
}

// readUpload parses the multipart body into meta and returns the file bytes.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request, meta any) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		h.writeError(w, r, errors.Wrap(errors.ErrInvalid, "invalid multipart body", err))
		return nil, false
	}
	defer r.MultipartForm.RemoveAll()

	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), meta); err != nil {
			h.writeError(w, r, errors.Wrap(errors.ErrInvalid, "invalid metadata", err))
			return nil, false
		}
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, errors.Wrap(errors.ErrInvalid, "file is required", err))
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, r, errors.Wrap(errors.ErrInvalid, "read file", err))
		return nil, false
	}
	return data, true
}

// =====================================================
// Lookups and retry
// =====================================================

// GetEntity handles GET /api/entities/{tipo}/{id}.
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := h.entityRef(w, r)
	if !ok {
		return
	}
	e, err := h.svc.Get(r.Context(), kind, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// Retry handles POST /api/retry/{tipo}/{id}.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := h.entityRef(w, r)
	if !ok {
		return
	}
	item, err := h.svc.Retry(r.Context(), kind, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, item)
}

func (h *Handler) entityRef(w http.ResponseWriter, r *http.Request) (models.Kind, models.UUID, bool) {
	kind, err := models.ParseKind(chi.URLParam(r, "tipo"))
	if err != nil {
		h.writeError(w, r, errors.Wrap(errors.ErrInvalid, "invalid tipo", err))
		return "", "", false
	}
	return kind, models.UUID(chi.URLParam(r, "id")), true
}

// =====================================================
// Blobs
// =====================================================

// CreateObjectURL handles POST /api/objects/{tipo}/{id} and returns a
// display URL for the attachment's blob.
func (h *Handler) CreateObjectURL(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := h.entityRef(w, r)
	if !ok {
		return
	}
	url, err := h.svc.ObjectURL(r.Context(), kind, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// GetObject handles GET /api/objects?url=... and streams the blob.
func (h *Handler) GetObject(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.OpenObject(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", b.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(int64(len(b.Data)), 10))
	w.Header().Set("ETag", fmt.Sprintf("%q", b.Hash))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b.Data)
}

// GetThumbnail handles GET /api/fotos/{id}/thumbnail.
func (h *Handler) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	thumb, err := h.svc.Thumbnail(r.Context(), models.UUID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(thumb)
}

// =====================================================
// Responses
// =====================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", err, map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		})
	}
	writeJSON(w, status, errorResponse{Code: code, Message: err.Error()})
}

// statusFor maps an error code to an HTTP status.
func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrInvalid:
		return http.StatusBadRequest
	case errors.ErrNotFound, errors.ErrBlobAbsent:
		return http.StatusNotFound
	case errors.ErrConflict, errors.ErrSyncInProgress:
		return http.StatusConflict
	case errors.ErrSyncOffline, errors.ErrSyncNotConfigured:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

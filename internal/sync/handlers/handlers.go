// Package handlers pushes each entity kind to the field-sales backend.
//
// Every request carries the tenant in X-Organization-Id and the local
// entity id as Idempotency-Key, so a dispatch repeated after a crash or a
// lost response does not create a duplicate on the server.
package handlers

import (
	"context"
	"net/http"

	"github.com/gabriel-vasile/mimetype"

	"github.com/kimhsiao/fieldsync/backend/internal/blob"
	"github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
	"github.com/kimhsiao/fieldsync/backend/internal/remote"
	syncengine "github.com/kimhsiao/fieldsync/backend/internal/sync"
)

// Remote API paths.
const (
	PathVisits  = "/visitas"
	PathActions = "/acciones"
	PathPhoto   = "/evidencias/foto"
	PathAudio   = "/evidencias/audio"
)

const (
	HeaderOrganization = "X-Organization-Id"
	HeaderIdempotency  = "Idempotency-Key"
)

// Poster sends requests to the remote API. *remote.Client implements it.
type Poster interface {
	PostJSON(ctx context.Context, path string, headers http.Header, in, out any) error
	PostMultipart(ctx context.Context, path string, headers http.Header, parts []remote.Part, out any) error
}

// Records loads the entity behind a queue item. *store.Store implements it.
type Records interface {
	GetVisit(ctx context.Context, id models.UUID) (*models.Visit, error)
	GetAction(ctx context.Context, id models.UUID) (*models.Action, error)
	GetPhoto(ctx context.Context, id models.UUID) (*models.Photo, error)
	GetAudio(ctx context.Context, id models.UUID) (*models.Audio, error)
}

// Blobs loads attachment payloads. *blob.Store implements it.
type Blobs interface {
	Get(ctx context.Context, kind models.Kind, id models.UUID) (*blob.Blob, error)
}

// All returns one handler per kind.
func All(client Poster, records Records, blobs Blobs) []syncengine.Handler {
	return []syncengine.Handler{
		NewVisitHandler(client, records),
		NewActionHandler(client, records),
		NewPhotoHandler(client, records, blobs),
		NewAudioHandler(client, records, blobs),
	}
}

func headers(item *models.SyncQueueItem) http.Header {
	h := make(http.Header)
	h.Set(HeaderOrganization, item.OrganizationID)
	h.Set(HeaderIdempotency, item.EntityID.String())
	return h
}

type idResponse struct {
	ID string `json:"id"`
}

type uploadResponse struct {
	URL           string `json:"url"`
	Transcripcion string `json:"transcripcion,omitempty"`
}

// VisitHandler posts visits as JSON.
type VisitHandler struct {
	client  Poster
	records Records
}

// NewVisitHandler creates a VisitHandler.
func NewVisitHandler(client Poster, records Records) *VisitHandler {
	return &VisitHandler{client: client, records: records}
}

func (h *VisitHandler) Kind() models.Kind { return models.KindVisita }

type visitPayload struct {
	ID             models.UUID            `json:"id"`
	OrganizationID string                 `json:"organizationId"`
	ClienteID      models.UUID            `json:"clienteId"`
	VendedorID     string                 `json:"vendedorId"`
	Fecha          int64                  `json:"fecha"`
	Tipo           string                 `json:"tipo"`
	Estado         string                 `json:"estado"`
	Notas          string                 `json:"notas,omitempty"`
	Ubicacion      *models.GeoPoint       `json:"ubicacion,omitempty"`
	Checklist      map[string]interface{} `json:"checklist,omitempty"`
	FotoIDs        []models.UUID          `json:"fotoIds"`
	AudioIDs       []models.UUID          `json:"audioIds"`
	Duracion       int                    `json:"duracion"`
	CreatedAt      int64                  `json:"createdAt"`
}

func (h *VisitHandler) Sync(ctx context.Context, item *models.SyncQueueItem) (*syncengine.Result, error) {
	v, err := h.records.GetVisit(ctx, item.EntityID)
	if err != nil {
		return nil, err
	}
	payload := visitPayload{
		ID:             v.ID,
		OrganizationID: v.OrganizationID,
		ClienteID:      v.ClienteID,
		VendedorID:     v.VendedorID,
		Fecha:          v.Fecha,
		Tipo:           v.Tipo,
		Estado:         v.Estado,
		Notas:          v.Notas,
		Ubicacion:      v.Ubicacion,
		Checklist:      v.Checklist,
		FotoIDs:        nonNil(v.FotoIDs),
		AudioIDs:       nonNil(v.AudioIDs),
		Duracion:       v.Duracion,
		CreatedAt:      v.CreatedAt,
	}

	var resp idResponse
	if err := h.client.PostJSON(ctx, PathVisits, headers(item), payload, &resp); err != nil {
		return nil, err
	}
	return &syncengine.Result{RemoteID: resp.ID}, nil
}

// ActionHandler posts commercial actions as JSON.
type ActionHandler struct {
	client  Poster
	records Records
}

// NewActionHandler creates an ActionHandler.
func NewActionHandler(client Poster, records Records) *ActionHandler {
	return &ActionHandler{client: client, records: records}
}

func (h *ActionHandler) Kind() models.Kind { return models.KindAccion }

type actionPayload struct {
	ID             models.UUID   `json:"id"`
	OrganizationID string        `json:"organizationId"`
	ClienteID      models.UUID   `json:"clienteId"`
	VisitaID       models.UUID   `json:"visitaId,omitempty"`
	Tipo           string        `json:"tipo"`
	Descripcion    string        `json:"descripcion"`
	Monto          float64       `json:"monto"`
	Fecha          int64         `json:"fecha"`
	Estado         string        `json:"estado"`
	FotoIDs        []models.UUID `json:"fotoIds"`
	CreatedAt      int64         `json:"createdAt"`
}

func (h *ActionHandler) Sync(ctx context.Context, item *models.SyncQueueItem) (*syncengine.Result, error) {
	a, err := h.records.GetAction(ctx, item.EntityID)
	if err != nil {
		return nil, err
	}
	payload := actionPayload{
		ID:             a.ID,
		OrganizationID: a.OrganizationID,
		ClienteID:      a.ClienteID,
		VisitaID:       a.VisitaID,
		Tipo:           a.Tipo,
		Descripcion:    a.Descripcion,
		Monto:          a.Monto,
		Fecha:          a.Fecha,
		Estado:         a.Estado,
		FotoIDs:        nonNil(a.FotoIDs),
		CreatedAt:      a.CreatedAt,
	}

	var resp idResponse
	if err := h.client.PostJSON(ctx, PathActions, headers(item), payload, &resp); err != nil {
		return nil, err
	}
	return &syncengine.Result{RemoteID: resp.ID}, nil
}

// PhotoHandler uploads a photo blob with its metadata.
type PhotoHandler struct {
	client  Poster
	records Records
	blobs   Blobs
}

// NewPhotoHandler creates a PhotoHandler.
func NewPhotoHandler(client Poster, records Records, blobs Blobs) *PhotoHandler {
	return &PhotoHandler{client: client, records: records, blobs: blobs}
}

func (h *PhotoHandler) Kind() models.Kind { return models.KindFoto }

type photoMetadata struct {
	ID             models.UUID      `json:"id"`
	OrganizationID string           `json:"organizationId"`
	VisitaID       models.UUID      `json:"visitaId,omitempty"`
	ClienteID      models.UUID      `json:"clienteId,omitempty"`
	Descripcion    string           `json:"descripcion,omitempty"`
	Tipo           string           `json:"tipo"`
	Ubicacion      *models.GeoPoint `json:"ubicacion,omitempty"`
	Timestamp      int64            `json:"timestamp"`
}

func (h *PhotoHandler) Sync(ctx context.Context, item *models.SyncQueueItem) (*syncengine.Result, error) {
	p, err := h.records.GetPhoto(ctx, item.EntityID)
	if err != nil {
		return nil, err
	}
	resp, err := upload(ctx, h.client, h.blobs, item, PathPhoto, photoMetadata{
		ID:             p.ID,
		OrganizationID: p.OrganizationID,
		VisitaID:       p.VisitaID,
		ClienteID:      p.ClienteID,
		Descripcion:    p.Descripcion,
		Tipo:           p.Tipo,
		Ubicacion:      p.Ubicacion,
		Timestamp:      p.Timestamp,
	})
	if err != nil {
		return nil, err
	}
	return &syncengine.Result{RemoteURL: resp.URL}, nil
}

// AudioHandler uploads a voice note with its metadata. The server may
// answer with a transcription.
type AudioHandler struct {
	client  Poster
	records Records
	blobs   Blobs
}

// NewAudioHandler creates an AudioHandler.
func NewAudioHandler(client Poster, records Records, blobs Blobs) *AudioHandler {
	return &AudioHandler{client: client, records: records, blobs: blobs}
}

func (h *AudioHandler) Kind() models.Kind { return models.KindAudio }

type audioMetadata struct {
	ID             models.UUID `json:"id"`
	OrganizationID string      `json:"organizationId"`
	VisitaID       models.UUID `json:"visitaId,omitempty"`
	ClienteID      models.UUID `json:"clienteId,omitempty"`
	Descripcion    string      `json:"descripcion,omitempty"`
	Duracion       int         `json:"duracion"`
	Timestamp      int64       `json:"timestamp"`
}

func (h *AudioHandler) Sync(ctx context.Context, item *models.SyncQueueItem) (*syncengine.Result, error) {
	a, err := h.records.GetAudio(ctx, item.EntityID)
	if err != nil {
		return nil, err
	}
	resp, err := upload(ctx, h.client, h.blobs, item, PathAudio, audioMetadata{
		ID:             a.ID,
		OrganizationID: a.OrganizationID,
		VisitaID:       a.VisitaID,
		ClienteID:      a.ClienteID,
		Descripcion:    a.Descripcion,
		Duracion:       a.Duracion,
		Timestamp:      a.Timestamp,
	})
	if err != nil {
		return nil, err
	}
	return &syncengine.Result{RemoteURL: resp.URL, Transcripcion: resp.Transcripcion}, nil
}

// upload sends the blob of item as the "file" part and metadata as the
// "metadata" part. A response without a url counts as a failed upload.
func upload(ctx context.Context, client Poster, blobs Blobs, item *models.SyncQueueItem, path string, metadata any) (*uploadResponse, error) {
	b, err := blobs.Get(ctx, item.Tipo, item.EntityID)
	if err != nil {
		return nil, err
	}
	meta, err := remote.JSONPart("metadata", metadata)
	if err != nil {
		return nil, err
	}
	parts := []remote.Part{
		remote.FilePart("file", fileName(item.EntityID, b.MimeType), b.MimeType, b.Data),
		meta,
	}

	var resp uploadResponse
	if err := client.PostMultipart(ctx, path, headers(item), parts, &resp); err != nil {
		return nil, err
	}
	if resp.URL == "" {
		return nil, errors.Newf(errors.ErrSyncRemote, "upload of %s %s returned no url", item.Tipo, item.EntityID)
	}
	return &resp, nil
}

func fileName(id models.UUID, mimeType string) string {
	if m := mimetype.Lookup(mimeType); m != nil {
		return id.String() + m.Extension()
	}
	return id.String()
}

func nonNil(ids []models.UUID) []models.UUID {
	if ids == nil {
		return []models.UUID{}
	}
	return ids
}

var (
	_ syncengine.Handler = (*VisitHandler)(nil)
	_ syncengine.Handler = (*ActionHandler)(nil)
	_ syncengine.Handler = (*PhotoHandler)(nil)
	_ syncengine.Handler = (*AudioHandler)(nil)
)

// Package api is the local REST surface the UI shell uses to drive a Core.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kimhsiao/fieldsync/backend/internal/blob"
	"github.com/kimhsiao/fieldsync/backend/internal/config"
	"github.com/kimhsiao/fieldsync/backend/internal/connectivity"
	"github.com/kimhsiao/fieldsync/backend/internal/core"
	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
	"github.com/kimhsiao/fieldsync/backend/internal/store"
	syncpkg "github.com/kimhsiao/fieldsync/backend/internal/sync"
)

// Service is the part of *core.Core the routes need.
type Service interface {
	CreateVisit(ctx context.Context, v *models.Visit) (models.UUID, error)
	CreateAction(ctx context.Context, a *models.Action) (models.UUID, error)
	CreatePhoto(ctx context.Context, p *models.Photo, data []byte) (models.UUID, error)
	CreateAudio(ctx context.Context, a *models.Audio, data []byte) (models.UUID, error)
	Get(ctx context.Context, kind models.Kind, id models.UUID) (models.Entity, error)
	GetPending(ctx context.Context) ([]store.PendingEntity, error)
	Retry(ctx context.Context, kind models.Kind, id models.UUID) (*models.SyncQueueItem, error)
	SyncNow(ctx context.Context) (*syncpkg.SyncResult, error)
	Status(ctx context.Context) (*core.Status, error)
	Cleanup(ctx context.Context, retentionDays int) (*store.CleanupReport, error)
	ObjectURL(ctx context.Context, kind models.Kind, id models.UUID) (string, error)
	OpenObject(ctx context.Context, url string) (*blob.Blob, error)
	Thumbnail(ctx context.Context, id models.UUID) ([]byte, error)
	Monitor() connectivity.Monitor
	Config() *config.Config
}

var _ Service = (*core.Core)(nil)

// Options configures NewRouter.
type Options struct {
	Logger *logging.Logger
	// MaxUploadBytes bounds multipart bodies. Defaults to 64 MiB.
	MaxUploadBytes int64
	// Mount registers extra routes, such as the websocket endpoint.
	Mount func(r chi.Router)
}

// NewRouter builds the HTTP handler for svc.
func NewRouter(svc Service, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logging.Get()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 64 << 20
	}
	h := &Handler{
		svc:       svc,
		logger:    opts.Logger.Component("api"),
		maxUpload: opts.MaxUploadBytes,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/status", h.GetStatus)
		r.Get("/pending", h.ListPending)
		r.Post("/sync", h.SyncNow)
		r.Post("/cleanup", h.Cleanup)
		r.Put("/connectivity", h.SetConnectivity)

		r.Post("/visitas", h.CreateVisit)
		r.Post("/acciones", h.CreateAction)
		r.Post("/fotos", h.CreatePhoto)
		r.Post("/audios", h.CreateAudio)
		r.Get("/fotos/{id}/thumbnail", h.GetThumbnail)

		r.Get("/entities/{tipo}/{id}", h.GetEntity)
		r.Post("/retry/{tipo}/{id}", h.Retry)

		r.Post("/objects/{tipo}/{id}", h.CreateObjectURL)
		r.Get("/objects", h.GetObject)
	})

	if opts.Mount != nil {
		opts.Mount(r)
	}
	return r
}

func requestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("Request served", map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  chimw.GetReqID(r.Context()),
			})
		})
	}
}

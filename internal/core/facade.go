package core

import (
	"context"
	"fmt"
	"time"

	"github.com/kimhsiao/fieldsync/backend/internal/blob"
	"github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/events"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
	"github.com/kimhsiao/fieldsync/backend/internal/store"
	syncpkg "github.com/kimhsiao/fieldsync/backend/internal/sync"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/scheduler"
)

// CreateVisit stores v and queues it for sync. The organization defaults
// to the core's tenant; any other organization is rejected.
func (c *Core) CreateVisit(ctx context.Context, v *models.Visit) (models.UUID, error) {
	if err := c.tenant(&v.OrganizationID); err != nil {
		return "", err
	}
	id, err := c.store.CreateVisit(ctx, v)
	return c.created(models.KindVisita, id, err)
}

// CreateAction stores a and queues it for sync.
func (c *Core) CreateAction(ctx context.Context, a *models.Action) (models.UUID, error) {
	if err := c.tenant(&a.OrganizationID); err != nil {
		return "", err
	}
	id, err := c.store.CreateAction(ctx, a)
	return c.created(models.KindAccion, id, err)
}

// CreatePhoto stores the photo record with its image and queues it for
// sync. A thumbnail is generated from data.
func (c *Core) CreatePhoto(ctx context.Context, p *models.Photo, data []byte) (models.UUID, error) {
	if err := c.tenant(&p.OrganizationID); err != nil {
		return "", err
	}
	id, err := c.store.CreatePhoto(ctx, p, data, nil)
	return c.created(models.KindFoto, id, err)
}

// CreateAudio stores the voice note record with its payload and queues it
// for sync.
func (c *Core) CreateAudio(ctx context.Context, a *models.Audio, data []byte) (models.UUID, error) {
	if err := c.tenant(&a.OrganizationID); err != nil {
		return "", err
	}
	id, err := c.store.CreateAudio(ctx, a, data)
	return c.created(models.KindAudio, id, err)
}

// tenant defaults org to the core's organization and rejects any other,
// since the engine only drains its own tenant's queue.
func (c *Core) tenant(org *string) error {
	if *org == "" {
		*org = c.cfg.OrganizationID
		return nil
	}
	if *org != c.cfg.OrganizationID {
		return errors.Newf(errors.ErrInvalid, "organization %q does not match this instance", *org)
	}
	return nil
}

// created publishes entity.created and nudges the engine after a
// successful create.
func (c *Core) created(kind models.Kind, id models.UUID, err error) (models.UUID, error) {
	if err != nil {
		return "", err
	}
	c.bus.Publish(events.Event{Type: events.EntityCreated, Kind: kind, EntityID: id})
	c.kick()
	return id, nil
}

// GetPending lists the tenant's entities that are pending or in error.
func (c *Core) GetPending(ctx context.Context) ([]store.PendingEntity, error) {
	return c.store.GetPending(ctx, c.cfg.OrganizationID)
}

// Get loads one entity.
func (c *Core) Get(ctx context.Context, kind models.Kind, id models.UUID) (models.Entity, error) {
	return c.store.Get(ctx, kind, id)
}

// Retry re-queues an entity in error with a fresh retry budget.
func (c *Core) Retry(ctx context.Context, kind models.Kind, id models.UUID) (*models.SyncQueueItem, error) {
	item, err := c.store.Retry(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	c.kick()
	return item, nil
}

// SyncNow runs a drain and waits for it.
func (c *Core) SyncNow(ctx context.Context) (*syncpkg.SyncResult, error) {
	return c.scheduler.SyncNow(ctx)
}

// Status summarizes the sync state for the UI.
type Status struct {
	OrganizationID string                    `json:"organizationId"`
	Running        bool                      `json:"running"`
	Online         bool                      `json:"online"`
	Engine         syncpkg.SyncStatus        `json:"engine"`
	LastSync       *time.Time                `json:"lastSync,omitempty"`
	LastError      string                    `json:"lastError,omitempty"`
	Pending        int                       `json:"pending"`
	Errors         int                       `json:"errors"`
	Scheduler      scheduler.SchedulerStatus `json:"scheduler"`
	RecentErrors   []syncpkg.SyncErrorEntry  `json:"recentErrors,omitempty"`
}

// Status returns a snapshot of the engine, the scheduler and the queue.
func (c *Core) Status(ctx context.Context) (*Status, error) {
	pending, err := c.store.GetPending(ctx, c.cfg.OrganizationID)
	if err != nil {
		return nil, err
	}

	status := &Status{
		OrganizationID: c.cfg.OrganizationID,
		Running:        c.Running(),
		Online:         c.monitor.Online(),
		Engine:         c.engine.Status(),
		LastSync:       c.engine.LastSync(),
		Scheduler:      c.scheduler.GetStatus(ctx),
		RecentErrors:   c.engine.GetErrorHistory(),
	}
	if err := c.engine.LastError(); err != nil {
		status.LastError = err.Error()
	}
	for _, p := range pending {
		if p.SyncStatus == models.StatusError {
			status.Errors++
		} else {
			status.Pending++
		}
	}
	return status, nil
}

// Cleanup removes synced records older than retentionDays and invalidates
// the display URLs of the deleted attachments.
func (c *Core) Cleanup(ctx context.Context, retentionDays int) (*store.CleanupReport, error) {
	report, err := c.store.Cleanup(ctx, retentionDays)
	if err != nil {
		return nil, err
	}
	for _, id := range report.Attachments {
		c.urls.Revoke(id)
	}

	removed := report.Visits + report.Actions + report.Photos + report.Audios
	c.bus.Publish(events.Event{
		Type:    events.CleanupCompleted,
		Message: fmt.Sprintf("removed %d records, kept %d visits with unsynced attachments", removed, report.SkippedVisits),
	})
	return report, nil
}

// ObjectURL returns a display URL for the blob of an attachment. The URL
// is valid until the attachment is cleaned up or the core shuts down.
func (c *Core) ObjectURL(ctx context.Context, kind models.Kind, id models.UUID) (string, error) {
	if !kind.HasBlob() {
		return "", errors.Newf(errors.ErrInvalid, "%s has no blob", kind)
	}
	ok, err := c.blobs.Exists(ctx, kind, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.Newf(errors.ErrBlobAbsent, "no blob for %s %s", kind, id)
	}
	return c.urls.Create(id), nil
}

// OpenObject loads the blob behind a URL returned by ObjectURL.
func (c *Core) OpenObject(ctx context.Context, url string) (*blob.Blob, error) {
	id, ok := c.urls.Resolve(url)
	if !ok {
		return nil, errors.Newf(errors.ErrNotFound, "unknown object url %q", url)
	}
	for _, kind := range []models.Kind{models.KindFoto, models.KindAudio} {
		b, err := c.blobs.Get(ctx, kind, id)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, errors.ErrBlobAbsent) {
			return nil, err
		}
	}
	c.urls.Revoke(id)
	return nil, errors.Newf(errors.ErrBlobAbsent, "blob %s no longer exists", id)
}

// Thumbnail returns the preview of a photo.
func (c *Core) Thumbnail(ctx context.Context, id models.UUID) ([]byte, error) {
	return c.blobs.Thumbnail(ctx, id)
}

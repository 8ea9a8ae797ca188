// Package store is the entity store: typed tables for the records a sales
// rep captures in the field, each with an identity assigned on the device.
//
// Creating a synchronizable record writes the record, its blob (for photos
// and audio notes) and exactly one sync queue item in a single SQLite
// transaction, so the three either all exist or none does.
package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"time"

	"github.com/kimhsiao/fieldsync/backend/internal/blob"
	"github.com/kimhsiao/fieldsync/backend/internal/db"
	"github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/queue"
	"github.com/kimhsiao/fieldsync/backend/internal/uuid"
)

// Store provides persistence for entities and reference data.
type Store struct {
	db     *db.DB
	blobs  *blob.Store
	queue  *queue.Queue
	logger *logging.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store. blobs and q must be built over the same database.
func New(database *db.DB, blobs *blob.Store, q *queue.Queue, opts ...Option) *Store {
	s := &Store{
		db:     database,
		blobs:  blobs,
		queue:  q,
		logger: logging.Get(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Component("store")
	return s
}

// Blobs returns the blob store used for attachments.
func (s *Store) Blobs() *blob.Store {
	return s.blobs
}

// Queue returns the sync queue fed by the store.
func (s *Store) Queue() *queue.Queue {
	return s.queue
}

// CreateVisit stores a visit and queues its synchronization.
func (s *Store) CreateVisit(ctx context.Context, v *models.Visit) (models.UUID, error) {
	return s.create(ctx, v, nil, nil)
}

// CreateAction stores a commercial action and queues its synchronization.
func (s *Store) CreateAction(ctx context.Context, a *models.Action) (models.UUID, error) {
	return s.create(ctx, a, nil, nil)
}

// CreatePhoto stores a photo record with its image and queues its upload.
// A nil thumbnail is rendered here, outside the write transaction.
func (s *Store) CreatePhoto(ctx context.Context, p *models.Photo, data, thumbnail []byte) (models.UUID, error) {
	if len(data) == 0 {
		return "", errors.New(errors.ErrInvalid, "photo data is required")
	}
	if thumbnail == nil {
		thumbnail = s.blobs.RenderThumbnail(ctx, p.ID, data)
	}
	return s.create(ctx, p, data, thumbnail)
}

// CreateAudio stores an audio record with its recording and queues its upload.
func (s *Store) CreateAudio(ctx context.Context, a *models.Audio, data []byte) (models.UUID, error) {
	if len(data) == 0 {
		return "", errors.New(errors.ErrInvalid, "audio data is required")
	}
	return s.create(ctx, a, data, nil)
}

// create assigns identity, stamps the record as pending and persists record,
// blob and queue item atomically.
func (s *Store) create(ctx context.Context, e models.Entity, data, thumbnail []byte) (models.UUID, error) {
	id, err := uuid.Ensure(e.EntityID().String())
	if err != nil {
		return "", errors.Wrap(errors.ErrInvalid, "invalid entity id", err)
	}
	if strings.TrimSpace(e.Org()) == "" {
		return "", errors.New(errors.ErrInvalid, "organization id is required")
	}
	models.AssignID(e, models.UUID(id))
	e.Meta().Stamp(s.now())

	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if data != nil {
			stored, err := s.blobs.WithTx(tx).Put(ctx, e.Kind(), e.EntityID(), data, thumbnail)
			if err != nil {
				return err
			}
			applyBlobInfo(e, stored)
		}
		if err := insertEntity(ctx, tx, e); err != nil {
			return err
		}
		_, err := s.queue.WithTx(tx).EnqueueEntity(ctx, e)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to create entity", err, map[string]interface{}{
			"tipo":      e.Kind().String(),
			"entity_id": id,
		})
		return "", err
	}

	s.logger.Info("Entity created", map[string]interface{}{
		"tipo":            e.Kind().String(),
		"entity_id":       id,
		"organization_id": e.Org(),
	})
	return e.EntityID(), nil
}

// applyBlobInfo copies stored blob metadata onto the attachment record.
func applyBlobInfo(e models.Entity, b *blob.Blob) {
	switch rec := e.(type) {
	case *models.Photo:
		if rec.MimeType == "" {
			rec.MimeType = b.MimeType
		}
		rec.Size = b.Size
	case *models.Audio:
		if rec.MimeType == "" {
			rec.MimeType = b.MimeType
		}
		rec.Size = b.Size
	}
}

func insertEntity(ctx context.Context, q db.Querier, e models.Entity) error {
	var err error
	switch rec := e.(type) {
	case *models.Visit:
		err = insertVisit(ctx, q, rec)
	case *models.Action:
		err = insertAction(ctx, q, rec)
	case *models.Photo:
		err = insertPhoto(ctx, q, rec)
	case *models.Audio:
		err = insertAudio(ctx, q, rec)
	default:
		return errors.Newf(errors.ErrInvalid, "unsupported entity %T", e)
	}
	if db.IsUniqueViolation(err) {
		return errors.Wrap(errors.ErrConflict, e.Kind().String()+" "+e.EntityID().String()+" already exists", err)
	}
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "insert "+e.Kind().String(), err)
	}
	return nil
}

// Get loads any synchronizable entity by kind and id.
func (s *Store) Get(ctx context.Context, kind models.Kind, id models.UUID) (models.Entity, error) {
	switch kind {
	case models.KindVisita:
		return s.GetVisit(ctx, id)
	case models.KindAccion:
		return s.GetAction(ctx, id)
	case models.KindFoto:
		return s.GetPhoto(ctx, id)
	case models.KindAudio:
		return s.GetAudio(ctx, id)
	}
	return nil, errors.Newf(errors.ErrInvalid, "unknown entity kind %q", kind)
}

func notFoundOr(err error, kind models.Kind, id models.UUID) error {
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.Newf(errors.ErrNotFound, "%s %s not found", kind, id)
	}
	return errors.Wrap(errors.ErrDatabase, "get "+kind.String(), err)
}

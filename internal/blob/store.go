// Package blob stores the binary payloads of photos and audio notes apart
// from their metadata records, so listing records never loads image bytes.
//
// Blobs are keyed by the id of the owning record. There is no versioning:
// one blob per id, last write wins. Every blob carries the SHA-256 of its
// content, verified on read.
package blob

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/kimhsiao/fieldsync/backend/internal/db"
	"github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

// Thumbnailer renders a preview image for a photo.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, data []byte) ([]byte, error)
}

// Blob is a stored binary payload.
type Blob struct {
	ID        models.UUID
	Kind      models.Kind
	Data      []byte
	Thumbnail []byte
	MimeType  string
	Size      int64
	Hash      string
	CreatedAt int64
}

// Store is the blob store. A Store is bound to a db.Querier, either the
// database itself or a transaction obtained through WithTx.
type Store struct {
	q      db.Querier
	thumbs Thumbnailer
	logger *logging.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithThumbnailer enables RenderThumbnail.
func WithThumbnailer(t Thumbnailer) Option {
	return func(s *Store) { s.thumbs = t }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a blob store over q.
func New(q db.Querier, opts ...Option) *Store {
	s := &Store{
		q:      q,
		logger: logging.Get(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Component("blob")
	return s
}

// WithTx returns a copy of the store whose statements run on q.
func (s *Store) WithTx(q db.Querier) *Store {
	clone := *s
	clone.q = q
	return &clone
}

func table(kind models.Kind) (string, error) {
	switch kind {
	case models.KindFoto:
		return "foto_blobs", nil
	case models.KindAudio:
		return "audio_blobs", nil
	}
	return "", errors.Newf(errors.ErrInvalid, "kind %q has no blob storage", kind)
}

// RenderThumbnail builds the preview for a photo payload with the configured
// Thumbnailer. It returns nil when no Thumbnailer is set or generation
// fails; a failure is logged and the photo is kept without preview.
// Decoding is slow, so callers run it before opening a transaction.
func (s *Store) RenderThumbnail(ctx context.Context, id models.UUID, data []byte) []byte {
	if s.thumbs == nil || len(data) == 0 {
		return nil
	}
	thumbnail, err := s.thumbs.Thumbnail(ctx, data)
	if err != nil {
		s.logger.Warn("Thumbnail generation failed", map[string]interface{}{
			"id":    id.String(),
			"error": err.Error(),
		})
		return nil
	}
	return thumbnail
}

// Put stores data under id, replacing any previous blob. thumbnail is only
// kept for photos; Put never generates one.
func (s *Store) Put(ctx context.Context, kind models.Kind, id models.UUID, data, thumbnail []byte) (*Blob, error) {
	tbl, err := table(kind)
	if err != nil {
		return nil, err
	}
	if id.IsZero() {
		return nil, errors.New(errors.ErrInvalid, "blob id is required")
	}
	if len(data) == 0 {
		return nil, errors.New(errors.ErrInvalid, "blob data is empty")
	}

	b := &Blob{
		ID:        id,
		Kind:      kind,
		Data:      data,
		Thumbnail: thumbnail,
		MimeType:  mimetype.Detect(data).String(),
		Size:      int64(len(data)),
		Hash:      CalculateHash(data),
		CreatedAt: s.now().UnixMilli(),
	}

	if kind == models.KindFoto {
		_, err = s.q.ExecContext(ctx, `
			INSERT INTO foto_blobs (id, data, thumbnail, mime_type, size, hash, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				data = excluded.data,
				thumbnail = excluded.thumbnail,
				mime_type = excluded.mime_type,
				size = excluded.size,
				hash = excluded.hash,
				created_at = excluded.created_at`,
			b.ID, b.Data, b.Thumbnail, b.MimeType, b.Size, b.Hash, b.CreatedAt)
	} else {
		_, err = s.q.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (id, data, mime_type, size, hash, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				data = excluded.data,
				mime_type = excluded.mime_type,
				size = excluded.size,
				hash = excluded.hash,
				created_at = excluded.created_at`, tbl),
			b.ID, b.Data, b.MimeType, b.Size, b.Hash, b.CreatedAt)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "put blob", err)
	}

	s.logger.Debug("Blob stored", map[string]interface{}{
		"id":        id.String(),
		"kind":      kind.String(),
		"size":      b.Size,
		"mime_type": b.MimeType,
	})
	return b, nil
}

// Get loads the blob stored under id and verifies its content hash.
func (s *Store) Get(ctx context.Context, kind models.Kind, id models.UUID) (*Blob, error) {
	if _, err := table(kind); err != nil {
		return nil, err
	}

	b := &Blob{ID: id, Kind: kind}
	var err error
	if kind == models.KindFoto {
		err = s.q.QueryRowContext(ctx,
			"SELECT data, thumbnail, mime_type, size, hash, created_at FROM foto_blobs WHERE id = ?", id,
		).Scan(&b.Data, &b.Thumbnail, &b.MimeType, &b.Size, &b.Hash, &b.CreatedAt)
	} else {
		err = s.q.QueryRowContext(ctx,
			"SELECT data, mime_type, size, hash, created_at FROM audio_blobs WHERE id = ?", id,
		).Scan(&b.Data, &b.MimeType, &b.Size, &b.Hash, &b.CreatedAt)
	}
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf(errors.ErrBlobAbsent, "no %s blob for %s", kind, id)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "get blob", err)
	}

	if got := CalculateHash(b.Data); got != b.Hash {
		return nil, errors.Newf(errors.ErrBlobCorrupt, "hash mismatch for %s blob %s: expected %s, got %s", kind, id, b.Hash, got)
	}
	return b, nil
}

// Thumbnail returns the preview of a photo, or nil when none was stored.
func (s *Store) Thumbnail(ctx context.Context, id models.UUID) ([]byte, error) {
	var thumb []byte
	err := s.q.QueryRowContext(ctx, "SELECT thumbnail FROM foto_blobs WHERE id = ?", id).Scan(&thumb)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf(errors.ErrBlobAbsent, "no foto blob for %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "get thumbnail", err)
	}
	return thumb, nil
}

// Exists reports whether a blob is stored under id.
func (s *Store) Exists(ctx context.Context, kind models.Kind, id models.UUID) (bool, error) {
	tbl, err := table(kind)
	if err != nil {
		return false, err
	}
	var n int
	if err := s.q.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = ?", tbl), id).Scan(&n); err != nil {
		return false, errors.Wrap(errors.ErrDatabase, "check blob", err)
	}
	return n > 0, nil
}

// Delete removes the blob stored under id. Deleting an absent blob is not an
// error.
func (s *Store) Delete(ctx context.Context, kind models.Kind, id models.UUID) error {
	tbl, err := table(kind)
	if err != nil {
		return err
	}
	if _, err := s.q.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", tbl), id); err != nil {
		return errors.Wrap(errors.ErrDatabase, "delete blob", err)
	}
	return nil
}

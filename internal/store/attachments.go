package store

import (
	"context"
	"database/sql"

	"github.com/kimhsiao/fieldsync/backend/internal/db"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

const photoColumns = `id, organization_id, visita_id, cliente_id, descripcion, tipo, ubicacion,
	timestamp, mime_type, size, remote_url, ` + metaColumns

const audioColumns = `id, organization_id, visita_id, cliente_id, descripcion, duracion,
	timestamp, mime_type, size, remote_url, transcripcion, ` + metaColumns

func insertPhoto(ctx context.Context, q db.Querier, p *models.Photo) error {
	ubicacion, err := encodeGeo(p.Ubicacion)
	if err != nil {
		return err
	}
	args := []any{p.ID, p.OrganizationID, p.VisitaID, p.ClienteID, p.Descripcion, p.Tipo, ubicacion,
		p.Timestamp, p.MimeType, p.Size, p.RemoteURL}
	args = append(args, metaArgs(&p.SyncMeta)...)
	_, err = q.ExecContext(ctx, `INSERT INTO fotos (`+photoColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	return err
}

func scanPhoto(s scanner) (*models.Photo, error) {
	var (
		p         models.Photo
		ubicacion sql.NullString
	)
	meta := newMetaScan(&p.SyncMeta)
	dest := []any{&p.ID, &p.OrganizationID, &p.VisitaID, &p.ClienteID, &p.Descripcion, &p.Tipo,
		&ubicacion, &p.Timestamp, &p.MimeType, &p.Size, &p.RemoteURL}
	if err := s.Scan(append(dest, meta.dest()...)...); err != nil {
		return nil, err
	}
	if err := meta.finish(); err != nil {
		return nil, err
	}
	var err error
	if p.Ubicacion, err = decodeJSON[*models.GeoPoint](ubicacion); err != nil {
		return nil, err
	}
	return &p, nil
}

func insertAudio(ctx context.Context, q db.Querier, a *models.Audio) error {
	args := []any{a.ID, a.OrganizationID, a.VisitaID, a.ClienteID, a.Descripcion, a.Duracion,
		a.Timestamp, a.MimeType, a.Size, a.RemoteURL, a.Transcripcion}
	args = append(args, metaArgs(&a.SyncMeta)...)
	_, err := q.ExecContext(ctx, `INSERT INTO audios (`+audioColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	return err
}

func scanAudio(s scanner) (*models.Audio, error) {
	var a models.Audio
	meta := newMetaScan(&a.SyncMeta)
	dest := []any{&a.ID, &a.OrganizationID, &a.VisitaID, &a.ClienteID, &a.Descripcion, &a.Duracion,
		&a.Timestamp, &a.MimeType, &a.Size, &a.RemoteURL, &a.Transcripcion}
	if err := s.Scan(append(dest, meta.dest()...)...); err != nil {
		return nil, err
	}
	if err := meta.finish(); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetPhoto loads a photo record by id. The image itself lives in the blob
// store.
func (s *Store) GetPhoto(ctx context.Context, id models.UUID) (*models.Photo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+photoColumns+` FROM fotos WHERE id = ?`, id)
	p, err := scanPhoto(row)
	if err != nil {
		return nil, notFoundOr(err, models.KindFoto, id)
	}
	return p, nil
}

// GetAudio loads an audio record by id.
func (s *Store) GetAudio(ctx context.Context, id models.UUID) (*models.Audio, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+audioColumns+` FROM audios WHERE id = ?`, id)
	a, err := scanAudio(row)
	if err != nil {
		return nil, notFoundOr(err, models.KindAudio, id)
	}
	return a, nil
}

// ListPhotosByVisit returns the photos attached to a visit in capture order.
func (s *Store) ListPhotosByVisit(ctx context.Context, visitaID models.UUID) ([]*models.Photo, error) {
	return queryList(ctx, s.db, scanPhoto, `SELECT `+photoColumns+`
		FROM fotos WHERE visita_id = ? ORDER BY timestamp ASC, created_at ASC`, visitaID)
}

// ListAudiosByVisit returns the audio notes attached to a visit in capture order.
func (s *Store) ListAudiosByVisit(ctx context.Context, visitaID models.UUID) ([]*models.Audio, error) {
	return queryList(ctx, s.db, scanAudio, `SELECT `+audioColumns+`
		FROM audios WHERE visita_id = ? ORDER BY timestamp ASC, created_at ASC`, visitaID)
}

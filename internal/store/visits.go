package store

import (
	"context"
	"database/sql"

	"github.com/kimhsiao/fieldsync/backend/internal/db"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

const visitColumns = `id, organization_id, cliente_id, vendedor_id, fecha, tipo, estado, notas,
	ubicacion, checklist, foto_ids, audio_ids, duracion, ` + metaColumns

func insertVisit(ctx context.Context, q db.Querier, v *models.Visit) error {
	ubicacion, err := encodeGeo(v.Ubicacion)
	if err != nil {
		return err
	}
	checklist, err := encodeOptional(v.Checklist, v.Checklist == nil)
	if err != nil {
		return err
	}
	fotoIDs, err := encodeIDs(v.FotoIDs)
	if err != nil {
		return err
	}
	audioIDs, err := encodeIDs(v.AudioIDs)
	if err != nil {
		return err
	}

	args := []any{v.ID, v.OrganizationID, v.ClienteID, v.VendedorID, v.Fecha, v.Tipo, v.Estado,
		v.Notas, ubicacion, checklist, fotoIDs, audioIDs, v.Duracion}
	args = append(args, metaArgs(&v.SyncMeta)...)
	_, err = q.ExecContext(ctx, `INSERT INTO visitas (`+visitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	return err
}

func scanVisit(s scanner) (*models.Visit, error) {
	var (
		v                 models.Visit
		ubicacion         sql.NullString
		checklist         sql.NullString
		fotoIDs, audioIDs string
	)
	meta := newMetaScan(&v.SyncMeta)
	dest := []any{&v.ID, &v.OrganizationID, &v.ClienteID, &v.VendedorID, &v.Fecha, &v.Tipo, &v.Estado,
		&v.Notas, &ubicacion, &checklist, &fotoIDs, &audioIDs, &v.Duracion}
	if err := s.Scan(append(dest, meta.dest()...)...); err != nil {
		return nil, err
	}
	if err := meta.finish(); err != nil {
		return nil, err
	}

	var err error
	if v.Ubicacion, err = decodeJSON[*models.GeoPoint](ubicacion); err != nil {
		return nil, err
	}
	if v.Checklist, err = decodeJSON[map[string]interface{}](checklist); err != nil {
		return nil, err
	}
	if v.FotoIDs, err = decodeIDs(fotoIDs); err != nil {
		return nil, err
	}
	if v.AudioIDs, err = decodeIDs(audioIDs); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetVisit loads a visit by id.
func (s *Store) GetVisit(ctx context.Context, id models.UUID) (*models.Visit, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+visitColumns+` FROM visitas WHERE id = ?`, id)
	v, err := scanVisit(row)
	if err != nil {
		return nil, notFoundOr(err, models.KindVisita, id)
	}
	return v, nil
}

// ListVisitsByClient returns the visits of a client, most recent first.
func (s *Store) ListVisitsByClient(ctx context.Context, organizationID string, clienteID models.UUID) ([]*models.Visit, error) {
	return queryList(ctx, s.db, scanVisit, `SELECT `+visitColumns+`
		FROM visitas
		WHERE organization_id = ? AND cliente_id = ?
		ORDER BY fecha DESC, created_at DESC`, organizationID, clienteID)
}

package store

import (
	"context"

	"github.com/kimhsiao/fieldsync/backend/internal/db"
	"github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

const actionColumns = `id, organization_id, cliente_id, visita_id, tipo, descripcion, monto, fecha,
	estado, foto_ids, ` + metaColumns

func insertAction(ctx context.Context, q db.Querier, a *models.Action) error {
	fotoIDs, err := encodeIDs(a.FotoIDs)
	if err != nil {
		return err
	}
	args := []any{a.ID, a.OrganizationID, a.ClienteID, a.VisitaID, a.Tipo, a.Descripcion, a.Monto,
		a.Fecha, a.Estado, fotoIDs}
	args = append(args, metaArgs(&a.SyncMeta)...)
	_, err = q.ExecContext(ctx, `INSERT INTO acciones (`+actionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	return err
}

func scanAction(s scanner) (*models.Action, error) {
	var (
		a       models.Action
		fotoIDs string
	)
	meta := newMetaScan(&a.SyncMeta)
	dest := []any{&a.ID, &a.OrganizationID, &a.ClienteID, &a.VisitaID, &a.Tipo, &a.Descripcion,
		&a.Monto, &a.Fecha, &a.Estado, &fotoIDs}
	if err := s.Scan(append(dest, meta.dest()...)...); err != nil {
		return nil, err
	}
	if err := meta.finish(); err != nil {
		return nil, err
	}
	var err error
	if a.FotoIDs, err = decodeIDs(fotoIDs); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAction loads a commercial action by id.
func (s *Store) GetAction(ctx context.Context, id models.UUID) (*models.Action, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM acciones WHERE id = ?`, id)
	a, err := scanAction(row)
	if err != nil {
		return nil, notFoundOr(err, models.KindAccion, id)
	}
	return a, nil
}

// ListActionsByVisit returns the actions agreed during a visit.
func (s *Store) ListActionsByVisit(ctx context.Context, visitaID models.UUID) ([]*models.Action, error) {
	return queryList(ctx, s.db, scanAction, `SELECT `+actionColumns+`
		FROM acciones WHERE visita_id = ? ORDER BY created_at ASC`, visitaID)
}

// queryList runs a query and scans every row with scan.
func queryList[T any](ctx context.Context, q db.Querier, scan func(scanner) (*T, error), query string, args ...any) ([]*T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "query", err)
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "scan", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "query", err)
	}
	return out, nil
}

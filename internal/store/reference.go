package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"strings"

	"github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
	"github.com/kimhsiao/fieldsync/backend/internal/uuid"
)

// Reference data (clients, vendor configuration, checklist templates) is
// read-mostly and never enters the sync queue.

// UpsertClient inserts or replaces a client.
func (s *Store) UpsertClient(ctx context.Context, c *models.Client) error {
	id, err := uuid.Ensure(c.ID.String())
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "invalid client id", err)
	}
	c.ID = models.UUID(id)
	c.UpdatedAt = s.now().UnixMilli()

	ubicacion, err := encodeGeo(c.Ubicacion)
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "encode client location", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO clientes (id, organization_id, codigo, nombre, direccion, telefono, ubicacion, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			organization_id = excluded.organization_id,
			codigo = excluded.codigo,
			nombre = excluded.nombre,
			direccion = excluded.direccion,
			telefono = excluded.telefono,
			ubicacion = excluded.ubicacion,
			updated_at = excluded.updated_at`,
		c.ID, c.OrganizationID, c.Codigo, c.Nombre, c.Direccion, c.Telefono, ubicacion, c.UpdatedAt)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "upsert client", err)
	}
	return nil
}

func scanClient(s scanner) (*models.Client, error) {
	var (
		c         models.Client
		ubicacion sql.NullString
	)
	if err := s.Scan(&c.ID, &c.OrganizationID, &c.Codigo, &c.Nombre, &c.Direccion, &c.Telefono, &ubicacion, &c.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if c.Ubicacion, err = decodeJSON[*models.GeoPoint](ubicacion); err != nil {
		return nil, err
	}
	return &c, nil
}

const clientColumns = "id, organization_id, codigo, nombre, direccion, telefono, ubicacion, updated_at"

// GetClient loads a client by id.
func (s *Store) GetClient(ctx context.Context, id models.UUID) (*models.Client, error) {
	c, err := scanClient(s.db.QueryRowContext(ctx, "SELECT "+clientColumns+" FROM clientes WHERE id = ?", id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf(errors.ErrNotFound, "client %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "get client", err)
	}
	return c, nil
}

// ListClients returns the clients of a tenant sorted by name.
func (s *Store) ListClients(ctx context.Context, organizationID string) ([]*models.Client, error) {
	return queryList(ctx, s.db, scanClient,
		"SELECT "+clientColumns+" FROM clientes WHERE organization_id = ? ORDER BY nombre ASC", organizationID)
}

// PutConfig stores one vendor configuration key. value must be valid JSON.
func (s *Store) PutConfig(ctx context.Context, organizationID, key string, value json.RawMessage) error {
	if strings.TrimSpace(key) == "" {
		return errors.New(errors.ErrInvalid, "config key is required")
	}
	if !json.Valid(value) {
		return errors.Newf(errors.ErrInvalid, "config %q is not valid JSON", key)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (organization_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(organization_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		organizationID, key, string(value), s.now().UnixMilli())
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "put config", err)
	}
	return nil
}

// GetConfig loads one vendor configuration key.
func (s *Store) GetConfig(ctx context.Context, organizationID, key string) (*models.VendorConfig, error) {
	cfg := &models.VendorConfig{OrganizationID: organizationID, Key: key}
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value, updated_at FROM config WHERE organization_id = ? AND key = ?", organizationID, key,
	).Scan(&value, &cfg.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf(errors.ErrNotFound, "config %q not found", key)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "get config", err)
	}
	cfg.Value = json.RawMessage(value)
	return cfg, nil
}

// ListConfig returns every configuration key of a tenant.
func (s *Store) ListConfig(ctx context.Context, organizationID string) ([]*models.VendorConfig, error) {
	return queryList(ctx, s.db, func(sc scanner) (*models.VendorConfig, error) {
		var (
			cfg   models.VendorConfig
			value string
		)
		if err := sc.Scan(&cfg.OrganizationID, &cfg.Key, &value, &cfg.UpdatedAt); err != nil {
			return nil, err
		}
		cfg.Value = json.RawMessage(value)
		return &cfg, nil
	}, "SELECT organization_id, key, value, updated_at FROM config WHERE organization_id = ? ORDER BY key", organizationID)
}

// UpsertTemplate inserts or replaces a checklist template.
func (s *Store) UpsertTemplate(ctx context.Context, t *models.ChecklistTemplate) error {
	id, err := uuid.Ensure(t.ID.String())
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "invalid template id", err)
	}
	t.ID = models.UUID(id)
	t.UpdatedAt = s.now().UnixMilli()

	items := t.Items
	if items == nil {
		items = []models.ChecklistItem{}
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "encode template items", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checklist_templates (id, organization_id, nombre, tipo_visita, items, activo, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			organization_id = excluded.organization_id,
			nombre = excluded.nombre,
			tipo_visita = excluded.tipo_visita,
			items = excluded.items,
			activo = excluded.activo,
			updated_at = excluded.updated_at`,
		t.ID, t.OrganizationID, t.Nombre, t.TipoVisita, string(encoded), t.Activo, t.UpdatedAt)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "upsert template", err)
	}
	return nil
}

// ListTemplates returns the active templates of a tenant. A non-empty
// tipoVisita restricts the result to that visit type.
func (s *Store) ListTemplates(ctx context.Context, organizationID, tipoVisita string) ([]*models.ChecklistTemplate, error) {
	query := `SELECT id, organization_id, nombre, tipo_visita, items, activo, updated_at
		FROM checklist_templates WHERE organization_id = ? AND activo = 1`
	args := []any{organizationID}
	if tipoVisita != "" {
		query += " AND tipo_visita = ?"
		args = append(args, tipoVisita)
	}
	query += " ORDER BY nombre ASC"

	return queryList(ctx, s.db, func(sc scanner) (*models.ChecklistTemplate, error) {
		var (
			t     models.ChecklistTemplate
			items string
		)
		if err := sc.Scan(&t.ID, &t.OrganizationID, &t.Nombre, &t.TipoVisita, &items, &t.Activo, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(items), &t.Items); err != nil {
			return nil, err
		}
		return &t, nil
	}, query, args...)
}

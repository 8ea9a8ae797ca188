package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

const metaColumns = "sync_status, created_at, updated_at, synced_at, sync_error, remote_id"

// metaScan collects the destinations of metaColumns.
type metaScan struct {
	status   string
	syncedAt sql.NullInt64
	meta     *models.SyncMeta
}

func newMetaScan(m *models.SyncMeta) *metaScan {
	return &metaScan{meta: m}
}

func (m *metaScan) dest() []any {
	return []any{&m.status, &m.meta.CreatedAt, &m.meta.UpdatedAt, &m.syncedAt, &m.meta.SyncError, &m.meta.RemoteID}
}

func (m *metaScan) finish() error {
	status, err := models.ParseSyncStatus(m.status)
	if err != nil {
		return err
	}
	m.meta.SyncStatus = status
	m.meta.SyncedAt = nil
	if m.syncedAt.Valid {
		ts := m.syncedAt.Int64
		m.meta.SyncedAt = &ts
	}
	return nil
}

func metaArgs(m *models.SyncMeta) []any {
	var syncedAt any
	if m.SyncedAt != nil {
		syncedAt = *m.SyncedAt
	}
	return []any{string(m.SyncStatus), m.CreatedAt, m.UpdatedAt, syncedAt, m.SyncError, m.RemoteID}
}

// encodeOptional marshals v, storing NULL for nil values.
func encodeOptional(v any, isNil bool) (any, error) {
	if isNil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return string(data), nil
}

func encodeGeo(p *models.GeoPoint) (any, error) {
	return encodeOptional(p, p == nil)
}

func encodeIDs(ids []models.UUID) (string, error) {
	if ids == nil {
		ids = []models.UUID{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("marshal id list: %w", err)
	}
	return string(data), nil
}

func decodeJSON[T any](ns sql.NullString) (T, error) {
	var out T
	if !ns.Valid || ns.String == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return out, fmt.Errorf("unmarshal json column: %w", err)
	}
	return out, nil
}

func decodeIDs(s string) ([]models.UUID, error) {
	ids, err := decodeJSON[[]models.UUID](sql.NullString{String: s, Valid: true})
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []models.UUID{}
	}
	return ids, nil
}

type scanner interface {
	Scan(dest ...any) error
}

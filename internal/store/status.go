package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/kimhsiao/fieldsync/backend/internal/db"
	"github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

// PendingEntity summarizes an entity that still needs attention.
type PendingEntity struct {
	Kind           models.Kind       `json:"tipo"`
	ID             models.UUID       `json:"id"`
	OrganizationID string            `json:"organizationId"`
	SyncStatus     models.SyncStatus `json:"syncStatus"`
	SyncError      string            `json:"syncError,omitempty"`
	CreatedAt      int64             `json:"createdAt"`
	UpdatedAt      int64             `json:"updatedAt"`
}

// StatusExtra carries the fields stamped alongside a status transition.
type StatusExtra struct {
	// SyncedAt defaults to now when transitioning to synced.
	SyncedAt      *time.Time
	RemoteID      string
	RemoteURL     string
	Transcripcion string
	SyncError     string
}

// GetPending returns every entity of a tenant whose status is pending or
// error, oldest first.
func (s *Store) GetPending(ctx context.Context, organizationID string) ([]PendingEntity, error) {
	return s.listByStatuses(ctx, organizationID, models.StatusPending, models.StatusError)
}

// ListByStatus returns every entity of a tenant with the given status.
func (s *Store) ListByStatus(ctx context.Context, organizationID string, status models.SyncStatus) ([]PendingEntity, error) {
	if _, err := models.ParseSyncStatus(string(status)); err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "list by status", err)
	}
	return s.listByStatuses(ctx, organizationID, status)
}

func (s *Store) listByStatuses(ctx context.Context, organizationID string, statuses ...models.SyncStatus) ([]PendingEntity, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")

	var (
		parts []string
		args  []any
	)
	for _, kind := range models.Kinds {
		parts = append(parts, fmt.Sprintf(`SELECT '%s', id, organization_id, sync_status, sync_error, created_at, updated_at
			FROM %s WHERE organization_id = ? AND sync_status IN (%s)`, kind, kind.Table(), placeholders))
		args = append(args, organizationID)
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query := strings.Join(parts, " UNION ALL ") + " ORDER BY 6 ASC, 2 ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "list pending", err)
	}
	defer rows.Close()

	var out []PendingEntity
	for rows.Next() {
		var (
			p            PendingEntity
			kind, status string
		)
		if err := rows.Scan(&kind, &p.ID, &p.OrganizationID, &status, &p.SyncError, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "scan pending", err)
		}
		p.Kind = models.Kind(kind)
		p.SyncStatus = models.SyncStatus(status)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "list pending", err)
	}
	return out, nil
}

// UpdateStatus transitions the sync status of an entity.
//
// synced stamps syncedAt (now unless given), the server-assigned id, and
// for attachments the remote URL and transcription; it clears syncError.
// pending and error record extra.SyncError. syncing leaves the rest as is.
func (s *Store) UpdateStatus(ctx context.Context, kind models.Kind, id models.UUID, status models.SyncStatus, extra StatusExtra) error {
	if err := s.updateStatus(ctx, s.db, kind, id, status, extra); err != nil {
		return err
	}
	s.logger.Debug("Entity status updated", map[string]interface{}{
		"tipo":      kind.String(),
		"entity_id": id.String(),
		"status":    string(status),
	})
	return nil
}

func (s *Store) updateStatus(ctx context.Context, q db.Querier, kind models.Kind, id models.UUID, status models.SyncStatus, extra StatusExtra) error {
	if !kind.Valid() {
		return errors.Newf(errors.ErrInvalid, "unknown entity kind %q", kind)
	}
	if _, err := models.ParseSyncStatus(string(status)); err != nil {
		return errors.Wrap(errors.ErrInvalid, "update status", err)
	}

	now := s.now()
	sets := []string{"sync_status = ?", "updated_at = ?"}
	args := []any{string(status), now.UnixMilli()}

	switch status {
	case models.StatusSynced:
		syncedAt := now
		if extra.SyncedAt != nil {
			syncedAt = *extra.SyncedAt
		}
		sets = append(sets, "synced_at = ?", "sync_error = ''")
		args = append(args, syncedAt.UnixMilli())
		if extra.RemoteID != "" {
			sets = append(sets, "remote_id = ?")
			args = append(args, extra.RemoteID)
		}
		if kind.HasBlob() && extra.RemoteURL != "" {
			sets = append(sets, "remote_url = ?")
			args = append(args, extra.RemoteURL)
		}
		if kind == models.KindAudio && extra.Transcripcion != "" {
			sets = append(sets, "transcripcion = ?")
			args = append(args, extra.Transcripcion)
		}
	case models.StatusPending, models.StatusError:
		sets = append(sets, "sync_error = ?")
		args = append(args, extra.SyncError)
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", kind.Table(), strings.Join(sets, ", "))
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "update status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(errors.ErrNotFound, "%s %s not found", kind, id)
	}
	return nil
}

// Retry re-enqueues an entity left in error by an exhausted retry budget.
// The entity goes back to pending and gets a fresh queue item with
// intentos = 0, in one transaction.
func (s *Store) Retry(ctx context.Context, kind models.Kind, id models.UUID) (*models.SyncQueueItem, error) {
	if !kind.Valid() {
		return nil, errors.Newf(errors.ErrInvalid, "unknown entity kind %q", kind)
	}

	var item *models.SyncQueueItem
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var org, status string
		err := tx.QueryRowContext(ctx,
			fmt.Sprintf("SELECT organization_id, sync_status FROM %s WHERE id = ?", kind.Table()), id,
		).Scan(&org, &status)
		if stderrors.Is(err, sql.ErrNoRows) {
			return errors.Newf(errors.ErrNotFound, "%s %s not found", kind, id)
		}
		if err != nil {
			return errors.Wrap(errors.ErrDatabase, "load entity", err)
		}
		if models.SyncStatus(status) != models.StatusError {
			return errors.Newf(errors.ErrConflict, "%s %s is %s, only entities in error can be retried", kind, id, status)
		}

		_, err = tx.ExecContext(ctx,
			fmt.Sprintf("UPDATE %s SET sync_status = ?, sync_error = '', updated_at = ? WHERE id = ?", kind.Table()),
			string(models.StatusPending), s.now().UnixMilli(), id)
		if err != nil {
			return errors.Wrap(errors.ErrDatabase, "reset entity", err)
		}

		item, err = s.queue.WithTx(tx).Enqueue(ctx, &models.SyncQueueItem{
			OrganizationID: org,
			Tipo:           kind,
			EntityID:       id,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Entity re-enqueued for sync", map[string]interface{}{
		"tipo":      kind.String(),
		"entity_id": id.String(),
		"item_id":   item.ID.String(),
	})
	return item, nil
}

// RecoverInFlight resets entities left in syncing by an interrupted drain
// back to pending. Their queue items were never removed, so the next drain
// dispatches them again.
func (s *Store) RecoverInFlight(ctx context.Context, organizationID string) (int, error) {
	var total int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, kind := range models.Kinds {
			res, err := tx.ExecContext(ctx,
				fmt.Sprintf("UPDATE %s SET sync_status = ?, updated_at = ? WHERE organization_id = ? AND sync_status = ?", kind.Table()),
				string(models.StatusPending), s.now().UnixMilli(), organizationID, string(models.StatusSyncing))
			if err != nil {
				return errors.Wrap(errors.ErrDatabase, "recover in-flight "+kind.String(), err)
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if total > 0 {
		s.logger.Warn("Recovered entities interrupted mid-sync", map[string]interface{}{
			"count": total,
		})
	}
	return int(total), nil
}

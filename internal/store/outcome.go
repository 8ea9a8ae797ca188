package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

// The methods below record the outcome of one dispatch of a queue item.
// Each touches the queue and the entity in a single transaction so that an
// entity is never marked synced while its item is still queued, or left
// pending without an item.

// CompleteSync removes item from the queue and marks its entity synced.
func (s *Store) CompleteSync(ctx context.Context, item *models.SyncQueueItem, extra StatusExtra) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.queue.WithTx(tx).Remove(ctx, item.ID); err != nil {
			return err
		}
		return s.updateStatus(ctx, tx, item.Tipo, item.EntityID, models.StatusSynced, extra)
	})
}

// RescheduleSync records a failed attempt that still has budget left: the
// item gets the new attempt count and retry time, the entity goes back to
// pending with the error recorded.
func (s *Store) RescheduleSync(ctx context.Context, item *models.SyncQueueItem, intentos int, nextRetryAt time.Time, lastError string) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.queue.WithTx(tx).Reschedule(ctx, item.ID, intentos, nextRetryAt, lastError); err != nil {
			return err
		}
		return s.updateStatus(ctx, tx, item.Tipo, item.EntityID, models.StatusPending, StatusExtra{SyncError: lastError})
	})
}

// FailSync records a terminal failure: the item is deleted and the entity
// is left in error until someone calls Retry.
func (s *Store) FailSync(ctx context.Context, item *models.SyncQueueItem, lastError string) error {
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.queue.WithTx(tx).Remove(ctx, item.ID); err != nil {
			return err
		}
		return s.updateStatus(ctx, tx, item.Tipo, item.EntityID, models.StatusError, StatusExtra{SyncError: lastError})
	})
	if err != nil {
		return err
	}
	s.logger.Warn("Entity sync failed permanently", map[string]interface{}{
		"tipo":      item.Tipo.String(),
		"entity_id": item.EntityID.String(),
		"intentos":  item.Intentos,
		"error":     lastError,
	})
	return nil
}

// ReleaseSync puts an entity whose dispatch was interrupted back to pending
// without touching its queue item.
func (s *Store) ReleaseSync(ctx context.Context, item *models.SyncQueueItem) error {
	return s.updateStatus(ctx, s.db, item.Tipo, item.EntityID, models.StatusPending, StatusExtra{SyncError: item.UltimoError})
}

// DropOrphan removes a queue item whose entity no longer exists.
func (s *Store) DropOrphan(ctx context.Context, item *models.SyncQueueItem) error {
	if err := s.queue.Remove(ctx, item.ID); err != nil {
		return err
	}
	s.logger.Warn("Removed queue item without entity", map[string]interface{}{
		"tipo":      item.Tipo.String(),
		"entity_id": item.EntityID.String(),
		"item_id":   item.ID.String(),
	})
	return nil
}

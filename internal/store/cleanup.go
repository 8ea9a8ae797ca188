package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kimhsiao/fieldsync/backend/internal/blob"
	"github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

// CleanupReport counts what a retention pass removed.
type CleanupReport struct {
	Cutoff        int64         `json:"cutoff"`
	Visits        int           `json:"visits"`
	Actions       int           `json:"actions"`
	Photos        int           `json:"photos"`
	Audios        int           `json:"audios"`
	SkippedVisits int           `json:"skippedVisits"`
	Attachments   []models.UUID `json:"-"`
}

// Cleanup deletes synced records whose syncedAt is older than the retention
// window. A visit is removed together with its photos and audio notes and
// their blobs; a visit that still has unsynced attachments is kept whole.
// Synced actions and standalone attachments past the window go too.
//
// Everything runs in one transaction: a failure anywhere leaves every
// record in place.
func (s *Store) Cleanup(ctx context.Context, retentionDays int) (*CleanupReport, error) {
	if retentionDays < 0 {
		return nil, errors.Newf(errors.ErrInvalid, "retention days must not be negative, got %d", retentionDays)
	}
	cutoff := s.now().Add(-time.Duration(retentionDays) * 24 * time.Hour).UnixMilli()
	report := &CleanupReport{Cutoff: cutoff}

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		blobs := s.blobs.WithTx(tx)

		visits, err := expiredIDs(ctx, tx, "visitas", cutoff)
		if err != nil {
			return err
		}
		for _, visitID := range visits {
			var unsynced int
			err := tx.QueryRowContext(ctx, `
				SELECT (SELECT COUNT(*) FROM fotos WHERE visita_id = ?1 AND sync_status != 'synced')
				     + (SELECT COUNT(*) FROM audios WHERE visita_id = ?1 AND sync_status != 'synced')`,
				visitID).Scan(&unsynced)
			if err != nil {
				return errors.Wrap(errors.ErrDatabase, "check visit attachments", err)
			}
			if unsynced > 0 {
				report.SkippedVisits++
				continue
			}

			photos, err := idsWhere(ctx, tx, "SELECT id FROM fotos WHERE visita_id = ?", visitID)
			if err != nil {
				return err
			}
			audios, err := idsWhere(ctx, tx, "SELECT id FROM audios WHERE visita_id = ?", visitID)
			if err != nil {
				return err
			}
			if err := deleteAttachments(ctx, tx, blobs, models.KindFoto, photos); err != nil {
				return err
			}
			if err := deleteAttachments(ctx, tx, blobs, models.KindAudio, audios); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM visitas WHERE id = ?", visitID); err != nil {
				return errors.Wrap(errors.ErrDatabase, "delete visit", err)
			}

			report.Visits++
			report.Photos += len(photos)
			report.Audios += len(audios)
			report.Attachments = append(report.Attachments, photos...)
			report.Attachments = append(report.Attachments, audios...)
		}

		actions, err := expiredIDs(ctx, tx, "acciones", cutoff)
		if err != nil {
			return err
		}
		for _, id := range actions {
			if _, err := tx.ExecContext(ctx, "DELETE FROM acciones WHERE id = ?", id); err != nil {
				return errors.Wrap(errors.ErrDatabase, "delete action", err)
			}
		}
		report.Actions = len(actions)

		// Attachments whose visit is gone or that never belonged to one.
		for _, kind := range []models.Kind{models.KindFoto, models.KindAudio} {
			ids, err := idsWhere(ctx, tx, fmt.Sprintf(`
				SELECT id FROM %s
				WHERE sync_status = 'synced' AND synced_at IS NOT NULL AND synced_at < ?
				  AND (visita_id IS NULL OR visita_id NOT IN (SELECT id FROM visitas))`, kind.Table()), cutoff)
			if err != nil {
				return err
			}
			if err := deleteAttachments(ctx, tx, blobs, kind, ids); err != nil {
				return err
			}
			if kind == models.KindFoto {
				report.Photos += len(ids)
			} else {
				report.Audios += len(ids)
			}
			report.Attachments = append(report.Attachments, ids...)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Cleanup failed, nothing was deleted", err, map[string]interface{}{
			"retention_days": retentionDays,
		})
		return nil, err
	}

	s.logger.Info("Cleanup completed", map[string]interface{}{
		"retention_days": retentionDays,
		"visits":         report.Visits,
		"actions":        report.Actions,
		"photos":         report.Photos,
		"audios":         report.Audios,
		"skipped_visits": report.SkippedVisits,
	})
	return report, nil
}

func expiredIDs(ctx context.Context, tx *sql.Tx, table string, cutoff int64) ([]models.UUID, error) {
	return idsWhere(ctx, tx, fmt.Sprintf(`
		SELECT id FROM %s
		WHERE sync_status = 'synced' AND synced_at IS NOT NULL AND synced_at < ?
		ORDER BY synced_at ASC`, table), cutoff)
}

func idsWhere(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]models.UUID, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "select ids", err)
	}
	defer rows.Close()

	var ids []models.UUID
	for rows.Next() {
		var id models.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "scan id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "select ids", err)
	}
	return ids, nil
}

// deleteAttachments removes blobs first, then the metadata rows.
func deleteAttachments(ctx context.Context, tx *sql.Tx, blobs *blob.Store, kind models.Kind, ids []models.UUID) error {
	for _, id := range ids {
		if err := blobs.Delete(ctx, kind, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", kind.Table()), id); err != nil {
			return errors.Wrap(errors.ErrDatabase, "delete "+kind.String(), err)
		}
	}
	return nil
}

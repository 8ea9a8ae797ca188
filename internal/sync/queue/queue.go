// Package queue provides the durable sync queue: one row per entity that
// still has to reach the remote system.
//
// Items are ordered by priority, then by creation time. The engine takes one
// ordered snapshot per drain cycle; items enqueued while a cycle is running
// are picked up by the next cycle instead of pre-empting the current one.
package queue

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/kimhsiao/fieldsync/backend/internal/db"
	"github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
	"github.com/kimhsiao/fieldsync/backend/internal/uuid"
)

// maxBackoffExponent keeps 2^intentos minutes inside time.Duration.
const maxBackoffExponent = 27

const selectColumns = `id, organization_id, tipo, entity_id, prioridad, intentos,
	max_intentos, created_at, next_retry_at, ultimo_error`

// Queue manages pending sync operations persisted in SQLite.
type Queue struct {
	q           db.Querier
	maxIntentos int
	logger      *logging.Logger
	now         func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxIntentos sets the retry budget given to new items.
func WithMaxIntentos(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxIntentos = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a Queue over q.
func New(q db.Querier, opts ...Option) *Queue {
	queue := &Queue{
		q:           q,
		maxIntentos: models.DefaultMaxIntentos,
		logger:      logging.Get(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(queue)
	}
	queue.logger = queue.logger.Component("queue")
	return queue
}

// WithTx returns a copy of the queue whose statements run on tx.
func (q *Queue) WithTx(tx db.Querier) *Queue {
	clone := *q
	clone.q = tx
	return &clone
}

// MaxIntentos returns the retry budget given to new items.
func (q *Queue) MaxIntentos() int {
	return q.maxIntentos
}

// Enqueue appends a new item with intentos = 0. Tipo, EntityID and
// OrganizationID are required; the id, priority, budget and timestamps are
// filled in. A second active item for the same entity is rejected with
// CONFLICT.
func (q *Queue) Enqueue(ctx context.Context, item *models.SyncQueueItem) (*models.SyncQueueItem, error) {
	if !item.Tipo.Valid() {
		return nil, errors.Newf(errors.ErrInvalid, "unknown queue item kind %q", item.Tipo)
	}
	if item.EntityID.IsZero() {
		return nil, errors.New(errors.ErrInvalid, "queue item entity id is required")
	}
	if strings.TrimSpace(item.OrganizationID) == "" {
		return nil, errors.New(errors.ErrInvalid, "queue item organization id is required")
	}

	queued := *item
	queued.ID = models.UUID(uuid.New())
	queued.Intentos = 0
	queued.NextRetryAt = nil
	queued.UltimoError = ""
	queued.CreatedAt = q.now().UnixMilli()
	if queued.Prioridad <= 0 {
		queued.Prioridad = queued.Tipo.Priority()
	}
	if queued.MaxIntentos <= 0 {
		queued.MaxIntentos = q.maxIntentos
	}

	_, err := q.q.ExecContext(ctx, `
		INSERT INTO sync_queue (id, organization_id, tipo, entity_id, prioridad, intentos,
			max_intentos, created_at, next_retry_at, ultimo_error)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, NULL, '')`,
		queued.ID, queued.OrganizationID, string(queued.Tipo), queued.EntityID,
		queued.Prioridad, queued.MaxIntentos, queued.CreatedAt)
	if db.IsUniqueViolation(err) {
		return nil, errors.Wrap(errors.ErrConflict,
			fmt.Sprintf("%s %s already has an active queue item", queued.Tipo, queued.EntityID), err)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "enqueue", err)
	}

	q.logger.Debug("Enqueued sync item", map[string]interface{}{
		"item_id":   queued.ID.String(),
		"tipo":      queued.Tipo.String(),
		"entity_id": queued.EntityID.String(),
		"prioridad": queued.Prioridad,
	})
	return &queued, nil
}

// EnqueueEntity enqueues the synchronization of e with its kind's priority.
func (q *Queue) EnqueueEntity(ctx context.Context, e models.Entity) (*models.SyncQueueItem, error) {
	return q.Enqueue(ctx, &models.SyncQueueItem{
		OrganizationID: e.Org(),
		Tipo:           e.Kind(),
		EntityID:       e.EntityID(),
		Prioridad:      e.Kind().Priority(),
	})
}

// ListByPriority returns every item of a tenant sorted by ascending
// priority, oldest first within a priority. Items still backing off are
// included; callers decide whether they are due.
func (q *Queue) ListByPriority(ctx context.Context, organizationID string) ([]*models.SyncQueueItem, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+selectColumns+`
		FROM sync_queue
		WHERE organization_id = ?
		ORDER BY prioridad ASC, created_at ASC, rowid ASC`, organizationID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "list queue", err)
	}
	defer rows.Close()

	var items []*models.SyncQueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "scan queue item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "list queue", err)
	}
	return items, nil
}

// Get returns the item with the given id.
func (q *Queue) Get(ctx context.Context, id models.UUID) (*models.SyncQueueItem, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM sync_queue WHERE id = ?`, id)
	item, err := scanItem(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf(errors.ErrNotFound, "queue item %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "get queue item", err)
	}
	return item, nil
}

// FindByEntity returns the active item of an entity.
func (q *Queue) FindByEntity(ctx context.Context, kind models.Kind, entityID models.UUID) (*models.SyncQueueItem, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+selectColumns+`
		FROM sync_queue WHERE tipo = ? AND entity_id = ?`, string(kind), entityID)
	item, err := scanItem(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf(errors.ErrNotFound, "no queue item for %s %s", kind, entityID)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "find queue item", err)
	}
	return item, nil
}

// Remove deletes an item. Removing an item that no longer exists returns
// NOT_FOUND.
func (q *Queue) Remove(ctx context.Context, id models.UUID) error {
	res, err := q.q.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", id)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "remove queue item", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(errors.ErrNotFound, "queue item %s not found", id)
	}
	return nil
}

// RemoveByEntity deletes the active item of an entity, if any.
func (q *Queue) RemoveByEntity(ctx context.Context, kind models.Kind, entityID models.UUID) error {
	if _, err := q.q.ExecContext(ctx, "DELETE FROM sync_queue WHERE tipo = ? AND entity_id = ?", string(kind), entityID); err != nil {
		return errors.Wrap(errors.ErrDatabase, "remove queue item", err)
	}
	return nil
}

// Reschedule records a failed attempt: the new attempt count, when the item
// becomes due again and the error that caused the failure.
func (q *Queue) Reschedule(ctx context.Context, id models.UUID, intentos int, nextRetryAt time.Time, lastError string) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE sync_queue
		SET intentos = ?, next_retry_at = ?, ultimo_error = ?
		WHERE id = ?`,
		intentos, nextRetryAt.UnixMilli(), lastError, id)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "reschedule queue item", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(errors.ErrNotFound, "queue item %s not found", id)
	}
	return nil
}

// Count returns the number of items of a tenant.
func (q *Queue) Count(ctx context.Context, organizationID string) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue WHERE organization_id = ?", organizationID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "count queue", err)
	}
	return n, nil
}

// Stats summarizes the queue of a tenant.
type Stats struct {
	Total           int                 `json:"total"`
	Due             int                 `json:"due"`
	BackingOff      int                 `json:"backingOff"`
	ByKind          map[models.Kind]int `json:"byKind"`
	NextRetryAt     *int64              `json:"nextRetryAt,omitempty"`
	OldestCreatedAt *int64              `json:"oldestCreatedAt,omitempty"`
}

// Stats returns queue statistics of a tenant at the current time.
func (q *Queue) Stats(ctx context.Context, organizationID string) (*Stats, error) {
	items, err := q.ListByPriority(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	now := q.now()
	stats := &Stats{ByKind: make(map[models.Kind]int)}
	for _, item := range items {
		stats.Total++
		stats.ByKind[item.Tipo]++
		if item.IsDue(now) {
			stats.Due++
		} else {
			stats.BackingOff++
			if stats.NextRetryAt == nil || *item.NextRetryAt < *stats.NextRetryAt {
				next := *item.NextRetryAt
				stats.NextRetryAt = &next
			}
		}
		if stats.OldestCreatedAt == nil || item.CreatedAt < *stats.OldestCreatedAt {
			created := item.CreatedAt
			stats.OldestCreatedAt = &created
		}
	}
	return stats, nil
}

// CalculateBackoff returns the delay before the next attempt of an item
// that has failed intentos times: 2^intentos minutes, without jitter.
func CalculateBackoff(intentos int) time.Duration {
	if intentos < 0 {
		intentos = 0
	}
	if intentos > maxBackoffExponent {
		intentos = maxBackoffExponent
	}
	return time.Duration(int64(1)<<uint(intentos)) * time.Minute
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (*models.SyncQueueItem, error) {
	var (
		item        models.SyncQueueItem
		tipo        string
		nextRetryAt sql.NullInt64
	)
	err := s.Scan(&item.ID, &item.OrganizationID, &tipo, &item.EntityID, &item.Prioridad,
		&item.Intentos, &item.MaxIntentos, &item.CreatedAt, &nextRetryAt, &item.UltimoError)
	if err != nil {
		return nil, err
	}
	item.Tipo = models.Kind(tipo)
	if nextRetryAt.Valid {
		next := nextRetryAt.Int64
		item.NextRetryAt = &next
	}
	return &item, nil
}

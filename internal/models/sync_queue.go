package models

import "time"

// DefaultMaxIntentos is the retry budget of a queue item when the tenant
// configuration does not set one.
const DefaultMaxIntentos = 5

// SyncQueueItem is one pending synchronization of one entity.
type SyncQueueItem struct {
	ID             UUID   `db:"id" json:"id"`
	OrganizationID string `db:"organization_id" json:"organizationId"`
	Tipo           Kind   `db:"tipo" json:"tipo"`
	EntityID       UUID   `db:"entity_id" json:"entityId"`
	Prioridad      int    `db:"prioridad" json:"prioridad"`
	Intentos       int    `db:"intentos" json:"intentos"`
	MaxIntentos    int    `db:"max_intentos" json:"maxIntentos"`
	CreatedAt      int64  `db:"created_at" json:"createdAt"`
	NextRetryAt    *int64 `db:"next_retry_at" json:"nextRetryAt,omitempty"`
	UltimoError    string `db:"ultimo_error" json:"ultimoError,omitempty"`
}

// TableName returns the table name for SyncQueueItem.
func (SyncQueueItem) TableName() string {
	return "sync_queue"
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (q *SyncQueueItem) CreatedAtTime() time.Time {
	return time.UnixMilli(q.CreatedAt)
}

// NextRetryTime returns NextRetryAt as time.Time, or the zero time when the
// item has never failed.
func (q *SyncQueueItem) NextRetryTime() time.Time {
	if q.NextRetryAt == nil {
		return time.Time{}
	}
	return time.UnixMilli(*q.NextRetryAt)
}

// IsDue reports whether the item may be dispatched at now.
func (q *SyncQueueItem) IsDue(now time.Time) bool {
	return q.NextRetryAt == nil || *q.NextRetryAt <= now.UnixMilli()
}

// Exhausted reports whether the retry budget is spent.
func (q *SyncQueueItem) Exhausted() bool {
	return q.Intentos >= q.MaxIntentos
}

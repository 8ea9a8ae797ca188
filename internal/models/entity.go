package models

import "time"

// SyncMeta carries the synchronization bookkeeping common to every entity.
// Timestamps are Unix milliseconds.
type SyncMeta struct {
	SyncStatus SyncStatus `db:"sync_status" json:"syncStatus"`
	CreatedAt  int64      `db:"created_at" json:"createdAt"`
	UpdatedAt  int64      `db:"updated_at" json:"updatedAt"`
	SyncedAt   *int64     `db:"synced_at" json:"syncedAt,omitempty"`
	SyncError  string     `db:"sync_error" json:"syncError,omitempty"`
	RemoteID   string     `db:"remote_id" json:"remoteId,omitempty"`
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (m *SyncMeta) CreatedAtTime() time.Time {
	return time.UnixMilli(m.CreatedAt)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (m *SyncMeta) UpdatedAtTime() time.Time {
	return time.UnixMilli(m.UpdatedAt)
}

// SyncedAtTime returns the SyncedAt as time.Time, or the zero time when the
// entity has never been synced.
func (m *SyncMeta) SyncedAtTime() time.Time {
	if m.SyncedAt == nil {
		return time.Time{}
	}
	return time.UnixMilli(*m.SyncedAt)
}

// Stamp prepares the metadata of a freshly created entity.
func (m *SyncMeta) Stamp(now time.Time) {
	ms := now.UnixMilli()
	m.SyncStatus = StatusPending
	m.CreatedAt = ms
	m.UpdatedAt = ms
	m.SyncedAt = nil
	m.SyncError = ""
	m.RemoteID = ""
}

// Entity is implemented by the four synchronizable records.
type Entity interface {
	Kind() Kind
	EntityID() UUID
	Org() string
	Meta() *SyncMeta

	setID(id UUID)
}

// GeoPoint is a WGS84 coordinate captured by the device.
type GeoPoint struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Accuracy *float64 `json:"accuracy,omitempty"`
}

// Millis converts t to Unix milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// MillisPtr converts t to a pointer to Unix milliseconds.
func MillisPtr(t time.Time) *int64 {
	ms := t.UnixMilli()
	return &ms
}

// AssignID sets the identifier of e. Only the entity store assigns ids.
func AssignID(e Entity, id UUID) {
	e.setID(id)
}

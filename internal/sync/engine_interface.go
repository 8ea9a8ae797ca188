// Package sync drains the sync queue against the remote API.
package sync

import (
	"context"
	"time"
)

// SyncEngineInterface defines the interface for sync engine operations.
// This interface allows for mocking in tests and alternative implementations.
type SyncEngineInterface interface {
	// Sync runs one drain cycle. It fails with SYNC_IN_PROGRESS when a
	// cycle is already running and SYNC_OFFLINE when the remote API is
	// unreachable.
	Sync(ctx context.Context) (*SyncResult, error)

	// TriggerSync is Sync with concurrent requests coalesced: it returns
	// nil, nil when a cycle is already running.
	TriggerSync(ctx context.Context) (*SyncResult, error)

	// Status returns the current sync status.
	Status() SyncStatus

	// LastSync returns the end time of the last completed cycle.
	LastSync() *time.Time

	// PendingChanges returns the number of queue items left after the last cycle.
	PendingChanges() int

	// LastError returns the error of the last cycle, if it failed.
	LastError() error

	// Online reports whether the remote API is believed reachable.
	Online() bool
}

package sync

import (
	"context"

	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

// Result holds the server-assigned fields folded back into the entity after
// a successful dispatch.
type Result struct {
	RemoteID      string
	RemoteURL     string
	Transcripcion string
}

// Handler pushes one kind of entity to the remote API. Dispatch may be
// repeated for the same entity (at-least-once), so the remote side must
// treat the entity id as an idempotency key.
type Handler interface {
	Kind() models.Kind
	Sync(ctx context.Context, item *models.SyncQueueItem) (*Result, error)
}

// HandlerFunc adapts a function to a Handler for kind.
func HandlerFunc(kind models.Kind, fn func(ctx context.Context, item *models.SyncQueueItem) (*Result, error)) Handler {
	return handlerFunc{kind: kind, fn: fn}
}

type handlerFunc struct {
	kind models.Kind
	fn   func(ctx context.Context, item *models.SyncQueueItem) (*Result, error)
}

func (h handlerFunc) Kind() models.Kind { return h.kind }

func (h handlerFunc) Sync(ctx context.Context, item *models.SyncQueueItem) (*Result, error) {
	return h.fn(ctx, item)
}

// Package events is a small in-process publish/subscribe bus for sync
// lifecycle notifications.
//
// Delivery is synchronous, best effort and unbuffered. Observers such as the
// UI use it to avoid polling; nothing reads it to decide what to persist.
package events

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

// Type identifies an event.
type Type string

const (
	SyncStarted   Type = "sync.started"
	SyncProgress  Type = "sync.progress"
	ItemSynced    Type = "sync.item_synced"
	ItemFailed    Type = "sync.item_failed"
	ItemTerminal  Type = "sync.item_terminal"
	SyncCompleted Type = "sync.completed"
	SyncFailed    Type = "sync.failed"

	ConnectivityChanged Type = "connectivity.changed"
	EntityCreated       Type = "entity.created"
	CleanupCompleted    Type = "cleanup.completed"
)

// Event is one notification. Fields that do not apply to a type are zero.
type Event struct {
	Type      Type        `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Kind      models.Kind `json:"tipo,omitempty"`
	EntityID  models.UUID `json:"entityId,omitempty"`
	// Synced and Pending are running counts within a drain cycle.
	Synced   int    `json:"synced"`
	Pending  int    `json:"pending"`
	Intentos int    `json:"intentos,omitempty"`
	Online   *bool  `json:"online,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Handler receives published events. It runs on the publisher's goroutine
// and should return quickly.
type Handler func(Event)

// Publisher is implemented by Bus.
type Publisher interface {
	Publish(Event)
}

// Bus fans events out to its subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]Handler
	nextID uint64
	now    func() time.Time
	logger *logging.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report panicking subscribers.
func WithLogger(l *logging.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithClock overrides the time source used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// New creates an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[uint64]Handler),
		now:    time.Now,
		logger: logging.Get(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.Component("events")
	return b
}

// Subscribe registers fn and returns a function that removes it. Calling
// the returned function more than once is harmless.
func (b *Bus) Subscribe(fn Handler) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers e to every current subscriber in subscription order.
// A zero Timestamp is set to now. Subscribers added or removed during
// delivery take effect on the next Publish.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}
	for _, fn := range b.snapshot() {
		b.deliver(fn, e)
	}
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) snapshot() []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]uint64, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]Handler, len(ids))
	for i, id := range ids {
		handlers[i] = b.subs[id]
	}
	return handlers
}

func (b *Bus) deliver(fn Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event subscriber panicked", fmt.Errorf("%v", r), map[string]interface{}{
				"event": string(e.Type),
			})
		}
	}()
	fn(e)
}

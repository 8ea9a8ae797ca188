package sync

import (
	"context"
	"fmt"
	"runtime/debug"
	stdsync "sync"
	"time"

	"github.com/kimhsiao/fieldsync/backend/internal/connectivity"
	"github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/events"
	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
	"github.com/kimhsiao/fieldsync/backend/internal/store"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/queue"
)

// SyncStatus represents the current sync status.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
)

// maxErrorHistory bounds the per-item error history kept in memory.
const maxErrorHistory = 100

// Queue is the part of the sync queue a drain cycle reads.
type Queue interface {
	ListByPriority(ctx context.Context, organizationID string) ([]*models.SyncQueueItem, error)
	Count(ctx context.Context, organizationID string) (int, error)
}

// Ledger records the outcome of each dispatch. *store.Store implements it.
type Ledger interface {
	UpdateStatus(ctx context.Context, kind models.Kind, id models.UUID, status models.SyncStatus, extra store.StatusExtra) error
	CompleteSync(ctx context.Context, item *models.SyncQueueItem, extra store.StatusExtra) error
	RescheduleSync(ctx context.Context, item *models.SyncQueueItem, intentos int, nextRetryAt time.Time, lastError string) error
	FailSync(ctx context.Context, item *models.SyncQueueItem, lastError string) error
	ReleaseSync(ctx context.Context, item *models.SyncQueueItem) error
	DropOrphan(ctx context.Context, item *models.SyncQueueItem) error
}

// SyncResult represents the result of one drain cycle. Total is the size
// of the queue snapshot taken when the cycle started.
type SyncResult struct {
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`
	Total     int           `json:"total"`
	Synced    int           `json:"synced"`
	Failed    int           `json:"failed"`
	Terminal  int           `json:"terminal"`
	Skipped   int           `json:"skipped"`
	Aborted   bool          `json:"aborted"`
	Offline   bool          `json:"offline"`
	Error     string        `json:"error,omitempty"`
}

// SyncErrorEntry is one failed dispatch kept in the error history.
type SyncErrorEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	ItemID    models.UUID `json:"itemId"`
	Kind      models.Kind `json:"tipo"`
	EntityID  models.UUID `json:"entityId"`
	Operation string      `json:"operation"`
	Intentos  int         `json:"intentos"`
	Error     string      `json:"error"`
}

// SyncEngine drains the queue of one tenant, one item at a time, in the
// priority order snapshotted at the start of each cycle. Items enqueued
// while a cycle runs wait for the next cycle.
type SyncEngine struct {
	org     string
	queue   Queue
	ledger  Ledger
	monitor connectivity.Monitor
	events  events.Publisher
	logger  *logging.Logger
	now     func() time.Time

	handlersMu stdsync.RWMutex
	handlers   map[models.Kind]Handler

	mu       stdsync.Mutex
	status   SyncStatus
	lastSync *time.Time
	pending  int
	lastErr  error

	errMu        stdsync.RWMutex
	errorHistory []SyncErrorEntry

	runCtx      context.Context
	unsubscribe func()
	wg          stdsync.WaitGroup
}

// Option configures a SyncEngine.
type Option func(*SyncEngine)

// WithMonitor sets the connectivity source. Without one the engine assumes
// it is always online.
func WithMonitor(m connectivity.Monitor) Option {
	return func(e *SyncEngine) { e.monitor = m }
}

// WithEvents sets where lifecycle events are published.
func WithEvents(p events.Publisher) Option {
	return func(e *SyncEngine) { e.events = p }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *SyncEngine) { e.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *SyncEngine) { e.now = now }
}

// WithHandlers registers handlers at construction.
func WithHandlers(handlers ...Handler) Option {
	return func(e *SyncEngine) {
		for _, h := range handlers {
			e.handlers[h.Kind()] = h
		}
	}
}

// NewSyncEngine creates an idle engine for one organization.
func NewSyncEngine(organizationID string, q Queue, ledger Ledger, opts ...Option) *SyncEngine {
	e := &SyncEngine{
		org:      organizationID,
		queue:    q,
		ledger:   ledger,
		monitor:  connectivity.NewManual(true),
		logger:   logging.Get(),
		now:      time.Now,
		handlers: make(map[models.Kind]Handler),
		status:   SyncStatusIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Component("sync").With(map[string]interface{}{"organization_id": organizationID})
	return e
}

// Register adds or replaces the handler for h.Kind().
func (e *SyncEngine) Register(h Handler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.handlers[h.Kind()] = h
}

func (e *SyncEngine) handler(kind models.Kind) Handler {
	e.handlersMu.RLock()
	defer e.handlersMu.RUnlock()
	return e.handlers[kind]
}

// Online reports the connectivity state seen by the engine.
func (e *SyncEngine) Online() bool {
	return e.monitor.Online()
}

// Status returns the current sync status.
func (e *SyncEngine) Status() SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// LastSync returns the end time of the last cycle that did not fail.
func (e *SyncEngine) LastSync() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// PendingChanges returns the number of queue items left after the last cycle.
func (e *SyncEngine) PendingChanges() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// LastError returns the error of the last cycle.
func (e *SyncEngine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Start subscribes to connectivity changes: every transition to online
// starts a drain in the background. A drain also starts right away when
// already online. Background drains use ctx.
func (e *SyncEngine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.unsubscribe != nil {
		e.mu.Unlock()
		return
	}
	e.runCtx = ctx
	e.unsubscribe = e.monitor.Subscribe(e.onConnectivity)
	e.mu.Unlock()

	if e.monitor.Online() {
		e.triggerAsync()
	}
}

// Stop unsubscribes from connectivity changes and waits for background
// drains to return.
func (e *SyncEngine) Stop() {
	e.mu.Lock()
	unsubscribe := e.unsubscribe
	e.unsubscribe = nil
	e.runCtx = nil
	e.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	e.wg.Wait()
}

func (e *SyncEngine) onConnectivity(online bool) {
	e.logger.Info("Connectivity changed", map[string]interface{}{"online": online})
	e.publish(events.Event{Type: events.ConnectivityChanged, Online: &online})
	if online {
		e.triggerAsync()
	}
}

func (e *SyncEngine) triggerAsync() {
	e.mu.Lock()
	ctx := e.runCtx
	if ctx == nil || ctx.Err() != nil {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		if _, err := e.TriggerSync(ctx); err != nil && !errors.Is(err, errors.ErrSyncOffline) {
			e.logger.ErrorWithCode("Background sync failed", string(errors.ErrSyncFailed), err)
		}
	}()
}

// TriggerSync runs a cycle unless one is already running.
func (e *SyncEngine) TriggerSync(ctx context.Context) (*SyncResult, error) {
	result, err := e.Sync(ctx)
	if errors.Is(err, errors.ErrSyncInProgress) {
		e.logger.Debug("Sync already in progress, request coalesced")
		return nil, nil
	}
	return result, err
}

// Sync runs one drain cycle.
//
// Offline, it dispatches nothing and leaves the queue untouched. Otherwise
// it snapshots the queue by priority and dispatches every due item in
// order, stopping early if connectivity is lost or ctx is done. A failing
// item never stops the cycle; a local storage failure does, and is returned.
func (e *SyncEngine) Sync(ctx context.Context) (*SyncResult, error) {
	e.mu.Lock()
	if e.status == SyncStatusSyncing {
		e.mu.Unlock()
		return nil, errors.New(errors.ErrSyncInProgress, "sync already in progress")
	}
	e.status = SyncStatusSyncing
	e.mu.Unlock()

	result := &SyncResult{StartTime: e.now()}
	var runErr error

	defer func() {
		result.EndTime = e.now()
		result.Duration = result.EndTime.Sub(result.StartTime)

		pending, countErr := e.queue.Count(context.WithoutCancel(ctx), e.org)

		e.mu.Lock()
		defer e.mu.Unlock()
		e.status = SyncStatusIdle
		e.lastErr = runErr
		if runErr == nil {
			end := result.EndTime
			e.lastSync = &end
		}
		if countErr == nil {
			e.pending = pending
		}
	}()

	if !e.monitor.Online() {
		result.Offline = true
		runErr = errors.New(errors.ErrSyncOffline, "remote api is unreachable")
		result.Error = runErr.Error()
		e.logger.Debug("Skipping sync while offline")
		return result, runErr
	}

	runErr = e.drain(ctx, result)
	if runErr != nil {
		result.Error = runErr.Error()
		e.logger.ErrorWithCode("Sync failed", string(errors.CodeOf(runErr)), runErr, map[string]interface{}{
			"synced": result.Synced,
			"failed": result.Failed,
		})
		e.publish(events.Event{
			Type:    events.SyncFailed,
			Synced:  result.Synced,
			Pending: result.Total - result.Synced - result.Terminal,
			Error:   runErr.Error(),
		})
		return result, runErr
	}

	e.logger.Info("Sync completed", map[string]interface{}{
		"total":    result.Total,
		"synced":   result.Synced,
		"failed":   result.Failed,
		"terminal": result.Terminal,
		"skipped":  result.Skipped,
		"aborted":  result.Aborted,
	})
	e.publish(events.Event{
		Type:    events.SyncCompleted,
		Synced:  result.Synced,
		Pending: result.Total - result.Synced - result.Terminal,
	})
	return result, nil
}

func (e *SyncEngine) drain(ctx context.Context, result *SyncResult) error {
	items, err := e.queue.ListByPriority(ctx, e.org)
	if err != nil {
		return err
	}
	result.Total = len(items)
	pending := len(items)
	e.publish(events.Event{Type: events.SyncStarted, Pending: pending})

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			result.Aborted = true
			return errors.Wrap(errors.ErrSyncFailed, "drain interrupted", err)
		}
		if !e.monitor.Online() {
			result.Aborted = true
			e.logger.Info("Connectivity lost, stopping drain", map[string]interface{}{
				"remaining": pending,
			})
			return nil
		}
		if !item.IsDue(e.now()) {
			result.Skipped++
			continue
		}

		resolved, err := e.dispatch(ctx, item, result)
		if err != nil {
			return err
		}
		if resolved {
			pending--
		}
		e.publish(events.Event{
			Type:     events.SyncProgress,
			Kind:     item.Tipo,
			EntityID: item.EntityID,
			Synced:   result.Synced,
			Pending:  pending,
		})
	}
	return nil
}

// dispatch sends one item and records the outcome. resolved reports whether
// the item left the queue.
func (e *SyncEngine) dispatch(ctx context.Context, item *models.SyncQueueItem, result *SyncResult) (resolved bool, err error) {
	h := e.handler(item.Tipo)
	if h == nil {
		noHandler := errors.Newf(errors.ErrSyncNoHandler, "no handler registered for %s", item.Tipo)
		e.recordError(item, "dispatch", item.Intentos, noHandler)
		result.Failed++
		e.publish(events.Event{
			Type:     events.ItemFailed,
			Kind:     item.Tipo,
			EntityID: item.EntityID,
			Intentos: item.Intentos,
			Error:    noHandler.Error(),
		})
		return false, nil
	}

	if err := e.ledger.UpdateStatus(ctx, item.Tipo, item.EntityID, models.StatusSyncing, store.StatusExtra{}); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return true, e.ledger.DropOrphan(ctx, item)
		}
		return false, err
	}

	res, dispatchErr := e.call(ctx, h, item)

	// The outcome of a call that was allowed to finish is always recorded.
	record := context.WithoutCancel(ctx)

	if dispatchErr == nil {
		if res == nil {
			res = &Result{}
		}
		syncedAt := e.now()
		err := e.ledger.CompleteSync(record, item, store.StatusExtra{
			SyncedAt:      &syncedAt,
			RemoteID:      res.RemoteID,
			RemoteURL:     res.RemoteURL,
			Transcripcion: res.Transcripcion,
		})
		if err != nil {
			return false, err
		}
		result.Synced++
		e.logger.Info("Entity synced", map[string]interface{}{
			"tipo":      item.Tipo.String(),
			"entity_id": item.EntityID.String(),
			"intentos":  item.Intentos,
		})
		e.publish(events.Event{Type: events.ItemSynced, Kind: item.Tipo, EntityID: item.EntityID, Intentos: item.Intentos})
		return true, nil
	}

	if ctx.Err() != nil {
		// Cancelled mid-call: not an attempt.
		if err := e.ledger.ReleaseSync(record, item); err != nil {
			return false, err
		}
		result.Aborted = true
		return false, errors.Wrap(errors.ErrSyncFailed, "drain interrupted", ctx.Err())
	}

	if errors.IsLocal(dispatchErr) {
		// Local storage is broken, not the remote: no attempt is spent and
		// the cycle stops so the caller sees the error.
		if err := e.ledger.ReleaseSync(record, item); err != nil {
			return false, err
		}
		e.recordError(item, "dispatch", item.Intentos, dispatchErr)
		result.Aborted = true
		return false, dispatchErr
	}

	return e.retry(record, item, dispatchErr, result)
}

// call runs the handler. A panic is turned into an error for this item so
// the rest of the cycle still runs.
func (e *SyncEngine) call(ctx context.Context, h Handler, item *models.SyncQueueItem) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Sync handler panicked", nil, map[string]interface{}{
				"tipo":      item.Tipo.String(),
				"entity_id": item.EntityID.String(),
				"panic":     fmt.Sprint(r),
				"stack":     string(debug.Stack()),
			})
			res = nil
			err = errors.Newf(errors.ErrSyncFailed, "%s handler panicked: %v", item.Tipo, r)
		}
	}()
	return h.Sync(ctx, item)
}

// retry applies the retry policy to a failed dispatch: reschedule with
// exponential backoff while budget remains, otherwise drop the item and
// leave the entity in error.
func (e *SyncEngine) retry(ctx context.Context, item *models.SyncQueueItem, cause error, result *SyncResult) (bool, error) {
	intentos := item.Intentos + 1
	maxIntentos := item.MaxIntentos
	if maxIntentos <= 0 {
		maxIntentos = models.DefaultMaxIntentos
	}
	msg := cause.Error()
	e.recordError(item, "dispatch", intentos, cause)

	fields := map[string]interface{}{
		"tipo":         item.Tipo.String(),
		"entity_id":    item.EntityID.String(),
		"intentos":     intentos,
		"max_intentos": maxIntentos,
	}

	if intentos >= maxIntentos {
		if err := e.ledger.FailSync(ctx, item, msg); err != nil {
			return false, err
		}
		result.Terminal++
		e.logger.ErrorWithCode("Sync retries exhausted", string(errors.ErrSyncExhausted), cause, fields)
		e.publish(events.Event{
			Type:     events.ItemTerminal,
			Kind:     item.Tipo,
			EntityID: item.EntityID,
			Intentos: intentos,
			Error:    msg,
		})
		return true, nil
	}

	next := e.now().Add(queue.CalculateBackoff(intentos))
	if err := e.ledger.RescheduleSync(ctx, item, intentos, next, msg); err != nil {
		return false, err
	}
	result.Failed++
	fields["next_retry_at"] = next.UTC().Format(time.RFC3339)
	e.logger.Warn("Sync attempt failed, rescheduled", fields)
	e.publish(events.Event{
		Type:     events.ItemFailed,
		Kind:     item.Tipo,
		EntityID: item.EntityID,
		Intentos: intentos,
		Error:    msg,
	})
	return false, nil
}

func (e *SyncEngine) publish(ev events.Event) {
	if e.events == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}
	e.events.Publish(ev)
}

// recordError appends to the bounded error history.
func (e *SyncEngine) recordError(item *models.SyncQueueItem, operation string, intentos int, err error) {
	e.errMu.Lock()
	defer e.errMu.Unlock()

	e.errorHistory = append(e.errorHistory, SyncErrorEntry{
		Timestamp: e.now(),
		ItemID:    item.ID,
		Kind:      item.Tipo,
		EntityID:  item.EntityID,
		Operation: operation,
		Intentos:  intentos,
		Error:     err.Error(),
	})
	if len(e.errorHistory) > maxErrorHistory {
		e.errorHistory = e.errorHistory[len(e.errorHistory)-maxErrorHistory:]
	}
}

// GetErrorHistory returns a copy of the recent dispatch errors, oldest first.
func (e *SyncEngine) GetErrorHistory() []SyncErrorEntry {
	e.errMu.RLock()
	defer e.errMu.RUnlock()

	history := make([]SyncErrorEntry, len(e.errorHistory))
	copy(history, e.errorHistory)
	return history
}

// ClearErrorHistory empties the error history.
func (e *SyncEngine) ClearErrorHistory() {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	e.errorHistory = nil
}

var _ SyncEngineInterface = (*SyncEngine)(nil)

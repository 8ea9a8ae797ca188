// Package scheduler runs the periodic background work of a sync core: a
// drain every sync interval while online, so backed-off items go out once
// due, and a retention cleanup every cleanup interval.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	"github.com/kimhsiao/fieldsync/backend/internal/store"
	syncpkg "github.com/kimhsiao/fieldsync/backend/internal/sync"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/queue"
)

// QueueStats reports queue statistics. *queue.Queue implements it.
type QueueStats interface {
	Stats(ctx context.Context, organizationID string) (*queue.Stats, error)
}

// Cleaner purges synced records past retention.
type Cleaner interface {
	Cleanup(ctx context.Context, retentionDays int) (*store.CleanupReport, error)
}

// Scheduler manages background sync operations.
type Scheduler struct {
	engine          syncpkg.SyncEngineInterface
	queue           QueueStats
	cleaner         Cleaner
	org             string
	syncInterval    time.Duration
	cleanupInterval time.Duration
	syncTimeout     time.Duration
	retentionDays   int
	logger          *logging.Logger

	stopCh            chan struct{}
	wg                sync.WaitGroup
	mu                sync.RWMutex
	isRunning         bool
	lastSyncTime      time.Time
	lastCleanupTime   time.Time
	lastCleanup       *store.CleanupReport
	syncInProgress    bool
	cleanupInProgress bool
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	OrganizationID  string
	SyncInterval    time.Duration // periodic drain while online (default: 1 minute)
	CleanupInterval time.Duration // retention cleanup (default: 24 hours)
	SyncTimeout     time.Duration // bound on one scheduled drain (default: 5 minutes)
	RetentionDays   int
	Logger          *logging.Logger
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval:    1 * time.Minute,
		CleanupInterval: 24 * time.Hour,
		SyncTimeout:     5 * time.Minute,
		RetentionDays:   30,
	}
}

// NewScheduler creates a new Scheduler. cleaner may be nil, in which case
// no cleanup runs.
func NewScheduler(engine syncpkg.SyncEngineInterface, q QueueStats, cleaner Cleaner, config *SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config == nil {
		config = defaults
	}
	s := &Scheduler{
		engine:          engine,
		queue:           q,
		cleaner:         cleaner,
		org:             config.OrganizationID,
		syncInterval:    config.SyncInterval,
		cleanupInterval: config.CleanupInterval,
		syncTimeout:     config.SyncTimeout,
		retentionDays:   config.RetentionDays,
		logger:          config.Logger,
		stopCh:          make(chan struct{}),
	}
	if s.syncInterval <= 0 {
		s.syncInterval = defaults.SyncInterval
	}
	if s.cleanupInterval <= 0 {
		s.cleanupInterval = defaults.CleanupInterval
	}
	if s.syncTimeout <= 0 {
		s.syncTimeout = defaults.SyncTimeout
	}
	if s.logger == nil {
		s.logger = logging.Get()
	}
	s.logger = s.logger.Component("scheduler")
	return s
}

// Start starts the background loops. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.periodicSyncLoop(ctx)

	if s.cleaner != nil {
		s.wg.Add(1)
		go s.cleanupLoop(ctx)
	}

	s.logger.Info("Background sync scheduler started", map[string]interface{}{
		"sync_interval":    s.syncInterval.String(),
		"cleanup_interval": s.cleanupInterval.String(),
	})
}

// Stop stops the background loops and waits for any run in flight.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	s.logger.Info("Background sync scheduler stopped")
}

// periodicSyncLoop drains the queue on every tick while online.
func (s *Scheduler) periodicSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.engine.Online() {
				continue
			}
			s.runSync(ctx)
		}
	}
}

// cleanupLoop purges expired synced records on every tick.
func (s *Scheduler) cleanupLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

// runSync executes one scheduled drain.
func (s *Scheduler) runSync(ctx context.Context) {
	s.mu.Lock()
	if s.syncInProgress {
		s.mu.Unlock()
		s.logger.Debug("Sync already in progress, skipping")
		return
	}
	s.syncInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	result, err := s.engine.TriggerSync(syncCtx)
	if err != nil {
		if errors.Is(err, errors.ErrSyncOffline) {
			return
		}
		s.logger.ErrorWithCode("Periodic sync failed", string(errors.ErrSyncFailed), err,
			map[string]interface{}{"interval_minutes": s.syncInterval.Minutes()})
		return
	}
	if result == nil {
		return
	}

	s.mu.Lock()
	s.lastSyncTime = result.EndTime
	s.mu.Unlock()

	s.logger.Debug("Periodic sync completed", map[string]interface{}{
		"synced":  result.Synced,
		"failed":  result.Failed,
		"skipped": result.Skipped,
	})
}

// runCleanup executes one scheduled cleanup.
func (s *Scheduler) runCleanup(ctx context.Context) {
	s.mu.Lock()
	if s.cleanupInProgress {
		s.mu.Unlock()
		return
	}
	s.cleanupInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.cleanupInProgress = false
		s.mu.Unlock()
	}()

	report, err := s.cleaner.Cleanup(ctx, s.retentionDays)
	if err != nil {
		s.logger.Error("Scheduled cleanup failed", err, map[string]interface{}{
			"retention_days": s.retentionDays,
		})
		return
	}

	s.mu.Lock()
	s.lastCleanupTime = time.Now()
	s.lastCleanup = report
	s.mu.Unlock()
}

// TriggerSync starts a drain in the background.
// Returns true if a drain was started, false if one is already in progress.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	s.mu.RLock()
	isSyncing := s.syncInProgress
	s.mu.RUnlock()

	if isSyncing || s.engine.Status() == syncpkg.SyncStatusSyncing {
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSync(ctx)
	}()
	return true
}

// SyncNow runs a drain and waits for it. Unlike the scheduled drains it
// reports SYNC_IN_PROGRESS and SYNC_OFFLINE to the caller.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.SyncResult, error) {
	syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	result, err := s.engine.Sync(syncCtx)
	if err != nil {
		return result, err
	}

	s.mu.Lock()
	s.lastSyncTime = result.EndTime
	s.mu.Unlock()

	s.logger.Info("Manual sync completed", map[string]interface{}{
		"synced":   result.Synced,
		"failed":   result.Failed,
		"terminal": result.Terminal,
	})
	return result, nil
}

// SchedulerStatus is a snapshot of the scheduler and the queue.
type SchedulerStatus struct {
	IsRunning         bool                 `json:"isRunning"`
	IsOnline          bool                 `json:"isOnline"`
	LastSyncTime      *time.Time           `json:"lastSyncTime,omitempty"`
	LastCleanupTime   *time.Time           `json:"lastCleanupTime,omitempty"`
	LastCleanup       *store.CleanupReport `json:"lastCleanup,omitempty"`
	SyncInProgress    bool                 `json:"syncInProgress"`
	CleanupInProgress bool                 `json:"cleanupInProgress"`
	PendingItems      int                  `json:"pendingItems"`
	QueueStats        *queue.Stats         `json:"queueStats,omitempty"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus(ctx context.Context) SchedulerStatus {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning:         s.isRunning,
		SyncInProgress:    s.syncInProgress || s.engine.Status() == syncpkg.SyncStatusSyncing,
		CleanupInProgress: s.cleanupInProgress,
		LastCleanup:       s.lastCleanup,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	if !s.lastCleanupTime.IsZero() {
		t := s.lastCleanupTime
		status.LastCleanupTime = &t
	}
	s.mu.RUnlock()

	status.IsOnline = s.engine.Online()
	if status.LastSyncTime == nil {
		status.LastSyncTime = s.engine.LastSync()
	}

	if s.queue != nil {
		stats, err := s.queue.Stats(ctx, s.org)
		if err != nil {
			s.logger.Warn("Failed to read queue stats", map[string]interface{}{"error": err.Error()})
		} else {
			status.QueueStats = stats
			status.PendingItems = stats.Total
		}
	}
	return status
}

// IsOnline returns whether the engine sees the remote API as reachable.
func (s *Scheduler) IsOnline() bool {
	return s.engine.Online()
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

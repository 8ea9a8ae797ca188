// Package queue provides unit tests for the durable sync queue.
package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kimhsiao/fieldsync/backend/internal/db"
	"github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newTestQueue(t *testing.T, opts ...Option) (*Queue, *db.DB, *testClock) {
	t.Helper()
	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("db.Open failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.Migrate(context.Background(), database); err != nil {
		t.Fatalf("db.Migrate failed: %v", err)
	}

	clock := &testClock{now: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(database.DB, opts...), database, clock
}

func enqueue(t *testing.T, q *Queue, kind models.Kind, entityID string) *models.SyncQueueItem {
	t.Helper()
	item, err := q.Enqueue(context.Background(), &models.SyncQueueItem{
		OrganizationID: "org-1",
		Tipo:           kind,
		EntityID:       models.UUID(entityID),
	})
	if err != nil {
		t.Fatalf("Enqueue(%s %s) failed: %v", kind, entityID, err)
	}
	return item
}

// =====================================================
// Enqueue Tests
// =====================================================

// TestEnqueue tests defaults applied to a new item.
func TestEnqueue(t *testing.T) {
	q, _, clock := newTestQueue(t)

	item := enqueue(t, q, models.KindFoto, "f1")

	if item.ID == "" {
		t.Error("Expected item ID to be set")
	}
	if item.Intentos != 0 {
		t.Errorf("Expected intentos 0, got %d", item.Intentos)
	}
	if item.MaxIntentos != models.DefaultMaxIntentos {
		t.Errorf("Expected maxIntentos %d, got %d", models.DefaultMaxIntentos, item.MaxIntentos)
	}
	if item.Prioridad != models.PriorityAttachment {
		t.Errorf("Expected prioridad 3, got %d", item.Prioridad)
	}
	if item.CreatedAt != clock.now.UnixMilli() {
		t.Errorf("Expected createdAt %d, got %d", clock.now.UnixMilli(), item.CreatedAt)
	}
	if item.NextRetryAt != nil {
		t.Error("Expected no nextRetryAt on a fresh item")
	}

	stored, err := q.Get(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if *stored != *item {
		t.Errorf("stored item = %+v, want %+v", stored, item)
	}
}

// TestEnqueue_resetsBookkeeping tests that caller-provided attempt state is ignored.
func TestEnqueue_resetsBookkeeping(t *testing.T) {
	q, _, _ := newTestQueue(t, WithMaxIntentos(3))
	next := int64(99)

	item, err := q.Enqueue(context.Background(), &models.SyncQueueItem{
		ID:             "caller-id",
		OrganizationID: "org-1",
		Tipo:           models.KindVisita,
		EntityID:       "v1",
		Intentos:       4,
		NextRetryAt:    &next,
		UltimoError:    "old",
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if item.ID == "caller-id" || item.Intentos != 0 || item.NextRetryAt != nil || item.UltimoError != "" {
		t.Errorf("bookkeeping not reset: %+v", item)
	}
	if item.MaxIntentos != 3 {
		t.Errorf("Expected configured maxIntentos 3, got %d", item.MaxIntentos)
	}
}

// TestEnqueue_duplicateEntity tests the one-active-item-per-entity rule.
func TestEnqueue_duplicateEntity(t *testing.T) {
	q, _, _ := newTestQueue(t)
	enqueue(t, q, models.KindVisita, "v1")

	_, err := q.Enqueue(context.Background(), &models.SyncQueueItem{
		OrganizationID: "org-1", Tipo: models.KindVisita, EntityID: "v1",
	})
	if !errors.Is(err, errors.ErrConflict) {
		t.Fatalf("Expected CONFLICT, got %v", err)
	}

	// Same id under another kind is a different entity.
	enqueue(t, q, models.KindAccion, "v1")
}

// TestEnqueue_invalid tests validation of required fields.
func TestEnqueue_invalid(t *testing.T) {
	q, _, _ := newTestQueue(t)
	tests := []struct {
		name string
		item models.SyncQueueItem
	}{
		{"unknown kind", models.SyncQueueItem{OrganizationID: "org-1", Tipo: "cliente", EntityID: "c1"}},
		{"missing entity", models.SyncQueueItem{OrganizationID: "org-1", Tipo: models.KindFoto}},
		{"missing org", models.SyncQueueItem{Tipo: models.KindFoto, EntityID: "f1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := tt.item
			if _, err := q.Enqueue(context.Background(), &item); !errors.Is(err, errors.ErrInvalid) {
				t.Errorf("Expected INVALID_INPUT, got %v", err)
			}
		})
	}
}

// TestEnqueueEntity tests enqueuing straight from an entity record.
func TestEnqueueEntity(t *testing.T) {
	q, _, _ := newTestQueue(t)
	audio := &models.Audio{ID: "a1", OrganizationID: "org-1"}

	item, err := q.EnqueueEntity(context.Background(), audio)
	if err != nil {
		t.Fatalf("EnqueueEntity failed: %v", err)
	}
	if item.Tipo != models.KindAudio || item.EntityID != "a1" || item.Prioridad != 3 {
		t.Errorf("unexpected item %+v", item)
	}
}

// =====================================================
// Ordering Tests
// =====================================================

// TestListByPriority tests that priority-1 items precede priority-3 items.
func TestListByPriority(t *testing.T) {
	q, _, clock := newTestQueue(t)

	// Enqueued as priorities [3, 1, 1, 3]
	enqueue(t, q, models.KindFoto, "f1")
	clock.now = clock.now.Add(time.Second)
	enqueue(t, q, models.KindVisita, "v1")
	clock.now = clock.now.Add(time.Second)
	enqueue(t, q, models.KindAccion, "a1")
	clock.now = clock.now.Add(time.Second)
	enqueue(t, q, models.KindAudio, "s1")

	items, err := q.ListByPriority(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("ListByPriority failed: %v", err)
	}

	want := []models.UUID{"v1", "a1", "f1", "s1"}
	if len(items) != len(want) {
		t.Fatalf("Expected %d items, got %d", len(want), len(items))
	}
	for i, id := range want {
		if items[i].EntityID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, items[i].EntityID)
		}
	}
}

// TestListByPriority_sameTimestamp tests insertion order breaks exact ties.
func TestListByPriority_sameTimestamp(t *testing.T) {
	q, _, _ := newTestQueue(t)
	for i := 0; i < 5; i++ {
		enqueue(t, q, models.KindVisita, fmt.Sprintf("v%d", i))
	}

	items, err := q.ListByPriority(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("ListByPriority failed: %v", err)
	}
	for i, item := range items {
		if want := models.UUID(fmt.Sprintf("v%d", i)); item.EntityID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, item.EntityID)
		}
	}
}

// TestListByPriority_tenantIsolation tests items of other tenants are excluded.
func TestListByPriority_tenantIsolation(t *testing.T) {
	q, _, _ := newTestQueue(t)
	enqueue(t, q, models.KindVisita, "v1")
	if _, err := q.Enqueue(context.Background(), &models.SyncQueueItem{
		OrganizationID: "org-2", Tipo: models.KindVisita, EntityID: "v2",
	}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	items, err := q.ListByPriority(context.Background(), "org-2")
	if err != nil {
		t.Fatalf("ListByPriority failed: %v", err)
	}
	if len(items) != 1 || items[0].EntityID != "v2" {
		t.Errorf("Expected only v2, got %+v", items)
	}
}

// =====================================================
// Retry Bookkeeping Tests
// =====================================================

// TestReschedule tests failed attempts are persisted.
func TestReschedule(t *testing.T) {
	q, _, clock := newTestQueue(t)
	ctx := context.Background()
	item := enqueue(t, q, models.KindFoto, "f1")

	next := clock.now.Add(CalculateBackoff(1))
	if err := q.Reschedule(ctx, item.ID, 1, next, "HTTP 503"); err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}

	stored, err := q.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Intentos != 1 || stored.UltimoError != "HTTP 503" {
		t.Errorf("unexpected bookkeeping %+v", stored)
	}
	if !stored.NextRetryTime().Equal(next) {
		t.Errorf("Expected nextRetryAt %v, got %v", next, stored.NextRetryTime())
	}
	if stored.IsDue(clock.now) {
		t.Error("rescheduled item should not be due yet")
	}

	if err := q.Reschedule(ctx, "missing", 1, next, "x"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND, got %v", err)
	}
}

// TestRemove tests removal and the not-found case.
func TestRemove(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()
	item := enqueue(t, q, models.KindVisita, "v1")

	if err := q.Remove(ctx, item.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := q.Get(ctx, item.ID); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND after remove, got %v", err)
	}
	if err := q.Remove(ctx, item.ID); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND on second remove, got %v", err)
	}

	// The entity can be queued again once its item is gone.
	enqueue(t, q, models.KindVisita, "v1")
}

// TestFindByEntity tests lookup by entity and removal by entity.
func TestFindByEntity(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()
	item := enqueue(t, q, models.KindAudio, "s1")

	found, err := q.FindByEntity(ctx, models.KindAudio, "s1")
	if err != nil {
		t.Fatalf("FindByEntity failed: %v", err)
	}
	if found.ID != item.ID {
		t.Errorf("Expected %s, got %s", item.ID, found.ID)
	}

	if err := q.RemoveByEntity(ctx, models.KindAudio, "s1"); err != nil {
		t.Fatalf("RemoveByEntity failed: %v", err)
	}
	if _, err := q.FindByEntity(ctx, models.KindAudio, "s1"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND, got %v", err)
	}
}

// TestStats tests due and backing-off counts.
func TestStats(t *testing.T) {
	q, _, clock := newTestQueue(t)
	ctx := context.Background()
	enqueue(t, q, models.KindVisita, "v1")
	photo := enqueue(t, q, models.KindFoto, "f1")
	enqueue(t, q, models.KindFoto, "f2")

	next := clock.now.Add(2 * time.Minute)
	if err := q.Reschedule(ctx, photo.ID, 1, next, "boom"); err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}

	stats, err := q.Stats(ctx, "org-1")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 3 || stats.Due != 2 || stats.BackingOff != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.ByKind[models.KindFoto] != 2 || stats.ByKind[models.KindVisita] != 1 {
		t.Errorf("unexpected per-kind counts %v", stats.ByKind)
	}
	if stats.NextRetryAt == nil || *stats.NextRetryAt != next.UnixMilli() {
		t.Errorf("unexpected nextRetryAt %v", stats.NextRetryAt)
	}

	count, err := q.Count(ctx, "org-1")
	if err != nil || count != 3 {
		t.Errorf("Count = %d, %v; want 3", count, err)
	}
}

// TestWithTx tests that enqueues inside a rolled back transaction vanish.
func TestWithTx(t *testing.T) {
	q, database, _ := newTestQueue(t)
	ctx := context.Background()

	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	if _, err := q.WithTx(tx).EnqueueEntity(ctx, &models.Visit{ID: "v1", OrganizationID: "org-1"}); err != nil {
		t.Fatalf("EnqueueEntity failed: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	if count, _ := q.Count(ctx, "org-1"); count != 0 {
		t.Errorf("Expected empty queue after rollback, got %d", count)
	}
}

// =====================================================
// Backoff Tests
// =====================================================

// TestCalculateBackoff tests the 2^intentos minutes schedule.
func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		intentos int
		want     time.Duration
	}{
		{-1, time.Minute},
		{0, time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{3, 8 * time.Minute},
		{4, 16 * time.Minute},
		{10, 1024 * time.Minute},
	}

	for _, tt := range tests {
		if got := CalculateBackoff(tt.intentos); got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.intentos, got, tt.want)
		}
	}

	if CalculateBackoff(1000) <= 0 {
		t.Error("CalculateBackoff should not overflow for large attempt counts")
	}
}

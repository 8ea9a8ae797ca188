// Package db tests for database migration management.
package db

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"m/V1__create_a.up.sql":   {Data: []byte("CREATE TABLE a (id INTEGER PRIMARY KEY);")},
		"m/V1__create_a.down.sql": {Data: []byte("DROP TABLE a;")},
		"m/V2__create_b.up.sql":   {Data: []byte("CREATE TABLE b (id INTEGER PRIMARY KEY); CREATE TABLE c (id INTEGER);")},
		"m/V2__create_b.down.sql": {Data: []byte("DROP TABLE c; DROP TABLE b;")},
		"m/README.md":             {Data: []byte("ignored")},
		"m/Vx__bad.up.sql":        {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	if err != nil {
		t.Fatalf("sqlite_master: %v", err)
	}
	return n == 1
}

// TestInitialize verifies schema_migrations table creation.
func TestInitialize(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	m := NewMigrator(db.DB, testMigrations(), "m")

	if _, err := m.CurrentVersion(ctx); err == nil {
		t.Error("CurrentVersion() should fail before Initialize()")
	}
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if !tableExists(t, db, "schema_migrations") {
		t.Fatal("schema_migrations table not found")
	}

	version, err := m.CurrentVersion(ctx)
	if err != nil || version != 0 {
		t.Errorf("CurrentVersion() = %d, %v; want 0", version, err)
	}
}

// TestUp verifies migrations apply in order, once, with multi-statement files.
func TestUp(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	m := NewMigrator(db.DB, testMigrations(), "m")
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	if err := m.Up(ctx); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}
	for _, table := range []string{"a", "b", "c"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s not created", table)
		}
	}

	// Second run is a no-op
	if err := m.Up(ctx); err != nil {
		t.Fatalf("second Up() failed: %v", err)
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		t.Fatalf("GetAppliedMigrations() failed: %v", err)
	}
	if len(applied) != 2 {
		t.Fatalf("applied = %d, want 2", len(applied))
	}
	if applied[0].Description != "create_a" || applied[1].Version != 2 {
		t.Errorf("applied = %+v", applied)
	}
	if len(applied[0].Checksum) != 64 {
		t.Errorf("checksum length = %d, want 64", len(applied[0].Checksum))
	}
}

// TestUp_modifiedMigration verifies edited applied migrations are rejected.
func TestUp_modifiedMigration(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := testMigrations()
	m := NewMigrator(db.DB, fsys, "m")
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(ctx); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	fsys["m/V1__create_a.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE a (id TEXT);")}
	err := m.Up(ctx)
	if err == nil || !strings.Contains(err.Error(), "modified") {
		t.Fatalf("Up() error = %v, want modified migration error", err)
	}
}

// TestUp_failedMigrationRollsBack verifies a broken file leaves no record behind.
func TestUp_failedMigrationRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := fstest.MapFS{
		"m/V1__broken.up.sql": {Data: []byte("CREATE TABLE ok (id INTEGER); CREATE TABLE;")},
	}
	m := NewMigrator(db.DB, fsys, "m")
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	if err := m.Up(ctx); err == nil {
		t.Fatal("Up() should fail on invalid SQL")
	}
	if tableExists(t, db, "ok") {
		t.Error("partial migration should be rolled back")
	}
	if version, _ := m.CurrentVersion(ctx); version != 0 {
		t.Errorf("CurrentVersion() = %d, want 0", version)
	}
}

// TestDown verifies the last migration is rolled back.
func TestDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	m := NewMigrator(db.DB, testMigrations(), "m")
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(ctx); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	if err := m.Down(ctx); err != nil {
		t.Fatalf("Down() failed: %v", err)
	}
	if tableExists(t, db, "b") || tableExists(t, db, "c") {
		t.Error("V2 tables should be dropped")
	}
	if !tableExists(t, db, "a") {
		t.Error("V1 table should remain")
	}
	if version, _ := m.CurrentVersion(ctx); version != 1 {
		t.Errorf("CurrentVersion() = %d, want 1", version)
	}
}

// TestDown_nothingApplied verifies rollback on an empty schema fails.
func TestDown_nothingApplied(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	m := NewMigrator(db.DB, testMigrations(), "m")
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Down(ctx); err == nil {
		t.Error("Down() should fail with no applied migrations")
	}
}

// TestMigrate_embeddedSchema verifies the shipped schema creates every table.
func TestMigrate_embeddedSchema(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("second Migrate() failed: %v", err)
	}

	tables := []string{
		"clientes", "visitas", "acciones", "fotos", "audios",
		"sync_queue", "config", "checklist_templates",
		"foto_blobs", "audio_blobs",
	}
	for _, table := range tables {
		if !tableExists(t, db, table) {
			t.Errorf("table %s missing", table)
		}
	}

	// One active queue item per entity
	insert := `INSERT INTO sync_queue (id, organization_id, tipo, entity_id, prioridad, max_intentos, created_at)
		VALUES (?, 'org', 'visita', 'e1', 1, 5, 1)`
	if _, err := db.Exec(insert, "q1"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := db.Exec(insert, "q2"); err == nil {
		t.Error("duplicate (tipo, entity_id) should violate the unique index")
	}
}

// Package main tests for the fieldsync command tree.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kimhsiao/fieldsync/backend/internal/config"
	"github.com/kimhsiao/fieldsync/backend/internal/core"
	"github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/events"
	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
	"github.com/kimhsiao/fieldsync/backend/internal/store"
)

const testOrg = "org-cli"

// run executes the command tree and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// seedVisit creates one pending visit in dataDir.
func seedVisit(t *testing.T, dataDir string) models.UUID {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load() error: %v", err)
	}
	cfg.DataDir = dataDir
	cfg.OrganizationID = testOrg

	c, err := core.New(cfg, core.WithLogger(logging.New(io.Discard, logging.LevelError)))
	if err != nil {
		t.Fatalf("core.New() error: %v", err)
	}
	defer c.Shutdown(context.Background())

	id, err := c.CreateVisit(context.Background(), &models.Visit{Tipo: "rutina", Fecha: time.Now().UnixMilli()})
	if err != nil {
		t.Fatalf("CreateVisit() error: %v", err)
	}
	return id
}

// =====================================================
// One-shot commands
// =====================================================

// TestVersionCmd verifies the version output.
func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	if out != "fieldsync v"+Version+"\n" {
		t.Errorf("output = %q", out)
	}
}

// TestStatusCmd verifies status prints the tenant's counts as JSON.
func TestStatusCmd(t *testing.T) {
	dir := t.TempDir()
	seedVisit(t, dir)

	out, err := run(t, "status", "--data-dir", dir, "--org", testOrg)
	if err != nil {
		t.Fatalf("status error: %v", err)
	}
	var status core.Status
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("status output is not JSON: %v\n%s", err, out)
	}
	if status.OrganizationID != testOrg {
		t.Errorf("organizationId = %q, want %q", status.OrganizationID, testOrg)
	}
	if status.Pending != 1 {
		t.Errorf("pending = %d, want 1", status.Pending)
	}
}

// TestStatusCmd_missingOrg verifies config validation reaches the user.
func TestStatusCmd_missingOrg(t *testing.T) {
	t.Setenv("FIELDSYNC_ORGANIZATION_ID", "")

	_, err := run(t, "status", "--data-dir", t.TempDir())
	if !errors.Is(err, errors.ErrInvalid) {
		t.Errorf("error = %v, want INVALID_INPUT", err)
	}
}

// TestPendingCmd verifies the table lists queued entities.
func TestPendingCmd(t *testing.T) {
	dir := t.TempDir()
	id := seedVisit(t, dir)

	out, err := run(t, "pending", "--data-dir", dir, "--org", testOrg)
	if err != nil {
		t.Fatalf("pending error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want header plus one row:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[1], id.String()) || !strings.Contains(lines[1], "pending") {
		t.Errorf("row = %q", lines[1])
	}
}

// TestRetryCmd verifies retry arguments are validated and only entities in
// error are accepted.
func TestRetryCmd(t *testing.T) {
	dir := t.TempDir()
	id := seedVisit(t, dir)

	if _, err := run(t, "retry", "cliente", id.String(), "--data-dir", dir, "--org", testOrg); !errors.Is(err, errors.ErrInvalid) {
		t.Errorf("unknown tipo error = %v, want INVALID_INPUT", err)
	}
	if _, err := run(t, "retry", "visita", id.String(), "--data-dir", dir, "--org", testOrg); !errors.Is(err, errors.ErrConflict) {
		t.Errorf("pending entity error = %v, want CONFLICT", err)
	}
}

// TestSyncCmd_offline verifies sync fails fast without a remote API.
func TestSyncCmd_offline(t *testing.T) {
	t.Setenv("FIELDSYNC_API_BASE_URL", "")

	_, err := run(t, "sync", "--data-dir", t.TempDir(), "--org", testOrg)
	if !errors.Is(err, errors.ErrSyncOffline) {
		t.Errorf("error = %v, want SYNC_OFFLINE", err)
	}
}

// TestCleanupCmd verifies the report is printed.
func TestCleanupCmd(t *testing.T) {
	dir := t.TempDir()
	seedVisit(t, dir)

	out, err := run(t, "cleanup", "--days", "0", "--data-dir", dir, "--org", testOrg)
	if err != nil {
		t.Fatalf("cleanup error: %v", err)
	}
	var report store.CleanupReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("cleanup output is not JSON: %v\n%s", err, out)
	}
	if report.Visits != 0 {
		t.Errorf("visits = %d, a pending visit must survive cleanup", report.Visits)
	}
}

// =====================================================
// Serve
// =====================================================

// TestServe verifies the REST API and the websocket relay end to end.
func TestServe(t *testing.T) {
	t.Setenv("FIELDSYNC_API_BASE_URL", "")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load() error: %v", err)
	}
	cfg.DataDir = t.TempDir()
	cfg.OrganizationID = testOrg
	cfg.ListenAddr = "127.0.0.1:0"
	a := &app{cfg: cfg, logger: logging.New(io.Discard, logging.LevelError)}

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- serve(ctx, a, ready) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not start")
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial error: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]interface{}{"action": "subscribe", "events": []string{string(events.EntityCreated)}}); err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ack map[string]interface{}
	if err := conn.ReadJSON(&ack); err != nil || ack["action"] != "subscribe_ack" {
		t.Fatalf("subscribe ack = %v, err = %v", ack, err)
	}

	resp, err := http.Post("http://"+addr+"/api/visitas", "application/json", strings.NewReader(`{"tipo":"rutina"}`))
	if err != nil {
		t.Fatalf("POST /api/visitas error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /api/visitas status = %d", resp.StatusCode)
	}

	var envelope WSEnvelope
	if err := conn.ReadJSON(&envelope); err != nil {
		t.Fatalf("read event error: %v", err)
	}
	if envelope.Type != events.EntityCreated || envelope.Data.Kind != models.KindVisita {
		t.Errorf("envelope = %+v", envelope)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned error: %v", err)
		}
	case <-time.After(20 * time.Second):
		t.Fatal("serve did not shut down")
	}
}

// TestLocalOrigin verifies only local pages may open the websocket.
func TestLocalOrigin(t *testing.T) {
	tests := map[string]bool{
		"":                         true,
		"http://localhost:5173":    true,
		"http://127.0.0.1:8090":    true,
		"https://example.com":      false,
		"http://localhost.evil.io": false,
	}
	for origin, want := range tests {
		r, _ := http.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		if got := localOrigin(r); got != want {
			t.Errorf("localOrigin(%q) = %v, want %v", origin, got, want)
		}
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fieldsync.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestLoad_defaults verifies envDefault values apply with no file and no env.
func TestLoad_defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DataDir != "./data" {
		t.Errorf("DataDir = %q, want ./data", cfg.DataDir)
	}
	if cfg.MaxIntentos != 5 {
		t.Errorf("MaxIntentos = %d, want 5", cfg.MaxIntentos)
	}
	if cfg.RetentionDays != 30 {
		t.Errorf("RetentionDays = %d, want 30", cfg.RetentionDays)
	}
	if cfg.SyncInterval != time.Minute {
		t.Errorf("SyncInterval = %v, want 1m", cfg.SyncInterval)
	}
	if cfg.ListenAddr != "127.0.0.1:8090" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
}

// TestLoad_fileOverridesDefaults verifies YAML values replace defaults.
func TestLoad_fileOverridesDefaults(t *testing.T) {
	path := writeYAML(t, `
organization_id: org-1
max_intentos: 3
sync_interval: 10s
probe_path: /ping
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.OrganizationID != "org-1" {
		t.Errorf("OrganizationID = %q", cfg.OrganizationID)
	}
	if cfg.MaxIntentos != 3 {
		t.Errorf("MaxIntentos = %d, want 3", cfg.MaxIntentos)
	}
	if cfg.SyncInterval != 10*time.Second {
		t.Errorf("SyncInterval = %v, want 10s", cfg.SyncInterval)
	}
	if cfg.ProbePath != "/ping" {
		t.Errorf("ProbePath = %q", cfg.ProbePath)
	}
	// Untouched keys keep their defaults.
	if cfg.RetentionDays != 30 {
		t.Errorf("RetentionDays = %d, want 30", cfg.RetentionDays)
	}
}

// TestLoad_envOverridesFile verifies set variables win over the file.
func TestLoad_envOverridesFile(t *testing.T) {
	path := writeYAML(t, "organization_id: org-file\nmax_intentos: 3\n")
	t.Setenv("FIELDSYNC_ORGANIZATION_ID", "org-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.OrganizationID != "org-env" {
		t.Errorf("OrganizationID = %q, want org-env", cfg.OrganizationID)
	}
	if cfg.MaxIntentos != 3 {
		t.Errorf("MaxIntentos = %d, want file value 3", cfg.MaxIntentos)
	}
}

// TestLoad_invalidEnv verifies parse errors surface.
func TestLoad_invalidEnv(t *testing.T) {
	t.Setenv("FIELDSYNC_MAX_INTENTOS", "many")
	if _, err := Load(""); err == nil {
		t.Fatal("Load() should fail on a non-numeric int")
	}
}

// TestLoad_missingFile verifies a missing file is an error.
func TestLoad_missingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config file") {
		t.Fatalf("Load() error = %v, want read error", err)
	}
}

// TestValidate verifies required fields and ranges.
func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DataDir:        "./data",
			OrganizationID: "org-1",
			MaxIntentos:    5,
			RetentionDays:  30,
			SyncInterval:   time.Minute,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing org", func(c *Config) { c.OrganizationID = " " }, "organization id"},
		{"missing data dir", func(c *Config) { c.DataDir = "" }, "data dir"},
		{"zero intentos", func(c *Config) { c.MaxIntentos = 0 }, "max intentos"},
		{"negative retention", func(c *Config) { c.RetentionDays = -1 }, "retention days"},
		{"zero interval", func(c *Config) { c.SyncInterval = 0 }, "sync interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

// TestParse verifies a JSON document layered over defaults, ignoring env.
func TestParse(t *testing.T) {
	t.Setenv("FIELDSYNC_MAX_INTENTOS", "9")

	cfg, err := Parse([]byte(`{"organization_id": "org-9", "data_dir": "/tmp/fs", "sync_interval": "2m"}`))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if cfg.OrganizationID != "org-9" || cfg.DataDir != "/tmp/fs" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.SyncInterval != 2*time.Minute {
		t.Errorf("SyncInterval = %v, want 2m", cfg.SyncInterval)
	}
	if cfg.MaxIntentos != 5 {
		t.Errorf("MaxIntentos = %d, env must not apply", cfg.MaxIntentos)
	}

	if _, err := Parse([]byte("organization_id: [")); err == nil {
		t.Error("Parse() should reject malformed documents")
	}
}

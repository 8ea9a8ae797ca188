// Package config loads the tenant configuration for a sync core instance.
//
// Values come from an optional YAML file first; FIELDSYNC_* environment
// variables override them.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds everything needed to construct a Core.
type Config struct {
	DataDir        string `yaml:"data_dir" env:"FIELDSYNC_DATA_DIR" envDefault:"./data"`
	OrganizationID string `yaml:"organization_id" env:"FIELDSYNC_ORGANIZATION_ID"`
	DeviceID       string `yaml:"device_id" env:"FIELDSYNC_DEVICE_ID"`

	APIBaseURL     string        `yaml:"api_base_url" env:"FIELDSYNC_API_BASE_URL"`
	APIToken       string        `yaml:"api_token" env:"FIELDSYNC_API_TOKEN"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"FIELDSYNC_REQUEST_TIMEOUT" envDefault:"30s"`

	MaxIntentos     int           `yaml:"max_intentos" env:"FIELDSYNC_MAX_INTENTOS" envDefault:"5"`
	RetentionDays   int           `yaml:"retention_days" env:"FIELDSYNC_RETENTION_DAYS" envDefault:"30"`
	SyncInterval    time.Duration `yaml:"sync_interval" env:"FIELDSYNC_SYNC_INTERVAL" envDefault:"1m"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"FIELDSYNC_CLEANUP_INTERVAL" envDefault:"24h"`

	ProbeInterval    time.Duration `yaml:"probe_interval" env:"FIELDSYNC_PROBE_INTERVAL" envDefault:"30s"`
	ProbePath        string        `yaml:"probe_path" env:"FIELDSYNC_PROBE_PATH" envDefault:"/health"`
	ConnectivityFile string        `yaml:"connectivity_file" env:"FIELDSYNC_CONNECTIVITY_FILE"`

	ListenAddr    string `yaml:"listen_addr" env:"FIELDSYNC_LISTEN_ADDR" envDefault:"127.0.0.1:8090"`
	ThumbnailSize int    `yaml:"thumbnail_size" env:"FIELDSYNC_THUMBNAIL_SIZE" envDefault:"256"`

	LogLevel      string `yaml:"log_level" env:"FIELDSYNC_LOG_LEVEL" envDefault:"info"`
	LogFormat     string `yaml:"log_format" env:"FIELDSYNC_LOG_FORMAT" envDefault:"json"`
	LogFile       string `yaml:"log_file" env:"FIELDSYNC_LOG_FILE"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb" env:"FIELDSYNC_LOG_MAX_SIZE_MB" envDefault:"10"`
	LogMaxBackups int    `yaml:"log_max_backups" env:"FIELDSYNC_LOG_MAX_BACKUPS" envDefault:"3"`
	LogMaxAgeDays int    `yaml:"log_max_age_days" env:"FIELDSYNC_LOG_MAX_AGE_DAYS" envDefault:"14"`
}

// Load builds a Config from defaults, then the optional YAML file at path,
// then any FIELDSYNC_* variables set in the environment.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: map[string]string{}}); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if strings.TrimSpace(path) != "" {
		if err := readFile(path, cfg); err != nil {
			return nil, err
		}
	}
	// Unset variables leave file values alone.
	if err := env.ParseWithOptions(cfg, env.Options{DefaultValueTagName: "envOverrideDefault"}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Parse builds a Config from defaults and a YAML (or JSON) document. The
// environment is not consulted; embedders pass everything in doc.
func Parse(doc []byte) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: map[string]string{}}); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(doc, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks that the configuration can drive a Core.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OrganizationID) == "" {
		return fmt.Errorf("organization id is required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data dir is required")
	}
	if c.MaxIntentos <= 0 {
		return fmt.Errorf("max intentos must be greater than zero, got %d", c.MaxIntentos)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention days must not be negative, got %d", c.RetentionDays)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync interval must be greater than zero")
	}
	return nil
}

// Package config provides configuration loading for pdcad.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the top-level pdcad configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Platform PlatformConfig `koanf:"platform"`
	State    StateConfig    `koanf:"state"`
	Roles    RolesConfig    `koanf:"roles"`
	Delegate DelegateConfig `koanf:"delegate"`
	Ledger   LedgerConfig   `koanf:"ledger"`
	Team     TeamConfig     `koanf:"team"`
	Watch    WatchConfig    `koanf:"watch"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// PlatformConfig locates the host platform the engine delegates through.
type PlatformConfig struct {
	// BaseURL is the host platform's session API endpoint.
	BaseURL string `koanf:"base_url"`

	// RequestTimeout bounds individual platform calls.
	RequestTimeout Duration `koanf:"request_timeout"`
}

// StateConfig holds persistent state settings.
type StateConfig struct {
	// Dir is the directory holding the ledger, team directory, mailboxes,
	// task board, and job records.
	Dir string `koanf:"dir"`
}

// RolesConfig locates the role registry file.
type RolesConfig struct {
	Path string `koanf:"path"`
}

// DelegateConfig tunes the delegation orchestrator.
type DelegateConfig struct {
	// MaxDepth bounds recursive delegation chains.
	MaxDepth int `koanf:"max_depth"`

	// SyncWait is the ceiling for a synchronous delegation before it
	// degrades to an async job.
	SyncWait Duration `koanf:"sync_wait"`

	// PollInterval is the liveness polling fallback interval.
	PollInterval Duration `koanf:"poll_interval"`

	// IdleRechecks is the number of short re-checks used to rule out a
	// transient false idle before a transcript fragment is accepted.
	IdleRechecks int `koanf:"idle_rechecks"`

	// IdleRecheckDelay is the pause between false-idle re-checks.
	IdleRecheckDelay Duration `koanf:"idle_recheck_delay"`

	// ResultMaxBytes truncates result text persisted to job records.
	ResultMaxBytes int `koanf:"result_max_bytes"`
}

// LedgerConfig tunes the phase ledger.
type LedgerConfig struct {
	// HistoryLimit caps the phase-transition history log.
	HistoryLimit int `koanf:"history_limit"`

	// MaxFeatures bounds the ledger; oldest archived features are evicted
	// first when the cap is reached.
	MaxFeatures int `koanf:"max_features"`
}

// TeamConfig holds team coordination settings.
type TeamConfig struct {
	// CoordinatorRole receives task-board unblock notifications.
	CoordinatorRole string `koanf:"coordinator_role"`
}

// WatchConfig tunes the document-write phase detector.
type WatchConfig struct {
	Enabled  bool     `koanf:"enabled"`
	DocsDir  string   `koanf:"docs_dir"`
	Debounce Duration `koanf:"debounce"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Platform.BaseURL == "" {
		return fmt.Errorf("platform base_url is required")
	}
	if c.State.Dir == "" {
		return fmt.Errorf("state dir is required")
	}
	if c.Delegate.MaxDepth < 1 {
		return fmt.Errorf("delegate max_depth must be >= 1, got %d", c.Delegate.MaxDepth)
	}
	if c.Delegate.SyncWait.Duration() <= 0 {
		return fmt.Errorf("delegate sync_wait must be > 0")
	}
	if c.Delegate.PollInterval.Duration() <= 0 {
		return fmt.Errorf("delegate poll_interval must be > 0")
	}
	if c.Delegate.PollInterval.Duration() >= c.Delegate.SyncWait.Duration() {
		return fmt.Errorf("delegate poll_interval must be shorter than sync_wait")
	}
	if c.Delegate.IdleRechecks < 0 {
		return fmt.Errorf("delegate idle_rechecks must be >= 0, got %d", c.Delegate.IdleRechecks)
	}
	if c.Delegate.ResultMaxBytes < 1 {
		return fmt.Errorf("delegate result_max_bytes must be >= 1, got %d", c.Delegate.ResultMaxBytes)
	}
	if c.Ledger.HistoryLimit < 1 {
		return fmt.Errorf("ledger history_limit must be >= 1, got %d", c.Ledger.HistoryLimit)
	}
	if c.Ledger.MaxFeatures < 1 {
		return fmt.Errorf("ledger max_features must be >= 1, got %d", c.Ledger.MaxFeatures)
	}
	if c.Team.CoordinatorRole == "" {
		return fmt.Errorf("team coordinator_role is required")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9292
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Platform.BaseURL == "" {
		cfg.Platform.BaseURL = "http://localhost:9393"
	}
	if cfg.Platform.RequestTimeout == 0 {
		cfg.Platform.RequestTimeout = Duration(30 * time.Second)
	}

	if cfg.State.Dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.State.Dir = filepath.Join(home, ".config", "pdcad", "state")
		}
	}
	if cfg.Roles.Path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Roles.Path = filepath.Join(home, ".config", "pdcad", "roles.yaml")
		}
	}

	if cfg.Delegate.MaxDepth == 0 {
		cfg.Delegate.MaxDepth = 3
	}
	if cfg.Delegate.SyncWait == 0 {
		cfg.Delegate.SyncWait = Duration(30 * time.Minute)
	}
	if cfg.Delegate.PollInterval == 0 {
		cfg.Delegate.PollInterval = Duration(10 * time.Second)
	}
	if cfg.Delegate.IdleRechecks == 0 {
		cfg.Delegate.IdleRechecks = 3
	}
	if cfg.Delegate.IdleRecheckDelay == 0 {
		cfg.Delegate.IdleRecheckDelay = Duration(2 * time.Second)
	}
	if cfg.Delegate.ResultMaxBytes == 0 {
		cfg.Delegate.ResultMaxBytes = 16 * 1024
	}

	if cfg.Ledger.HistoryLimit == 0 {
		cfg.Ledger.HistoryLimit = 50
	}
	if cfg.Ledger.MaxFeatures == 0 {
		cfg.Ledger.MaxFeatures = 100
	}

	if cfg.Team.CoordinatorRole == "" {
		cfg.Team.CoordinatorRole = "team-lead"
	}

	if cfg.Watch.DocsDir == "" {
		cfg.Watch.DocsDir = "docs"
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = Duration(500 * time.Millisecond)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadWithFile_Defaults(t *testing.T) {
	cfg, err := LoadWithFile(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 9292, cfg.Server.Port)
	assert.Equal(t, "http://localhost:9393", cfg.Platform.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Platform.RequestTimeout.Duration())
	assert.Equal(t, 3, cfg.Delegate.MaxDepth)
	assert.Equal(t, 30*time.Minute, cfg.Delegate.SyncWait.Duration())
	assert.Equal(t, 10*time.Second, cfg.Delegate.PollInterval.Duration())
	assert.Equal(t, 3, cfg.Delegate.IdleRechecks)
	assert.Equal(t, 50, cfg.Ledger.HistoryLimit)
	assert.Equal(t, 100, cfg.Ledger.MaxFeatures)
	assert.Equal(t, "team-lead", cfg.Team.CoordinatorRole)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadWithFile_FileValues(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
delegate:
  max_depth: 5
  sync_wait: 10m
  idle_rechecks: 2
team:
  coordinator_role: conductor
`)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Delegate.MaxDepth)
	assert.Equal(t, 10*time.Minute, cfg.Delegate.SyncWait.Duration())
	assert.Equal(t, 2, cfg.Delegate.IdleRechecks)
	assert.Equal(t, "conductor", cfg.Team.CoordinatorRole)
}

func TestLoadWithFile_EnvOverride(t *testing.T) {
	t.Setenv("PDCAD_SERVER_PORT", "7777")
	t.Setenv("PDCAD_DELEGATE_MAX_DEPTH", "2")

	cfg, err := LoadWithFile(writeConfig(t, "server:\n  port: 8080\n"))
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Delegate.MaxDepth)
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8080\n"), 0644))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad port", "server:\n  port: 99999\n", "server port"},
		{"zero depth", "delegate:\n  max_depth: -1\n", "max_depth"},
		{"poll >= sync", "delegate:\n  sync_wait: 1s\n  poll_interval: 2s\n", "poll_interval"},
		{"bad format", "logging:\n  format: xml\n", "logging format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWithFile(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.Error(t, d.UnmarshalText([]byte("-5s")))
	require.Error(t, d.UnmarshalText([]byte("nonsense")))
}

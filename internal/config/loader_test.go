package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the supportd config dir.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "supportd")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	dir := setupTestHome(t)

	cfg, err := LoadWithFile(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8083, cfg.Server.Port)
	assert.Equal(t, 32000, cfg.Input.MaxLength)
	assert.Equal(t, 1, cfg.Input.MinLength)
	assert.Equal(t, 2*time.Minute, cfg.Dispatch.Deadline.Duration())
	assert.Equal(t, 500*time.Millisecond, cfg.Dispatch.InitialInterval.Duration())
	assert.Equal(t, "redact", cfg.Output.SensitiveMode)
	assert.True(t, cfg.Events.Embedded)
	assert.True(t, cfg.Pipeline.StoreResolution)
	assert.Equal(t, "Response Agent", cfg.Pipeline.Synthesize)
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `server:
  port: 9191
dispatch:
  deadline: 45s
  max_attempts: 10
input:
  max_length: 500
  check_injection: false
  blocklist:
    - competitor
output:
  sensitive_mode: block
  long_numeric: false
pipeline:
  store_resolution: false
registry:
  addresses:
    - http://localhost:10001
`)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Dispatch.Deadline.Duration())
	assert.Equal(t, uint(10), cfg.Dispatch.MaxAttempts)
	assert.Equal(t, 500, cfg.Input.MaxLength)
	assert.Equal(t, []string{"competitor"}, cfg.Input.Blocklist)
	assert.Equal(t, "block", cfg.Output.SensitiveMode)
	assert.False(t, cfg.Input.CheckInjection)
	assert.True(t, cfg.Input.Sanitize)
	assert.False(t, cfg.Output.LongNumeric)
	assert.True(t, cfg.Output.Currency)
	assert.False(t, cfg.Pipeline.StoreResolution)
	assert.Equal(t, []string{"http://localhost:10001"}, cfg.Registry.Addresses)
	// untouched sections keep defaults
	assert.True(t, cfg.Events.Embedded)
}

func TestLoadWithFile_EnvOverrides(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  port: 9191\n")

	t.Setenv("SUPPORTD_SERVER_PORT", "9292")
	t.Setenv("SUPPORTD_DISPATCH_DEADLINE", "30s")
	t.Setenv("SUPPORTD_INPUT_MAX_LENGTH", "1000")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9292, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.Deadline.Duration())
	assert.Equal(t, 1000, cfg.Input.MaxLength)
}

func TestLoadWithFile_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  port: 9191\n")
	require.NoError(t, os.Chmod(path, 0644))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_PathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)

	_, err := LoadWithFile(filepath.Join(t.TempDir(), "config.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestLoadWithFile_InvalidValues(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "output:\n  sensitive_mode: shred\n")

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sensitive_mode")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.port", envKey("SUPPORTD_SERVER_PORT"))
	assert.Equal(t, "dispatch.max_attempts", envKey("SUPPORTD_DISPATCH_MAX_ATTEMPTS"))
	assert.Equal(t, "debug", envKey("SUPPORTD_DEBUG"))
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := ExpandPath("~/data/ledger.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data", "ledger.db"), got)

	got, err = ExpandPath("/var/lib/ledger.db")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/ledger.db", got)
}

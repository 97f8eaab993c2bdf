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
	path := filepath.Join(t.TempDir(), "btgated.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "0.0.0.0:8999", cfg.Listen)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Announce)
	assert.Equal(t, "btgated", cfg.AnnounceName)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.AdvertiseStart.Std())
	assert.Equal(t, 10*time.Second, cfg.Timeouts.ScannerRegister.Std())
	assert.Equal(t, 30*time.Second, cfg.Timeouts.GattOperation.Std())
	assert.Equal(t, time.Second, cfg.Timeouts.AdvertiseRestartDelay.Std())
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: "127.0.0.1:9000"
timeouts:
  gatt_operation: "2s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.Timeouts.GattOperation.Std())
	assert.Equal(t, 5*time.Second, cfg.Timeouts.AdvertiseStart.Std())
}

func TestLoadFull(t *testing.T) {
	path := writeConfig(t, `
listen: ":1234"
log_level: "debug"
announce: true
announce_name: "bench-3"
timeouts:
  advertise_start: "500ms"
  scanner_register: "1s"
  discovery_start: "1s"
  gatt_operation: "3s"
  advertise_restart_delay: "250ms"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":1234", cfg.Listen)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Announce)
	assert.Equal(t, "bench-3", cfg.AnnounceName)
	assert.Equal(t, 500*time.Millisecond, cfg.Timeouts.AdvertiseStart.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.Timeouts.AdvertiseRestartDelay.Std())
}

func TestLoadBadDuration(t *testing.T) {
	path := writeConfig(t, `
timeouts:
  gatt_operation: "soon"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

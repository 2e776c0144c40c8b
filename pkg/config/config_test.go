package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("JWT_SECRET", "device-secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, KVBackendSQLite, cfg.Local.KVBackend)
	assert.Equal(t, BeaconDriverSimulated, cfg.Beacon.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Scan.DefaultDuration)
	assert.Equal(t, 5, cfg.Sync.MaxRetries)
	assert.Equal(t, 30*time.Minute, cfg.Schedule.GraceWindow)
	assert.Equal(t, "device-secret", cfg.Export.SigningSecret)
	assert.Nil(t, cfg.CORS.AllowedOrigins)
}

func TestLoadOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("BEACON_DRIVER", "Bluetooth")
	t.Setenv("LOCAL_KV_BACKEND", "REDIS")
	t.Setenv("SCAN_DEBOUNCE_WINDOW", "750ms")
	t.Setenv("SYNC_WRITE_TIMEOUT", "not-a-duration")
	t.Setenv("ALLOWED_ORIGINS", "http://localhost:5173, ,app://scanner")
	t.Setenv("EXPORT_SIGNING_SECRET", "export-only")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BeaconDriverBluetooth, cfg.Beacon.Driver)
	assert.Equal(t, KVBackendRedis, cfg.Local.KVBackend)
	assert.Equal(t, 750*time.Millisecond, cfg.Scan.DebounceFor(cfg.Beacon.Driver))
	assert.Equal(t, 2*time.Second, cfg.Scan.DebounceFor(BeaconDriverSimulated))
	assert.Equal(t, 5*time.Second, cfg.Sync.WriteTimeout)
	assert.Equal(t, []string{"http://localhost:5173", "app://scanner"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "export-only", cfg.Export.SigningSecret)
}

func TestScheduleLocation(t *testing.T) {
	assert.Equal(t, time.Local, ScheduleConfig{}.Location())
	assert.Equal(t, time.Local, ScheduleConfig{Timezone: "Mars/Olympus"}.Location())
	assert.Equal(t, "UTC", ScheduleConfig{Timezone: "UTC"}.Location().String())
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("CONFIG_FILE")
	os.Unsetenv("DB_HOST")
	os.Unsetenv("REDIS_ADDR")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 20, cfg.Guard.Fusion.HistoryCapacity)
	assert.Equal(t, 10.0, cfg.Guard.Fusion.DecayMinutes)
	assert.Equal(t, 30.0, cfg.Guard.Risk.MonitoringThreshold)
	assert.Equal(t, 60.0, cfg.Guard.Risk.ArmedThreshold)
	assert.Equal(t, 80.0, cfg.Guard.Risk.CriticalThreshold)
	assert.Equal(t, 5.0, cfg.Guard.Risk.Hysteresis)
	assert.Equal(t, 30, cfg.Guard.Verification.WindowSeconds)
	assert.Equal(t, 100.0, cfg.Guard.Verification.ConfirmThreshold)
	assert.Equal(t, 10, cfg.Guard.Episode.CooldownSeconds)
	assert.Equal(t, 10, cfg.Guard.Lock.GraceMinutes)
	assert.Equal(t, 24, cfg.Guard.Lock.DefaultReleaseHours)
	assert.NotEmpty(t, cfg.Guard.Sensors.Keywords)
}

func TestLoad_EnvOverride(t *testing.T) {
	os.Unsetenv("CONFIG_FILE")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("SESSION_ID", "user-42")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, "user-42", cfg.Guard.SessionID)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
guard:
  risk:
    monitoring_threshold: 25
    armed_threshold: 55
    critical_threshold: 85
    hysteresis: 3
  verification:
    window_seconds: 45
  sensors:
    keywords:
      - "socorro"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 25.0, cfg.Guard.Risk.MonitoringThreshold)
	assert.Equal(t, 55.0, cfg.Guard.Risk.ArmedThreshold)
	assert.Equal(t, 85.0, cfg.Guard.Risk.CriticalThreshold)
	assert.Equal(t, 3.0, cfg.Guard.Risk.Hysteresis)
	assert.Equal(t, 45, cfg.Guard.Verification.WindowSeconds)
	assert.Equal(t, []string{"socorro"}, cfg.Guard.Sensors.Keywords)
	// 未覆盖的字段保留默认值
	assert.Equal(t, 20, cfg.Guard.Fusion.HistoryCapacity)
}

func TestLoad_InvalidYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("guard: [not a map"), 0o644))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load()

	assert.Error(t, err)
}

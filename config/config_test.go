package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "./data/ledger.db", cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.LogJSON)
	assert.True(t, cfg.SyncEnabled)
	assert.Equal(t, 30*time.Second, cfg.SyncInterval)
	assert.Equal(t, 50, cfg.SyncBatchSize)
	assert.False(t, cfg.DemoSeed)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com")
	t.Setenv("DB_PATH", ":memory:")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_JSON", "true")
	t.Setenv("LEDGER_SYNC_ENABLED", "false")
	t.Setenv("LEDGER_SYNC_INTERVAL", "5s")
	t.Setenv("LEDGER_SYNC_BATCH", "10")
	t.Setenv("DEMO_SEED", "true")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.LogJSON)
	assert.False(t, cfg.SyncEnabled)
	assert.Equal(t, 5*time.Second, cfg.SyncInterval)
	assert.Equal(t, 10, cfg.SyncBatchSize)
	assert.True(t, cfg.DemoSeed)
}

func TestLoadFromEnv_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	t.Setenv("LEDGER_SYNC_INTERVAL", "soonish")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.SyncInterval)
}

func TestLoadFromEnv_RejectsInvalidPort(t *testing.T) {
	t.Setenv("PORT", "70000")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
}

func TestValidate(t *testing.T) {
	base := Config{Port: 8080, SyncInterval: time.Second, SyncBatchSize: 1, ShutdownTimeout: time.Second}
	assert.NoError(t, base.Validate())

	bad := base
	bad.SyncBatchSize = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.SyncInterval = 0
	assert.Error(t, bad.Validate())
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger(&Config{LogLevel: "warn", LogJSON: true})
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	_, ok := logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)

	logger = NewLogger(&Config{LogLevel: "nonsense"})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

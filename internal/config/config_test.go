package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "local")

	cfg, err := LoadConfig(nil)
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, 1000, cfg.HistoryLimit)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "*", cfg.CORSAllowOrigins, "local env is permissive by default")
	assert.Equal(t, 10*time.Second, cfg.WSWriteWait)
	assert.False(t, cfg.RelayLogEnabled)
}

func TestLoadConfig_InvalidHistoryLimitFallsBack(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("HISTORY_LIMIT", "0")

	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.HistoryLimit)
}

func TestLoadConfig_InvalidLogLevelFallsBack(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("LOG_LEVEL", "loud")

	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_ProductionRequiresExplicitCORS(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	_, err := LoadConfig(nil)
	require.Error(t, err)

	t.Setenv("CORS_ALLOW_ORIGINS", "https://logs.example.com")
	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "https://logs.example.com", cfg.CORSAllowOrigins)
}

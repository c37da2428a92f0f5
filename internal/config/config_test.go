package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"p2precon/internal/bybit"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, "localhost:8080", cfg.RunAddress)
	require.Equal(t, bybit.MainnetURL, cfg.BybitBaseURL)
	require.Equal(t, 3, cfg.RetryCount)
	require.Equal(t, 5*time.Second, cfg.RetryDelay)
	require.Equal(t, slog.LevelInfo, cfg.LogLevel)
	require.False(t, cfg.BybitUseAPI)
}

func TestLoadEnvOverridesFlags(t *testing.T) {
	t.Setenv("RUN_ADDRESS", ":9090")
	t.Setenv("RETRY_COUNT", "5")
	t.Setenv("RETRY_DELAY", "250ms")
	t.Setenv("BYBIT_API_KEY", "key")
	t.Setenv("BYBIT_TESTNET", "true")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load([]string{"-a", ":7070", "-retry-count", "1"})
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.RunAddress)
	require.Equal(t, 5, cfg.RetryCount)
	require.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
	require.True(t, cfg.BybitUseAPI)
	require.Equal(t, bybit.TestnetURL, cfg.BybitBaseURL)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)

	opts := cfg.BybitOptions()
	require.Equal(t, 5, opts.Retries)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("SYNC_INTERVAL", "often")
	_, err := Load(nil)
	require.ErrorContains(t, err, "SYNC_INTERVAL")
}

func TestZeroRetriesDisablesRetrying(t *testing.T) {
	t.Setenv("RETRY_COUNT", "0")
	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, -1, cfg.BybitOptions().Retries)
}

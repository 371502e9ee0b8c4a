package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost:5432/peerlink")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 50, cfg.MaxBatchSize)
	require.Equal(t, 15*time.Second, cfg.SendFlushInterval)
	require.Equal(t, 15*time.Second, cfg.SeenFlushInterval)
	require.Equal(t, int64(5), cfg.WorkerConcurrency)
	require.Equal(t, float64(100), cfg.SendRatePerSec)
	require.Equal(t, "localhost:6379", cfg.RedisAddr)
	require.Equal(t, uint16(8080), cfg.Port)
}

func TestLoadMissingDSN(t *testing.T) {
	t.Setenv("DB_DSN", "")
	t.Setenv("JWT_SECRET", "secret")
	os.Unsetenv("DB_DSN")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost:5432/peerlink")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("MAX_BATCH_SIZE", "10")
	t.Setenv("SEEN_FLUSH_INTERVAL", "2s")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 10, cfg.MaxBatchSize)
	require.Equal(t, 2*time.Second, cfg.SeenFlushInterval)
}

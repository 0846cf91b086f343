package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, DefaultReadTimeout, cfg.Tunables.ReadTimeout)
	require.Equal(t, DefaultSyncThresholdSeconds, cfg.Tunables.SyncThresholdSeconds)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_URI", "redis://redis.internal:6380/2")
	t.Setenv("DATABASE_URL", "postgres://tracker@db/tracker")
	t.Setenv("TRACKER_SCOPE", "staging")
	t.Setenv("TRACKER_ENV", "staging")
	t.Setenv("TRACKER_LOG_LEVEL", "DEBUG")
	t.Setenv("TRACKER_READ_TIMEOUT", "750ms")

	cfg := FromEnv()
	require.Equal(t, "redis://redis.internal:6380/2", cfg.RedisURI)
	require.Equal(t, "postgres://tracker@db/tracker", cfg.PostgresDSN)
	require.Equal(t, "staging", cfg.Scope)
	require.Equal(t, "staging", cfg.Environment)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 750*time.Millisecond, cfg.Tunables.ReadTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoadReadsYAMLOverEnv(t *testing.T) {
	t.Setenv("TRACKER_SCOPE", "from-env")
	dir := t.TempDir()
	path := filepath.Join(dir, "tracker.yaml")
	body := []byte("scope: from-file\nlog_level: warn\ntunables:\n  read_timeout: 3s\n  sync_threshold_seconds: 120\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-file", cfg.Scope)
	require.Equal(t, "warn", cfg.LogLevel)
	require.Equal(t, 3*time.Second, cfg.Tunables.ReadTimeout)
	require.Equal(t, int64(120), cfg.Tunables.SyncThresholdSeconds)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadMissingImplicitFileFallsBack(t *testing.T) {
	t.Setenv("TRACKER_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, DefaultScope, cfg.Scope)
}

func TestApplyOptions(t *testing.T) {
	cfg := Apply(Default(),
		WithRedisURI("redis://other:6379"),
		WithScope("bench"),
		WithLogLevel("ERROR"),
		WithReadTimeout(5*time.Second),
		WithPostgresDSN("postgres://x@y/z"),
	)
	require.Equal(t, "redis://other:6379", cfg.RedisURI)
	require.Equal(t, "bench", cfg.Scope)
	require.Equal(t, "error", cfg.LogLevel)
	require.Equal(t, 5*time.Second, cfg.Tunables.ReadTimeout)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejections(t *testing.T) {
	bad := Default()
	bad.Scope = "has space"
	require.Error(t, bad.Validate())

	bad = Default()
	bad.Scope = "a:b"
	require.Error(t, bad.Validate())

	bad = Default()
	bad.Environment = ""
	require.Error(t, bad.Validate())

	bad = Default()
	bad.LogLevel = "verbose"
	require.Error(t, bad.Validate())

	bad = Default()
	bad.Tunables.ReadTimeout = 0
	require.Error(t, bad.Validate())

	bad = Default()
	bad.Tunables.CheckFrequencySeconds = 0
	require.Error(t, bad.Validate())
}

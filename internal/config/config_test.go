package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearSyncEnv forces fallback values regardless of the host environment.
func clearSyncEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_PORT", "API_BASE_URL", "PUSH_PROVIDER", "REDIS_DB",
		"SYNC_REFETCH_RETRY_BACKOFF_MS", "SYNC_EVENT_DEDUP_WINDOW",
		"STUB_AUTOREPLY_ENABLED", "AUTH_BCRYPT_COST",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearSyncEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, "http://127.0.0.1:8080/api/v1", cfg.API.BaseURL)
	assert.Equal(t, "redis", cfg.Push.Provider)
	assert.Equal(t, 256, cfg.Sync.EventDedupWindow)
	assert.True(t, cfg.Stub.AutoReplyEnabled)
	assert.Equal(t, 12, cfg.Auth.BcryptCost)
}

func TestLoadReadsOverrides(t *testing.T) {
	clearSyncEnv(t)
	t.Setenv("APP_PORT", "9090")
	t.Setenv("PUSH_PROVIDER", "amqp")
	t.Setenv("SYNC_EVENT_DEDUP_WINDOW", "32")
	t.Setenv("STUB_AUTOREPLY_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, "amqp", cfg.Push.Provider)
	assert.Equal(t, 32, cfg.Sync.EventDedupWindow)
	assert.False(t, cfg.Stub.AutoReplyEnabled)
}

func TestLoadToleratesMalformedNumbers(t *testing.T) {
	clearSyncEnv(t)
	t.Setenv("SYNC_REFETCH_RETRY_BACKOFF_MS", "not-a-number")
	t.Setenv("STUB_AUTOREPLY_ENABLED", "yes-please")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Sync.RefetchRetryBackoffMS)
	assert.True(t, cfg.Stub.AutoReplyEnabled, "malformed bool falls back to default")
}

func TestLoadRejectsInvalidRedisDB(t *testing.T) {
	clearSyncEnv(t)
	t.Setenv("REDIS_DB", "three")

	_, err := Load()
	assert.Error(t, err)
}

func TestAddr(t *testing.T) {
	app := AppConfig{Host: "0.0.0.0", Port: "8080"}
	assert.Equal(t, "0.0.0.0:8080", app.Addr())
}

func TestDurationHelpersGuardNonPositiveValues(t *testing.T) {
	sync := SyncConfig{}
	assert.Equal(t, 500*time.Millisecond, sync.RetryBackoff())
	assert.Equal(t, 2*time.Second, sync.ResubscribeBackoff())
	assert.Equal(t, time.Duration(0), sync.EvictAfter(), "zero disables eviction")
	assert.Equal(t, time.Duration(0), sync.SweepInterval())
	assert.Equal(t, 256, sync.DedupWindow())

	sync = SyncConfig{
		RefetchRetryBackoffMS:  250,
		ResubscribeBackoffMS:   100,
		CacheEvictAfterSeconds: 60,
		CacheSweepSeconds:      5,
		EventDedupWindow:       16,
	}
	assert.Equal(t, 250*time.Millisecond, sync.RetryBackoff())
	assert.Equal(t, 100*time.Millisecond, sync.ResubscribeBackoff())
	assert.Equal(t, time.Minute, sync.EvictAfter())
	assert.Equal(t, 5*time.Second, sync.SweepInterval())
	assert.Equal(t, 16, sync.DedupWindow())

	stub := StubConfig{}
	assert.Equal(t, 2*time.Second, stub.AutoReplyDelay())
	stub.AutoReplyDelayMS = 25
	assert.Equal(t, 25*time.Millisecond, stub.AutoReplyDelay())

	api := APIConfig{}
	assert.Equal(t, 15*time.Second, api.RequestTimeout())

	app := AppConfig{}
	assert.Equal(t, time.Duration(0), app.RequestTimeout(), "zero disables the request timeout")
}

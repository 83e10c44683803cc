package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	require.NoError(t, os.Unsetenv("CLIENT_HANDLER_COUNT"))
	require.NoError(t, os.Unsetenv("CACHE_EXPIRED_TIME_MS"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultExecutorCount, cfg.ExecutorCount)
	assert.Equal(t, DefaultCacheExpiry, cfg.CacheExpiry)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("CLIENT_HANDLER_COUNT", "16")
	t.Setenv("CACHE_EXPIRED_TIME_MS", "5000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.ExecutorCount)
	assert.Equal(t, 5000*1_000_000, int(cfg.CacheExpiry))
}

func TestLoadIgnoresInvalidEnvAndKeepsDefault(t *testing.T) {
	t.Setenv("CLIENT_HANDLER_COUNT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultExecutorCount, cfg.ExecutorCount)
}

func TestValidateRejectsNonPositiveFields(t *testing.T) {
	cfg := &Config{ExecutorCount: 0, CacheExpiry: DefaultCacheExpiry, QueueCapacity: 1, CacheCapacity: 1}
	assert.Error(t, cfg.Validate())
}

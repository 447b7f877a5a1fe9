package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, 50, cfg.BotsPerWorker)
	assert.Equal(t, 10*time.Second, cfg.QueueTimeout)
	assert.Equal(t, 30*time.Second, cfg.BotCooldownTime)
	assert.False(t, cfg.AllowRefresh)
	assert.Equal(t, "127.0.0.1:6379", cfg.RedisAddress)
	assert.Equal(t, "./accounts.txt", cfg.CredentialsPath)
	assert.False(t, cfg.UseMockTransport)
}

func TestLoad_OverridesFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("MAX_RETRIES", "7")
	t.Setenv("ALLOW_REFRESH", "true")
	t.Setenv("USE_MOCK_TRANSPORT", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.True(t, cfg.AllowRefresh)
	assert.True(t, cfg.UseMockTransport)
}

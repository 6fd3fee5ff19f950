package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("SM_TOKEN_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("SM_APP_SALT", "unit-test-salt")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SM_ENV", "production")
	t.Setenv("SM_LISTEN_ADDR", ":9000")
	t.Setenv("SM_REDIS_DB", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 3, cfg.RedisDB)
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("SM_TOKEN_SECRET", "")
	t.Setenv("SM_APP_SALT", "x")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("SM_TOKEN_SECRET", "too-short")
	_, err = Load()
	require.Error(t, err)

	t.Setenv("SM_TOKEN_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("SM_APP_SALT", "")
	_, err = Load()
	require.Error(t, err)
}

func TestLoadRejectsBadRedisDB(t *testing.T) {
	setRequired(t)
	t.Setenv("SM_REDIS_DB", "not-a-number")
	_, err := Load()
	require.Error(t, err)
}

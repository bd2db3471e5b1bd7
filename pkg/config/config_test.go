package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "http://127.0.0.1:8000", cfg.API.BaseURL)
	assert.Zero(t, cfg.API.Timeout)
	assert.False(t, cfg.Refresh.Async)
	assert.Equal(t, 30*time.Minute, cfg.Exports.SignedURLTTL)
	assert.Nil(t, cfg.CORS.AllowedOrigins)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://records.local:9000/")
	t.Setenv("API_TIMEOUT", "3s")
	t.Setenv("REFRESH_ASYNC", "true")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, ,http://b.test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://records.local:9000", cfg.API.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.API.Timeout)
	assert.True(t, cfg.Refresh.Async)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.AllowedOrigins)
}

func TestParseDurationFallback(t *testing.T) {
	assert.Equal(t, time.Minute, parseDuration("", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("soon", time.Minute))
	assert.Equal(t, 2*time.Second, parseDuration("2s", time.Minute))
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadWithPath(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)

	assert.Equal(t, "koleso-courier-agent", cfg.App.Name)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.API.RequestTimeout)
	assert.Equal(t, 10*time.Second, cfg.API.RevalidateTimeout)

	assert.Equal(t, 30*time.Second, cfg.Realtime.HeartbeatInterval)
	assert.Equal(t, 5*time.Second, cfg.Realtime.ReconnectBase)
	assert.Equal(t, 10, cfg.Realtime.MaxReconnects)

	assert.Equal(t, "file", cfg.Store.Backend)

	assert.Equal(t, 10*time.Second, cfg.Tracker.ForegroundInterval)
	assert.Equal(t, 5*time.Second, cfg.Tracker.ForegroundFastest)
	assert.Equal(t, 30.0, cfg.Tracker.ForegroundFilter)
	assert.Equal(t, 30*time.Second, cfg.Tracker.DegradedInterval)
	assert.Equal(t, 100.0, cfg.Tracker.DegradedFilter)
	assert.Equal(t, 60*time.Second, cfg.Tracker.BackgroundPeriod)
	assert.Equal(t, 30*time.Second, cfg.Tracker.BackgroundTimeout)
	assert.Equal(t, 30*time.Second, cfg.Tracker.BackgroundMaxAge)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := `APP_ENVIRONMENT=production
SERVER_PORT=9999
STORE_BACKEND=redis
STORE_REDIS_HOST=redis.internal
REALTIME_MAX_RECONNECTS=5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadWithPath(path)
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis.internal:6379", cfg.Store.RedisAddr())
	assert.Equal(t, 5, cfg.Realtime.MaxReconnects)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := LoadWithPath(filepath.Join(t.TempDir(), "absent.env"))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing app name", func(c *Config) { c.App.Name = "" }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"missing api url", func(c *Config) { c.API.BaseURL = "" }},
		{"missing realtime url", func(c *Config) { c.Realtime.URL = "" }},
		{"unknown store backend", func(c *Config) { c.Store.Backend = "etcd" }},
		{"bad max reconnects", func(c *Config) { c.Realtime.MaxReconnects = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

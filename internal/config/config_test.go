package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, def.Storage.Driver, cfg.Storage.Driver)
	assert.Equal(t, def.Cache, cfg.Cache)
	assert.Equal(t, def.Sync, cfg.Sync)
	assert.True(t, cfg.UI.Color)
	assert.False(t, cfg.IsConfigured())
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Server.URL = "https://abs.example.com"
	cfg.Storage.Driver = DriverSQLite
	cfg.Storage.CacheDir = filepath.Join(dir, "cache")
	cfg.Cache.EntryTTL = 90 * time.Second
	cfg.Sync.MaxAge.Series = 3 * time.Hour
	cfg.UI.Color = false

	require.NoError(t, SaveTo(cfg, dir))
	require.NoError(t, SaveToken(cfg, dir, "tok", "u1", "root"))

	got, err := LoadFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, "https://abs.example.com", got.Server.URL)
	assert.Equal(t, "tok", got.Server.Token)
	assert.Equal(t, "u1", got.Server.UserID)
	assert.Equal(t, DriverSQLite, got.Storage.Driver)
	assert.Equal(t, 90*time.Second, got.Cache.EntryTTL)
	assert.Equal(t, 3*time.Hour, got.Sync.MaxAge.Series)
	assert.False(t, got.UI.Color)
	assert.True(t, got.IsConfigured())

	require.NoError(t, ClearServerConfig(got, dir))
	got, err = LoadFrom(dir)
	require.NoError(t, err)
	assert.Empty(t, got.Server.Token)
	assert.Equal(t, DriverSQLite, got.Storage.Driver)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SHELF_SERVER_URL", "http://env.local")
	t.Setenv("SHELF_SYNC_PAGE_SIZE", "25")

	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "http://env.local", cfg.Server.URL)
	assert.Equal(t, 25, cfg.Sync.PageSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "postgres" }},
		{"zero cache entries", func(c *Config) { c.Cache.MaxEntries = 0 }},
		{"negative ttl", func(c *Config) { c.Cache.EntryTTL = -time.Second }},
		{"zero page size", func(c *Config) { c.Sync.PageSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestInvalidFileIsRejected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("storage:\n  driver: tape\n"), 0644))
	_, err := LoadFrom(dir)
	require.Error(t, err)
}

func TestClearCache(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "abc"), 0755))
	cfg := DefaultConfig()
	cfg.Storage.CacheDir = dir

	require.NoError(t, ClearCache(cfg))
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

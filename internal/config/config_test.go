package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := Default()
	cfg.DataDir = t.TempDir()
	cfg.Bucket = "photos"
	return cfg
}

func TestConfigValidate_Defaults(t *testing.T) {
	cfg := validConfig(t)
	require.NoError(t, cfg.Validate())

	assert.True(t, filepath.IsAbs(cfg.DataDir))
	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, 3, cfg.Loader.MaxRetries)
	assert.Equal(t, 8*time.Second, cfg.Loader.Timeout)
	assert.Equal(t, int64(5*1024*1024), cfg.Cache.MaxSize)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 2*time.Minute, cfg.Sync.AutoInterval)
}

func TestConfigValidate_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"missing-bucket", func(c *Config) { c.Bucket = "" }, "bucket is required"},
		{"empty-data-dir", func(c *Config) { c.DataDir = "" }, "data_dir"},
		{"bad-endpoint", func(c *Config) { c.Endpoint = "not a url" }, "endpoint"},
		{"bad-public-url", func(c *Config) { c.PublicURL = "cdn" }, "public url"},
		{"bad-media-pattern", func(c *Config) { c.MediaPatterns = []string{"**/*.{png"} }, "media_patterns"},
		{"zero-cache", func(c *Config) { c.Cache.MaxSize = 0 }, "cache.max_size"},
		{"zero-ttl", func(c *Config) { c.Cache.TTL = 0 }, "cache.ttl"},
		{"fast-sync", func(c *Config) { c.Sync.AutoInterval = 10 * time.Millisecond }, "sync.auto_interval"},
		{"no-retries", func(c *Config) { c.Loader.MaxRetries = 0 }, "loader.max_retries"},
		{"delays-inverted", func(c *Config) { c.Loader.MaxDelay = c.Loader.BaseDelay - 1 }, "loader.max_delay"},
		{"zero-batch", func(c *Config) { c.Loader.BatchSize = 0 }, "loader.batch_size"},
		{"no-addr", func(c *Config) { c.HTTP.Addr = "" }, "http.addr"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig(t)
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestConfig_Conversions(t *testing.T) {
	cfg := validConfig(t)
	cfg.Prefix = "cats/"
	cfg.PublicURL = "https://cdn.example.com"
	cfg.MediaPatterns = []string{"**/*.png"}
	cfg.Loader.BatchSize = 25
	cfg.HTTP.AllowedOrigins = []string{"http://localhost:5173"}
	require.NoError(t, cfg.Validate())

	b := cfg.BlobConfig()
	assert.Equal(t, "photos", b.Bucket)
	assert.Equal(t, "cats/", b.Prefix)
	assert.Equal(t, "https://cdn.example.com", b.PublicURL)

	assert.Equal(t, cfg.Cache.TTL, cfg.CacheOptions().TTL)
	assert.Equal(t, 3, cfg.LoaderOptions().MaxAttempts)

	g := cfg.GalleryConfig()
	assert.Equal(t, 25, g.BatchSize)
	require.NotNil(t, g.MediaMatcher)
	assert.True(t, g.MediaMatcher.Match("a/b.png"))
	assert.False(t, g.MediaMatcher.Match("a/b.jpg"))

	s := cfg.ServerConfig()
	assert.Equal(t, cfg.HTTP.Addr, s.Addr)
	assert.Equal(t, []string{"http://localhost:5173"}, s.AllowedOrigins)
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	cfg := validConfig(t)
	cfg.AccessKey = "AKIAEXAMPLEKEY"
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	require.NoError(t, cfg.Save(path))
	assert.Equal(t, path, cfg.Path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var loaded Config
	require.NoError(t, json.Unmarshal(data, &loaded))
	assert.Equal(t, cfg.Bucket, loaded.Bucket)
	assert.Equal(t, cfg.Cache, loaded.Cache)
	assert.Empty(t, loaded.Path)
}

func TestConfig_LogValueMasksSecrets(t *testing.T) {
	cfg := validConfig(t)
	cfg.AccessKey = "AKIAEXAMPLEKEY"
	cfg.SecretKey = "super-secret-value"

	v := cfg.LogValue().String()
	assert.NotContains(t, v, "super-secret-value")
	assert.NotContains(t, v, "AKIAEXAMPLEKEY")
	assert.Contains(t, v, "AKIA*****EY")

	var _ slog.LogValuer = cfg
}

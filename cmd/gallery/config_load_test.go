package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestCmd returns a fresh serve command attached to a fresh root so tests
// never share flag state.
func newTestCmd(t *testing.T) (*cobra.Command, *cobra.Command) {
	t.Helper()
	root := &cobra.Command{Use: "gallery"}
	addGlobalFlags(root)
	serve := newServeCmd()
	root.AddCommand(serve)
	return root, serve
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const testConfigJSON = `
{
	"data_dir": "/tmp/gallery-test",
	"bucket": "photos",
	"region": "eu-west-1",
	"prefix": "cats/",
	"media_patterns": ["**/*.png", "**/*.webp"],
	"cache": {"max_size": 1024, "ttl": "1h"},
	"sync": {"auto_interval": "30s"},
	"loader": {"max_retries": 5, "base_delay": "250ms"},
	"http": {"addr": "127.0.0.1:9000", "allowed_origins": ["http://localhost:5173"]}
}`

func TestLoadConfigJSON(t *testing.T) {
	root, serve := newTestCmd(t)
	path := writeConfig(t, testConfigJSON)
	require.NoError(t, root.PersistentFlags().Set("config", path))

	cfg, err := loadConfig(serve)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "/tmp/gallery-test", cfg.DataDir)
	assert.Equal(t, "photos", cfg.Bucket)
	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, "cats/", cfg.Prefix)
	assert.Equal(t, []string{"**/*.png", "**/*.webp"}, cfg.MediaPatterns)
	assert.Equal(t, int64(1024), cfg.Cache.MaxSize)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 30*time.Second, cfg.Sync.AutoInterval)
	assert.Equal(t, 5, cfg.Loader.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Loader.BaseDelay)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.HTTP.AllowedOrigins)

	// untouched keys keep their defaults
	assert.Equal(t, 8*time.Second, cfg.Loader.Timeout)
	assert.Equal(t, "50-S", cfg.HTTP.RateLimit)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	root, serve := newTestCmd(t)
	path := writeConfig(t, testConfigJSON)
	require.NoError(t, root.PersistentFlags().Set("config", path))

	t.Setenv("GALLERY_BUCKET", "env-photos")
	t.Setenv("GALLERY_SECRET_KEY", "env-secret")
	t.Setenv("GALLERY_CACHE_MAX_SIZE", "2048")
	t.Setenv("GALLERY_LOADER_TIMEOUT", "3s")

	cfg, err := loadConfig(serve)
	require.NoError(t, err)

	assert.Equal(t, "env-photos", cfg.Bucket)
	assert.Equal(t, "env-secret", cfg.SecretKey)
	assert.Equal(t, int64(2048), cfg.Cache.MaxSize)
	assert.Equal(t, 3*time.Second, cfg.Loader.Timeout)
	assert.Equal(t, "eu-west-1", cfg.Region)
}

func TestLoadConfig_FlagsOverrideEnv(t *testing.T) {
	root, serve := newTestCmd(t)
	path := writeConfig(t, testConfigJSON)
	require.NoError(t, root.PersistentFlags().Set("config", path))
	require.NoError(t, root.PersistentFlags().Set("bucket", "flag-photos"))
	require.NoError(t, serve.Flags().Set("http-addr", "127.0.0.1:9999"))

	t.Setenv("GALLERY_BUCKET", "env-photos")

	cfg, err := loadConfig(serve)
	require.NoError(t, err)

	assert.Equal(t, "flag-photos", cfg.Bucket)
	assert.Equal(t, "127.0.0.1:9999", cfg.HTTP.Addr)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	_, serve := newTestCmd(t)
	path := filepath.Join(t.TempDir(), "nope.json")
	t.Setenv(envConfigPath, path)

	cfg, err := loadConfig(serve)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, "127.0.0.1:7938", cfg.HTTP.Addr)
	assert.Empty(t, cfg.Bucket)
	assert.Error(t, cfg.Validate(), "bucket is required")
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	root, serve := newTestCmd(t)
	require.NoError(t, root.PersistentFlags().Set("config", writeConfig(t, `{"bucket": `)))

	_, err := loadConfig(serve)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config read")
}

func TestResolveConfigPath(t *testing.T) {
	root, serve := newTestCmd(t)

	t.Setenv(envConfigPath, "/etc/gallery/config.json")
	assert.Equal(t, "/etc/gallery/config.json", resolveConfigPath(serve))

	require.NoError(t, root.PersistentFlags().Set("config", "/tmp/flag.json"))
	assert.Equal(t, "/tmp/flag.json", resolveConfigPath(serve))
}

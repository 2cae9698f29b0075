package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/openmined/bucketgallery/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix     = "GALLERY"
	envConfigPath = "GALLERY_CONFIG_PATH"
)

// viper key -> flag name. Only flags present on the command are bound.
var flagKeys = map[string]string{
	"data_dir":   "datadir",
	"bucket":     "bucket",
	"region":     "region",
	"endpoint":   "endpoint",
	"prefix":     "prefix",
	"public_url": "public-url",
	"http.addr":  "http-addr",
}

// resolveConfigPath honors, in order, the --config flag, GALLERY_CONFIG_PATH
// and the default path.
func resolveConfigPath(cmd *cobra.Command) string {
	if f := cmd.Flag("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	if p := os.Getenv(envConfigPath); p != "" {
		return p
	}
	return config.DefaultConfigPath
}

// loadConfig merges defaults, the config file, GALLERY_* env vars and flags,
// in increasing order of precedence. The result is not validated.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	setDefaults(v, config.Default())

	path := resolveConfigPath(cmd)
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read '%s': %w", path, err)
		}
	}

	for key, name := range flagKeys {
		if f := cmd.Flag(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &config.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config decode '%s': %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

// setDefaults registers every key so env vars resolve for keys absent from
// the config file.
func setDefaults(v *viper.Viper, d *config.Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("bucket", d.Bucket)
	v.SetDefault("region", d.Region)
	v.SetDefault("endpoint", d.Endpoint)
	v.SetDefault("access_key", d.AccessKey)
	v.SetDefault("secret_key", d.SecretKey)
	v.SetDefault("path_style", d.PathStyle)
	v.SetDefault("prefix", d.Prefix)
	v.SetDefault("public_url", d.PublicURL)
	v.SetDefault("media_patterns", d.MediaPatterns)

	v.SetDefault("cache.max_size", d.Cache.MaxSize)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.save_debounce", d.Cache.SaveDebounce)

	v.SetDefault("sync.auto_interval", d.Sync.AutoInterval)
	v.SetDefault("sync.refresh_cooldown", d.Sync.RefreshCooldown)

	v.SetDefault("loader.timeout", d.Loader.Timeout)
	v.SetDefault("loader.max_retries", d.Loader.MaxRetries)
	v.SetDefault("loader.base_delay", d.Loader.BaseDelay)
	v.SetDefault("loader.max_delay", d.Loader.MaxDelay)
	v.SetDefault("loader.batch_size", d.Loader.BatchSize)
	v.SetDefault("loader.oversize_bytes", d.Loader.OversizeBytes)

	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.rate_limit", d.HTTP.RateLimit)
	v.SetDefault("http.allowed_origins", d.HTTP.AllowedOrigins)
}

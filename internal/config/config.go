package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/openmined/bucketgallery/internal/blob"
	"github.com/openmined/bucketgallery/internal/gallery"
	"github.com/openmined/bucketgallery/internal/lazyload"
	"github.com/openmined/bucketgallery/internal/localhttp"
	"github.com/openmined/bucketgallery/internal/objects"
	"github.com/openmined/bucketgallery/internal/urlcache"
	"github.com/openmined/bucketgallery/internal/utils"
)

var (
	home, _           = os.UserHomeDir()
	DefaultDataDir    = filepath.Join(home, ".bucketgallery")
	DefaultConfigPath = filepath.Join(DefaultDataDir, "config.json")
)

type Config struct {
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Bucket    string `json:"bucket" mapstructure:"bucket"`
	Region    string `json:"region" mapstructure:"region"`
	Endpoint  string `json:"endpoint,omitempty" mapstructure:"endpoint"`
	AccessKey string `json:"access_key,omitempty" mapstructure:"access_key"`
	SecretKey string `json:"secret_key,omitempty" mapstructure:"secret_key"`
	PathStyle bool   `json:"path_style" mapstructure:"path_style"`
	Prefix    string `json:"prefix,omitempty" mapstructure:"prefix"`
	PublicURL string `json:"public_url,omitempty" mapstructure:"public_url"`

	// MediaPatterns are glob patterns of keys shown in the gallery.
	MediaPatterns []string `json:"media_patterns,omitempty" mapstructure:"media_patterns"`

	Cache  CacheConfig  `json:"cache" mapstructure:"cache"`
	Sync   SyncConfig   `json:"sync" mapstructure:"sync"`
	Loader LoaderConfig `json:"loader" mapstructure:"loader"`
	HTTP   HTTPConfig   `json:"http" mapstructure:"http"`

	Path string `json:"-" mapstructure:"-"`
}

type CacheConfig struct {
	MaxSize      int64         `json:"max_size" mapstructure:"max_size"`
	TTL          time.Duration `json:"ttl" mapstructure:"ttl"`
	SaveDebounce time.Duration `json:"save_debounce" mapstructure:"save_debounce"`
}

type SyncConfig struct {
	AutoInterval    time.Duration `json:"auto_interval" mapstructure:"auto_interval"`
	RefreshCooldown time.Duration `json:"refresh_cooldown" mapstructure:"refresh_cooldown"`
}

type LoaderConfig struct {
	Timeout       time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries    int           `json:"max_retries" mapstructure:"max_retries"`
	BaseDelay     time.Duration `json:"base_delay" mapstructure:"base_delay"`
	MaxDelay      time.Duration `json:"max_delay" mapstructure:"max_delay"`
	BatchSize     int           `json:"batch_size" mapstructure:"batch_size"`
	OversizeBytes int64         `json:"oversize_bytes" mapstructure:"oversize_bytes"`
}

type HTTPConfig struct {
	Addr           string   `json:"addr" mapstructure:"addr"`
	RateLimit      string   `json:"rate_limit" mapstructure:"rate_limit"`
	AllowedOrigins []string `json:"allowed_origins,omitempty" mapstructure:"allowed_origins"`
}

func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir,
		Region:  "us-east-1",
		Cache: CacheConfig{
			MaxSize:      urlcache.DefaultMaxSize,
			TTL:          urlcache.DefaultTTL,
			SaveDebounce: urlcache.DefaultSaveDebounce,
		},
		Sync: SyncConfig{
			AutoInterval:    gallery.DefaultAutoSyncInterval,
			RefreshCooldown: gallery.DefaultRefreshCooldown,
		},
		Loader: LoaderConfig{
			Timeout:       lazyload.DefaultTimeout,
			MaxRetries:    lazyload.DefaultMaxAttempts,
			BaseDelay:     lazyload.DefaultBaseDelay,
			MaxDelay:      lazyload.DefaultMaxDelay,
			BatchSize:     lazyload.DefaultBatchSize,
			OversizeBytes: gallery.DefaultOversizeBytes,
		},
		HTTP: HTTPConfig{
			Addr:      localhttp.DefaultAddr,
			RateLimit: localhttp.DefaultRateLimit,
		},
		Path: DefaultConfigPath,
	}
}

// Validate normalizes paths and checks every setting. It does not touch the
// network.
func (c *Config) Validate() error {
	dataDir, err := utils.ResolvePath(c.DataDir)
	if err != nil {
		return fmt.Errorf("`data_dir` %w", err)
	}
	c.DataDir = dataDir

	if err := c.BlobConfig().Validate(); err != nil {
		return err
	}

	if len(c.MediaPatterns) > 0 {
		if _, err := objects.NewMediaMatcher(c.MediaPatterns...); err != nil {
			return fmt.Errorf("`media_patterns`: %w", err)
		}
	}

	if c.Cache.MaxSize <= 0 {
		return errors.New("`cache.max_size` must be positive")
	}
	if c.Cache.TTL <= 0 {
		return errors.New("`cache.ttl` must be positive")
	}
	if c.Cache.SaveDebounce < 0 {
		return errors.New("`cache.save_debounce` cannot be negative")
	}

	if c.Sync.AutoInterval < time.Second {
		return errors.New("`sync.auto_interval` must be at least 1s")
	}
	if c.Sync.RefreshCooldown < 0 {
		return errors.New("`sync.refresh_cooldown` cannot be negative")
	}

	if c.Loader.Timeout <= 0 {
		return errors.New("`loader.timeout` must be positive")
	}
	if c.Loader.MaxRetries < 1 {
		return errors.New("`loader.max_retries` must be at least 1")
	}
	if c.Loader.BaseDelay < 0 || c.Loader.MaxDelay < c.Loader.BaseDelay {
		return errors.New("`loader.max_delay` must be >= `loader.base_delay` >= 0")
	}
	if c.Loader.BatchSize < 1 {
		return errors.New("`loader.batch_size` must be at least 1")
	}
	if c.Loader.OversizeBytes < 0 {
		return errors.New("`loader.oversize_bytes` cannot be negative")
	}

	if c.HTTP.Addr == "" {
		return errors.New("`http.addr` is required")
	}
	return nil
}

// Save writes the config as JSON. The file holds credentials and is only
// readable by the owner.
func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	c.Path = path
	return nil
}

func (c *Config) BlobConfig() *blob.Config {
	return &blob.Config{
		Bucket:    c.Bucket,
		Region:    c.Region,
		Endpoint:  c.Endpoint,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		PathStyle: c.PathStyle,
		Prefix:    c.Prefix,
		PublicURL: c.PublicURL,
	}
}

func (c *Config) CacheOptions() *urlcache.Options {
	return &urlcache.Options{
		MaxSize:      c.Cache.MaxSize,
		TTL:          c.Cache.TTL,
		SaveDebounce: c.Cache.SaveDebounce,
	}
}

func (c *Config) LoaderOptions() *lazyload.Options {
	return &lazyload.Options{
		MaxAttempts: c.Loader.MaxRetries,
		Timeout:     c.Loader.Timeout,
		BaseDelay:   c.Loader.BaseDelay,
		MaxDelay:    c.Loader.MaxDelay,
	}
}

// GalleryConfig must be called on a validated config.
func (c *Config) GalleryConfig() *gallery.Config {
	cfg := &gallery.Config{
		AutoSyncInterval: c.Sync.AutoInterval,
		RefreshCooldown:  c.Sync.RefreshCooldown,
		BatchSize:        c.Loader.BatchSize,
		OversizeBytes:    c.Loader.OversizeBytes,
	}
	if len(c.MediaPatterns) > 0 {
		cfg.MediaMatcher, _ = objects.NewMediaMatcher(c.MediaPatterns...)
	}
	return cfg
}

func (c *Config) ServerConfig() localhttp.Config {
	return localhttp.Config{
		Addr:           c.HTTP.Addr,
		RateLimit:      c.HTTP.RateLimit,
		AllowedOrigins: c.HTTP.AllowedOrigins,
	}
}

// LogValue hides credentials.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("path", c.Path),
		slog.String("data_dir", c.DataDir),
		slog.String("bucket", c.Bucket),
		slog.String("region", c.Region),
		slog.String("endpoint", c.Endpoint),
		slog.String("prefix", c.Prefix),
		slog.String("access_key", maskIfSet(c.AccessKey)),
		slog.String("secret_key", maskIfSet(c.SecretKey)),
		slog.String("http_addr", c.HTTP.Addr),
	)
}

func maskIfSet(s string) string {
	if s == "" {
		return ""
	}
	return utils.MaskSecret(s)
}

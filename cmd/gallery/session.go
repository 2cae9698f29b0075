package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/openmined/bucketgallery/internal/blob"
	"github.com/openmined/bucketgallery/internal/config"
	"github.com/openmined/bucketgallery/internal/kvstore"
	"github.com/openmined/bucketgallery/internal/logging"
	"github.com/openmined/bucketgallery/internal/urlcache"
	"github.com/openmined/bucketgallery/internal/workspace"
	"github.com/spf13/cobra"
)

// session holds what every bucket-facing command needs: validated config,
// the locked workspace, the durable URL cache and the bucket client.
type session struct {
	cfg    *config.Config
	ws     *workspace.Workspace
	store  *kvstore.SqliteStore
	cache  *urlcache.Cache
	client *blob.S3Client

	closeLog func() error
}

type sessionOptions struct {
	// logToFile also writes logs to <datadir>/logs/gallery.log
	logToFile bool
}

func openSession(cmd *cobra.Command, opts sessionOptions) (s *session, err error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config '%s': %w", cfg.Path, err)
	}

	ws, err := workspace.NewWorkspace(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if err := ws.Setup(); err != nil {
		return nil, err
	}
	if err := ws.Lock(); err != nil {
		if errors.Is(err, workspace.ErrWorkspaceLocked) {
			return nil, fmt.Errorf("%w: is `gallery serve` running? use `gallery sync` or the http api instead", err)
		}
		return nil, err
	}

	s = &session{cfg: cfg, ws: ws, closeLog: func() error { return nil }}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if err := s.setupLogging(cmd, opts); err != nil {
		return nil, err
	}
	slog.Debug("config loaded", "config", cfg)

	s.store, err = kvstore.OpenSqliteStore(ws.CacheDBPath())
	if err != nil {
		return nil, err
	}
	s.cache = urlcache.New(s.store, cfg.CacheOptions())
	s.cache.Load()

	s.client, err = blob.NewS3ClientWithConfig(cmd.Context(), cfg.BlobConfig())
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (s *session) setupLogging(cmd *cobra.Command, opts sessionOptions) error {
	var level slog.Level
	if f := cmd.Flag("log-level"); f != nil {
		if err := level.UnmarshalText([]byte(f.Value.String())); err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
	}

	logOpts := logging.Options{Level: level, Console: os.Stderr}
	if opts.logToFile {
		logOpts.FilePath = s.ws.LogFilePath()
	}

	closeLog, err := logging.Setup(logOpts)
	if err != nil {
		return err
	}
	s.closeLog = closeLog
	return nil
}

// resolveURL returns the access URL for key, using the cache when possible.
func (s *session) resolveURL(ctx context.Context, key string) (string, error) {
	return s.cache.Resolve(ctx, key, s.client.ObjectURL)
}

func (s *session) Close() {
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			slog.Warn("cache close", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("cache store close", "error", err)
		}
	}
	if err := s.ws.Unlock(); err != nil {
		slog.Warn("workspace unlock", "error", err)
	}
	_ = s.closeLog()
}

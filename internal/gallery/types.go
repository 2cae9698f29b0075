package gallery

import (
	"errors"
	"fmt"
	"time"

	"github.com/openmined/bucketgallery/internal/lazyload"
	"github.com/openmined/bucketgallery/internal/objects"
)

const (
	DefaultAutoSyncInterval = 2 * time.Minute
	DefaultRefreshCooldown  = 60 * time.Second
	DefaultOversizeBytes    = 10 * 1024 * 1024
)

var (
	ErrSyncInProgress   = errors.New("sync already in progress")
	ErrRefreshThrottled = errors.New("refresh throttled, try again later")
	ErrObjectNotFound   = errors.New("object not found")
)

// DeleteError is returned when the bucket rejected a delete. Local state is
// left untouched.
type DeleteError struct {
	Name string
	Err  error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("delete %q: %v", e.Name, e.Err)
}

func (e *DeleteError) Unwrap() error {
	return e.Err
}

// Renderer receives the items of a render pass. *lazyload.Scheduler is the
// production implementation.
type Renderer interface {
	Reset()
	Register(h lazyload.Handle, url string)
	MarkFailed(h lazyload.Handle)
}

type Config struct {
	AutoSyncInterval time.Duration
	RefreshCooldown  time.Duration
	BatchSize        int
	BatchYield       time.Duration
	// OversizeBytes flags loaded images at or above this size. 0 disables.
	OversizeBytes int64
	MediaMatcher  *objects.MediaMatcher
}

func (c *Config) withDefaults() Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.AutoSyncInterval <= 0 {
		out.AutoSyncInterval = DefaultAutoSyncInterval
	}
	if out.RefreshCooldown <= 0 {
		out.RefreshCooldown = DefaultRefreshCooldown
	}
	if out.BatchSize <= 0 {
		out.BatchSize = lazyload.DefaultBatchSize
	}
	if out.BatchYield <= 0 {
		out.BatchYield = lazyload.DefaultBatchYield
	}
	if out.MediaMatcher == nil {
		out.MediaMatcher = objects.DefaultMediaMatcher()
	}
	return out
}

// State is a point in time copy of the gallery.
type State struct {
	Known       []objects.RemoteObject `json:"known"`
	Visible     []objects.RemoteObject `json:"visible"`
	SearchQuery string                 `json:"searchQuery"`
	UseRegex    bool                   `json:"useRegex"`
	IsSyncing   bool                   `json:"isSyncing"`
	Version     uint64                 `json:"version"`
	LastSync    time.Time              `json:"lastSync"`
}

package gallery

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/openmined/bucketgallery/internal/blob"
	"github.com/openmined/bucketgallery/internal/bucketsync"
	"github.com/openmined/bucketgallery/internal/lazyload"
	"github.com/openmined/bucketgallery/internal/objects"
	"github.com/openmined/bucketgallery/internal/search"
	"github.com/openmined/bucketgallery/internal/urlcache"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

const refreshLimiterKey = "gallery.refresh"

// Coordinator owns the gallery state of one session. Syncs never overlap,
// snapshot swaps and search re-derivations are serialized, and every render is
// driven from the visible set.
type Coordinator struct {
	id       string
	cfg      Config
	log      *slog.Logger
	client   blob.Client
	cache    *urlcache.Cache
	syncer   *bucketsync.Synchronizer
	search   *search.Engine
	renderer Renderer
	refresh  *limiter.Limiter

	muSync sync.Mutex // held for the duration of a sync
	muOp   sync.Mutex // serializes state derivations
	mu     sync.RWMutex
	state  State

	oversized mapset.Set[string]

	ctx          context.Context
	cancel       context.CancelFunc
	muRender     sync.Mutex
	renderCancel context.CancelFunc
	renderDone   chan struct{}
	wg           sync.WaitGroup
}

func New(client blob.Client, cache *urlcache.Cache, renderer Renderer, cfg *Config) *Coordinator {
	c := &Coordinator{
		id:        uuid.NewString(),
		cfg:       cfg.withDefaults(),
		client:    client,
		cache:     cache,
		renderer:  renderer,
		oversized: mapset.NewSet[string](),
	}
	c.log = slog.With("session", c.id)
	c.syncer = bucketsync.NewSynchronizer(client, cache)
	c.search = search.NewEngine(c.resolveURL, &search.Options{MediaMatcher: c.cfg.MediaMatcher})
	c.refresh = limiter.New(memory.NewStore(), limiter.Rate{
		Period: c.cfg.RefreshCooldown,
		Limit:  1,
	})
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

func (c *Coordinator) ID() string {
	return c.id
}

// Run keeps the gallery in sync with the bucket until ctx is done. The first
// sync runs right away. Failures are logged and retried on the next tick.
func (c *Coordinator) Run(ctx context.Context) error {
	c.log.Info("gallery start", "autoSync", c.cfg.AutoSyncInterval)
	c.autoSync(ctx)

	// timer, not ticker, so a slow sync never queues up ticks
	timer := time.NewTimer(c.cfg.AutoSyncInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("gallery stop")
			return nil
		case <-timer.C:
			c.autoSync(ctx)
			timer.Reset(c.cfg.AutoSyncInterval)
		}
	}
}

func (c *Coordinator) autoSync(ctx context.Context) {
	_, err := c.Sync(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrSyncInProgress):
		c.log.Debug("auto sync skipped, sync in progress")
	case errors.Is(err, context.Canceled):
	default:
		c.log.Error("auto sync failed", "error", err)
	}
}

// Sync pulls the bucket listing and swaps in the new snapshot. A call made
// while another sync runs returns ErrSyncInProgress right away. On failure
// the previous state is kept as is.
func (c *Coordinator) Sync(ctx context.Context) (*bucketsync.SyncDelta, error) {
	if !c.muSync.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer c.muSync.Unlock()

	return c.syncLocked(ctx)
}

// syncLocked runs one sync. The caller holds muSync.
func (c *Coordinator) syncLocked(ctx context.Context) (*bucketsync.SyncDelta, error) {
	c.setSyncing(true)
	defer c.setSyncing(false)

	current := c.Snapshot().Known
	next, delta, err := c.syncer.Sync(ctx, current)
	if err != nil {
		return nil, err
	}

	if !delta.HasChanges {
		c.mu.Lock()
		c.state.LastSync = time.Now()
		c.mu.Unlock()
		return delta, nil
	}

	c.search.Invalidate(delta.RemovedKeys...)
	for _, o := range delta.Modified {
		c.search.Invalidate(o.Name)
	}

	c.muOp.Lock()
	c.mu.RLock()
	query, useRegex, version := c.state.SearchQuery, c.state.UseRegex, c.state.Version+1
	c.mu.RUnlock()

	visible, err := c.filter(ctx, next, query, useRegex, version)
	if err != nil {
		// the query compiled when it was set, so only cancellation lands here
		c.muOp.Unlock()
		return nil, err
	}

	c.mu.Lock()
	c.state.Known = next
	c.state.Visible = visible
	c.state.Version = version
	c.state.LastSync = time.Now()
	c.mu.Unlock()
	c.muOp.Unlock()

	c.rerender()
	return delta, nil
}

// Refresh is a user initiated sync, allowed once per cooldown unless forced.
// Only a refresh that completed a sync starts the cooldown.
func (c *Coordinator) Refresh(ctx context.Context, force bool) (*bucketsync.SyncDelta, error) {
	if !force {
		lctx, err := c.refresh.Peek(ctx, refreshLimiterKey)
		if err != nil {
			return nil, err
		}
		if lctx.Remaining == 0 {
			return nil, ErrRefreshThrottled
		}
	}

	delta, err := c.Sync(ctx)
	if err != nil {
		return nil, err
	}

	if !force {
		if _, err := c.refresh.Get(ctx, refreshLimiterKey); err != nil {
			c.log.Warn("refresh cooldown update failed", "error", err)
		}
	}
	return delta, nil
}

// Search re-derives the visible set from the known objects and re-renders.
// An invalid pattern returns a *search.PatternError and leaves the state
// unchanged.
func (c *Coordinator) Search(ctx context.Context, query string, useRegex bool) error {
	c.muOp.Lock()
	c.mu.RLock()
	known, version := c.state.Known, c.state.Version
	c.mu.RUnlock()

	visible, err := c.filter(ctx, known, query, useRegex, version)
	if err != nil {
		c.muOp.Unlock()
		return err
	}

	c.mu.Lock()
	c.state.Visible = visible
	c.state.SearchQuery = query
	c.state.UseRegex = useRegex
	c.mu.Unlock()
	c.muOp.Unlock()

	c.log.Debug("gallery search", "query", query, "regex", useRegex, "visible", len(visible), "known", len(known))
	c.rerender()
	return nil
}

// Delete removes name from the bucket, then from the cache and the local
// state, and finally re-syncs to confirm. If the bucket rejects the delete a
// *DeleteError is returned and nothing changes locally. The confirming sync
// waits for a sync already in flight, whose listing may predate the delete.
func (c *Coordinator) Delete(ctx context.Context, name string) error {
	if !slices.ContainsFunc(c.Snapshot().Known, func(o objects.RemoteObject) bool { return o.Name == name }) {
		return ErrObjectNotFound
	}

	if err := c.client.DeleteObject(ctx, name); err != nil {
		c.log.Warn("delete failed", "name", name, "error", err)
		return &DeleteError{Name: name, Err: err}
	}

	c.cache.Delete(name)
	c.search.Invalidate(name)
	c.oversized.Remove(name)

	c.muOp.Lock()
	c.mu.Lock()
	c.state.Known, _ = objects.Remove(c.state.Known, name)
	c.state.Visible, _ = objects.Remove(c.state.Visible, name)
	c.state.Version++
	c.mu.Unlock()
	c.muOp.Unlock()

	c.log.Info("object deleted", "name", name)
	c.rerender()

	c.muSync.Lock()
	_, err := c.syncLocked(ctx)
	c.muSync.Unlock()
	if err != nil {
		c.log.Warn("confirm sync after delete failed", "error", err)
	}
	return nil
}

// GetObjectURL returns the access URL for name, through the URL cache.
func (c *Coordinator) GetObjectURL(ctx context.Context, name string) (string, error) {
	return c.resolveURL(ctx, name)
}

func (c *Coordinator) CacheStats() urlcache.Stats {
	return c.cache.Stats()
}

// ClearCache empties the URL cache and every derived lookup.
func (c *Coordinator) ClearCache() {
	c.cache.Clear()
	c.search.Reset()
}

// Snapshot returns a copy of the current state.
func (c *Coordinator) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.state
	s.Known = slices.Clone(c.state.Known)
	s.Visible = slices.Clone(c.state.Visible)
	return s
}

// OnImageLoaded flags images at or above the configured oversize threshold.
// It is meant to be wired as the scheduler's OnLoaded callback.
func (c *Coordinator) OnImageLoaded(h lazyload.Handle, url string, res *lazyload.LoadResult) {
	if c.cfg.OversizeBytes <= 0 || res == nil || res.Size < c.cfg.OversizeBytes {
		return
	}
	if c.oversized.Add(string(h)) {
		c.log.Warn("large image", "name", h, "size", humanize.Bytes(uint64(res.Size)))
	}
}

// Oversized returns the names of loaded images flagged as oversized.
func (c *Coordinator) Oversized() []string {
	names := c.oversized.ToSlice()
	slices.Sort(names)
	return names
}

// Close stops rendering, flushes the URL cache and resets the state. The
// coordinator must not be used afterwards.
func (c *Coordinator) Close() error {
	c.muRender.Lock()
	c.cancel()
	c.muRender.Unlock()
	c.wg.Wait()

	err := c.cache.Close()

	c.mu.Lock()
	c.state = State{}
	c.mu.Unlock()
	c.renderer.Reset()

	c.log.Info("gallery closed")
	return err
}

func (c *Coordinator) resolveURL(ctx context.Context, name string) (string, error) {
	return c.cache.Resolve(ctx, name, c.client.ObjectURL)
}

// filter restricts objs to the gallery media type and applies the query.
func (c *Coordinator) filter(ctx context.Context, objs []objects.RemoteObject, query string, useRegex bool, version uint64) ([]objects.RemoteObject, error) {
	media := c.cfg.MediaMatcher.Filter(objs)
	return c.search.Search(ctx, media, query, useRegex, version)
}

func (c *Coordinator) setSyncing(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.IsSyncing = v
}

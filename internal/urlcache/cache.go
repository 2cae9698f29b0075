package urlcache

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/bucketgallery/internal/kvstore"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMaxSize      = 5 * 1024 * 1024
	DefaultTTL          = 24 * time.Hour
	DefaultSaveDebounce = 1 * time.Second
	DefaultStorageKey   = "bucketgallery.urlcache"

	// eviction frees space down to this fraction of MaxSize
	evictTargetRatio = 0.7
)

type Options struct {
	MaxSize      int64
	TTL          time.Duration
	SaveDebounce time.Duration
	StorageKey   string
	Now          func() time.Time
}

func (o *Options) withDefaults() Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.MaxSize <= 0 {
		out.MaxSize = DefaultMaxSize
	}
	if out.TTL <= 0 {
		out.TTL = DefaultTTL
	}
	if out.SaveDebounce <= 0 {
		out.SaveDebounce = DefaultSaveDebounce
	}
	if out.StorageKey == "" {
		out.StorageKey = DefaultStorageKey
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}

// Cache maps object keys to resolved access URLs. Entries expire after TTL and
// the total size of all values is bounded by MaxSize. Mutations are persisted
// to the backing store after a quiet period of SaveDebounce.
type Cache struct {
	opts  Options
	store kvstore.Store

	mu         sync.Mutex
	entries    map[string]*Entry
	totalSize  int64
	dirty      bool
	saveTimer  *time.Timer
	closed     bool
	memoryOnly bool

	// serializes snapshot writes so an older snapshot never lands after a newer one
	saveMu sync.Mutex

	resolving singleflight.Group
}

// New creates an empty cache. A nil store keeps the cache in memory only.
func New(store kvstore.Store, opts *Options) *Cache {
	return &Cache{
		opts:       opts.withDefaults(),
		store:      store,
		entries:    make(map[string]*Entry),
		memoryOnly: store == nil,
	}
}

// Load reads the durable snapshot. A snapshot older than the TTL is dropped
// as a whole. Read or decode failures are logged and leave the cache empty.
func (c *Cache) Load() {
	if c.store == nil {
		return
	}

	raw, ok, err := c.store.GetString(c.opts.StorageKey)
	if err != nil {
		slog.Warn("cache load failed, continuing in memory only", "error", err)
		c.mu.Lock()
		c.memoryOnly = true
		c.mu.Unlock()
		return
	} else if !ok || raw == "" {
		return
	}

	var snap snapshot
	if err := jsonUnmarshal([]byte(raw), &snap); err != nil {
		slog.Warn("cache snapshot corrupt, discarding", "error", err)
		c.removeSnapshot()
		return
	}

	now := c.opts.Now()
	if now.Sub(snap.SavedAt) > c.opts.TTL {
		slog.Debug("cache snapshot expired, discarding", "savedAt", snap.SavedAt)
		c.removeSnapshot()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range snap.Entries {
		if e == nil || e.Key == "" || e.expired(now, c.opts.TTL) {
			continue
		}
		if old, ok := c.entries[e.Key]; ok {
			c.totalSize -= old.SizeBytes
		}
		e.SizeBytes = int64(len(e.Value))
		c.entries[e.Key] = e
		c.totalSize += e.SizeBytes
	}
	if c.totalSize > c.opts.MaxSize {
		c.evictLocked(0)
	}

	slog.Info("cache loaded", "entries", len(c.entries), "size", humanize.Bytes(uint64(c.totalSize)))
}

// Get returns the cached value for key. An expired entry is removed and
// reported as a miss.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if e.expired(c.opts.Now(), c.opts.TTL) {
		c.removeLocked(key)
		c.markDirtyLocked()
		return "", false
	}
	return e.Value, true
}

// Has reports whether key holds a live entry, with the same expiry rules as Get.
func (c *Cache) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Set inserts or refreshes the entry for key. If the new value would push the
// total size over MaxSize, the oldest entries are evicted first. A value
// larger than MaxSize is not cached at all.
func (c *Cache) Set(key, value string) {
	size := int64(len(value))
	if size > c.opts.MaxSize {
		slog.Warn("cache value too large, skipping", "key", key, "size", humanize.Bytes(uint64(size)))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.removeLocked(old.Key)
	}

	if c.totalSize+size > c.opts.MaxSize {
		c.evictLocked(size)
	}

	c.entries[key] = &Entry{
		Key:        key,
		Value:      value,
		InsertedAt: c.opts.Now(),
		SizeBytes:  size,
	}
	c.totalSize += size
	c.markDirtyLocked()
}

// Delete removes key outright.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return
	}
	c.removeLocked(key)
	c.markDirtyLocked()
}

// Clear drops every entry and removes the durable snapshot right away. A save
// already in flight finishes first, so it cannot bring the snapshot back.
func (c *Cache) Clear() {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	clear(c.entries)
	c.totalSize = 0
	c.dirty = false
	if c.saveTimer != nil {
		c.saveTimer.Stop()
	}
	c.mu.Unlock()

	c.removeSnapshot()
	slog.Info("cache cleared")
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{Count: len(c.entries), TotalSize: c.totalSize}
}

// Resolve returns the cached value for key, or computes it with fn and caches
// the result. Concurrent misses for the same key share a single fn call.
func (c *Cache) Resolve(ctx context.Context, key string, fn func(ctx context.Context, key string) (string, error)) (string, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.resolving.Do(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := fn(ctx, key)
		if err != nil {
			return "", err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", key, err)
	}
	return v.(string), nil
}

// Flush writes the snapshot now if there are unsaved changes.
func (c *Cache) Flush() error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	if !c.dirty || c.memoryOnly {
		c.mu.Unlock()
		return nil
	}
	snap := snapshot{
		SavedAt: c.opts.Now(),
		Entries: make([]*Entry, 0, len(c.entries)),
	}
	for _, e := range c.entries {
		cp := *e
		snap.Entries = append(snap.Entries, &cp)
	}
	c.dirty = false
	c.mu.Unlock()

	data, err := jsonMarshal(&snap)
	if err == nil {
		err = c.store.SetString(c.opts.StorageKey, string(data))
	}
	if err != nil {
		c.mu.Lock()
		c.memoryOnly = true
		c.mu.Unlock()
		return fmt.Errorf("save cache snapshot: %w", err)
	}

	slog.Debug("cache saved", "entries", len(snap.Entries))
	return nil
}

// Close stops the debounce timer and writes any pending changes. The cache
// must not be used afterwards.
func (c *Cache) Close() error {
	c.mu.Lock()
	c.closed = true
	if c.saveTimer != nil {
		c.saveTimer.Stop()
	}
	c.mu.Unlock()

	return c.Flush()
}

func (c *Cache) removeLocked(key string) {
	if e, ok := c.entries[key]; ok {
		c.totalSize -= e.SizeBytes
		delete(c.entries, key)
	}
}

// evictLocked removes entries oldest first until the total is within the
// eviction target and there is room for incoming bytes.
func (c *Cache) evictLocked(incoming int64) {
	target := int64(float64(c.opts.MaxSize) * evictTargetRatio)

	sorted := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		sorted = append(sorted, e)
	}
	slices.SortFunc(sorted, func(a, b *Entry) int {
		return a.InsertedAt.Compare(b.InsertedAt)
	})

	before := c.totalSize
	evicted := 0
	for _, e := range sorted {
		if c.totalSize <= target && c.totalSize+incoming <= c.opts.MaxSize {
			break
		}
		c.removeLocked(e.Key)
		evicted++
	}

	slog.Debug("cache evict",
		"evicted", evicted,
		"freed", humanize.Bytes(uint64(before-c.totalSize)),
		"size", humanize.Bytes(uint64(c.totalSize)),
	)
}

// markDirtyLocked flags unsaved changes and (re)arms the trailing save timer.
func (c *Cache) markDirtyLocked() {
	c.dirty = true
	if c.closed || c.memoryOnly {
		return
	}
	if c.saveTimer == nil {
		c.saveTimer = time.AfterFunc(c.opts.SaveDebounce, c.onSaveTimer)
		return
	}
	c.saveTimer.Reset(c.opts.SaveDebounce)
}

func (c *Cache) onSaveTimer() {
	if err := c.Flush(); err != nil {
		slog.Warn("cache persist failed, continuing in memory only", "error", err)
	}
}

func (c *Cache) removeSnapshot() {
	if c.store == nil {
		return
	}
	if err := c.store.RemoveKey(c.opts.StorageKey); err != nil {
		slog.Warn("cache snapshot remove failed", "error", err)
	}
}

package gallery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openmined/bucketgallery/internal/kvstore"
	"github.com/openmined/bucketgallery/internal/lazyload"
	"github.com/openmined/bucketgallery/internal/objects"
	"github.com/openmined/bucketgallery/internal/search"
	"github.com/openmined/bucketgallery/internal/urlcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

type fakeBucket struct {
	mu        sync.Mutex
	objs      map[string]time.Time
	listErr   error
	deleteErr error
	urlErr    map[string]error
	gate      chan struct{}
	hold      chan struct{} // next listing blocks after taking its snapshot
	lists     atomic.Int32
	urls      atomic.Int32
}

func newFakeBucket(objs map[string]time.Time) *fakeBucket {
	return &fakeBucket{objs: objs, urlErr: map[string]error{}}
}

func (b *fakeBucket) ListObjects(ctx context.Context) ([]objects.RemoteObject, error) {
	b.lists.Add(1)

	b.mu.Lock()
	gate := b.gate
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	if b.listErr != nil {
		b.mu.Unlock()
		return nil, b.listErr
	}
	out := make([]objects.RemoteObject, 0, len(b.objs))
	for name, ts := range b.objs {
		out = append(out, objects.RemoteObject{Name: name, LastModified: ts})
	}
	hold := b.hold
	b.hold = nil
	b.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

func (b *fakeBucket) DeleteObject(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deleteErr != nil {
		return b.deleteErr
	}
	delete(b.objs, key)
	return nil
}

func (b *fakeBucket) ObjectURL(ctx context.Context, key string) (string, error) {
	b.urls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.urlErr[key]; err != nil {
		return "", err
	}
	return "https://cdn.example.com/" + key, nil
}

func (b *fakeBucket) set(name string, ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objs[name] = ts
}

type fakeRenderer struct {
	mu         sync.Mutex
	resets     int
	registered map[lazyload.Handle]string
	failed     map[lazyload.Handle]bool
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{registered: map[lazyload.Handle]string{}, failed: map[lazyload.Handle]bool{}}
}

func (r *fakeRenderer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
	clear(r.registered)
	clear(r.failed)
}

func (r *fakeRenderer) Register(h lazyload.Handle, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered[h] = url
}

func (r *fakeRenderer) MarkFailed(h lazyload.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[h] = true
}

func (r *fakeRenderer) snapshot() (map[lazyload.Handle]string, map[lazyload.Handle]bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg := make(map[lazyload.Handle]string, len(r.registered))
	for k, v := range r.registered {
		reg[k] = v
	}
	failed := make(map[lazyload.Handle]bool, len(r.failed))
	for k, v := range r.failed {
		failed[k] = v
	}
	return reg, failed
}

func newTestCoordinator(t *testing.T, bucket *fakeBucket, cfg *Config) (*Coordinator, *fakeRenderer, *urlcache.Cache) {
	t.Helper()
	cache := urlcache.New(nil, nil)
	renderer := newFakeRenderer()
	c := New(bucket, cache, renderer, cfg)
	t.Cleanup(func() { _ = c.Close() })
	return c, renderer, cache
}

func TestCoordinator_SyncPopulatesState(t *testing.T) {
	bucket := newFakeBucket(map[string]time.Time{
		"old.png":   t0,
		"new.jpg":   t0.Add(2 * time.Hour),
		"notes.txt": t0.Add(time.Hour),
	})
	c, _, _ := newTestCoordinator(t, bucket, nil)

	delta, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, delta.HasChanges)

	s := c.Snapshot()
	assert.Equal(t, []string{"new.jpg", "notes.txt", "old.png"}, objects.Names(s.Known))
	assert.Equal(t, []string{"new.jpg", "old.png"}, objects.Names(s.Visible), "visible holds media only")
	assert.Equal(t, uint64(1), s.Version)
	assert.False(t, s.IsSyncing)
	assert.False(t, s.LastSync.IsZero())
}

func TestCoordinator_SyncIsIdempotent(t *testing.T) {
	bucket := newFakeBucket(map[string]time.Time{"a.png": t0, "b.png": t0.Add(time.Hour)})
	c, _, _ := newTestCoordinator(t, bucket, nil)

	_, err := c.Sync(context.Background())
	require.NoError(t, err)
	before := c.Snapshot()

	delta, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.False(t, delta.HasChanges)

	after := c.Snapshot()
	assert.Equal(t, before.Known, after.Known)
	assert.Equal(t, before.Version, after.Version)
}

func TestCoordinator_SyncDelta(t *testing.T) {
	t1, t2, t3, t4 := t0, t0.Add(time.Hour), t0.Add(2*time.Hour), t0.Add(3*time.Hour)
	bucket := newFakeBucket(map[string]time.Time{"a.png": t1, "b.png": t2})
	c, _, _ := newTestCoordinator(t, bucket, nil)

	_, err := c.Sync(context.Background())
	require.NoError(t, err)

	bucket.set("b.png", t3)
	bucket.set("c.png", t4)

	delta, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, delta.HasChanges)
	assert.Equal(t, []string{"c.png"}, objects.Names(delta.Added))
	assert.Equal(t, []string{"b.png"}, objects.Names(delta.Modified))
	assert.Empty(t, delta.RemovedKeys)
	assert.Equal(t, []string{"c.png", "b.png", "a.png"}, objects.Names(c.Snapshot().Known))
}

func TestCoordinator_OverlappingSyncRejected(t *testing.T) {
	bucket := newFakeBucket(map[string]time.Time{"a.png": t0})
	bucket.gate = make(chan struct{})
	c, _, _ := newTestCoordinator(t, bucket, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Sync(context.Background())
		errCh <- err
	}()

	require.Eventually(t, func() bool { return c.Snapshot().IsSyncing }, time.Second, 5*time.Millisecond)

	_, err := c.Sync(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(bucket.gate)
	require.NoError(t, <-errCh)
	assert.Equal(t, int32(1), bucket.lists.Load(), "rejected call never listed")
	assert.False(t, c.Snapshot().IsSyncing)
}

func TestCoordinator_SyncFailureKeepsState(t *testing.T) {
	bucket := newFakeBucket(map[string]time.Time{"a.png": t0})
	c, _, _ := newTestCoordinator(t, bucket, nil)

	_, err := c.Sync(context.Background())
	require.NoError(t, err)
	before := c.Snapshot()

	bucket.listErr = errors.New("access denied")
	bucket.set("b.png", t0.Add(time.Hour))

	_, err = c.Sync(context.Background())
	assert.ErrorContains(t, err, "access denied")

	after := c.Snapshot()
	assert.Equal(t, before.Known, after.Known)
	assert.Equal(t, before.Version, after.Version)
}

func TestCoordinator_Search(t *testing.T) {
	bucket := newFakeBucket(map[string]time.Time{
		"mycatpic.png": t0.Add(3 * time.Hour),
		"bigcat.png":   t0.Add(2 * time.Hour),
		"catfood.png":  t0.Add(time.Hour),
		"dog.png":      t0,
	})
	c, _, _ := newTestCoordinator(t, bucket, nil)
	_, err := c.Sync(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.Search(context.Background(), "cat*", true))
	s := c.Snapshot()
	assert.Equal(t, []string{"catfood.png"}, objects.Names(s.Visible))
	assert.Equal(t, "cat*", s.SearchQuery)
	assert.True(t, s.UseRegex)
	assert.Len(t, s.Known, 4, "search never touches the known list")

	err = c.Search(context.Background(), "([", true)
	var perr *search.PatternError
	require.ErrorAs(t, err, &perr)
	s = c.Snapshot()
	assert.Equal(t, []string{"catfood.png"}, objects.Names(s.Visible), "previous visible set retained")
	assert.Equal(t, "cat*", s.SearchQuery)

	require.NoError(t, c.Search(context.Background(), "*cat*", true))
	assert.Equal(t, []string{"mycatpic.png", "bigcat.png", "catfood.png"}, objects.Names(c.Snapshot().Visible))

	require.NoError(t, c.Search(context.Background(), "", false))
	assert.Len(t, c.Snapshot().Visible, 4)
}

func TestCoordinator_SyncKeepsActiveSearch(t *testing.T) {
	bucket := newFakeBucket(map[string]time.Time{"cat.png": t0, "dog.png": t0})
	c, _, _ := newTestCoordinator(t, bucket, nil)
	_, err := c.Sync(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Search(context.Background(), "cat", false))

	bucket.set("cat2.png", t0.Add(time.Hour))
	_, err = c.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"cat2.png", "cat.png"}, objects.Names(c.Snapshot().Visible))
}

func TestCoordinator_Delete(t *testing.T) {
	bucket := newFakeBucket(map[string]time.Time{"a.png": t0, "b.png": t0.Add(time.Hour)})
	c, _, cache := newTestCoordinator(t, bucket, nil)
	_, err := c.Sync(context.Background())
	require.NoError(t, err)
	c.WaitRender()

	_, err = c.GetObjectURL(context.Background(), "a.png")
	require.NoError(t, err)
	require.True(t, cache.Has("a.png"))
	lists := bucket.lists.Load()

	require.NoError(t, c.Delete(context.Background(), "a.png"))

	s := c.Snapshot()
	assert.Equal(t, []string{"b.png"}, objects.Names(s.Known))
	assert.Equal(t, []string{"b.png"}, objects.Names(s.Visible))
	assert.False(t, cache.Has("a.png"))
	assert.Equal(t, lists+1, bucket.lists.Load(), "confirmatory sync ran")
}

func TestCoordinator_DeleteDuringSyncStaysDeleted(t *testing.T) {
	bucket := newFakeBucket(map[string]time.Time{
		"a.png": t0,
		"b.png": t0.Add(time.Hour),
		"c.png": t0.Add(2 * time.Hour),
	})
	c, _, _ := newTestCoordinator(t, bucket, nil)
	_, err := c.Sync(context.Background())
	require.NoError(t, err)

	// the next listing sees a new object plus a.png, then parks until released
	bucket.set("d.png", t0.Add(3*time.Hour))
	release := make(chan struct{})
	bucket.mu.Lock()
	bucket.hold = release
	bucket.mu.Unlock()

	syncErr := make(chan error, 1)
	go func() {
		_, err := c.Sync(context.Background())
		syncErr <- err
	}()
	require.Eventually(t, func() bool { return bucket.lists.Load() == 2 }, time.Second, 5*time.Millisecond)

	deleted := make(chan error, 1)
	go func() { deleted <- c.Delete(context.Background(), "a.png") }()

	require.Eventually(t, func() bool {
		return !slices.Contains(objects.Names(c.Snapshot().Known), "a.png")
	}, time.Second, 5*time.Millisecond)

	close(release)
	require.NoError(t, <-syncErr)
	require.NoError(t, <-deleted)

	s := c.Snapshot()
	assert.Equal(t, []string{"d.png", "c.png", "b.png"}, objects.Names(s.Known))
	assert.Equal(t, []string{"d.png", "c.png", "b.png"}, objects.Names(s.Visible))
	assert.Equal(t, int32(3), bucket.lists.Load(), "delete waited and re-synced after the stale listing")
}

func TestCoordinator_DeleteFailureLeavesState(t *testing.T) {
	bucket := newFakeBucket(map[string]time.Time{"a.png": t0})
	c, _, cache := newTestCoordinator(t, bucket, nil)
	_, err := c.Sync(context.Background())
	require.NoError(t, err)
	_, err = c.GetObjectURL(context.Background(), "a.png")
	require.NoError(t, err)
	before := c.Snapshot()

	bucket.deleteErr = errors.New("forbidden")
	err = c.Delete(context.Background(), "a.png")

	var derr *DeleteError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "a.png", derr.Name)
	assert.Equal(t, before.Known, c.Snapshot().Known)
	assert.Equal(t, before.Version, c.Snapshot().Version)
	assert.True(t, cache.Has("a.png"))

	assert.ErrorIs(t, c.Delete(context.Background(), "missing.png"), ErrObjectNotFound)
}

func TestCoordinator_RefreshCooldown(t *testing.T) {
	bucket := newFakeBucket(map[string]time.Time{"a.png": t0})
	c, _, _ := newTestCoordinator(t, bucket, &Config{RefreshCooldown: time.Hour})

	_, err := c.Refresh(context.Background(), false)
	require.NoError(t, err)

	_, err = c.Refresh(context.Background(), false)
	assert.ErrorIs(t, err, ErrRefreshThrottled)

	_, err = c.Refresh(context.Background(), true)
	assert.NoError(t, err)
	assert.Equal(t, int32(2), bucket.lists.Load())
}

func TestCoordinator_RefreshCooldownOnlyAfterSync(t *testing.T) {
	bucket := newFakeBucket(map[string]time.Time{"a.png": t0})
	bucket.listErr = errors.New("access denied")
	c, _, _ := newTestCoordinator(t, bucket, &Config{RefreshCooldown: time.Hour})

	_, err := c.Refresh(context.Background(), false)
	assert.ErrorContains(t, err, "access denied")

	// a sync in flight rejects the refresh without using up the cooldown
	bucket.mu.Lock()
	bucket.listErr = nil
	bucket.gate = make(chan struct{})
	bucket.mu.Unlock()
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Sync(context.Background())
		errCh <- err
	}()
	require.Eventually(t, func() bool { return c.Snapshot().IsSyncing }, time.Second, 5*time.Millisecond)

	_, err = c.Refresh(context.Background(), false)
	assert.ErrorIs(t, err, ErrSyncInProgress)

	bucket.mu.Lock()
	close(bucket.gate)
	bucket.gate = nil
	bucket.mu.Unlock()
	require.NoError(t, <-errCh)

	_, err = c.Refresh(context.Background(), false)
	require.NoError(t, err, "failed and rejected refreshes left the cooldown unused")

	_, err = c.Refresh(context.Background(), false)
	assert.ErrorIs(t, err, ErrRefreshThrottled)
}

func TestCoordinator_RenderImages(t *testing.T) {
	bucket := newFakeBucket(map[string]time.Time{})
	bucket.urlErr["broken.png"] = errors.New("presign failed")
	c, renderer, _ := newTestCoordinator(t, bucket, &Config{BatchSize: 3, BatchYield: time.Millisecond})

	var objs []objects.RemoteObject
	for i := 0; i < 7; i++ {
		objs = append(objs, objects.RemoteObject{Name: fmt.Sprintf("img%d.png", i), LastModified: t0})
	}
	objs = append(objs, objects.RemoteObject{Name: "broken.png", LastModified: t0})

	require.NoError(t, c.RenderImages(context.Background(), objs))

	registered, failed := renderer.snapshot()
	assert.Len(t, registered, 7)
	assert.Equal(t, "https://cdn.example.com/img3.png", registered["img3.png"])
	assert.Equal(t, map[lazyload.Handle]bool{"broken.png": true}, failed)
	assert.Equal(t, 7, c.CacheStats().Count)

	// second pass resolves from the cache
	urls := bucket.urls.Load()
	require.NoError(t, c.RenderImages(context.Background(), objs[:7]))
	assert.Equal(t, urls, bucket.urls.Load())
}

func TestCoordinator_SyncTriggersRender(t *testing.T) {
	bucket := newFakeBucket(map[string]time.Time{"a.png": t0, "b.txt": t0})
	c, renderer, _ := newTestCoordinator(t, bucket, nil)

	_, err := c.Sync(context.Background())
	require.NoError(t, err)
	c.WaitRender()

	registered, _ := renderer.snapshot()
	assert.Equal(t, map[lazyload.Handle]string{"a.png": "https://cdn.example.com/a.png"}, registered)
}

func TestCoordinator_OnImageLoaded(t *testing.T) {
	c, _, _ := newTestCoordinator(t, newFakeBucket(map[string]time.Time{}), &Config{OversizeBytes: 1000})

	c.OnImageLoaded("small.png", "u", &lazyload.LoadResult{Size: 999})
	c.OnImageLoaded("big.png", "u", &lazyload.LoadResult{Size: 1000})
	c.OnImageLoaded("big.png", "u", &lazyload.LoadResult{Size: 5000})

	assert.Equal(t, []string{"big.png"}, c.Oversized())
}

func TestCoordinator_ClearCache(t *testing.T) {
	bucket := newFakeBucket(map[string]time.Time{"a.png": t0})
	c, _, _ := newTestCoordinator(t, bucket, nil)

	_, err := c.GetObjectURL(context.Background(), "a.png")
	require.NoError(t, err)
	assert.Equal(t, 1, c.CacheStats().Count)

	c.ClearCache()
	assert.Equal(t, urlcache.Stats{}, c.CacheStats())
}

func TestCoordinator_CloseFlushesCache(t *testing.T) {
	store := kvstore.NewMemoryStore()
	cache := urlcache.New(store, &urlcache.Options{SaveDebounce: time.Hour})
	bucket := newFakeBucket(map[string]time.Time{"a.png": t0})
	c := New(bucket, cache, newFakeRenderer(), nil)

	_, err := c.Sync(context.Background())
	require.NoError(t, err)
	_, err = c.GetObjectURL(context.Background(), "a.png")
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.Empty(t, c.Snapshot().Known)

	raw, ok, err := store.GetString(urlcache.DefaultStorageKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, raw, "a.png")
}

func TestCoordinator_RunAutoSync(t *testing.T) {
	bucket := newFakeBucket(map[string]time.Time{"a.png": t0})
	c, _, _ := newTestCoordinator(t, bucket, &Config{AutoSyncInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return bucket.lists.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	// failures are logged, the loop keeps going
	bucket.mu.Lock()
	bucket.listErr = errors.New("unavailable")
	bucket.mu.Unlock()
	n := bucket.lists.Load()
	require.Eventually(t, func() bool { return bucket.lists.Load() >= n+2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, []string{"a.png"}, objects.Names(c.Snapshot().Known))
}

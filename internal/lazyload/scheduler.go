package lazyload

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultTimeout     = 8 * time.Second
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 3 * time.Second
)

type Options struct {
	// MaxAttempts is the total number of load attempts, first one included.
	MaxAttempts int
	Timeout     time.Duration
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// OnLoaded runs after an item was loaded and drawn.
	OnLoaded func(h Handle, url string, res *LoadResult)
	// OnFailed runs after an item exhausted its attempts.
	OnFailed func(h Handle, url string, err error)
}

func (o *Options) withDefaults() Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = DefaultMaxAttempts
	}
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = DefaultBaseDelay
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = DefaultMaxDelay
	}
	return out
}

type item struct {
	handle Handle
	url    string
	state  State
}

// flight is the single load in progress for a URL. Items registered for the
// URL while it runs wait on it instead of starting their own.
type flight struct {
	waiters []*item
}

// Scheduler defers loading of registered items until their placeholder is
// reported visible, then loads them with bounded retries. Failed URLs are not
// retried again for the lifetime of the scheduler, even across Reset.
type Scheduler struct {
	opts    Options
	vis     VisibilitySource
	target  RenderTarget
	loader  Loader
	mu      sync.Mutex
	items   map[Handle]*item
	pending []Handle
	loaded   map[string]struct{}
	failed   map[string]struct{}
	inflight map[string]*flight
	kick     chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler(vis VisibilitySource, target RenderTarget, loader Loader, opts *Options) *Scheduler {
	return &Scheduler{
		opts:   opts.withDefaults(),
		vis:    vis,
		target: target,
		loader: loader,
		items:  make(map[Handle]*item),
		loaded:   make(map[string]struct{}),
		failed:   make(map[string]struct{}),
		inflight: make(map[string]*flight),
		kick:     make(chan struct{}, 1),
	}
}

// Run drives observation and loading until ctx is done. Loads in flight are
// cancelled and waited for before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Debug("lazyload start")
	defer func() {
		s.wg.Wait()
		slog.Debug("lazyload stopped")
	}()

	visible := s.vis.Visible()
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-s.kick:
			s.observePending()

		case h, ok := <-visible:
			if !ok {
				visible = nil
				continue
			}
			s.trigger(ctx, h)
		}
	}
}

// Register draws the placeholder for h right away. Observation starts on the
// next turn of the Run loop rather than inside the caller's render pass.
func (s *Scheduler) Register(h Handle, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.items[h]; ok && old.url == url {
		return
	}

	it := &item{handle: h, url: url, state: StatePlaceholder}
	s.items[h] = it

	if _, ok := s.failed[url]; ok {
		it.state = StateFailed
		s.target.SetFailed(h, FallbackImage(""))
		return
	}
	if _, ok := s.loaded[url]; ok {
		it.state = StateLoaded
		s.target.SetResolved(h, url)
		return
	}

	s.target.SetPlaceholder(h, PlaceholderImage)
	if f, ok := s.inflight[url]; ok {
		it.state = StateLoading
		f.waiters = append(f.waiters, it)
		return
	}
	s.pending = append(s.pending, h)

	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// MarkFailed draws the fallback for an item that cannot be loaded at all,
// e.g. because its URL could not be resolved.
func (s *Scheduler) MarkFailed(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[h] = &item{handle: h, state: StateFailed}
	s.target.SetFailed(h, FallbackImage(""))
}

// Reset forgets all registered items and clears the surface. Loads still in
// flight for forgotten items are discarded when they complete.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for h, it := range s.items {
		if it.state == StatePlaceholder {
			s.vis.Unobserve(h)
		}
	}
	s.items = make(map[Handle]*item)
	s.pending = nil
	s.target.Reset()
}

// State reports the current state of h.
func (s *Scheduler) State(h Handle) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[h]
	if !ok {
		return 0, false
	}
	return it.state, true
}

// Counts returns the number of items per state.
func (s *Scheduler) Counts() map[State]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[State]int)
	for _, it := range s.items {
		counts[it.state]++
	}
	return counts
}

func (s *Scheduler) observePending() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, h := range pending {
		s.mu.Lock()
		it, ok := s.items[h]
		observe := ok && it.state == StatePlaceholder
		s.mu.Unlock()

		if observe {
			s.vis.Observe(h)
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context, h Handle) {
	s.mu.Lock()
	it, ok := s.items[h]
	if !ok || it.state != StatePlaceholder {
		s.mu.Unlock()
		return
	}
	it.state = StateVisiblePending
	f, joined := s.inflight[it.url]
	if joined {
		it.state = StateLoading
		f.waiters = append(f.waiters, it)
	} else {
		f = &flight{waiters: []*item{it}}
		s.inflight[it.url] = f
	}
	s.mu.Unlock()

	s.vis.Unobserve(h)
	if joined {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.load(ctx, it.url, f)
	}()
}

func (s *Scheduler) load(ctx context.Context, url string, f *flight) {
	if !s.startFlight(url, f) {
		return
	}

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		res, err := s.attempt(ctx, url)
		if err == nil {
			s.finishLoaded(url, f, res)
			return
		}
		if ctx.Err() != nil {
			s.dropFlight(url, f)
			return
		}
		lastErr = err
		slog.Debug("lazyload attempt failed", "url", url, "attempt", attempt, "error", err)

		if attempt < s.opts.MaxAttempts {
			if sleepCtx(ctx, retryDelay(attempt, s.opts.BaseDelay, s.opts.MaxDelay)) != nil {
				s.dropFlight(url, f)
				return
			}
		}
	}

	s.finishFailed(url, f, lastErr)
}

// attempt runs one load bounded by the per attempt timeout. A result that
// arrives after the timeout is dropped.
func (s *Scheduler) attempt(ctx context.Context, url string) (*LoadResult, error) {
	actx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	type result struct {
		res *LoadResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := s.loader.Load(actx, url)
		done <- result{res, err}
	}()

	select {
	case r := <-done:
		if r.err == nil && r.res == nil {
			r.res = &LoadResult{}
		}
		return r.res, r.err
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrLoadTimeout
	}
}

// startFlight moves the still registered waiters of f to loading. With none
// left, because Reset dropped them or they were registered again, the flight
// is abandoned before any attempt.
func (s *Scheduler) startFlight(url string, f *flight) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := false
	for _, it := range f.waiters {
		if s.items[it.handle] == it {
			it.state = StateLoading
			live = true
		}
	}
	if !live {
		s.removeFlightLocked(url, f)
	}
	return live
}

func (s *Scheduler) dropFlight(url string, f *flight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeFlightLocked(url, f)
}

func (s *Scheduler) removeFlightLocked(url string, f *flight) {
	if s.inflight[url] == f {
		delete(s.inflight, url)
	}
}

// settleLocked removes f and returns its waiters that are still registered.
func (s *Scheduler) settleLocked(url string, f *flight, state State) []*item {
	s.removeFlightLocked(url, f)

	var current []*item
	for _, it := range f.waiters {
		if s.items[it.handle] == it {
			it.state = state
			current = append(current, it)
		}
	}
	return current
}

func (s *Scheduler) finishLoaded(url string, f *flight, res *LoadResult) {
	s.mu.Lock()
	s.loaded[url] = struct{}{}
	current := s.settleLocked(url, f, StateLoaded)
	for _, it := range current {
		s.target.SetResolved(it.handle, url)
	}
	s.mu.Unlock()

	if s.opts.OnLoaded != nil {
		for _, it := range current {
			s.opts.OnLoaded(it.handle, url, res)
		}
	}
}

func (s *Scheduler) finishFailed(url string, f *flight, err error) {
	if err == nil {
		err = errors.New("load failed")
	}

	s.mu.Lock()
	s.failed[url] = struct{}{}
	current := s.settleLocked(url, f, StateFailed)
	for _, it := range current {
		s.target.SetFailed(it.handle, FallbackImage(""))
	}
	s.mu.Unlock()

	slog.Warn("lazyload failed", "url", url, "attempts", s.opts.MaxAttempts, "error", err)
	if s.opts.OnFailed != nil {
		for _, it := range current {
			s.opts.OnFailed(it.handle, url, err)
		}
	}
}

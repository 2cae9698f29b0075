package search

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/openmined/bucketgallery/internal/objects"
)

const (
	DefaultLookupTTL    = 5 * time.Minute
	DefaultResultTTL    = 30 * time.Second
	DefaultResultCached = 64
)

// ResolveFunc returns the access URL for an object key.
type ResolveFunc func(ctx context.Context, key string) (string, error)

type Options struct {
	// MediaMatcher decides which objects take part in a search.
	MediaMatcher *objects.MediaMatcher
	LookupTTL    time.Duration
	ResultTTL    time.Duration
}

type resultKey struct {
	query    string
	useRegex bool
	version  uint64
}

// Engine filters objects by their resolved URLs. URL lookups and results are
// kept in short lived per session caches, separate from the durable URL cache.
type Engine struct {
	resolve ResolveFunc
	media   *objects.MediaMatcher
	urls    *expirable.LRU[string, string]
	results *expirable.LRU[resultKey, []objects.RemoteObject]
}

func NewEngine(resolve ResolveFunc, opts *Options) *Engine {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.MediaMatcher == nil {
		o.MediaMatcher = objects.DefaultMediaMatcher()
	}
	if o.LookupTTL <= 0 {
		o.LookupTTL = DefaultLookupTTL
	}
	if o.ResultTTL <= 0 {
		o.ResultTTL = DefaultResultTTL
	}

	return &Engine{
		resolve: resolve,
		media:   o.MediaMatcher,
		urls:    expirable.NewLRU[string, string](0, nil, o.LookupTTL), // 0 = LRU off
		results: expirable.NewLRU[resultKey, []objects.RemoteObject](DefaultResultCached, nil, o.ResultTTL),
	}
}

// Search returns the objects whose resolved URL matches query. An empty query
// returns objs unchanged. version identifies the snapshot objs was taken from
// and keys the result cache. Objects whose URL cannot be resolved never match.
func (e *Engine) Search(ctx context.Context, objs []objects.RemoteObject, query string, useRegex bool, version uint64) ([]objects.RemoteObject, error) {
	if query == "" {
		return objs, nil
	}

	m, err := newMatcher(query, useRegex)
	if err != nil {
		return nil, err
	}

	key := resultKey{query: query, useRegex: useRegex, version: version}
	if res, ok := e.results.Get(key); ok {
		return res, nil
	}

	start := time.Now()
	matched := make([]objects.RemoteObject, 0)
	for _, obj := range objs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.media.Match(obj.Name) {
			continue
		}

		u, err := e.lookup(ctx, obj.Name)
		if err != nil {
			slog.Debug("search resolve failed", "name", obj.Name, "error", err)
			continue
		}
		if m.match(u) {
			matched = append(matched, obj)
		}
	}

	e.results.Add(key, matched)
	slog.Debug("search", "query", query, "regex", useRegex, "candidates", len(objs), "matched", len(matched), "took", time.Since(start))
	return matched, nil
}

// Invalidate drops the cached lookups for the given keys and all results.
func (e *Engine) Invalidate(keys ...string) {
	for _, k := range keys {
		e.urls.Remove(k)
	}
	e.results.Purge()
}

// Reset drops every cached lookup and result.
func (e *Engine) Reset() {
	e.urls.Purge()
	e.results.Purge()
}

func (e *Engine) lookup(ctx context.Context, key string) (string, error) {
	if u, ok := e.urls.Get(key); ok {
		return u, nil
	}
	u, err := e.resolve(ctx, key)
	if err != nil {
		return "", err
	}
	e.urls.Add(key, u)
	return u, nil
}

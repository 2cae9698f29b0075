package bucketsync

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/openmined/bucketgallery/internal/objects"
)

// Lister enumerates the complete bucket listing.
type Lister interface {
	ListObjects(ctx context.Context) ([]objects.RemoteObject, error)
}

// Invalidator drops cached state for keys that no longer exist remotely.
type Invalidator interface {
	Delete(key string)
}

// Synchronizer fetches the authoritative listing and diffs it against the
// caller's snapshot. It keeps no state of its own and never retries.
type Synchronizer struct {
	lister Lister
	cache  Invalidator
}

func NewSynchronizer(lister Lister, cache Invalidator) *Synchronizer {
	return &Synchronizer{lister: lister, cache: cache}
}

// Sync returns the fresh listing sorted newest first together with its delta
// against current. On error nothing is invalidated and current stays valid.
func (s *Synchronizer) Sync(ctx context.Context, current []objects.RemoteObject) ([]objects.RemoteObject, *SyncDelta, error) {
	tStart := time.Now()

	fetched, err := s.lister.ListObjects(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list objects: %w", err)
	}
	tList := time.Since(tStart)

	next := slices.Clone(fetched)
	objects.SortByLastModified(next)

	delta := ComputeDelta(current, next)

	if s.cache != nil {
		for _, key := range delta.RemovedKeys {
			s.cache.Delete(key)
		}
	}

	if delta.HasChanges {
		slog.Info("bucket sync",
			"objects", len(next),
			"added", len(delta.Added),
			"modified", len(delta.Modified),
			"removed", len(delta.RemovedKeys),
			"tsList", tList,
			"tsTotal", time.Since(tStart),
		)
	} else {
		slog.Debug("bucket sync unchanged", "objects", len(next), "tsTotal", time.Since(tStart))
	}

	return next, delta, nil
}

package bucketsync

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/bucketgallery/internal/objects"
)

// SyncDelta is the difference between two listings, keyed by object name.
type SyncDelta struct {
	Added       []objects.RemoteObject `json:"added"`
	RemovedKeys []string               `json:"removedKeys"`
	Modified    []objects.RemoteObject `json:"modified"`
	HasChanges  bool                   `json:"hasChanges"`
}

// ComputeDelta compares the previous listing with the fresh one. An object is
// modified when its LastModified differs. Added and Modified follow the order
// of next; RemovedKeys follows the order of prev.
func ComputeDelta(prev, next []objects.RemoteObject) *SyncDelta {
	prevByName := make(map[string]objects.RemoteObject, len(prev))
	for _, o := range prev {
		prevByName[o.Name] = o
	}

	prevKeys := mapset.NewThreadUnsafeSetWithSize[string](len(prev))
	for _, o := range prev {
		prevKeys.Add(o.Name)
	}
	nextKeys := mapset.NewThreadUnsafeSetWithSize[string](len(next))
	for _, o := range next {
		nextKeys.Add(o.Name)
	}

	added := nextKeys.Difference(prevKeys)
	removed := prevKeys.Difference(nextKeys)

	delta := &SyncDelta{
		Added:       []objects.RemoteObject{},
		RemovedKeys: []string{},
		Modified:    []objects.RemoteObject{},
	}

	for _, o := range next {
		if added.Contains(o.Name) {
			delta.Added = append(delta.Added, o)
			continue
		}
		if old := prevByName[o.Name]; !old.LastModified.Equal(o.LastModified) {
			delta.Modified = append(delta.Modified, o)
		}
	}

	for _, o := range prev {
		if removed.Contains(o.Name) {
			delta.RemovedKeys = append(delta.RemovedKeys, o.Name)
		}
	}

	delta.HasChanges = len(delta.Added) > 0 || len(delta.RemovedKeys) > 0 || len(delta.Modified) > 0
	return delta
}

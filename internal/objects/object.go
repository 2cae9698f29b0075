package objects

import (
	"slices"
	"time"
)

// RemoteObject is one entry of the bucket listing. Name is the storage key and
// the only identity used when comparing listings.
type RemoteObject struct {
	Name         string    `json:"name"`
	LastModified time.Time `json:"lastModified"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag,omitempty"`
}

// SortByLastModified orders objects newest first. Ties keep their input order.
func SortByLastModified(objs []RemoteObject) {
	slices.SortStableFunc(objs, func(a, b RemoteObject) int {
		return b.LastModified.Compare(a.LastModified)
	})
}

// Names returns the keys of objs in order.
func Names(objs []RemoteObject) []string {
	names := make([]string, 0, len(objs))
	for _, o := range objs {
		names = append(names, o.Name)
	}
	return names
}

// Remove returns objs without the object named name, and whether it was present.
// The input slice is not modified.
func Remove(objs []RemoteObject, name string) ([]RemoteObject, bool) {
	idx := slices.IndexFunc(objs, func(o RemoteObject) bool { return o.Name == name })
	if idx < 0 {
		return objs, false
	}
	out := make([]RemoteObject, 0, len(objs)-1)
	out = append(out, objs[:idx]...)
	out = append(out, objs[idx+1:]...)
	return out, true
}

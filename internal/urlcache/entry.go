package urlcache

import "time"

// Entry is one cached key to URL mapping.
type Entry struct {
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	InsertedAt time.Time `json:"insertedAt"`
	SizeBytes  int64     `json:"size"`
}

func (e *Entry) expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.InsertedAt) > ttl
}

// Stats is a point in time summary of the cache.
type Stats struct {
	Count     int   `json:"count"`
	TotalSize int64 `json:"totalSizeBytes"`
}

// snapshot is the durable form of the cache, written as a single value.
type snapshot struct {
	SavedAt time.Time `json:"savedAt"`
	Entries []*Entry  `json:"entries"`
}

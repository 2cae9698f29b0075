package kvstore

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("kv store closed")

// Store is a durable string key-value store. A missing key is not an error:
// GetString reports it through ok=false.
type Store interface {
	GetString(key string) (value string, ok bool, err error)
	SetString(key, value string) error
	RemoveKey(key string) error
	Close() error
}

// MemoryStore keeps values in process memory. It is used when no durable
// store is configured and in tests.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) GetString(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", false, ErrClosed
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) SetString(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.values[key] = value
	return nil
}

func (m *MemoryStore) RemoveKey(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.values, key)
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SqliteStore)(nil)
)

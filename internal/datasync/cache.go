package datasync

import (
	"context"
	"encoding/json"
	"sync"
)

// Cache holds the last fetched JSON of each collection.
type Cache interface {
	Put(ctx context.Context, c Collection, data json.RawMessage) error
	Get(ctx context.Context, c Collection) (json.RawMessage, bool, error)
}

type MemoryCache struct {
	mu   sync.RWMutex
	data map[Collection]json.RawMessage
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[Collection]json.RawMessage)}
}

func (m *MemoryCache) Put(ctx context.Context, c Collection, data json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[c] = append(json.RawMessage(nil), data...)
	return nil
}

func (m *MemoryCache) Get(ctx context.Context, c Collection) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[c]
	return v, ok, nil
}

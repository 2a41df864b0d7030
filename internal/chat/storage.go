package chat

import (
	"context"
	"sync"
)

// Storage mirrors the transcript and session id of one browsing session.
// Load on an empty namespace returns a zero Persisted and no error.
type Storage interface {
	Load(ctx context.Context) (Persisted, error)
	Save(ctx context.Context, p Persisted) error
	Clear(ctx context.Context) error
}

type MemoryStorage struct {
	mu sync.Mutex
	p  Persisted
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Load(ctx context.Context) (Persisted, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clonePersisted(m.p), nil
}

func (m *MemoryStorage) Save(ctx context.Context, p Persisted) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.p = clonePersisted(p)
	return nil
}

func (m *MemoryStorage) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.p = Persisted{}
	return nil
}

func clonePersisted(p Persisted) Persisted {
	out := Persisted{SessionID: p.SessionID}
	if len(p.Messages) > 0 {
		out.Messages = append([]Message(nil), p.Messages...)
	}
	return out
}

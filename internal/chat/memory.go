package chat

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu        sync.Mutex
	snapshots map[string]Persisted
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]Persisted)}
}

func (m *MemoryStore) LoadSnapshot(_ context.Context, scope string) (Persisted, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.snapshots[scope]
	if !ok {
		return Persisted{}, false, nil
	}
	p.Messages = slices.Clone(p.Messages)
	return p, true, nil
}

func (m *MemoryStore) SaveSnapshot(_ context.Context, scope string, p Persisted) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Messages = slices.Clone(p.Messages)
	m.snapshots[scope] = p
	return nil
}

func (m *MemoryStore) ClearSnapshot(_ context.Context, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, scope)
	return nil
}

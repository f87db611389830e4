package authz

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory API key store for demo/development mode.
type MemoryStore struct {
	mu     sync.RWMutex
	byHash map[string]*APIKey
}

// NewMemoryStore creates a new in-memory API key store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byHash: make(map[string]*APIKey)}
}

func (m *MemoryStore) Create(ctx context.Context, key *APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *key
	m.byHash[key.Hash] = &cp
	return nil
}

func (m *MemoryStore) GetByHash(ctx context.Context, hash string) (*APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.byHash[hash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	cp := *key
	return &cp, nil
}

func (m *MemoryStore) GetByActor(ctx context.Context, actorID string) ([]*APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*APIKey
	for _, k := range m.byHash {
		if k.ActorID == actorID {
			cp := *k
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) Update(ctx context.Context, key *APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byHash[key.Hash]; !ok {
		return ErrKeyNotFound
	}
	cp := *key
	m.byHash[key.Hash] = &cp
	return nil
}

func (m *MemoryStore) Touch(ctx context.Context, hash string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.byHash[hash]
	if !ok {
		return ErrKeyNotFound
	}
	key.LastUsed = usedAt
	return nil
}

var _ Store = (*MemoryStore)(nil)

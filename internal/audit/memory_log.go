package audit

import (
	"context"
	"sync"
)

// MemoryLog is an in-memory audit recorder for demo/development mode.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []*Entry
	nextID  int64
}

// NewMemoryLog creates a new in-memory audit recorder.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{nextID: 1}
}

func (m *MemoryLog) Record(ctx context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	cp.ID = m.nextID
	m.nextID++
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *MemoryLog) Query(ctx context.Context, entityType, entityID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for _, e := range m.entries {
		if e.EntityType == entityType && e.EntityID == entityID {
			cp := *e
			result = append(result, &cp)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

var _ Recorder = (*MemoryLog)(nil)

package transaction

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*Transaction
	byCode map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Transaction),
		byCode: make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(ctx context.Context, t *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *t
	s.byID[t.ID] = &cp
	s.byCode[t.Code] = t.ID
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string, includeArchived bool) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.byID[id]
	if !ok || (!includeArchived && !t.Active) {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) GetByCode(ctx context.Context, code string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	t := s.byID[id]
	if !t.Active {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) List(ctx context.Context, filter ListFilter, offset, limit int) ([]*Transaction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*Transaction, 0, len(s.byID))
	for _, t := range s.byID {
		if !filter.IncludeArchived && !t.Active {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if p := filter.ParticipantID; p != "" && t.BuyerID != p && t.SellerID != p && t.DealerID != p {
			continue
		}
		cp := *t
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if offset >= total {
		return []*Transaction{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (s *MemoryStore) Update(ctx context.Context, t *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[t.ID]; !ok {
		return ErrNotFound
	}
	cp := *t
	s.byID[t.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateIfStatus(ctx context.Context, t *Transaction, expect ...Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[t.ID]
	if !ok {
		return ErrNotFound
	}
	matched := false
	for _, st := range expect {
		if current.Status == st {
			matched = true
			break
		}
	}
	if !matched {
		return ErrStatusConflict
	}
	cp := *t
	s.byID[t.ID] = &cp
	return nil
}

func (s *MemoryStore) Archive(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	t.Active = false
	t.UpdatedAt = at
	return nil
}

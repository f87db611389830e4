package review

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	reviews map[string]*Review
	flags   map[string][]*Flag
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reviews: make(map[string]*Review),
		flags:   make(map[string][]*Flag),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(ctx context.Context, r *Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	s.reviews[r.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reviews[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) GetByTransactionAndReviewer(ctx context.Context, transactionID, reviewerID string) (*Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.reviews {
		if r.TransactionID == transactionID && r.ReviewerID == reviewerID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) List(ctx context.Context, filter ListFilter, offset, limit int) ([]*Review, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Review
	for _, r := range s.reviews {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.VehicleID != "" && r.VehicleID != filter.VehicleID {
			continue
		}
		if filter.RevieweeID != "" && r.RevieweeID != filter.RevieweeID {
			continue
		}
		if filter.ReviewerID != "" && r.ReviewerID != filter.ReviewerID {
			continue
		}
		cp := *r
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
		return []*Review{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (s *MemoryStore) Update(ctx context.Context, r *Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reviews[r.ID]; !ok {
		return ErrNotFound
	}
	cp := *r
	s.reviews[r.ID] = &cp
	return nil
}

func (s *MemoryStore) Stats(ctx context.Context, revieweeID string) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{UserID: revieweeID}
	ratingSum := 0
	rated := 0
	for _, r := range s.reviews {
		if r.RevieweeID != revieweeID {
			continue
		}
		stats.Total++
		switch r.Status {
		case StatusApproved:
			stats.Approved++
		case StatusRejected:
			stats.Rejected++
		case StatusPending:
			stats.Pending++
		case StatusFlagged:
			stats.Flagged++
		}
		if r.Verified {
			stats.Verified++
			if r.VerifiedBy == VerifiedAuto {
				stats.AutoVerified++
			}
		}
		if r.Status == StatusApproved {
			ratingSum += r.Rating
			rated++
		}
	}
	if rated > 0 {
		stats.AverageRating = float64(ratingSum) / float64(rated)
	}
	return stats, nil
}

func (s *MemoryStore) GlobalStats(ctx context.Context) (*GlobalStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g := &GlobalStats{
		ByStatus: make(map[Status]int),
		ByMethod: make(map[string]int),
	}
	for _, r := range s.reviews {
		g.Total++
		g.ByStatus[r.Status]++
		if r.Verified {
			g.Verified++
			g.ByMethod[r.VerifiedBy]++
		}
	}
	return g, nil
}

func (s *MemoryStore) AddFlag(ctx context.Context, f *Flag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *f
	s.flags[f.ReviewID] = append(s.flags[f.ReviewID], &cp)
	return nil
}

func (s *MemoryStore) HasFlagged(ctx context.Context, reviewID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, f := range s.flags[reviewID] {
		if f.FlaggedBy == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListFlags(ctx context.Context, reviewID string) ([]*Flag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.flags[reviewID]
	out := make([]*Flag, len(items))
	for i, f := range items {
		cp := *f
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStore) ClearFlags(ctx context.Context, reviewID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.flags, reviewID)
	return nil
}

package dispute

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/safetrade/internal/transaction"
)

// MemoryStore is an in-memory Store for development and tests. It holds a
// reference to the transaction store so ResolveJoint can settle both sides.
type MemoryStore struct {
	mu       sync.RWMutex
	disputes map[string]*Dispute
	evidence map[string][]*Evidence

	transactions transaction.Store
}

// NewMemoryStore creates an empty in-memory store writing settled
// transactions through the given transaction store.
func NewMemoryStore(transactions transaction.Store) *MemoryStore {
	return &MemoryStore{
		disputes:     make(map[string]*Dispute),
		evidence:     make(map[string][]*Evidence),
		transactions: transactions,
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(ctx context.Context, d *Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *d
	s.disputes[d.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.disputes[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) GetOpenByTransaction(ctx context.Context, transactionID string) (*Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.disputes {
		if d.TransactionID == transactionID && d.IsOpen() {
			cp := *d
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) List(ctx context.Context, status Status, offset, limit int) ([]*Dispute, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Dispute
	for _, d := range s.disputes {
		if status != "" && d.Status != status {
			continue
		}
		cp := *d
		matched = append(matched, &cp)
	}
	sortDisputes(matched)

	total := len(matched)
	if offset >= total {
		return []*Dispute{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (s *MemoryStore) ListByTransaction(ctx context.Context, transactionID string) ([]*Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Dispute
	for _, d := range s.disputes {
		if d.TransactionID == transactionID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sortDisputes(out)
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, d *Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.disputes[d.ID]; !ok {
		return ErrNotFound
	}
	cp := *d
	s.disputes[d.ID] = &cp
	return nil
}

func (s *MemoryStore) ResolveJoint(ctx context.Context, d *Dispute, txn *transaction.Transaction) error {
	// Settle the transaction first under its dispute-status guard; only
	// then persist the dispute, so a failed guard leaves both untouched.
	if err := s.transactions.UpdateIfStatus(ctx, txn, transaction.StatusDispute); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.disputes[d.ID]; !ok {
		return ErrNotFound
	}
	cp := *d
	s.disputes[d.ID] = &cp
	return nil
}

func (s *MemoryStore) AddEvidence(ctx context.Context, e *Evidence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	s.evidence[e.DisputeID] = append(s.evidence[e.DisputeID], &cp)
	return nil
}

func (s *MemoryStore) ListEvidence(ctx context.Context, disputeID string) ([]*Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.evidence[disputeID]
	out := make([]*Evidence, len(items))
	for i, e := range items {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

func sortDisputes(ds []*Dispute) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].CreatedAt.Equal(ds[j].CreatedAt) {
			return ds[i].ID < ds[j].ID
		}
		return ds[i].CreatedAt.After(ds[j].CreatedAt)
	})
}

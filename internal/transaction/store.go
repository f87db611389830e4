package transaction

import (
	"context"
	"time"
)

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	Status          Status
	ParticipantID   string // matches buyer, seller, or dealer
	IncludeArchived bool
}

// Store persists transactions.
//
// Implementations must make UpdateIfStatus an atomic compare-and-swap on
// the stored status: this is what keeps release_funds and refund mutually
// exclusive under concurrency.
type Store interface {
	Create(ctx context.Context, t *Transaction) error
	// Get excludes archived transactions unless includeArchived is set.
	Get(ctx context.Context, id string, includeArchived bool) (*Transaction, error)
	GetByCode(ctx context.Context, code string) (*Transaction, error)
	List(ctx context.Context, filter ListFilter, offset, limit int) ([]*Transaction, int, error)
	// Update persists t unconditionally (non-status fields, or status
	// changes already serialized by the caller).
	Update(ctx context.Context, t *Transaction) error
	// UpdateIfStatus persists t only while the stored status is one of
	// expect; otherwise it returns ErrStatusConflict and stores nothing.
	UpdateIfStatus(ctx context.Context, t *Transaction, expect ...Status) error
	// Archive soft-deletes a transaction for audit retention.
	Archive(ctx context.Context, id string, at time.Time) error
}

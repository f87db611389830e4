package dispute

import (
	"context"

	"github.com/mbd888/safetrade/internal/transaction"
)

// Store persists disputes and their evidence.
//
// ResolveJoint is the one non-obvious member: it writes the resolved dispute
// AND the settled transaction as a single atomic operation, guarded on the
// transaction still being in dispute status. It returns
// transaction.ErrStatusConflict when the guard fails.
type Store interface {
	Create(ctx context.Context, d *Dispute) error
	Get(ctx context.Context, id string) (*Dispute, error)
	GetOpenByTransaction(ctx context.Context, transactionID string) (*Dispute, error)
	List(ctx context.Context, status Status, offset, limit int) ([]*Dispute, int, error)
	ListByTransaction(ctx context.Context, transactionID string) ([]*Dispute, error)
	Update(ctx context.Context, d *Dispute) error
	ResolveJoint(ctx context.Context, d *Dispute, txn *transaction.Transaction) error

	AddEvidence(ctx context.Context, e *Evidence) error
	ListEvidence(ctx context.Context, disputeID string) ([]*Evidence, error)
}

package payment

import "context"

// Store persists payment records.
type Store interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	ListByTransaction(ctx context.Context, transactionID string) ([]*Payment, error)
	ListByStatus(ctx context.Context, status Status, offset, limit int) ([]*Payment, int, error)
	Update(ctx context.Context, p *Payment) error
}

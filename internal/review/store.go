package review

import "context"

// ListFilter narrows review listings.
type ListFilter struct {
	Status     Status
	VehicleID  string
	RevieweeID string
	ReviewerID string
}

// Store persists reviews and their flags.
type Store interface {
	Create(ctx context.Context, r *Review) error
	Get(ctx context.Context, id string) (*Review, error)
	GetByTransactionAndReviewer(ctx context.Context, transactionID, reviewerID string) (*Review, error)
	List(ctx context.Context, filter ListFilter, offset, limit int) ([]*Review, int, error)
	Update(ctx context.Context, r *Review) error
	Stats(ctx context.Context, revieweeID string) (*Stats, error)
	GlobalStats(ctx context.Context) (*GlobalStats, error)

	AddFlag(ctx context.Context, f *Flag) error
	HasFlagged(ctx context.Context, reviewID, userID string) (bool, error)
	ListFlags(ctx context.Context, reviewID string) ([]*Flag, error)
	ClearFlags(ctx context.Context, reviewID string) error
}

// Package transaction owns the escrow transaction lifecycle.
//
// Flow:
//  1. Buyer initiates a purchase → transaction created as "pending"
//  2. Buyer wires funds to the escrow account and uploads proof → "payment_pending"
//  3. Staff verifies the bank transfer arrived → "payment_verified"
//  4. Staff releases the held funds to the seller → "completed"
//  5. Staff refunds the buyer before release → "cancelled"
//  6. A dispute parks the transaction in "dispute" until resolved
//
// Funds only ever move at step 4 or 5, so those transitions are guarded by
// atomic conditional updates: a losing concurrent caller gets an
// InvalidTransitionError, never a double release.
package transaction

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Errors
var (
	ErrNotFound           = errors.New("transaction not found")
	ErrInvalidTransition  = errors.New("invalid transaction state transition")
	ErrStatusConflict     = errors.New("transaction status changed concurrently")
	ErrReasonRequired     = errors.New("a reason is required for this operation")
	ErrPaymentNotVerified = errors.New("payment has not been verified")
	ErrInvalidInput       = errors.New("invalid transaction input")
)

// Status represents the state of an escrow transaction.
type Status string

const (
	StatusPending         Status = "pending"          // Created, awaiting buyer's bank transfer
	StatusPaymentPending  Status = "payment_pending"  // Proof uploaded, awaiting staff verification
	StatusPaymentVerified Status = "payment_verified" // Transfer confirmed, funds held in escrow
	StatusCompleted       Status = "completed"        // Funds released to seller
	StatusCancelled       Status = "cancelled"        // Refunded to buyer before release
	StatusRefunded        Status = "refunded"         // Dispute resolved in buyer's favor
	StatusDispute         Status = "dispute"          // Parked while a dispute is open
)

// Transaction is the aggregate root for an escrow purchase.
type Transaction struct {
	ID   string `json:"id"`
	Code string `json:"code"` // Human-readable, unique (e.g. TXN-A7K2M9PQRS)

	BuyerID  string `json:"buyerId"`
	SellerID string `json:"sellerId"`
	DealerID string `json:"dealerId,omitempty"`

	VehicleID string `json:"vehicleId"`

	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`

	// CommissionAmount is fixed at creation: round(amount*rate/100, 2).
	// Later rate edits never change it.
	CommissionRate   decimal.Decimal `json:"commissionRate"`
	CommissionAmount decimal.Decimal `json:"commissionAmount"`
	ServiceFee       decimal.Decimal `json:"serviceFee"`
	DealerCommission decimal.Decimal `json:"dealerCommission"`

	PaymentMethod    string `json:"paymentMethod,omitempty"`
	PaymentReference string `json:"paymentReference"` // Quoted by the buyer on the wire transfer

	Status Status `json:"status"`
	// StatusBeforeDispute remembers where to return after a no_action resolution.
	StatusBeforeDispute Status `json:"statusBeforeDispute,omitempty"`

	Notes string `json:"notes,omitempty"`

	PaymentVerifiedBy string     `json:"paymentVerifiedBy,omitempty"`
	PaymentVerifiedAt *time.Time `json:"paymentVerifiedAt,omitempty"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	CancelledAt       *time.Time `json:"cancelledAt,omitempty"`

	// Active is false for archived (soft-deleted) transactions. Default
	// reads exclude archived rows; audit queries opt in explicitly.
	Active bool `json:"active"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	switch t.Status {
	case StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// PaymentVerified reports whether the escrow transfer was ever confirmed.
func (t *Transaction) PaymentVerified() bool {
	return t.PaymentVerifiedAt != nil
}

// InvalidTransitionError names the current and requested states of a
// rejected transition so callers can re-render instead of retrying blindly.
type InvalidTransitionError struct {
	TransactionID string
	Action        string
	From          Status
	To            Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("transaction %s: cannot %s from %q to %q",
		e.TransactionID, e.Action, e.From, e.To)
}

// Is lets errors.Is(err, ErrInvalidTransition) match.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// SettleFromDispute applies a dispute resolution transition to a transaction
// in "dispute" status. It mutates t but persists nothing; the dispute service
// persists t together with the dispute record in one storage transaction.
func SettleFromDispute(t *Transaction, to Status, now time.Time) error {
	if t.Status != StatusDispute {
		return &InvalidTransitionError{TransactionID: t.ID, Action: "resolve_dispute", From: t.Status, To: to}
	}

	switch to {
	case StatusRefunded:
		t.CancelledAt = &now
	case StatusCompleted:
		if !t.PaymentVerified() {
			return fmt.Errorf("transaction %s: %w, cannot complete in seller's favor", t.ID, ErrPaymentNotVerified)
		}
		t.CompletedAt = &now
	case StatusPending, StatusPaymentPending, StatusPaymentVerified:
		if to != t.StatusBeforeDispute {
			return &InvalidTransitionError{TransactionID: t.ID, Action: "restore", From: t.Status, To: to}
		}
	default:
		return &InvalidTransitionError{TransactionID: t.ID, Action: "resolve_dispute", From: t.Status, To: to}
	}

	t.Status = to
	t.StatusBeforeDispute = ""
	t.UpdatedAt = now
	return nil
}

// Package payment tracks bank-transfer proof submissions against
// transactions and their manual verification by staff.
//
// A transaction can accumulate several payment records (failed transfers,
// resubmitted proofs). Exactly one of them can end up verified; accepting
// one closes the door on the rest, which staff must reject individually.
package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("payment not found")
	ErrAlreadyResolved = errors.New("payment already verified or rejected")
	ErrInvalidState    = errors.New("transaction does not accept payment proof in its current state")
	ErrReasonRequired  = errors.New("rejection reason is required")
)

// Status is the verification state of a single payment record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusRejected Status = "rejected"
)

// Payment is one claimed bank transfer for a transaction.
type Payment struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Method        string          `json:"method"`
	BankReference string          `json:"bankReference"`
	ProofURL      string          `json:"proofUrl,omitempty"`
	Status        Status          `json:"status"`
	SubmittedBy   string          `json:"submittedBy"`
	VerifiedBy    string          `json:"verifiedBy,omitempty"`
	VerifiedAt    *time.Time      `json:"verifiedAt,omitempty"`
	RejectReason  string          `json:"rejectReason,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// AmountMismatchError reports a submitted amount outside the accepted
// tolerance of the transaction amount.
type AmountMismatchError struct {
	PaymentAmount     decimal.Decimal
	TransactionAmount decimal.Decimal
	Tolerance         decimal.Decimal
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("payment amount %s does not match transaction amount %s (tolerance %s)",
		e.PaymentAmount, e.TransactionAmount, e.Tolerance)
}

// withinTolerance reports whether |a-b| <= tol.
func withinTolerance(a, b, tol decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tol)
}

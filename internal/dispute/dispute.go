// Package dispute manages buyer/seller disputes over escrow transactions.
//
// While a dispute is open the underlying transaction is parked in dispute
// status, blocking release and refund. Resolution settles both records
// together: the dispute is closed out and the transaction moved to its
// outcome status in a single store operation.
package dispute

import (
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("dispute not found")
	ErrDuplicateDispute = errors.New("transaction already has an open dispute")
	ErrInvalidStatus    = errors.New("dispute is not in a status that allows this action")
	ErrInvalidOutcome   = errors.New("unknown dispute outcome")
	ErrNotParticipant   = errors.New("user is not a participant in this transaction")
	ErrReasonRequired   = errors.New("dispute reason is required")
)

// Status is the lifecycle state of a dispute.
type Status string

const (
	StatusOpen          Status = "open"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
	StatusClosed        Status = "closed"
)

// Outcome is a staff resolution decision.
type Outcome string

const (
	OutcomeFavorBuyer  Outcome = "favor_buyer"
	OutcomeFavorSeller Outcome = "favor_seller"
	OutcomeNoAction    Outcome = "no_action"
)

// Dispute is a formal complaint by one transaction participant against
// the other.
type Dispute struct {
	ID              string     `json:"id"`
	TransactionID   string     `json:"transactionId"`
	OpenedBy        string     `json:"openedBy"`
	Respondent      string     `json:"respondent"`
	Reason          string     `json:"reason"`
	Description     string     `json:"description,omitempty"`
	Status          Status     `json:"status"`
	Outcome         Outcome    `json:"outcome,omitempty"`
	ResolutionNotes string     `json:"resolutionNotes,omitempty"`
	ResolvedBy      string     `json:"resolvedBy,omitempty"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
	AssignedTo      string     `json:"assignedTo,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// IsOpen reports whether the dispute still blocks its transaction.
func (d *Dispute) IsOpen() bool {
	return d.Status == StatusOpen || d.Status == StatusInvestigating
}

// Evidence is a document or statement attached to a dispute by a
// participant.
type Evidence struct {
	ID          string    `json:"id"`
	DisputeID   string    `json:"disputeId"`
	SubmittedBy string    `json:"submittedBy"`
	URL         string    `json:"url,omitempty"`
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Package review implements verified-purchase reviews with automatic
// verification, manual moderation, and community flagging.
package review

import (
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("review not found")
	ErrInvalidRating  = errors.New("rating must be between 1 and 5")
	ErrInvalidStatus  = errors.New("review is not in a status that allows this action")
	ErrAlreadyFlagged = errors.New("user already flagged this review")
	ErrSelfReview     = errors.New("users cannot review themselves")
	ErrReasonRequired = errors.New("reason is required")
)

// Status is the moderation state of a review.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusFlagged  Status = "flagged"
)

// Verification methods recorded on approved reviews.
const (
	VerifiedAuto   = "auto"
	VerifiedManual = "manual"
)

// Review is a buyer's or seller's account of a completed purchase.
type Review struct {
	ID            string     `json:"id"`
	TransactionID string     `json:"transactionId"`
	VehicleID     string     `json:"vehicleId"`
	ReviewerID    string     `json:"reviewerId"`
	RevieweeID    string     `json:"revieweeId"`
	Rating        int        `json:"rating"`
	Content       string     `json:"content"`
	Status        Status     `json:"status"`
	Verified      bool       `json:"verified"`
	VerifiedBy    string     `json:"verifiedBy,omitempty"` // auto or manual
	VerifiedAt    *time.Time `json:"verifiedAt,omitempty"`
	RejectReason  string     `json:"rejectReason,omitempty"`
	FlagCount     int        `json:"flagCount"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Flag is one user's report against a published review.
type Flag struct {
	ID        string    `json:"id"`
	ReviewID  string    `json:"reviewId"`
	FlaggedBy string    `json:"flaggedBy"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

// Stats aggregates a user's received reviews.
type Stats struct {
	UserID               string  `json:"userId"`
	Total                int     `json:"total"`
	Approved             int     `json:"approved"`
	Rejected             int     `json:"rejected"`
	Pending              int     `json:"pending"`
	Flagged              int     `json:"flagged"`
	Verified             int     `json:"verified"`
	AutoVerified         int     `json:"autoVerified"`
	AverageRating        float64 `json:"averageRating"`
	VerificationRate     float64 `json:"verificationRate"`
	AutoVerificationRate float64 `json:"autoVerificationRate"`
	ApprovalRate         float64 `json:"approvalRate"`
	TrustScore           float64 `json:"trustScore"`
}

// GlobalStats aggregates moderation and verification counts across every
// review on the platform, for the staff dashboard.
type GlobalStats struct {
	Total                int            `json:"total"`
	ByStatus             map[Status]int `json:"byStatus"`
	ByMethod             map[string]int `json:"byMethod"`
	Verified             int            `json:"verified"`
	VerificationRate     float64        `json:"verificationRate"`
	AutoVerificationRate float64        `json:"autoVerificationRate"`
}

func (g *GlobalStats) computeRates() {
	if g.Total == 0 {
		return
	}
	g.VerificationRate = float64(g.Verified) / float64(g.Total)
	g.AutoVerificationRate = float64(g.ByMethod[VerifiedAuto]) / float64(g.Total)
}

// TrustScore blends how many of a user's reviews were verified and approved,
// minus a penalty for rejections, onto a 0-100 scale. Users without reviews
// score zero rather than dividing by zero.
func (s *Stats) computeTrustScore() {
	if s.Total == 0 {
		s.TrustScore = 0
		return
	}
	total := float64(s.Total)
	s.VerificationRate = float64(s.Verified) / total
	s.AutoVerificationRate = float64(s.AutoVerified) / total
	s.ApprovalRate = float64(s.Approved) / total
	rejectionRate := float64(s.Rejected) / total

	score := (s.VerificationRate*0.5 + s.ApprovalRate*0.5 - rejectionRate*0.5) * 100
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	s.TrustScore = score
}

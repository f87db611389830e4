package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/safetrade/internal/audit"
	"github.com/mbd888/safetrade/internal/authz"
	"github.com/mbd888/safetrade/internal/idgen"
	"github.com/mbd888/safetrade/internal/metrics"
	"github.com/mbd888/safetrade/internal/syncutil"
	"github.com/mbd888/safetrade/internal/traces"
	"github.com/mbd888/safetrade/internal/transaction"
)

// Transactions is the slice of the transaction service reviews need.
type Transactions interface {
	GetForAudit(ctx context.Context, id string) (*transaction.Transaction, error)
}

// SubmitRequest is a participant's review of a completed purchase.
type SubmitRequest struct {
	TransactionID string `json:"transactionId" binding:"required"`
	ReviewerID    string `json:"reviewerId" binding:"required"`
	Rating        int    `json:"rating" binding:"required"`
	Content       string `json:"content" binding:"required"`
}

// Service manages review submission, verification, and moderation.
// Notifier receives fire-and-forget moderation events.
type Notifier interface {
	ReviewVerified(reviewerID, reviewID, method string)
	ReviewFlagged(reviewerID, reviewID string, flagCount int)
}

type Service struct {
	store            Store
	transactions     Transactions
	trail            audit.Recorder
	notifier         Notifier
	flagThreshold    int
	autoVerifyWindow time.Duration

	locks  syncutil.ShardedMutex
	logger *slog.Logger
}

// NewService creates a review service. flagThreshold is the number of
// distinct flags that pulls an approved review from publication;
// autoVerifyWindow is how long after transaction completion a review still
// qualifies for automatic verification.
func NewService(store Store, transactions Transactions, trail audit.Recorder, flagThreshold int, autoVerifyWindow time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:            store,
		transactions:     transactions,
		trail:            trail,
		flagThreshold:    flagThreshold,
		autoVerifyWindow: autoVerifyWindow,
		logger:           logger,
	}
}

// WithNotifier adds a moderation event notifier.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// Submit records a review and immediately attempts automatic verification.
// Reviews that do not qualify stay pending for manual moderation; they are
// never auto-rejected.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Review, error) {
	ctx, span := traces.StartSpan(ctx, "review.Submit", traces.TransactionID(req.TransactionID))
	defer span.End()

	if req.Rating < 1 || req.Rating > 5 {
		return nil, ErrInvalidRating
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", transaction.ErrInvalidInput)
	}

	txn, err := s.transactions.GetForAudit(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}

	var reviewee string
	switch req.ReviewerID {
	case txn.BuyerID:
		reviewee = txn.SellerID
	case txn.SellerID:
		reviewee = txn.BuyerID
	default:
		return nil, fmt.Errorf("%w: reviewer is not a transaction participant", transaction.ErrInvalidInput)
	}
	if reviewee == req.ReviewerID {
		return nil, ErrSelfReview
	}

	if _, err := s.store.GetByTransactionAndReviewer(ctx, txn.ID, req.ReviewerID); err == nil {
		return nil, fmt.Errorf("%w: reviewer already reviewed this transaction", transaction.ErrInvalidInput)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	r := &Review{
		ID:            idgen.WithPrefix("rev_"),
		TransactionID: txn.ID,
		VehicleID:     txn.VehicleID,
		ReviewerID:    req.ReviewerID,
		RevieweeID:    reviewee,
		Rating:        req.Rating,
		Content:       req.Content,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if reasons := s.autoVerifyCheck(r, txn, now); len(reasons) == 0 {
		r.Status = StatusApproved
		r.Verified = true
		r.VerifiedBy = VerifiedAuto
		r.VerifiedAt = &now
	} else {
		s.logger.Debug("review held for moderation", "review", r.ID, "reasons", strings.Join(reasons, "; "))
	}

	if err := s.store.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to create review: %w", err)
	}

	if r.Verified {
		metrics.ReviewModerationTotal.WithLabelValues("auto_verified").Inc()
		s.record(ctx, r, "auto_verified", StatusPending, StatusApproved, "")
		if s.notifier != nil {
			s.notifier.ReviewVerified(r.ReviewerID, r.ID, VerifiedAuto)
		}
	} else {
		metrics.ReviewModerationTotal.WithLabelValues("held").Inc()
		s.record(ctx, r, "submitted", "", StatusPending, "")
	}
	return r, nil
}

// autoVerifyCheck applies the deterministic verification rules. It returns
// the reasons a review fails; an empty slice means the review qualifies.
func (s *Service) autoVerifyCheck(r *Review, txn *transaction.Transaction, now time.Time) []string {
	var reasons []string

	if txn.Status != transaction.StatusCompleted {
		reasons = append(reasons, "transaction not completed")
	} else if txn.CompletedAt != nil && now.Sub(*txn.CompletedAt) > s.autoVerifyWindow {
		reasons = append(reasons, "outside verification window")
	}
	if txn.VehicleID != r.VehicleID {
		reasons = append(reasons, "vehicle mismatch")
	}
	if r.ReviewerID != txn.BuyerID && r.ReviewerID != txn.SellerID {
		reasons = append(reasons, "reviewer not a participant")
	}
	reasons = append(reasons, ScreenContent(r.Content)...)
	return reasons
}

// ReverifyPending re-runs automatic verification across pending reviews.
// Used by the backfill worker and the bulk admin endpoint. Returns how many
// reviews were verified.
func (s *Service) ReverifyPending(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	pending, _, err := s.store.List(ctx, ListFilter{Status: StatusPending}, 0, limit)
	if err != nil {
		return 0, err
	}

	verified := 0
	for _, r := range pending {
		txn, err := s.transactions.GetForAudit(ctx, r.TransactionID)
		if err != nil {
			s.logger.Warn("backfill: transaction lookup failed", "review", r.ID, "error", err)
			continue
		}
		now := time.Now().UTC()
		if len(s.autoVerifyCheck(r, txn, now)) > 0 {
			continue
		}
		if err := s.verify(ctx, r.ID, VerifiedAuto, "auto_verified"); err != nil {
			s.logger.Warn("backfill: verify failed", "review", r.ID, "error", err)
			continue
		}
		verified++
	}
	return verified, nil
}

// Verify approves a pending or flagged review by staff decision.
func (s *Service) Verify(ctx context.Context, actor *authz.Actor, id string) (*Review, error) {
	if err := actor.Require(authz.CapModerateReviews); err != nil {
		return nil, err
	}
	if err := s.verify(ctx, id, VerifiedManual, "manual_verified"); err != nil {
		return nil, err
	}
	metrics.ReviewModerationTotal.WithLabelValues("manual_verified").Inc()
	return s.store.Get(ctx, id)
}

func (s *Service) verify(ctx context.Context, id, method, action string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	r, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	// Flagged reviews re-enter publication only through an explicit staff
	// approval, which lands here via Verify.
	if r.Status != StatusPending && r.Status != StatusFlagged {
		return fmt.Errorf("%w: review is %s", ErrInvalidStatus, r.Status)
	}

	from := r.Status
	now := time.Now().UTC()
	r.Status = StatusApproved
	r.Verified = true
	r.VerifiedBy = method
	r.VerifiedAt = &now
	r.UpdatedAt = now
	if err := s.store.Update(ctx, r); err != nil {
		return fmt.Errorf("failed to update review: %w", err)
	}

	s.record(ctx, r, action, from, StatusApproved, "")
	if s.notifier != nil {
		s.notifier.ReviewVerified(r.ReviewerID, r.ID, method)
	}
	return nil
}

// Reject declines a pending or flagged review.
func (s *Service) Reject(ctx context.Context, actor *authz.Actor, id, reason string) (*Review, error) {
	if err := actor.Require(authz.CapModerateReviews); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, ErrReasonRequired
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusPending && r.Status != StatusFlagged {
		return nil, fmt.Errorf("%w: review is %s", ErrInvalidStatus, r.Status)
	}

	from := r.Status
	r.Status = StatusRejected
	r.RejectReason = reason
	// Verification earned from the linked transaction is a statement about
	// the purchase, not the content; only a manual verification is revoked.
	if r.VerifiedBy != VerifiedAuto {
		r.Verified = false
	}
	r.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to update review: %w", err)
	}

	metrics.ReviewModerationTotal.WithLabelValues("rejected").Inc()
	s.record(ctx, r, "rejected", from, StatusRejected, reason)
	return r, nil
}

// FlagRequest is a community report against a review.
type FlagRequest struct {
	FlaggedBy string `json:"flaggedBy" binding:"required"`
	Reason    string `json:"reason" binding:"required"`
}

// Flag records a report against an approved review. Each user counts once;
// at the threshold the review is pulled from publication for re-moderation.
func (s *Service) Flag(ctx context.Context, id string, req FlagRequest) (*Review, error) {
	if req.Reason == "" {
		return nil, ErrReasonRequired
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusApproved && r.Status != StatusFlagged {
		return nil, fmt.Errorf("%w: review is %s", ErrInvalidStatus, r.Status)
	}

	already, err := s.store.HasFlagged(ctx, id, req.FlaggedBy)
	if err != nil {
		return nil, err
	}
	if already {
		return nil, ErrAlreadyFlagged
	}

	f := &Flag{
		ID:        idgen.WithPrefix("flg_"),
		ReviewID:  id,
		FlaggedBy: req.FlaggedBy,
		Reason:    req.Reason,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AddFlag(ctx, f); err != nil {
		return nil, fmt.Errorf("failed to add flag: %w", err)
	}

	r.FlagCount++
	crossed := false
	if r.FlagCount >= s.flagThreshold && r.Status == StatusApproved {
		r.Status = StatusFlagged
		crossed = true
		metrics.ReviewModerationTotal.WithLabelValues("flagged").Inc()
		s.record(ctx, r, "flag_threshold_reached", StatusApproved, StatusFlagged, req.Reason)
	}
	r.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to update review: %w", err)
	}
	if crossed && s.notifier != nil {
		s.notifier.ReviewFlagged(r.ReviewerID, r.ID, r.FlagCount)
	}
	return r, nil
}

// DismissFlags clears all flags from a flagged review. The review stays
// flagged and off publication until a moderator explicitly re-approves it
// with Verify or rejects it.
func (s *Service) DismissFlags(ctx context.Context, actor *authz.Actor, id string) (*Review, error) {
	if err := actor.Require(authz.CapModerateReviews); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusFlagged {
		return nil, fmt.Errorf("%w: review is %s", ErrInvalidStatus, r.Status)
	}

	if err := s.store.ClearFlags(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to clear flags: %w", err)
	}

	r.FlagCount = 0
	r.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to update review: %w", err)
	}

	metrics.ReviewModerationTotal.WithLabelValues("flags_dismissed").Inc()
	s.record(ctx, r, "flags_dismissed", StatusFlagged, StatusFlagged, "")
	return r, nil
}

// Get returns a review by ID.
func (s *Service) Get(ctx context.Context, id string) (*Review, error) {
	return s.store.Get(ctx, id)
}

// List returns reviews matching the filter plus the total match count.
func (s *Service) List(ctx context.Context, filter ListFilter, offset, limit int) ([]*Review, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.List(ctx, filter, offset, limit)
}

// Flags returns the reports filed against a review.
func (s *Service) Flags(ctx context.Context, actor *authz.Actor, id string) ([]*Flag, error) {
	if err := actor.Require(authz.CapModerateReviews); err != nil {
		return nil, err
	}
	return s.store.ListFlags(ctx, id)
}

// Statistics aggregates moderation and verification counts across all
// reviews for the staff dashboard.
func (s *Service) Statistics(ctx context.Context, actor *authz.Actor) (*GlobalStats, error) {
	if err := actor.Require(authz.CapModerateReviews); err != nil {
		return nil, err
	}
	g, err := s.store.GlobalStats(ctx)
	if err != nil {
		return nil, err
	}
	g.computeRates()
	return g, nil
}

// StatsFor aggregates a user's received reviews and their trust score.
func (s *Service) StatsFor(ctx context.Context, userID string) (*Stats, error) {
	stats, err := s.store.Stats(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats.computeTrustScore()
	return stats, nil
}

func (s *Service) record(ctx context.Context, r *Review, action string, from, to Status, reason string) {
	if err := audit.Transition(ctx, s.trail, "review", r.ID, action, string(from), string(to), reason); err != nil {
		s.logger.Error("audit record failed", "review", r.ID, "action", action, "error", err)
	}
}

var _ Transactions = (*transaction.Service)(nil)

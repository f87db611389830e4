package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/safetrade/internal/audit"
	"github.com/mbd888/safetrade/internal/authz"
	"github.com/mbd888/safetrade/internal/transaction"
)

const goodContent = "Great seller, smooth handover and the car was exactly as listed."

type fixture struct {
	reviews      *Service
	transactions *transaction.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	trail := audit.NewMemoryLog()
	txns := transaction.NewService(transaction.NewMemoryStore(), trail,
		decimal.RequireFromString("2.5"), "EUR", logger)
	reviews := NewService(NewMemoryStore(), txns, trail, 3, 90*24*time.Hour, logger)
	return &fixture{reviews: reviews, transactions: txns}
}

func moderator() *authz.Actor {
	return &authz.Actor{ID: "staff_3", Name: "Moderator", Capabilities: authz.AllCapabilities}
}

// completedTransaction runs a transaction through its full happy path.
func (f *fixture) completedTransaction(t *testing.T, buyer, seller string) *transaction.Transaction {
	t.Helper()
	ctx := context.Background()
	txn, err := f.transactions.Create(ctx, transaction.CreateRequest{
		BuyerID: buyer, SellerID: seller, VehicleID: "veh_1", Amount: "10000.00",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.transactions.MarkPaymentSubmitted(ctx, txn.ID)
	f.transactions.MarkPaymentVerified(ctx, txn.ID, "staff_1", "")
	done, err := f.transactions.ReleaseFunds(ctx, moderator(), txn.ID, "")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	return done
}

func TestSubmitAutoVerifiesCompletedTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.completedTransaction(t, "usr_buyer", "usr_seller")

	r, err := f.reviews.Submit(ctx, SubmitRequest{
		TransactionID: txn.ID,
		ReviewerID:    "usr_buyer",
		Rating:        5,
		Content:       goodContent,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if r.Status != StatusApproved || !r.Verified {
		t.Errorf("expected auto-approved verified review, got %s verified=%v", r.Status, r.Verified)
	}
	if r.VerifiedBy != VerifiedAuto {
		t.Errorf("expected auto verification, got %s", r.VerifiedBy)
	}
	if r.RevieweeID != "usr_seller" {
		t.Errorf("expected reviewee usr_seller, got %s", r.RevieweeID)
	}
}

func TestSubmitDeterministicOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Same inputs, two reviewers on two identical transactions: both verify.
	for i := 0; i < 2; i++ {
		txn := f.completedTransaction(t, fmt.Sprintf("usr_b%d", i), fmt.Sprintf("usr_s%d", i))
		r, err := f.reviews.Submit(ctx, SubmitRequest{
			TransactionID: txn.ID,
			ReviewerID:    fmt.Sprintf("usr_b%d", i),
			Rating:        4,
			Content:       goodContent,
		})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if !r.Verified {
			t.Errorf("run %d: expected verified, got %s", i, r.Status)
		}
	}
}

func TestSubmitHeldWhenTransactionNotCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txn, _ := f.transactions.Create(ctx, transaction.CreateRequest{
		BuyerID: "usr_buyer", SellerID: "usr_seller", VehicleID: "veh_1", Amount: "10000.00",
	})

	r, err := f.reviews.Submit(ctx, SubmitRequest{
		TransactionID: txn.ID,
		ReviewerID:    "usr_buyer",
		Rating:        5,
		Content:       goodContent,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if r.Status != StatusPending || r.Verified {
		t.Errorf("expected pending unverified review, got %s verified=%v", r.Status, r.Verified)
	}
}

func TestSubmitHeldOnContentViolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.completedTransaction(t, "usr_buyer", "usr_seller")

	r, err := f.reviews.Submit(ctx, SubmitRequest{
		TransactionID: txn.ID,
		ReviewerID:    "usr_buyer",
		Rating:        1,
		Content:       "Total scam, this seller is a fraud and everyone should know it.",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if r.Status != StatusPending {
		t.Errorf("expected pending for screened content, got %s", r.Status)
	}
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.completedTransaction(t, "usr_buyer", "usr_seller")

	if _, err := f.reviews.Submit(ctx, SubmitRequest{
		TransactionID: txn.ID, ReviewerID: "usr_buyer", Rating: 6, Content: goodContent,
	}); !errors.Is(err, ErrInvalidRating) {
		t.Errorf("expected ErrInvalidRating, got %v", err)
	}

	if _, err := f.reviews.Submit(ctx, SubmitRequest{
		TransactionID: txn.ID, ReviewerID: "usr_stranger", Rating: 5, Content: goodContent,
	}); !errors.Is(err, transaction.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for outsider, got %v", err)
	}

	// One review per reviewer per transaction.
	if _, err := f.reviews.Submit(ctx, SubmitRequest{
		TransactionID: txn.ID, ReviewerID: "usr_buyer", Rating: 5, Content: goodContent,
	}); err != nil {
		t.Fatalf("first review failed: %v", err)
	}
	if _, err := f.reviews.Submit(ctx, SubmitRequest{
		TransactionID: txn.ID, ReviewerID: "usr_buyer", Rating: 4, Content: goodContent,
	}); !errors.Is(err, transaction.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for duplicate review, got %v", err)
	}
}

func TestManualModeration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn, _ := f.transactions.Create(ctx, transaction.CreateRequest{
		BuyerID: "usr_buyer", SellerID: "usr_seller", VehicleID: "veh_1", Amount: "10000.00",
	})

	r, _ := f.reviews.Submit(ctx, SubmitRequest{
		TransactionID: txn.ID, ReviewerID: "usr_buyer", Rating: 3, Content: goodContent,
	})

	verified, err := f.reviews.Verify(ctx, moderator(), r.ID)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if verified.Status != StatusApproved || verified.VerifiedBy != VerifiedManual {
		t.Errorf("expected manual approval, got %s/%s", verified.Status, verified.VerifiedBy)
	}

	// Not pending anymore.
	if _, err := f.reviews.Verify(ctx, moderator(), r.ID); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus on second verify, got %v", err)
	}
	if _, err := f.reviews.Reject(ctx, moderator(), r.ID, "nope"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus rejecting approved review, got %v", err)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn, _ := f.transactions.Create(ctx, transaction.CreateRequest{
		BuyerID: "usr_buyer", SellerID: "usr_seller", VehicleID: "veh_1", Amount: "10000.00",
	})
	r, _ := f.reviews.Submit(ctx, SubmitRequest{
		TransactionID: txn.ID, ReviewerID: "usr_buyer", Rating: 1, Content: goodContent,
	})

	if _, err := f.reviews.Reject(ctx, moderator(), r.ID, ""); !errors.Is(err, ErrReasonRequired) {
		t.Errorf("expected ErrReasonRequired, got %v", err)
	}

	rejected, err := f.reviews.Reject(ctx, moderator(), r.ID, "duplicate content")
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if rejected.Status != StatusRejected || rejected.RejectReason == "" {
		t.Errorf("expected rejected with reason, got %s", rejected.Status)
	}
}

func TestFlagThresholdPullsReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.completedTransaction(t, "usr_buyer", "usr_seller")
	r, _ := f.reviews.Submit(ctx, SubmitRequest{
		TransactionID: txn.ID, ReviewerID: "usr_buyer", Rating: 5, Content: goodContent,
	})

	for i := 1; i <= 2; i++ {
		flagged, err := f.reviews.Flag(ctx, r.ID, FlagRequest{
			FlaggedBy: fmt.Sprintf("usr_f%d", i), Reason: "fake review",
		})
		if err != nil {
			t.Fatalf("flag %d failed: %v", i, err)
		}
		if flagged.Status != StatusApproved {
			t.Errorf("flag %d: expected still approved, got %s", i, flagged.Status)
		}
	}

	// Same user cannot double-count.
	if _, err := f.reviews.Flag(ctx, r.ID, FlagRequest{
		FlaggedBy: "usr_f1", Reason: "again",
	}); !errors.Is(err, ErrAlreadyFlagged) {
		t.Errorf("expected ErrAlreadyFlagged, got %v", err)
	}

	flagged, err := f.reviews.Flag(ctx, r.ID, FlagRequest{
		FlaggedBy: "usr_f3", Reason: "fake review",
	})
	if err != nil {
		t.Fatalf("third flag failed: %v", err)
	}
	if flagged.Status != StatusFlagged || flagged.FlagCount != 3 {
		t.Errorf("expected flagged at threshold, got %s count=%d", flagged.Status, flagged.FlagCount)
	}

	// Dismissing flags clears the count but the review stays off
	// publication until a moderator re-approves it.
	dismissed, err := f.reviews.DismissFlags(ctx, moderator(), r.ID)
	if err != nil {
		t.Fatalf("DismissFlags failed: %v", err)
	}
	if dismissed.Status != StatusFlagged || dismissed.FlagCount != 0 {
		t.Errorf("expected flagged with zero count, got %s count=%d", dismissed.Status, dismissed.FlagCount)
	}

	restored, err := f.reviews.Verify(ctx, moderator(), r.ID)
	if err != nil {
		t.Fatalf("Verify after dismissal failed: %v", err)
	}
	if restored.Status != StatusApproved {
		t.Errorf("expected re-approved review, got %s", restored.Status)
	}

	// Flag history was cleared; the same user may flag again.
	if _, err := f.reviews.Flag(ctx, r.ID, FlagRequest{
		FlaggedBy: "usr_f1", Reason: "still fake",
	}); err != nil {
		t.Errorf("expected re-flag after dismissal, got %v", err)
	}
}

func TestFlaggedReviewModeration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.completedTransaction(t, "usr_buyer", "usr_seller")
	r, _ := f.reviews.Submit(ctx, SubmitRequest{
		TransactionID: txn.ID, ReviewerID: "usr_buyer", Rating: 5, Content: goodContent,
	})
	for i := 1; i <= 3; i++ {
		if _, err := f.reviews.Flag(ctx, r.ID, FlagRequest{
			FlaggedBy: fmt.Sprintf("usr_f%d", i), Reason: "fake review",
		}); err != nil {
			t.Fatalf("flag %d failed: %v", i, err)
		}
	}

	// A moderator can reject the flagged review, but the verification the
	// linked transaction earned is not revoked by the content decision.
	rejected, err := f.reviews.Reject(ctx, moderator(), r.ID, "astroturfing")
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if rejected.Status != StatusRejected {
		t.Errorf("expected rejected, got %s", rejected.Status)
	}
	if !rejected.Verified || rejected.VerifiedBy != VerifiedAuto {
		t.Errorf("expected auto verification to survive rejection, got verified=%v by=%s",
			rejected.Verified, rejected.VerifiedBy)
	}
}

func TestRejectRevokesManualVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn, _ := f.transactions.Create(ctx, transaction.CreateRequest{
		BuyerID: "usr_buyer", SellerID: "usr_seller", VehicleID: "veh_1", Amount: "10000.00",
	})
	r, _ := f.reviews.Submit(ctx, SubmitRequest{
		TransactionID: txn.ID, ReviewerID: "usr_buyer", Rating: 4, Content: goodContent,
	})
	if _, err := f.reviews.Verify(ctx, moderator(), r.ID); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	for i := 1; i <= 3; i++ {
		if _, err := f.reviews.Flag(ctx, r.ID, FlagRequest{
			FlaggedBy: fmt.Sprintf("usr_f%d", i), Reason: "fake review",
		}); err != nil {
			t.Fatalf("flag %d failed: %v", i, err)
		}
	}

	rejected, err := f.reviews.Reject(ctx, moderator(), r.ID, "reviewer admitted it was fake")
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if rejected.Verified {
		t.Error("expected manual verification to be revoked on rejection")
	}
}

func TestReverifyPendingBackfill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txn, _ := f.transactions.Create(ctx, transaction.CreateRequest{
		BuyerID: "usr_buyer", SellerID: "usr_seller", VehicleID: "veh_1", Amount: "10000.00",
	})
	r, _ := f.reviews.Submit(ctx, SubmitRequest{
		TransactionID: txn.ID, ReviewerID: "usr_buyer", Rating: 5, Content: goodContent,
	})
	if r.Status != StatusPending {
		t.Fatalf("expected pending review, got %s", r.Status)
	}

	// Transaction completes after the review was submitted.
	f.transactions.MarkPaymentSubmitted(ctx, txn.ID)
	f.transactions.MarkPaymentVerified(ctx, txn.ID, "staff_1", "")
	if _, err := f.transactions.ReleaseFunds(ctx, moderator(), txn.ID, ""); err != nil {
		t.Fatalf("release: %v", err)
	}

	n, err := f.reviews.ReverifyPending(ctx, 0)
	if err != nil {
		t.Fatalf("ReverifyPending failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 verified, got %d", n)
	}

	updated, _ := f.reviews.Get(ctx, r.ID)
	if updated.Status != StatusApproved || updated.VerifiedBy != VerifiedAuto {
		t.Errorf("expected auto-verified after backfill, got %s/%s", updated.Status, updated.VerifiedBy)
	}
}

func TestStatsAndTrustScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// No reviews: zero everything, no division by zero.
	empty, err := f.reviews.StatsFor(ctx, "usr_nobody")
	if err != nil {
		t.Fatalf("StatsFor failed: %v", err)
	}
	if empty.Total != 0 || empty.TrustScore != 0 {
		t.Errorf("expected zero stats, got %+v", empty)
	}

	// Two approved+verified, one rejected, all for the same seller.
	for i := 0; i < 2; i++ {
		txn := f.completedTransaction(t, fmt.Sprintf("usr_b%d", i), "usr_seller")
		if _, err := f.reviews.Submit(ctx, SubmitRequest{
			TransactionID: txn.ID, ReviewerID: fmt.Sprintf("usr_b%d", i), Rating: 4, Content: goodContent,
		}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	txn, _ := f.transactions.Create(ctx, transaction.CreateRequest{
		BuyerID: "usr_b9", SellerID: "usr_seller", VehicleID: "veh_1", Amount: "10000.00",
	})
	r, _ := f.reviews.Submit(ctx, SubmitRequest{
		TransactionID: txn.ID, ReviewerID: "usr_b9", Rating: 1, Content: goodContent,
	})
	f.reviews.Reject(ctx, moderator(), r.ID, "spam")

	stats, err := f.reviews.StatsFor(ctx, "usr_seller")
	if err != nil {
		t.Fatalf("StatsFor failed: %v", err)
	}
	if stats.Total != 3 || stats.Approved != 2 || stats.Rejected != 1 || stats.Verified != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.AverageRating != 4.0 {
		t.Errorf("expected average rating 4.0 over approved reviews, got %v", stats.AverageRating)
	}

	// (2/3*0.5 + 2/3*0.5 - 1/3*0.5) * 100 = 50
	if stats.TrustScore < 49.9 || stats.TrustScore > 50.1 {
		t.Errorf("expected trust score 50, got %v", stats.TrustScore)
	}
	if stats.AutoVerified != 2 {
		t.Errorf("expected 2 auto-verified, got %d", stats.AutoVerified)
	}
	if stats.AutoVerificationRate < 0.66 || stats.AutoVerificationRate > 0.67 {
		t.Errorf("expected auto verification rate 2/3, got %v", stats.AutoVerificationRate)
	}
}

func TestGlobalStatistics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Empty platform: zero counts, no division by zero.
	empty, err := f.reviews.Statistics(ctx, moderator())
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if empty.Total != 0 || empty.VerificationRate != 0 || empty.AutoVerificationRate != 0 {
		t.Errorf("expected zero global stats, got %+v", empty)
	}

	// One auto-verified, one manually verified, one left pending.
	txn1 := f.completedTransaction(t, "usr_b1", "usr_s1")
	if _, err := f.reviews.Submit(ctx, SubmitRequest{
		TransactionID: txn1.ID, ReviewerID: "usr_b1", Rating: 5, Content: goodContent,
	}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	txn2, _ := f.transactions.Create(ctx, transaction.CreateRequest{
		BuyerID: "usr_b2", SellerID: "usr_s2", VehicleID: "veh_1", Amount: "10000.00",
	})
	held, _ := f.reviews.Submit(ctx, SubmitRequest{
		TransactionID: txn2.ID, ReviewerID: "usr_b2", Rating: 4, Content: goodContent,
	})
	if _, err := f.reviews.Verify(ctx, moderator(), held.ID); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	txn3, _ := f.transactions.Create(ctx, transaction.CreateRequest{
		BuyerID: "usr_b3", SellerID: "usr_s3", VehicleID: "veh_1", Amount: "10000.00",
	})
	f.reviews.Submit(ctx, SubmitRequest{
		TransactionID: txn3.ID, ReviewerID: "usr_b3", Rating: 3, Content: goodContent,
	})

	g, err := f.reviews.Statistics(ctx, moderator())
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if g.Total != 3 || g.Verified != 2 {
		t.Fatalf("unexpected global stats: %+v", g)
	}
	if g.ByStatus[StatusApproved] != 2 || g.ByStatus[StatusPending] != 1 {
		t.Errorf("unexpected status counts: %+v", g.ByStatus)
	}
	if g.ByMethod[VerifiedAuto] != 1 || g.ByMethod[VerifiedManual] != 1 {
		t.Errorf("unexpected method counts: %+v", g.ByMethod)
	}
	if g.AutoVerificationRate < 0.33 || g.AutoVerificationRate > 0.34 {
		t.Errorf("expected auto verification rate 1/3, got %v", g.AutoVerificationRate)
	}
	if g.VerificationRate < 0.66 || g.VerificationRate > 0.67 {
		t.Errorf("expected verification rate 2/3, got %v", g.VerificationRate)
	}

	// Staff capability required.
	outsider := &authz.Actor{ID: "usr_plain", Capabilities: []authz.Capability{authz.CapViewAudit}}
	if _, err := f.reviews.Statistics(ctx, outsider); !errors.Is(err, authz.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

package dispute

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mbd888/safetrade/internal/audit"
	"github.com/mbd888/safetrade/internal/authz"
	"github.com/mbd888/safetrade/internal/transaction"
)

type fixture struct {
	disputes     *Service
	transactions *transaction.Service
	trail        *audit.MemoryLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	trail := audit.NewMemoryLog()
	txnStore := transaction.NewMemoryStore()
	txns := transaction.NewService(txnStore, trail, decimal.RequireFromString("2.5"), "EUR", logger)
	disputes := NewService(NewMemoryStore(txnStore), txns, trail, logger)
	txns.WithDisputeChecker(disputes)
	return &fixture{disputes: disputes, transactions: txns, trail: trail}
}

func (f *fixture) verifiedTransaction(t *testing.T) *transaction.Transaction {
	t.Helper()
	ctx := context.Background()
	txn, err := f.transactions.Create(ctx, transaction.CreateRequest{
		BuyerID:   "usr_buyer",
		SellerID:  "usr_seller",
		VehicleID: "veh_1",
		Amount:    "10000.00",
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	if _, err := f.transactions.MarkPaymentSubmitted(ctx, txn.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.transactions.MarkPaymentVerified(ctx, txn.ID, "staff_1", ""); err != nil {
		t.Fatalf("verify: %v", err)
	}
	return txn
}

func resolver() *authz.Actor {
	return &authz.Actor{ID: "staff_9", Name: "Resolver", Capabilities: authz.AllCapabilities}
}

func TestOpenParksTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.verifiedTransaction(t)

	d, err := f.disputes.Open(ctx, OpenRequest{
		TransactionID: txn.ID,
		OpenedBy:      "usr_buyer",
		Reason:        "vehicle not as described",
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if d.Status != StatusOpen {
		t.Errorf("expected open, got %s", d.Status)
	}
	if d.Respondent != "usr_seller" {
		t.Errorf("expected respondent usr_seller, got %s", d.Respondent)
	}

	parked, _ := f.transactions.Get(ctx, txn.ID)
	if parked.Status != transaction.StatusDispute {
		t.Errorf("expected transaction in dispute, got %s", parked.Status)
	}
	if parked.StatusBeforeDispute != transaction.StatusPaymentVerified {
		t.Errorf("expected recorded prior status payment_verified, got %s", parked.StatusBeforeDispute)
	}
}

func TestOpenRejectsOutsiderAndDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.verifiedTransaction(t)

	if _, err := f.disputes.Open(ctx, OpenRequest{
		TransactionID: txn.ID, OpenedBy: "usr_stranger", Reason: "x",
	}); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("expected ErrNotParticipant, got %v", err)
	}

	if _, err := f.disputes.Open(ctx, OpenRequest{
		TransactionID: txn.ID, OpenedBy: "usr_buyer", Reason: "first",
	}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := f.disputes.Open(ctx, OpenRequest{
		TransactionID: txn.ID, OpenedBy: "usr_seller", Reason: "second",
	}); !errors.Is(err, ErrDuplicateDispute) {
		t.Errorf("expected ErrDuplicateDispute, got %v", err)
	}
}

func TestResolveFavorBuyerRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.verifiedTransaction(t)

	d, _ := f.disputes.Open(ctx, OpenRequest{
		TransactionID: txn.ID, OpenedBy: "usr_buyer", Reason: "odometer tampered",
	})
	if _, err := f.disputes.Escalate(ctx, resolver(), d.ID, ""); err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}

	resolved, err := f.disputes.Resolve(ctx, resolver(), d.ID, OutcomeFavorBuyer, "tampering confirmed")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Status != StatusResolved || resolved.Outcome != OutcomeFavorBuyer {
		t.Errorf("unexpected resolution: %s/%s", resolved.Status, resolved.Outcome)
	}

	settled, _ := f.transactions.Get(ctx, txn.ID)
	if settled.Status != transaction.StatusRefunded {
		t.Errorf("expected refunded, got %s", settled.Status)
	}
	if settled.CancelledAt == nil {
		t.Error("expected CancelledAt to be set")
	}
	if settled.StatusBeforeDispute != "" {
		t.Errorf("expected cleared prior status, got %s", settled.StatusBeforeDispute)
	}
}

func TestResolveFavorSellerCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.verifiedTransaction(t)

	d, _ := f.disputes.Open(ctx, OpenRequest{
		TransactionID: txn.ID, OpenedBy: "usr_buyer", Reason: "cold feet",
	})

	resolved, err := f.disputes.Resolve(ctx, resolver(), d.ID, OutcomeFavorSeller, "claim unfounded")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Outcome != OutcomeFavorSeller {
		t.Errorf("expected favor_seller, got %s", resolved.Outcome)
	}

	settled, _ := f.transactions.Get(ctx, txn.ID)
	if settled.Status != transaction.StatusCompleted {
		t.Errorf("expected completed, got %s", settled.Status)
	}
}

func TestResolveFavorSellerNeedsVerifiedPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txn, _ := f.transactions.Create(ctx, transaction.CreateRequest{
		BuyerID: "usr_buyer", SellerID: "usr_seller", VehicleID: "veh_1", Amount: "10000.00",
	})
	d, err := f.disputes.Open(ctx, OpenRequest{
		TransactionID: txn.ID, OpenedBy: "usr_seller", Reason: "buyer unresponsive",
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if _, err := f.disputes.Resolve(ctx, resolver(), d.ID, OutcomeFavorSeller, ""); !errors.Is(err, transaction.ErrPaymentNotVerified) {
		t.Errorf("expected ErrPaymentNotVerified, got %v", err)
	}
}

func TestResolveNoActionRestoresPriorStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.verifiedTransaction(t)

	d, _ := f.disputes.Open(ctx, OpenRequest{
		TransactionID: txn.ID, OpenedBy: "usr_buyer", Reason: "misunderstanding",
	})

	if _, err := f.disputes.Resolve(ctx, resolver(), d.ID, OutcomeNoAction, "parties reconciled"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	restored, _ := f.transactions.Get(ctx, txn.ID)
	if restored.Status != transaction.StatusPaymentVerified {
		t.Errorf("expected payment_verified restored, got %s", restored.Status)
	}
}

func TestResolveIsNotRepeatable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.verifiedTransaction(t)

	d, _ := f.disputes.Open(ctx, OpenRequest{
		TransactionID: txn.ID, OpenedBy: "usr_buyer", Reason: "x",
	})
	if _, err := f.disputes.Resolve(ctx, resolver(), d.ID, OutcomeFavorBuyer, ""); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if _, err := f.disputes.Resolve(ctx, resolver(), d.ID, OutcomeFavorSeller, ""); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus on second resolve, got %v", err)
	}
}

func TestWithdrawRestoresTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.verifiedTransaction(t)

	d, _ := f.disputes.Open(ctx, OpenRequest{
		TransactionID: txn.ID, OpenedBy: "usr_buyer", Reason: "x",
	})

	if _, err := f.disputes.Close(ctx, d.ID, "usr_seller", ""); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("expected ErrNotParticipant for non-opener, got %v", err)
	}

	closed, err := f.disputes.Close(ctx, d.ID, "usr_buyer", "resolved privately")
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if closed.Status != StatusClosed {
		t.Errorf("expected closed, got %s", closed.Status)
	}

	restored, _ := f.transactions.Get(ctx, txn.ID)
	if restored.Status != transaction.StatusPaymentVerified {
		t.Errorf("expected payment_verified restored, got %s", restored.Status)
	}

	// Transaction is unblocked again.
	if _, err := f.transactions.ReleaseFunds(ctx, resolver(), txn.ID, ""); err != nil {
		t.Errorf("expected release after withdrawal, got %v", err)
	}
}

func TestEvidenceOnlyWhileOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.verifiedTransaction(t)

	d, _ := f.disputes.Open(ctx, OpenRequest{
		TransactionID: txn.ID, OpenedBy: "usr_buyer", Reason: "x",
	})

	if _, err := f.disputes.SubmitEvidence(ctx, d.ID, EvidenceRequest{
		SubmittedBy: "usr_stranger", Note: "hi",
	}); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("expected ErrNotParticipant, got %v", err)
	}

	if _, err := f.disputes.SubmitEvidence(ctx, d.ID, EvidenceRequest{
		SubmittedBy: "usr_seller", URL: "https://example.com/inspection.pdf",
	}); err != nil {
		t.Fatalf("SubmitEvidence failed: %v", err)
	}

	f.disputes.Resolve(ctx, resolver(), d.ID, OutcomeNoAction, "")

	if _, err := f.disputes.SubmitEvidence(ctx, d.ID, EvidenceRequest{
		SubmittedBy: "usr_buyer", Note: "too late",
	}); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus after resolution, got %v", err)
	}

	_, evidence, err := f.disputes.Get(ctx, d.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(evidence) != 1 {
		t.Errorf("expected 1 evidence item, got %d", len(evidence))
	}
}

func TestHasOpenDisputeBlocksRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.verifiedTransaction(t)

	d, _ := f.disputes.Open(ctx, OpenRequest{
		TransactionID: txn.ID, OpenedBy: "usr_buyer", Reason: "x",
	})

	open, err := f.disputes.HasOpenDispute(ctx, txn.ID)
	if err != nil || !open {
		t.Fatalf("expected open dispute, got %v %v", open, err)
	}

	f.disputes.Resolve(ctx, resolver(), d.ID, OutcomeFavorBuyer, "")

	open, err = f.disputes.HasOpenDispute(ctx, txn.ID)
	if err != nil || open {
		t.Fatalf("expected no open dispute after resolution, got %v %v", open, err)
	}
}

package payment

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/safetrade/internal/audit"
	"github.com/mbd888/safetrade/internal/authz"
	"github.com/mbd888/safetrade/internal/transaction"
)

func newTestService(t *testing.T) (*Service, *transaction.Service) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	trail := audit.NewMemoryLog()
	txns := transaction.NewService(transaction.NewMemoryStore(), trail,
		decimal.RequireFromString("2.5"), "EUR", logger)
	svc := NewService(NewMemoryStore(), txns, trail, decimal.RequireFromString("0.01"), logger)
	return svc, txns
}

func staffActor() *authz.Actor {
	return &authz.Actor{ID: "staff_1", Name: "Test Staff", Capabilities: authz.AllCapabilities}
}

func createTransaction(t *testing.T, txns *transaction.Service) *transaction.Transaction {
	t.Helper()
	txn, err := txns.Create(context.Background(), transaction.CreateRequest{
		BuyerID:   "usr_buyer",
		SellerID:  "usr_seller",
		VehicleID: "veh_1",
		Amount:    "10000.00",
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	return txn
}

func TestSubmitProofMovesTransactionToPaymentPending(t *testing.T) {
	svc, txns := newTestService(t)
	ctx := context.Background()
	txn := createTransaction(t, txns)

	p, err := svc.SubmitProof(ctx, SubmitRequest{
		TransactionID: txn.ID,
		Amount:        "10000.00",
		BankReference: "SEPA-001",
		SubmittedBy:   "usr_buyer",
	})
	if err != nil {
		t.Fatalf("SubmitProof failed: %v", err)
	}
	if p.Status != StatusPending {
		t.Errorf("expected pending payment, got %s", p.Status)
	}
	if p.Method != "bank_transfer" {
		t.Errorf("expected default method bank_transfer, got %s", p.Method)
	}

	updated, _ := txns.Get(ctx, txn.ID)
	if updated.Status != transaction.StatusPaymentPending {
		t.Errorf("expected transaction payment_pending, got %s", updated.Status)
	}
}

func TestSubmitProofAmountTolerance(t *testing.T) {
	svc, txns := newTestService(t)
	ctx := context.Background()
	txn := createTransaction(t, txns)

	// Off by a cent: accepted.
	if _, err := svc.SubmitProof(ctx, SubmitRequest{
		TransactionID: txn.ID, Amount: "9999.99", SubmittedBy: "usr_buyer",
	}); err != nil {
		t.Fatalf("expected within-tolerance submit to pass, got %v", err)
	}

	// Off by two cents: rejected.
	_, err := svc.SubmitProof(ctx, SubmitRequest{
		TransactionID: txn.ID, Amount: "9999.98", SubmittedBy: "usr_buyer",
	})
	var mismatch *AmountMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected AmountMismatchError, got %v", err)
	}
}

func TestSubmitProofRejectedAfterVerification(t *testing.T) {
	svc, txns := newTestService(t)
	ctx := context.Background()
	txn := createTransaction(t, txns)

	p, _ := svc.SubmitProof(ctx, SubmitRequest{
		TransactionID: txn.ID, Amount: "10000.00", SubmittedBy: "usr_buyer",
	})
	if _, err := svc.Verify(ctx, staffActor(), p.ID, ""); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if _, err := svc.SubmitProof(ctx, SubmitRequest{
		TransactionID: txn.ID, Amount: "10000.00", SubmittedBy: "usr_buyer",
	}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState after verification, got %v", err)
	}
}

func TestVerifyIsIdempotent(t *testing.T) {
	svc, txns := newTestService(t)
	ctx := context.Background()
	txn := createTransaction(t, txns)

	p, _ := svc.SubmitProof(ctx, SubmitRequest{
		TransactionID: txn.ID, Amount: "10000.00", SubmittedBy: "usr_buyer",
	})

	first, err := svc.Verify(ctx, staffActor(), p.ID, "")
	if err != nil {
		t.Fatalf("first verify failed: %v", err)
	}
	second, err := svc.Verify(ctx, staffActor(), p.ID, "")
	if err != nil {
		t.Fatalf("repeat verify failed: %v", err)
	}
	if !second.VerifiedAt.Equal(*first.VerifiedAt) {
		t.Error("repeat verify changed VerifiedAt")
	}

	updated, _ := txns.Get(ctx, txn.ID)
	if updated.Status != transaction.StatusPaymentVerified {
		t.Errorf("expected transaction payment_verified, got %s", updated.Status)
	}
}

func TestFirstVerifiedPaymentWins(t *testing.T) {
	svc, txns := newTestService(t)
	ctx := context.Background()
	txn := createTransaction(t, txns)

	first, _ := svc.SubmitProof(ctx, SubmitRequest{
		TransactionID: txn.ID, Amount: "10000.00", SubmittedBy: "usr_buyer",
	})
	second, _ := svc.SubmitProof(ctx, SubmitRequest{
		TransactionID: txn.ID, Amount: "10000.00", SubmittedBy: "usr_buyer",
	})

	if _, err := svc.Verify(ctx, staffActor(), first.ID, ""); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if _, err := svc.Verify(ctx, staffActor(), second.ID, ""); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState verifying sibling payment, got %v", err)
	}
}

func TestVerifyRefusedWhileDisputeParked(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	trail := audit.NewMemoryLog()
	txStore := transaction.NewMemoryStore()
	txns := transaction.NewService(txStore, trail, decimal.RequireFromString("2.5"), "EUR", logger)
	svc := NewService(NewMemoryStore(), txns, trail, decimal.RequireFromString("0.01"), logger)
	ctx := context.Background()
	txn := createTransaction(t, txns)

	p, _ := svc.SubmitProof(ctx, SubmitRequest{
		TransactionID: txn.ID, Amount: "10000.00", SubmittedBy: "usr_buyer",
	})
	if _, err := txns.EnterDispute(ctx, txn.ID, "vehicle not as described"); err != nil {
		t.Fatalf("EnterDispute failed: %v", err)
	}

	if _, err := svc.Verify(ctx, staffActor(), p.ID, ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState while parked in dispute, got %v", err)
	}

	// The refused verification must not leave a half-verified payment behind.
	reread, _ := svc.Get(ctx, p.ID)
	if reread.Status != StatusPending {
		t.Fatalf("payment status = %s after refused verify, want pending", reread.Status)
	}

	// Restore the pre-dispute status the way a withdrawn dispute does.
	parked, _ := txStore.Get(ctx, txn.ID, false)
	if err := transaction.SettleFromDispute(parked, parked.StatusBeforeDispute, time.Now().UTC()); err != nil {
		t.Fatalf("SettleFromDispute failed: %v", err)
	}
	if err := txStore.UpdateIfStatus(ctx, parked, transaction.StatusDispute); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	// Verification now goes through end to end.
	verified, err := svc.Verify(ctx, staffActor(), p.ID, "")
	if err != nil {
		t.Fatalf("verify after restore failed: %v", err)
	}
	if verified.Status != StatusVerified {
		t.Errorf("payment status = %s, want verified", verified.Status)
	}
	restored, _ := txns.Get(ctx, txn.ID)
	if restored.Status != transaction.StatusPaymentVerified {
		t.Errorf("transaction status = %s, want payment_verified", restored.Status)
	}
}

func TestRejectKeepsTransactionOpen(t *testing.T) {
	svc, txns := newTestService(t)
	ctx := context.Background()
	txn := createTransaction(t, txns)

	p, _ := svc.SubmitProof(ctx, SubmitRequest{
		TransactionID: txn.ID, Amount: "10000.00", SubmittedBy: "usr_buyer",
	})

	if _, err := svc.Reject(ctx, staffActor(), p.ID, ""); !errors.Is(err, ErrReasonRequired) {
		t.Errorf("expected ErrReasonRequired, got %v", err)
	}

	rejected, err := svc.Reject(ctx, staffActor(), p.ID, "no matching transfer found")
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if rejected.Status != StatusRejected {
		t.Errorf("expected rejected, got %s", rejected.Status)
	}

	// Buyer can resubmit.
	if _, err := svc.SubmitProof(ctx, SubmitRequest{
		TransactionID: txn.ID, Amount: "10000.00", SubmittedBy: "usr_buyer",
	}); err != nil {
		t.Fatalf("resubmit after reject failed: %v", err)
	}

	// Rejected payments stay rejected.
	if _, err := svc.Verify(ctx, staffActor(), p.ID, ""); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("expected ErrAlreadyResolved verifying rejected payment, got %v", err)
	}
}

func TestVerifyRequiresCapability(t *testing.T) {
	svc, txns := newTestService(t)
	ctx := context.Background()
	txn := createTransaction(t, txns)

	p, _ := svc.SubmitProof(ctx, SubmitRequest{
		TransactionID: txn.ID, Amount: "10000.00", SubmittedBy: "usr_buyer",
	})

	actor := &authz.Actor{ID: "staff_2", Capabilities: []authz.Capability{authz.CapViewAudit}}
	if _, err := svc.Verify(ctx, actor, p.ID, ""); !errors.Is(err, authz.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/safetrade/internal/audit"
	"github.com/mbd888/safetrade/internal/authz"
	"github.com/mbd888/safetrade/internal/idgen"
	"github.com/mbd888/safetrade/internal/metrics"
	"github.com/mbd888/safetrade/internal/syncutil"
	"github.com/mbd888/safetrade/internal/traces"
	"github.com/mbd888/safetrade/internal/transaction"
)

// Transactions is the slice of the transaction service payments need.
type Transactions interface {
	Get(ctx context.Context, id string) (*transaction.Transaction, error)
	MarkPaymentSubmitted(ctx context.Context, id string) (*transaction.Transaction, error)
	MarkPaymentVerified(ctx context.Context, id, verifiedBy, notes string) (*transaction.Transaction, error)
}

// SubmitRequest is a buyer's claim of a completed bank transfer.
type SubmitRequest struct {
	TransactionID string `json:"transactionId" binding:"required"`
	Amount        string `json:"amount" binding:"required"`
	Method        string `json:"method"`
	BankReference string `json:"bankReference"`
	ProofURL      string `json:"proofUrl"`
	SubmittedBy   string `json:"submittedBy" binding:"required"`
}

// Notifier receives fire-and-forget verification events.
type Notifier interface {
	PaymentVerified(t *transaction.Transaction, paymentID string)
	PaymentRejected(submittedBy, transactionID, paymentID, reason string)
}

// Service manages payment proofs and their verification.
type Service struct {
	store        Store
	transactions Transactions
	trail        audit.Recorder
	notifier     Notifier
	tolerance    decimal.Decimal

	locks  syncutil.ShardedMutex
	logger *slog.Logger
}

// NewService creates a payment service. tolerance is the maximum accepted
// absolute difference between payment and transaction amounts.
func NewService(store Store, transactions Transactions, trail audit.Recorder, tolerance decimal.Decimal, logger *slog.Logger) *Service {
	return &Service{
		store:        store,
		transactions: transactions,
		trail:        trail,
		tolerance:    tolerance,
		logger:       logger,
	}
}

// WithNotifier adds a verification event notifier.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// SubmitProof records a claimed bank transfer and moves the transaction to
// payment_pending. The amount must match the transaction amount within the
// configured tolerance.
func (s *Service) SubmitProof(ctx context.Context, req SubmitRequest) (*Payment, error) {
	ctx, span := traces.StartSpan(ctx, "payment.SubmitProof", traces.TransactionID(req.TransactionID))
	defer span.End()

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be a positive decimal", transaction.ErrInvalidInput)
	}

	txn, err := s.transactions.Get(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if txn.Status != transaction.StatusPending && txn.Status != transaction.StatusPaymentPending {
		return nil, fmt.Errorf("%w: transaction is %s", ErrInvalidState, txn.Status)
	}
	if !withinTolerance(amount, txn.Amount, s.tolerance) {
		return nil, &AmountMismatchError{
			PaymentAmount:     amount,
			TransactionAmount: txn.Amount,
			Tolerance:         s.tolerance,
		}
	}

	now := time.Now().UTC()
	p := &Payment{
		ID:            idgen.WithPrefix("pay_"),
		TransactionID: txn.ID,
		Amount:        amount,
		Currency:      txn.Currency,
		Method:        req.Method,
		BankReference: req.BankReference,
		ProofURL:      req.ProofURL,
		Status:        StatusPending,
		SubmittedBy:   req.SubmittedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if p.Method == "" {
		p.Method = "bank_transfer"
	}

	if err := s.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	if _, err := s.transactions.MarkPaymentSubmitted(ctx, txn.ID); err != nil {
		// Transaction may already be payment_pending from an earlier proof;
		// MarkPaymentSubmitted treats that as success, so anything here is real.
		s.logger.Warn("proof stored but transaction transition failed",
			"payment", p.ID, "transaction", txn.ID, "error", err)
	}

	s.record(ctx, p, "proof_submitted", "", StatusPending, "")
	return p, nil
}

// Verify marks a payment as confirmed received and drives the transaction to
// payment_verified. The transaction transition happens first, so a refused
// transition (dispute parked, already settled) never strands a half-verified
// payment. Idempotent on the same payment; once one payment for a transaction
// is verified, verifying a sibling fails with ErrInvalidState.
func (s *Service) Verify(ctx context.Context, actor *authz.Actor, paymentID, notes string) (*Payment, error) {
	ctx, span := traces.StartSpan(ctx, "payment.Verify", traces.PaymentID(paymentID))
	defer span.End()

	if err := actor.Require(authz.CapVerifyPayment); err != nil {
		return nil, err
	}

	p, err := s.store.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(p.TransactionID)
	defer unlock()

	// Re-read under the transaction lock.
	p, err = s.store.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	switch p.Status {
	case StatusVerified:
		metrics.PaymentVerificationsTotal.WithLabelValues("duplicate").Inc()
		return p, nil
	case StatusRejected:
		return nil, ErrAlreadyResolved
	}

	txn, err := s.transactions.Get(ctx, p.TransactionID)
	if err != nil {
		return nil, err
	}

	siblings, err := s.store.ListByTransaction(ctx, txn.ID)
	if err != nil {
		return nil, err
	}
	for _, sib := range siblings {
		if sib.ID != p.ID && sib.Status == StatusVerified {
			metrics.PaymentVerificationsTotal.WithLabelValues("conflict").Inc()
			return nil, fmt.Errorf("%w: transaction already has a verified payment", ErrInvalidState)
		}
	}

	// Drive the transaction before touching the payment row. A transaction
	// that cannot accept the transition (parked in dispute, already settled)
	// leaves the payment pending so verification can be retried later.
	switch txn.Status {
	case transaction.StatusPending, transaction.StatusPaymentPending:
		txn, err = s.transactions.MarkPaymentVerified(ctx, txn.ID, actor.ID, notes)
		if err != nil {
			metrics.PaymentVerificationsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
	case transaction.StatusPaymentVerified:
		// An earlier attempt drove the transaction but failed to persist the
		// payment row; finish the payment side.
	default:
		return nil, fmt.Errorf("%w: transaction is %s", ErrInvalidState, txn.Status)
	}

	now := time.Now().UTC()
	p.Status = StatusVerified
	p.VerifiedBy = actor.ID
	p.VerifiedAt = &now
	p.UpdatedAt = now
	if err := s.store.Update(ctx, p); err != nil {
		metrics.PaymentVerificationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to update payment: %w", err)
	}

	metrics.PaymentVerificationsTotal.WithLabelValues("verified").Inc()
	s.record(ctx, p, "verify_payment", StatusPending, StatusVerified, notes)
	if s.notifier != nil {
		s.notifier.PaymentVerified(txn, p.ID)
	}
	return p, nil
}

// Reject marks a payment as not received or invalid. The transaction stays
// in payment_pending so the buyer can submit a corrected proof.
func (s *Service) Reject(ctx context.Context, actor *authz.Actor, paymentID, reason string) (*Payment, error) {
	if err := actor.Require(authz.CapVerifyPayment); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, ErrReasonRequired
	}

	p, err := s.store.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(p.TransactionID)
	defer unlock()

	p, err = s.store.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending {
		return nil, ErrAlreadyResolved
	}

	p.Status = StatusRejected
	p.RejectReason = reason
	p.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update payment: %w", err)
	}

	metrics.PaymentVerificationsTotal.WithLabelValues("rejected").Inc()
	s.record(ctx, p, "reject_payment", StatusPending, StatusRejected, reason)
	if s.notifier != nil {
		s.notifier.PaymentRejected(p.SubmittedBy, p.TransactionID, p.ID, reason)
	}
	return p, nil
}

// Get returns a payment by ID.
func (s *Service) Get(ctx context.Context, id string) (*Payment, error) {
	return s.store.Get(ctx, id)
}

// ListByTransaction returns all payments recorded for a transaction.
func (s *Service) ListByTransaction(ctx context.Context, transactionID string) ([]*Payment, error) {
	return s.store.ListByTransaction(ctx, transactionID)
}

// ListPending returns unresolved payments for the staff review queue.
func (s *Service) ListPending(ctx context.Context, offset, limit int) ([]*Payment, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListByStatus(ctx, StatusPending, offset, limit)
}

func (s *Service) record(ctx context.Context, p *Payment, action string, from, to Status, reason string) {
	if err := audit.Transition(ctx, s.trail, "payment", p.ID, action, string(from), string(to), reason); err != nil {
		s.logger.Error("audit record failed", "payment", p.ID, "action", action, "error", err)
	}
}

var _ Transactions = (*transaction.Service)(nil)

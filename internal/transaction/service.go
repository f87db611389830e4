package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/safetrade/internal/audit"
	"github.com/mbd888/safetrade/internal/authz"
	"github.com/mbd888/safetrade/internal/commission"
	"github.com/mbd888/safetrade/internal/idgen"
	"github.com/mbd888/safetrade/internal/metrics"
	"github.com/mbd888/safetrade/internal/syncutil"
	"github.com/mbd888/safetrade/internal/traces"
)

// Notifier receives fire-and-forget lifecycle events. Implementations must
// never block or return errors into the state machine.
type Notifier interface {
	TransactionCreated(t *Transaction)
	FundsReleased(t *Transaction)
	TransactionRefunded(t *Transaction, reason string)
}

// DisputeChecker reports open disputes so release_funds can refuse them.
// Declared here so transaction does not import dispute.
type DisputeChecker interface {
	HasOpenDispute(ctx context.Context, transactionID string) (bool, error)
}

// CreateRequest contains the parameters for initiating a purchase.
type CreateRequest struct {
	BuyerID        string `json:"buyerId" binding:"required"`
	SellerID       string `json:"sellerId" binding:"required"`
	DealerID       string `json:"dealerId"`
	VehicleID      string `json:"vehicleId" binding:"required"`
	Amount         string `json:"amount" binding:"required"`
	CommissionRate string `json:"commissionRate"` // Defaults to the platform rate
	PaymentMethod  string `json:"paymentMethod"`
	Notes          string `json:"notes"`
}

// Service implements the transaction state machine.
type Service struct {
	store    Store
	trail    audit.Recorder
	notifier Notifier
	disputes DisputeChecker

	defaultRate decimal.Decimal
	currency    string

	locks  syncutil.ShardedMutex
	logger *slog.Logger
}

// NewService creates a transaction service.
func NewService(store Store, trail audit.Recorder, defaultRate decimal.Decimal, currency string, logger *slog.Logger) *Service {
	return &Service{
		store:       store,
		trail:       trail,
		defaultRate: defaultRate,
		currency:    currency,
		logger:      logger,
	}
}

// WithNotifier adds a lifecycle event notifier.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithDisputeChecker adds the open-dispute guard used by ReleaseFunds.
func (s *Service) WithDisputeChecker(d DisputeChecker) *Service {
	s.disputes = d
	return s
}

// Create initiates a purchase transaction. The commission amount is computed
// here, once; it never changes afterwards, even if the rate does.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "transaction.Create")
	defer span.End()

	if req.BuyerID == "" || req.SellerID == "" || req.VehicleID == "" {
		return nil, fmt.Errorf("%w: buyer, seller, and vehicle are required", ErrInvalidInput)
	}
	if req.BuyerID == req.SellerID {
		return nil, fmt.Errorf("%w: buyer and seller cannot be the same user", ErrInvalidInput)
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be a positive decimal", ErrInvalidInput)
	}

	rate := s.defaultRate
	if req.CommissionRate != "" {
		rate, err = decimal.NewFromString(req.CommissionRate)
		if err != nil || rate.IsNegative() {
			return nil, fmt.Errorf("%w: commission rate must be a non-negative decimal", ErrInvalidInput)
		}
	}

	now := time.Now().UTC()
	t := &Transaction{
		ID:               idgen.WithPrefix("txn_"),
		Code:             idgen.Code("TXN-", 10),
		BuyerID:          req.BuyerID,
		SellerID:         req.SellerID,
		DealerID:         req.DealerID,
		VehicleID:        req.VehicleID,
		Amount:           amount,
		Currency:         s.currency,
		CommissionRate:   rate,
		CommissionAmount: commission.Calculate(amount, rate),
		ServiceFee:       commission.ServiceFee(amount),
		DealerCommission: commission.DealerCommission(amount, req.DealerID != ""),
		PaymentMethod:    req.PaymentMethod,
		PaymentReference: idgen.Code("REF-", 12),
		Status:           StatusPending,
		Notes:            req.Notes,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	s.recordTransition(ctx, t, "created", "", StatusPending, "")
	if s.notifier != nil {
		s.notifier.TransactionCreated(t)
	}

	return t, nil
}

// Get returns a transaction by ID, excluding archived ones.
func (s *Service) Get(ctx context.Context, id string) (*Transaction, error) {
	return s.store.Get(ctx, id, false)
}

// GetForAudit returns a transaction by ID, including archived ones.
func (s *Service) GetForAudit(ctx context.Context, id string) (*Transaction, error) {
	return s.store.Get(ctx, id, true)
}

// GetByCode returns a transaction by its human-readable code.
func (s *Service) GetByCode(ctx context.Context, code string) (*Transaction, error) {
	return s.store.GetByCode(ctx, code)
}

// List returns transactions matching the filter plus the total match count.
func (s *Service) List(ctx context.Context, filter ListFilter, offset, limit int) ([]*Transaction, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.List(ctx, filter, offset, limit)
}

// MarkPaymentSubmitted moves the transaction to payment_pending when the
// buyer uploads proof of payment. Resubmission while already
// payment_pending is allowed (failed first attempts are common).
func (s *Service) MarkPaymentSubmitted(ctx context.Context, id string) (*Transaction, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	t, err := s.store.Get(ctx, id, false)
	if err != nil {
		return nil, err
	}

	switch t.Status {
	case StatusPaymentPending:
		return t, nil
	case StatusPending:
	default:
		return nil, &InvalidTransitionError{TransactionID: id, Action: "submit_proof", From: t.Status, To: StatusPaymentPending}
	}

	from := t.Status
	t.Status = StatusPaymentPending
	t.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateIfStatus(ctx, t, from); err != nil {
		return nil, err
	}

	s.recordTransition(ctx, t, "proof_submitted", from, t.Status, "")
	return t, nil
}

// MarkPaymentVerified moves the transaction to payment_verified. Idempotent:
// an already-verified transaction is returned unchanged, with no second
// audit entry, so staff double-clicks and retries are harmless.
func (s *Service) MarkPaymentVerified(ctx context.Context, id, verifiedBy, notes string) (*Transaction, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	t, err := s.store.Get(ctx, id, false)
	if err != nil {
		return nil, err
	}

	if t.Status == StatusPaymentVerified {
		return t, nil
	}
	if t.Status != StatusPaymentPending {
		return nil, &InvalidTransitionError{TransactionID: id, Action: "verify_payment", From: t.Status, To: StatusPaymentVerified}
	}

	now := time.Now().UTC()
	t.Status = StatusPaymentVerified
	t.PaymentVerifiedBy = verifiedBy
	t.PaymentVerifiedAt = &now
	t.UpdatedAt = now
	if err := s.store.UpdateIfStatus(ctx, t, StatusPaymentPending); err != nil {
		return nil, err
	}

	s.recordTransition(ctx, t, "verify_payment", StatusPaymentPending, StatusPaymentVerified, notes)
	return t, nil
}

// ReleaseFunds performs the irreversible fund release to the seller.
// It succeeds only from payment_verified, via an atomic conditional update;
// a repeat call on an already-completed transaction returns it unchanged.
func (s *Service) ReleaseFunds(ctx context.Context, actor *authz.Actor, id, notes string) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "transaction.ReleaseFunds", traces.TransactionID(id))
	defer span.End()

	if err := actor.Require(authz.CapReleaseFunds); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	t, err := s.store.Get(ctx, id, false)
	if err != nil {
		return nil, err
	}

	if t.Status == StatusCompleted {
		return t, nil
	}
	if t.Status != StatusPaymentVerified {
		return nil, &InvalidTransitionError{TransactionID: id, Action: "release_funds", From: t.Status, To: StatusCompleted}
	}

	if s.disputes != nil {
		open, err := s.disputes.HasOpenDispute(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to check disputes: %w", err)
		}
		if open {
			return nil, &InvalidTransitionError{TransactionID: id, Action: "release_funds", From: StatusDispute, To: StatusCompleted}
		}
	}

	now := time.Now().UTC()
	t.Status = StatusCompleted
	t.CompletedAt = &now
	if notes != "" {
		t.Notes = notes
	}
	t.UpdatedAt = now

	if err := s.store.UpdateIfStatus(ctx, t, StatusPaymentVerified); err != nil {
		if err == ErrStatusConflict {
			// Lost a race. Re-read: a concurrent release means we are done;
			// anything else is a genuine invalid transition.
			current, getErr := s.store.Get(ctx, id, false)
			if getErr != nil {
				return nil, getErr
			}
			if current.Status == StatusCompleted {
				return current, nil
			}
			return nil, &InvalidTransitionError{TransactionID: id, Action: "release_funds", From: current.Status, To: StatusCompleted}
		}
		return nil, err
	}

	s.recordTransition(ctx, t, "release_funds", StatusPaymentVerified, StatusCompleted, notes)
	if s.notifier != nil {
		s.notifier.FundsReleased(t)
	}

	return t, nil
}

// Refund cancels the transaction and returns the held funds to the buyer.
// A reason is mandatory; the refund target is always the buyer.
func (s *Service) Refund(ctx context.Context, actor *authz.Actor, id, reason string) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "transaction.Refund", traces.TransactionID(id))
	defer span.End()

	if err := actor.Require(authz.CapRefund); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, ErrReasonRequired
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	t, err := s.store.Get(ctx, id, false)
	if err != nil {
		return nil, err
	}

	if t.Status == StatusCancelled {
		return t, nil
	}
	if t.Status != StatusPaymentPending && t.Status != StatusPaymentVerified {
		return nil, &InvalidTransitionError{TransactionID: id, Action: "refund", From: t.Status, To: StatusCancelled}
	}

	from := t.Status
	now := time.Now().UTC()
	t.Status = StatusCancelled
	t.CancelledAt = &now
	t.UpdatedAt = now

	if err := s.store.UpdateIfStatus(ctx, t, StatusPaymentPending, StatusPaymentVerified); err != nil {
		if err == ErrStatusConflict {
			current, getErr := s.store.Get(ctx, id, false)
			if getErr != nil {
				return nil, getErr
			}
			if current.Status == StatusCancelled {
				return current, nil
			}
			return nil, &InvalidTransitionError{TransactionID: id, Action: "refund", From: current.Status, To: StatusCancelled}
		}
		return nil, err
	}

	s.recordTransition(ctx, t, "refund", from, StatusCancelled, reason)
	if s.notifier != nil {
		s.notifier.TransactionRefunded(t, reason)
	}

	return t, nil
}

// EnterDispute parks a non-terminal transaction in dispute status,
// remembering where it came from. Called by the dispute service, which
// enforces the single-open-dispute invariant and capability checks.
func (s *Service) EnterDispute(ctx context.Context, id, reason string) (*Transaction, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	t, err := s.store.Get(ctx, id, false)
	if err != nil {
		return nil, err
	}

	if t.IsTerminal() || t.Status == StatusDispute {
		return nil, &InvalidTransitionError{TransactionID: id, Action: "open_dispute", From: t.Status, To: StatusDispute}
	}

	from := t.Status
	t.StatusBeforeDispute = from
	t.Status = StatusDispute
	t.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateIfStatus(ctx, t, from); err != nil {
		return nil, err
	}

	s.recordTransition(ctx, t, "dispute_opened", from, StatusDispute, reason)
	return t, nil
}

// RecordDisputeSettled writes the audit entry and counters for a transaction
// transition already persisted by the dispute service's joint update.
func (s *Service) RecordDisputeSettled(ctx context.Context, t *Transaction, from Status, reason string) {
	s.recordTransition(ctx, t, "dispute_resolved", from, t.Status, reason)
	if s.notifier == nil {
		return
	}
	switch t.Status {
	case StatusRefunded:
		s.notifier.TransactionRefunded(t, reason)
	case StatusCompleted:
		s.notifier.FundsReleased(t)
	}
}

// Archive soft-deletes a transaction. Terminal transactions only.
func (s *Service) Archive(ctx context.Context, actor *authz.Actor, id string) error {
	if err := actor.Require(authz.CapViewAudit); err != nil {
		return err
	}

	t, err := s.store.Get(ctx, id, false)
	if err != nil {
		return err
	}
	if !t.IsTerminal() {
		return &InvalidTransitionError{TransactionID: id, Action: "archive", From: t.Status, To: t.Status}
	}
	return s.store.Archive(ctx, id, time.Now().UTC())
}

// AuditTrail returns the transition history for a transaction.
func (s *Service) AuditTrail(ctx context.Context, actor *authz.Actor, id string) ([]*audit.Entry, error) {
	if err := actor.Require(authz.CapViewAudit); err != nil {
		return nil, err
	}
	return s.trail.Query(ctx, "transaction", id, 0)
}

// recordTransition appends the mandatory audit entry for a state change.
// Audit failure after a persisted transition is logged, never propagated:
// the money already moved.
func (s *Service) recordTransition(ctx context.Context, t *Transaction, action string, from, to Status, reason string) {
	metrics.TransactionTransitionsTotal.WithLabelValues(string(to)).Inc()
	if err := audit.Transition(ctx, s.trail, "transaction", t.ID, action, string(from), string(to), reason); err != nil {
		s.logger.Error("audit record failed", "transaction", t.ID, "action", action, "error", err)
	}
}

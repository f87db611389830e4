package dispute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/safetrade/internal/audit"
	"github.com/mbd888/safetrade/internal/authz"
	"github.com/mbd888/safetrade/internal/idgen"
	"github.com/mbd888/safetrade/internal/metrics"
	"github.com/mbd888/safetrade/internal/syncutil"
	"github.com/mbd888/safetrade/internal/traces"
	"github.com/mbd888/safetrade/internal/transaction"
)

// Transactions is the slice of the transaction service disputes need.
type Transactions interface {
	Get(ctx context.Context, id string) (*transaction.Transaction, error)
	EnterDispute(ctx context.Context, id, reason string) (*transaction.Transaction, error)
	RecordDisputeSettled(ctx context.Context, t *transaction.Transaction, from transaction.Status, reason string)
}

// OpenRequest is a participant's request to dispute a transaction.
type OpenRequest struct {
	TransactionID string `json:"transactionId" binding:"required"`
	OpenedBy      string `json:"openedBy" binding:"required"`
	Reason        string `json:"reason" binding:"required"`
	Description   string `json:"description"`
}

// EvidenceRequest attaches supporting material to a dispute.
type EvidenceRequest struct {
	SubmittedBy string `json:"submittedBy" binding:"required"`
	URL         string `json:"url"`
	Note        string `json:"note"`
}

// Notifier receives fire-and-forget dispute events.
type Notifier interface {
	DisputeOpened(respondent, disputeID, transactionID, reason string)
	DisputeResolved(userID, disputeID, transactionID, outcome string)
}

// Service manages the dispute lifecycle.
type Service struct {
	store        Store
	transactions Transactions
	trail        audit.Recorder
	notifier     Notifier

	locks  syncutil.ShardedMutex
	logger *slog.Logger
}

// NewService creates a dispute service.
func NewService(store Store, transactions Transactions, trail audit.Recorder, logger *slog.Logger) *Service {
	return &Service{
		store:        store,
		transactions: transactions,
		trail:        trail,
		logger:       logger,
	}
}

// WithNotifier adds a dispute event notifier.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

var _ transaction.DisputeChecker = (*Service)(nil)

// HasOpenDispute reports whether a transaction has an unresolved dispute.
func (s *Service) HasOpenDispute(ctx context.Context, transactionID string) (bool, error) {
	_, err := s.store.GetOpenByTransaction(ctx, transactionID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Open files a dispute and parks the transaction in dispute status. Only
// the buyer or seller can open one, and only one dispute can be open per
// transaction at a time.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*Dispute, error) {
	ctx, span := traces.StartSpan(ctx, "dispute.Open", traces.TransactionID(req.TransactionID))
	defer span.End()

	if req.Reason == "" {
		return nil, ErrReasonRequired
	}

	unlock := s.locks.Lock(req.TransactionID)
	defer unlock()

	txn, err := s.transactions.Get(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}

	var respondent string
	switch req.OpenedBy {
	case txn.BuyerID:
		respondent = txn.SellerID
	case txn.SellerID:
		respondent = txn.BuyerID
	default:
		return nil, ErrNotParticipant
	}

	if _, err := s.store.GetOpenByTransaction(ctx, txn.ID); err == nil {
		return nil, ErrDuplicateDispute
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if _, err := s.transactions.EnterDispute(ctx, txn.ID, req.Reason); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	d := &Dispute{
		ID:            idgen.WithPrefix("dsp_"),
		TransactionID: txn.ID,
		OpenedBy:      req.OpenedBy,
		Respondent:    respondent,
		Reason:        req.Reason,
		Description:   req.Description,
		Status:        StatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to create dispute: %w", err)
	}

	metrics.DisputesTotal.WithLabelValues("opened", "").Inc()
	s.record(ctx, d, "dispute_opened", "", StatusOpen, req.Reason)
	if s.notifier != nil {
		s.notifier.DisputeOpened(d.Respondent, d.ID, d.TransactionID, d.Reason)
	}
	return d, nil
}

// Escalate moves an open dispute to investigating and optionally assigns
// it to a staff member.
func (s *Service) Escalate(ctx context.Context, actor *authz.Actor, id, assignTo string) (*Dispute, error) {
	if err := actor.Require(authz.CapResolveDispute); err != nil {
		return nil, err
	}

	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(d.TransactionID)
	defer unlock()

	d, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusOpen {
		return nil, fmt.Errorf("%w: dispute is %s", ErrInvalidStatus, d.Status)
	}

	d.Status = StatusInvestigating
	if assignTo != "" {
		d.AssignedTo = assignTo
	} else {
		d.AssignedTo = actor.ID
	}
	d.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to update dispute: %w", err)
	}

	metrics.DisputesTotal.WithLabelValues("escalated", "").Inc()
	s.record(ctx, d, "dispute_escalated", StatusOpen, StatusInvestigating, "")
	return d, nil
}

// SubmitEvidence attaches evidence to a dispute that is still open.
// Only the two participants may submit.
func (s *Service) SubmitEvidence(ctx context.Context, id string, req EvidenceRequest) (*Evidence, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.IsOpen() {
		return nil, fmt.Errorf("%w: dispute is %s", ErrInvalidStatus, d.Status)
	}
	if req.SubmittedBy != d.OpenedBy && req.SubmittedBy != d.Respondent {
		return nil, ErrNotParticipant
	}
	if req.URL == "" && req.Note == "" {
		return nil, fmt.Errorf("%w: evidence needs a url or a note", transaction.ErrInvalidInput)
	}

	e := &Evidence{
		ID:          idgen.WithPrefix("evd_"),
		DisputeID:   d.ID,
		SubmittedBy: req.SubmittedBy,
		URL:         req.URL,
		Note:        req.Note,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.AddEvidence(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to add evidence: %w", err)
	}
	return e, nil
}

// Resolve settles a dispute under investigation. The dispute and its
// transaction are persisted together: favor_buyer refunds, favor_seller
// completes, no_action restores the transaction to where it was before
// the dispute.
func (s *Service) Resolve(ctx context.Context, actor *authz.Actor, id string, outcome Outcome, notes string) (*Dispute, error) {
	ctx, span := traces.StartSpan(ctx, "dispute.Resolve", traces.DisputeID(id))
	defer span.End()

	if err := actor.Require(authz.CapResolveDispute); err != nil {
		return nil, err
	}

	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(d.TransactionID)
	defer unlock()

	d, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.IsOpen() {
		return nil, fmt.Errorf("%w: dispute is %s", ErrInvalidStatus, d.Status)
	}

	txn, err := s.transactions.Get(ctx, d.TransactionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	target, err := settleTarget(txn, outcome)
	if err != nil {
		return nil, err
	}
	if err := transaction.SettleFromDispute(txn, target, now); err != nil {
		return nil, err
	}

	from := d.Status
	d.Status = StatusResolved
	d.Outcome = outcome
	d.ResolutionNotes = notes
	d.ResolvedBy = actor.ID
	d.ResolvedAt = &now
	d.UpdatedAt = now

	if err := s.store.ResolveJoint(ctx, d, txn); err != nil {
		return nil, err
	}

	metrics.DisputesTotal.WithLabelValues("resolved", string(outcome)).Inc()
	s.record(ctx, d, "dispute_resolved", from, StatusResolved, notes)
	s.transactions.RecordDisputeSettled(ctx, txn, transaction.StatusDispute, notes)
	if s.notifier != nil {
		s.notifier.DisputeResolved(d.OpenedBy, d.ID, d.TransactionID, string(outcome))
		s.notifier.DisputeResolved(d.Respondent, d.ID, d.TransactionID, string(outcome))
	}
	return d, nil
}

// Close withdraws a dispute without staff resolution. Only the opener can
// withdraw; the transaction returns to its pre-dispute status.
func (s *Service) Close(ctx context.Context, id, requestedBy, reason string) (*Dispute, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(d.TransactionID)
	defer unlock()

	d, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.IsOpen() {
		return nil, fmt.Errorf("%w: dispute is %s", ErrInvalidStatus, d.Status)
	}
	if requestedBy != d.OpenedBy {
		return nil, ErrNotParticipant
	}

	txn, err := s.transactions.Get(ctx, d.TransactionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := transaction.SettleFromDispute(txn, restoreStatus(txn), now); err != nil {
		return nil, err
	}

	from := d.Status
	d.Status = StatusClosed
	d.ResolutionNotes = reason
	d.ResolvedAt = &now
	d.UpdatedAt = now

	if err := s.store.ResolveJoint(ctx, d, txn); err != nil {
		return nil, err
	}

	metrics.DisputesTotal.WithLabelValues("closed", "withdrawn").Inc()
	s.record(ctx, d, "dispute_withdrawn", from, StatusClosed, reason)
	s.transactions.RecordDisputeSettled(ctx, txn, transaction.StatusDispute, reason)
	if s.notifier != nil {
		s.notifier.DisputeResolved(d.Respondent, d.ID, d.TransactionID, "withdrawn")
	}
	return d, nil
}

// Get returns a dispute with its evidence.
func (s *Service) Get(ctx context.Context, id string) (*Dispute, []*Evidence, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	evidence, err := s.store.ListEvidence(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return d, evidence, nil
}

// List returns disputes filtered by status.
func (s *Service) List(ctx context.Context, status Status, offset, limit int) ([]*Dispute, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.List(ctx, status, offset, limit)
}

// ListByTransaction returns every dispute ever filed for a transaction.
func (s *Service) ListByTransaction(ctx context.Context, transactionID string) ([]*Dispute, error) {
	return s.store.ListByTransaction(ctx, transactionID)
}

func settleTarget(txn *transaction.Transaction, outcome Outcome) (transaction.Status, error) {
	switch outcome {
	case OutcomeFavorBuyer:
		return transaction.StatusRefunded, nil
	case OutcomeFavorSeller:
		return transaction.StatusCompleted, nil
	case OutcomeNoAction:
		return restoreStatus(txn), nil
	default:
		return "", ErrInvalidOutcome
	}
}

// restoreStatus picks where a no-action or withdrawn dispute sends the
// transaction back to. Rows written before dispute tracking existed have
// no recorded prior status; those fall back to payment_pending.
func restoreStatus(txn *transaction.Transaction) transaction.Status {
	if txn.StatusBeforeDispute == "" {
		txn.StatusBeforeDispute = transaction.StatusPaymentPending
	}
	return txn.StatusBeforeDispute
}

func (s *Service) record(ctx context.Context, d *Dispute, action string, from, to Status, reason string) {
	if err := audit.Transition(ctx, s.trail, "dispute", d.ID, action, string(from), string(to), reason); err != nil {
		s.logger.Error("audit record failed", "dispute", d.ID, "action", action, "error", err)
	}
}

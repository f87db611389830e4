package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/mbd888/safetrade/internal/dispute"
	"github.com/mbd888/safetrade/internal/idgen"
	"github.com/mbd888/safetrade/internal/metrics"
	"github.com/mbd888/safetrade/internal/payment"
	"github.com/mbd888/safetrade/internal/review"
	"github.com/mbd888/safetrade/internal/transaction"
)

// Emitter turns domain lifecycle moments into notification events.
// All methods are fire-and-forget: errors are logged but never returned,
// and a nil Emitter is safe to call.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

var (
	_ transaction.Notifier = (*Emitter)(nil)
	_ payment.Notifier     = (*Emitter)(nil)
	_ dispute.Notifier     = (*Emitter)(nil)
	_ review.Notifier      = (*Emitter)(nil)
)

func (e *Emitter) emit(userID string, eventType EventType, data map[string]any) {
	if e == nil || e.d == nil {
		return
	}
	metrics.NotifyDeliveriesTotal.WithLabelValues("attempted").Inc()
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.d.DispatchToUser(ctx, userID, event); err != nil {
		metrics.NotifyDeliveriesTotal.WithLabelValues("error").Inc()
		e.logger.Warn("notification emit failed", "event", eventType, "user", userID, "error", err)
	}
}

// TransactionCreated notifies the seller that a purchase was initiated.
func (e *Emitter) TransactionCreated(t *transaction.Transaction) {
	e.emit(t.SellerID, EventTransactionCreated, map[string]any{
		"transactionId": t.ID,
		"code":          t.Code,
		"buyerId":       t.BuyerID,
		"sellerId":      t.SellerID,
		"vehicleId":     t.VehicleID,
		"amount":        t.Amount.String(),
		"currency":      t.Currency,
	})
}

// PaymentVerified notifies the seller that the buyer's payment arrived.
func (e *Emitter) PaymentVerified(t *transaction.Transaction, paymentID string) {
	e.emit(t.SellerID, EventPaymentVerified, map[string]any{
		"transactionId": t.ID,
		"paymentId":     paymentID,
		"amount":        t.Amount.String(),
	})
}

// FundsReleased notifies the seller that the escrowed funds are theirs.
func (e *Emitter) FundsReleased(t *transaction.Transaction) {
	e.emit(t.SellerID, EventFundsReleased, map[string]any{
		"transactionId":    t.ID,
		"sellerId":         t.SellerID,
		"amount":           t.Amount.String(),
		"commissionAmount": t.CommissionAmount.String(),
	})
}

// TransactionRefunded notifies the buyer that the held funds are coming back.
func (e *Emitter) TransactionRefunded(t *transaction.Transaction, reason string) {
	e.emit(t.BuyerID, EventTransactionRefunded, map[string]any{
		"transactionId": t.ID,
		"buyerId":       t.BuyerID,
		"amount":        t.Amount.String(),
		"reason":        reason,
	})
}

// PaymentRejected tells the submitter their proof did not check out and a
// corrected one is expected.
func (e *Emitter) PaymentRejected(submittedBy, transactionID, paymentID, reason string) {
	e.emit(submittedBy, EventPaymentRejected, map[string]any{
		"transactionId": transactionID,
		"paymentId":     paymentID,
		"reason":        reason,
	})
}

// DisputeOpened notifies the respondent that a dispute was filed against
// their transaction.
func (e *Emitter) DisputeOpened(respondent, disputeID, transactionID, reason string) {
	e.emit(respondent, EventDisputeOpened, map[string]any{
		"disputeId":     disputeID,
		"transactionId": transactionID,
		"reason":        reason,
	})
}

// DisputeResolved notifies a participant of the resolution outcome.
func (e *Emitter) DisputeResolved(userID, disputeID, transactionID, outcome string) {
	e.emit(userID, EventDisputeResolved, map[string]any{
		"disputeId":     disputeID,
		"transactionId": transactionID,
		"outcome":       outcome,
	})
}

// ReviewVerified notifies the reviewer their review was verified and
// published.
func (e *Emitter) ReviewVerified(reviewerID, reviewID, method string) {
	e.emit(reviewerID, EventReviewVerified, map[string]any{
		"reviewId": reviewID,
		"method":   method,
	})
}

// ReviewFlagged notifies the reviewer their review was pulled for
// re-moderation.
func (e *Emitter) ReviewFlagged(reviewerID, reviewID string, flagCount int) {
	e.emit(reviewerID, EventReviewFlagged, map[string]any{
		"reviewId":  reviewID,
		"flagCount": flagCount,
	})
}

// Package audit provides the immutable audit trail required for financial
// review of escrow activity.
//
// Every state transition on a transaction or dispute, and every verify or
// reject decision on a payment or review, is recorded as an append-only
// entry: who acted, when, which states were involved, and why. Entries are
// never updated or deleted; archival happens at the storage layer, not here.
package audit

import (
	"context"
	"time"
)

type contextKey string

const (
	ctxActorID   contextKey = "audit_actor_id"
	ctxIPAddress contextKey = "audit_ip"
	ctxRequestID contextKey = "audit_request_id"
)

// WithActor attaches the acting staff/user ID to the context.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, ctxActorID, actorID)
}

// WithIP attaches the client IP for audit correlation.
func WithIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxIPAddress, ip)
}

// WithRequestID attaches a request ID for audit correlation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestID, requestID)
}

func fromCtx(ctx context.Context) (actorID, ip, requestID string) {
	actorID = "system"
	if v, ok := ctx.Value(ctxActorID).(string); ok && v != "" {
		actorID = v
	}
	if v, ok := ctx.Value(ctxIPAddress).(string); ok {
		ip = v
	}
	if v, ok := ctx.Value(ctxRequestID).(string); ok {
		requestID = v
	}
	return
}

// Entry is a single immutable audit record.
type Entry struct {
	ID         int64     `json:"id"`
	EntityType string    `json:"entityType"` // "transaction", "payment", "dispute", "review"
	EntityID   string    `json:"entityId"`
	ActorID    string    `json:"actorId"`
	Action     string    `json:"action"`
	FromState  string    `json:"fromState,omitempty"`
	ToState    string    `json:"toState,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	RequestID  string    `json:"requestId,omitempty"`
	IPAddress  string    `json:"ipAddress,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Recorder persists audit entries.
type Recorder interface {
	Record(ctx context.Context, entry *Entry) error
	Query(ctx context.Context, entityType, entityID string, limit int) ([]*Entry, error)
}

// Transition builds and records a state-transition entry, filling actor and
// correlation fields from the context. Callers treat a failure as fatal for
// the operation only when they have not yet mutated state; after the fact
// it is logged, never rolled back into.
func Transition(ctx context.Context, r Recorder, entityType, entityID, action, from, to, reason string) error {
	actorID, ip, requestID := fromCtx(ctx)
	return r.Record(ctx, &Entry{
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actorID,
		Action:     action,
		FromState:  from,
		ToState:    to,
		Reason:     reason,
		RequestID:  requestID,
		IPAddress:  ip,
		CreatedAt:  time.Now().UTC(),
	})
}

// Package authz provides capability-based authorization for escrow operations.
//
// Authorization model:
// - Every mutating operation requires an explicit capability on the caller.
// - Capabilities are attached to API keys and resolved once per request by
//   the middleware; services receive the resolved Actor and check it with
//   Actor.Can, never re-querying auth state mid-operation.
// - Denial is always an error surfaced to the caller, never a silent no-op.
package authz

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Errors
var (
	ErrNoAPIKey      = errors.New("API key required")
	ErrInvalidAPIKey = errors.New("invalid or expired API key")
	ErrForbidden     = errors.New("missing capability for this operation")
	ErrKeyNotFound   = errors.New("API key not found")
)

// Capability names a single permitted operation class.
type Capability string

const (
	CapVerifyPayment   Capability = "verify_payment"
	CapReleaseFunds    Capability = "release_funds"
	CapRefund          Capability = "refund_transaction"
	CapResolveDispute  Capability = "resolve_dispute"
	CapModerateReviews Capability = "moderate_reviews"
	CapViewAudit       Capability = "view_audit"
)

// AllCapabilities is the full staff capability set, granted to the
// bootstrap admin key.
var AllCapabilities = []Capability{
	CapVerifyPayment, CapReleaseFunds, CapRefund,
	CapResolveDispute, CapModerateReviews, CapViewAudit,
}

// Actor is the resolved caller identity passed down into services.
type Actor struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Capabilities []Capability `json:"capabilities"`
}

// Can reports whether the actor holds the capability.
func (a *Actor) Can(cap Capability) bool {
	if a == nil {
		return false
	}
	for _, c := range a.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Require returns a DeniedError unless the actor holds the capability.
func (a *Actor) Require(cap Capability) error {
	if a.Can(cap) {
		return nil
	}
	id := ""
	if a != nil {
		id = a.ID
	}
	return &DeniedError{ActorID: id, Capability: cap}
}

// DeniedError reports a failed capability check.
type DeniedError struct {
	ActorID    string
	Capability Capability
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("actor %q lacks capability %q", e.ActorID, e.Capability)
}

// Is lets errors.Is(err, ErrForbidden) match DeniedError.
func (e *DeniedError) Is(target error) bool { return target == ErrForbidden }

// APIKey is a stored credential carrying an actor's capability set.
type APIKey struct {
	ID           string       `json:"id"`
	Hash         string       `json:"-"` // SHA256 of the raw key
	ActorID      string       `json:"actorId"`
	ActorName    string       `json:"actorName"`
	Capabilities []Capability `json:"capabilities"`
	CreatedAt    time.Time    `json:"createdAt"`
	LastUsed     time.Time    `json:"lastUsed,omitempty"`
	ExpiresAt    *time.Time   `json:"expiresAt,omitempty"`
	Revoked      bool         `json:"revoked"`
}

// Actor converts the key into the request-scoped actor identity.
func (k *APIKey) Actor() *Actor {
	return &Actor{ID: k.ActorID, Name: k.ActorName, Capabilities: k.Capabilities}
}

// Store persists API keys.
type Store interface {
	Create(ctx context.Context, key *APIKey) error
	GetByHash(ctx context.Context, hash string) (*APIKey, error)
	GetByActor(ctx context.Context, actorID string) ([]*APIKey, error)
	Update(ctx context.Context, key *APIKey) error
	// Touch records key usage without rewriting any other field, so it
	// cannot race a concurrent revocation.
	Touch(ctx context.Context, hash string, usedAt time.Time) error
}

// Manager issues and validates API keys.
type Manager struct {
	store Store
}

// NewManager creates a new authorization manager.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// GenerateKey creates a new API key for an actor with the given capabilities.
// Returns the raw key, which is shown once and never stored.
func (m *Manager) GenerateKey(ctx context.Context, actorID, actorName string, caps []Capability) (rawKey string, key *APIKey, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, err
	}
	rawKey = "sk_" + hex.EncodeToString(b)

	key = &APIKey{
		ID:           "ak_" + hex.EncodeToString(b[:8]),
		Hash:         hashKey(rawKey),
		ActorID:      actorID,
		ActorName:    actorName,
		Capabilities: caps,
		CreatedAt:    time.Now().UTC(),
	}

	if err := m.store.Create(ctx, key); err != nil {
		return "", nil, err
	}
	return rawKey, key, nil
}

// ValidateKey resolves a raw API key into its stored record.
func (m *Manager) ValidateKey(ctx context.Context, rawKey string) (*APIKey, error) {
	if rawKey == "" {
		return nil, ErrNoAPIKey
	}

	rawKey = strings.TrimSpace(strings.TrimPrefix(rawKey, "Bearer "))
	if !strings.HasPrefix(rawKey, "sk_") {
		return nil, ErrInvalidAPIKey
	}

	key, err := m.store.GetByHash(ctx, hashKey(rawKey))
	if err != nil {
		return nil, ErrInvalidAPIKey
	}
	if key.Revoked {
		return nil, ErrInvalidAPIKey
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return nil, ErrInvalidAPIKey
	}

	// Update last used (fire and forget)
	go func() {
		_ = m.store.Touch(context.Background(), key.Hash, time.Now().UTC())
	}()

	return key, nil
}

// RevokeKey revokes one of an actor's API keys.
func (m *Manager) RevokeKey(ctx context.Context, keyID, actorID string) error {
	keys, err := m.store.GetByActor(ctx, actorID)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.ID == keyID {
			k.Revoked = true
			return m.store.Update(ctx, k)
		}
	}
	return ErrKeyNotFound
}

func hashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

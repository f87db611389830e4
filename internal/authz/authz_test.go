package authz

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestActor_Can(t *testing.T) {
	actor := &Actor{ID: "staff_1", Capabilities: []Capability{CapVerifyPayment, CapRefund}}

	if !actor.Can(CapVerifyPayment) {
		t.Error("expected actor to hold verify_payment")
	}
	if actor.Can(CapResolveDispute) {
		t.Error("expected actor to lack resolve_dispute")
	}

	var nobody *Actor
	if nobody.Can(CapVerifyPayment) {
		t.Error("nil actor must hold no capabilities")
	}
}

func TestActor_Require(t *testing.T) {
	actor := &Actor{ID: "staff_1", Capabilities: []Capability{CapModerateReviews}}

	if err := actor.Require(CapModerateReviews); err != nil {
		t.Fatalf("Require failed for held capability: %v", err)
	}

	err := actor.Require(CapReleaseFunds)
	if err == nil {
		t.Fatal("expected denial for missing capability")
	}
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("denial should match ErrForbidden, got %v", err)
	}
	var denied *DeniedError
	if !errors.As(err, &denied) || denied.Capability != CapReleaseFunds {
		t.Errorf("expected DeniedError naming release_funds, got %v", err)
	}
}

func TestManager_GenerateAndValidate(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	rawKey, key, err := m.GenerateKey(ctx, "staff_1", "Anna", []Capability{CapVerifyPayment})
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if key.Hash == rawKey {
		t.Fatal("raw key must not be stored verbatim")
	}

	got, err := m.ValidateKey(ctx, "Bearer "+rawKey)
	if err != nil {
		t.Fatalf("ValidateKey failed: %v", err)
	}
	if got.ActorID != "staff_1" || !got.Actor().Can(CapVerifyPayment) {
		t.Errorf("unexpected key metadata: %+v", got)
	}

	if _, err := m.ValidateKey(ctx, "sk_deadbeef"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("expected ErrInvalidAPIKey for unknown key, got %v", err)
	}
	if _, err := m.ValidateKey(ctx, ""); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey for empty key, got %v", err)
	}
}

func TestManager_RevokedAndExpiredKeys(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store)
	ctx := context.Background()

	rawKey, key, err := m.GenerateKey(ctx, "staff_1", "Anna", AllCapabilities)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	key.Revoked = true
	if err := store.Update(ctx, key); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if _, err := m.ValidateKey(ctx, rawKey); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("expected revoked key to be rejected, got %v", err)
	}

	rawKey2, key2, _ := m.GenerateKey(ctx, "staff_2", "Ben", AllCapabilities)
	past := time.Now().Add(-time.Hour)
	key2.ExpiresAt = &past
	if err := store.Update(ctx, key2); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if _, err := m.ValidateKey(ctx, rawKey2); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("expected expired key to be rejected, got %v", err)
	}
}

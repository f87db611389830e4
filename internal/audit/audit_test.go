package audit

import (
	"context"
	"testing"
)

func TestMemoryLog_RecordAndQuery(t *testing.T) {
	log := NewMemoryLog()
	ctx := WithActor(context.Background(), "staff_1")

	if err := Transition(ctx, log, "transaction", "txn_1", "verify_payment", "payment_pending", "payment_verified", "proof checked"); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if err := Transition(ctx, log, "transaction", "txn_1", "release_funds", "payment_verified", "completed", ""); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if err := Transition(ctx, log, "transaction", "txn_2", "refund", "payment_pending", "cancelled", "buyer withdrew"); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	entries, err := log.Query(context.Background(), "transaction", "txn_1", 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for txn_1, got %d", len(entries))
	}
	if entries[0].ActorID != "staff_1" {
		t.Errorf("expected actor staff_1, got %s", entries[0].ActorID)
	}
	if entries[0].FromState != "payment_pending" || entries[0].ToState != "payment_verified" {
		t.Errorf("unexpected first entry states: %s -> %s", entries[0].FromState, entries[0].ToState)
	}
	if entries[0].ID >= entries[1].ID {
		t.Errorf("entry IDs not monotonically increasing: %d, %d", entries[0].ID, entries[1].ID)
	}
}

func TestTransition_DefaultsToSystemActor(t *testing.T) {
	log := NewMemoryLog()

	if err := Transition(context.Background(), log, "review", "rev_1", "auto_verify", "", "", ""); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	entries, _ := log.Query(context.Background(), "review", "rev_1", 0)
	if len(entries) != 1 || entries[0].ActorID != "system" {
		t.Fatalf("expected one entry with system actor, got %+v", entries)
	}
}

package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventTransaction, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventTransaction, EventDispute},
	}}

	txEvent := &Event{Type: EventTransaction}
	disputeEvent := &Event{Type: EventDispute}
	reviewEvent := &Event{Type: EventReview}

	if !h.shouldSend(client, txEvent) {
		t.Error("Should receive transaction events")
	}
	if !h.shouldSend(client, disputeEvent) {
		t.Error("Should receive dispute events")
	}
	if h.shouldSend(client, reviewEvent) {
		t.Error("Should NOT receive review events")
	}
}

func TestShouldSend_UserFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		UserIDs: []string{"usr_1"},
	}}

	matchingBuyer := &Event{
		Type: EventTransaction,
		Data: map[string]any{"buyerId": "usr_1", "sellerId": "usr_2"},
	}
	notMatching := &Event{
		Type: EventTransaction,
		Data: map[string]any{"buyerId": "usr_8", "sellerId": "usr_9"},
	}
	matchingSeller := &Event{
		Type: EventTransaction,
		Data: map[string]any{"buyerId": "usr_9", "sellerId": "usr_1"},
	}
	matchingOpener := &Event{
		Type: EventDispute,
		Data: map[string]any{"openedBy": "usr_1"},
	}

	if !h.shouldSend(client, matchingBuyer) {
		t.Error("Should match on buyer")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated users")
	}
	if !h.shouldSend(client, matchingSeller) {
		t.Error("Should match on seller")
	}
	if !h.shouldSend(client, matchingOpener) {
		t.Error("Should match on dispute opener")
	}
}

func TestShouldSend_StatusFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Statuses: []string{"completed", "refunded"},
	}}

	completed := &Event{
		Type: EventTransaction,
		Data: map[string]any{"status": "completed"},
	}
	pending := &Event{
		Type: EventTransaction,
		Data: map[string]any{"status": "pending"},
	}

	if !h.shouldSend(client, completed) {
		t.Error("Should receive completed transitions")
	}
	if h.shouldSend(client, pending) {
		t.Error("Should NOT receive pending transitions")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{}}

	event := &Event{Type: EventReview, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription should receive everything")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_BroadcastToRegisteredClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 16),
		sub:  Subscription{AllEvents: true},
	}
	h.register <- client

	h.BroadcastTransaction(map[string]any{
		"transactionId": "txn_1",
		"status":        "completed",
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("expected serialized event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 16),
		sub:  Subscription{AllEvents: true},
	}
	h.register <- client

	cancel()

	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("expected send channel closed on shutdown")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for shutdown")
	}

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not signal done")
	}
}

func TestHub_StatsTrackClients(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 16)}
	h.register <- client

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Stats()["connectedClients"].(int) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := h.Stats()["connectedClients"].(int); got != 1 {
		t.Fatalf("expected 1 connected client, got %d", got)
	}

	h.unregister <- client
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Stats()["connectedClients"].(int) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("client was not unregistered")
}

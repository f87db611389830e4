//go:build integration

package transaction

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/mbd888/safetrade/internal/idgen"
)

func setupTestDB(t *testing.T) (*PostgresStore, func()) {
	t.Helper()

	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		t.Skip("POSTGRES_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	// Mirrors migrations/00001_create_transactions.sql
	_, err = db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			buyer_id TEXT NOT NULL,
			seller_id TEXT NOT NULL,
			dealer_id TEXT,
			vehicle_id TEXT NOT NULL,
			amount NUMERIC(14,2) NOT NULL CHECK (amount > 0),
			currency TEXT NOT NULL,
			commission_rate NUMERIC(6,3) NOT NULL,
			commission_amount NUMERIC(14,2) NOT NULL,
			service_fee NUMERIC(14,2) NOT NULL,
			dealer_commission NUMERIC(14,2) NOT NULL DEFAULT 0,
			payment_method TEXT,
			payment_reference TEXT NOT NULL,
			status TEXT NOT NULL,
			status_before_dispute TEXT,
			notes TEXT,
			payment_verified_by TEXT,
			payment_verified_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			cancelled_at TIMESTAMPTZ,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		t.Fatalf("Failed to create transactions table: %v", err)
	}

	cleanup := func() {
		_, _ = db.Exec("DELETE FROM transactions")
		_ = db.Close()
	}
	return NewPostgresStore(db), cleanup
}

func insertTestTransaction(t *testing.T, store *PostgresStore, status Status) *Transaction {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Microsecond)
	txn := &Transaction{
		ID:               idgen.WithPrefix("txn_"),
		Code:             idgen.Code("TXN-", 10),
		BuyerID:          "user_buyer",
		SellerID:         "user_seller",
		VehicleID:        "veh_1",
		Amount:           decimal.RequireFromString("10000.00"),
		Currency:         "EUR",
		CommissionRate:   decimal.RequireFromString("2.5"),
		CommissionAmount: decimal.RequireFromString("250.00"),
		ServiceFee:       decimal.RequireFromString("250.00"),
		DealerCommission: decimal.Zero,
		PaymentReference: idgen.Code("REF-", 12),
		Status:           status,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := store.Create(context.Background(), txn); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return txn
}

func TestPostgresStore_CreateAndGet(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	txn := insertTestTransaction(t, store, StatusPending)

	got, err := store.Get(ctx, txn.ID, false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Code != txn.Code || got.Status != StatusPending {
		t.Errorf("got code=%s status=%s", got.Code, got.Status)
	}
	if !got.Amount.Equal(txn.Amount) {
		t.Errorf("amount = %s, want %s", got.Amount, txn.Amount)
	}

	byCode, err := store.GetByCode(ctx, txn.Code)
	if err != nil {
		t.Fatalf("GetByCode: %v", err)
	}
	if byCode.ID != txn.ID {
		t.Errorf("GetByCode returned %s", byCode.ID)
	}
}

func TestPostgresStore_UpdateIfStatus(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	txn := insertTestTransaction(t, store, StatusPaymentVerified)

	// Matching expected status commits the swap.
	txn.Status = StatusCompleted
	now := time.Now().UTC()
	txn.CompletedAt = &now
	if err := store.UpdateIfStatus(ctx, txn, StatusPaymentVerified); err != nil {
		t.Fatalf("UpdateIfStatus: %v", err)
	}

	// A second caller that read payment_verified loses cleanly.
	stale := *txn
	stale.Status = StatusCancelled
	err := store.UpdateIfStatus(ctx, &stale, StatusPaymentVerified)
	if !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("stale swap error = %v, want ErrStatusConflict", err)
	}

	got, err := store.Get(ctx, txn.ID, false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}

	// Unknown IDs report not-found, not a conflict.
	missing := *txn
	missing.ID = "txn_missing"
	if err := store.UpdateIfStatus(ctx, &missing, StatusCompleted); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing id error = %v, want ErrNotFound", err)
	}
}

func TestPostgresStore_ArchiveExcludedFromReads(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	txn := insertTestTransaction(t, store, StatusCompleted)

	if err := store.Archive(ctx, txn.ID, time.Now().UTC()); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	if _, err := store.Get(ctx, txn.ID, false); !errors.Is(err, ErrNotFound) {
		t.Errorf("default read of archived row error = %v, want ErrNotFound", err)
	}
	if _, err := store.Get(ctx, txn.ID, true); err != nil {
		t.Errorf("audit read of archived row failed: %v", err)
	}
}

package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const transactionColumns = `id, code, buyer_id, seller_id, dealer_id, vehicle_id,
	amount, currency, commission_rate, commission_amount, service_fee, dealer_commission,
	payment_method, payment_reference, status, status_before_dispute, notes,
	payment_verified_by, payment_verified_at, completed_at, cancelled_at,
	active, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, t *Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`,
		t.ID, t.Code, t.BuyerID, t.SellerID, nullString(t.DealerID), t.VehicleID,
		t.Amount, t.Currency, t.CommissionRate, t.CommissionAmount, t.ServiceFee, t.DealerCommission,
		nullString(t.PaymentMethod), t.PaymentReference, t.Status, nullString(string(t.StatusBeforeDispute)), nullString(t.Notes),
		nullString(t.PaymentVerifiedBy), t.PaymentVerifiedAt, t.CompletedAt, t.CancelledAt,
		t.Active, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string, includeArchived bool) (*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	if !includeArchived {
		query += ` AND active`
	}
	return scanTransaction(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) GetByCode(ctx context.Context, code string) (*Transaction, error) {
	return scanTransaction(s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE code = $1 AND active`, code))
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter, offset, limit int) ([]*Transaction, int, error) {
	where := ` WHERE ($1 = '' OR status = $1)
		AND ($2 = '' OR buyer_id = $2 OR seller_id = $2 OR dealer_id = $2)
		AND ($3 OR active)`
	args := []any{string(filter.Status), filter.ParticipantID, filter.IncludeArchived}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions`+where+`
		ORDER BY created_at DESC, id LIMIT $4 OFFSET $5`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, t *Transaction) error {
	res, err := s.db.ExecContext(ctx, updateQuery, updateArgs(t)...)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return checkAffected(res)
}

// UpdateIfStatus persists the transaction only when the stored row still has
// one of the expected statuses. This is the compare-and-set behind fund
// release and refund mutual exclusion.
func (s *PostgresStore) UpdateIfStatus(ctx context.Context, t *Transaction, expect ...Status) error {
	states := make([]string, len(expect))
	for i, st := range expect {
		states[i] = string(st)
	}

	res, err := s.db.ExecContext(ctx, updateQuery+` AND status = ANY($19)`,
		append(updateArgs(t), pq.Array(states))...)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if err := checkAffected(res); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Row exists but the status guard failed, or the row is gone.
			var exists bool
			if qErr := s.db.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, t.ID).Scan(&exists); qErr == nil && exists {
				return ErrStatusConflict
			}
		}
		return err
	}
	return nil
}

func (s *PostgresStore) Archive(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET active = FALSE, updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to archive transaction: %w", err)
	}
	return checkAffected(res)
}

const updateQuery = `
	UPDATE transactions SET
		amount = $2, currency = $3, commission_rate = $4, commission_amount = $5,
		service_fee = $6, dealer_commission = $7, payment_method = $8,
		payment_reference = $9, status = $10, status_before_dispute = $11,
		notes = $12, payment_verified_by = $13, payment_verified_at = $14,
		completed_at = $15, cancelled_at = $16, active = $17, updated_at = $18
	WHERE id = $1`

func updateArgs(t *Transaction) []any {
	return []any{
		t.ID, t.Amount, t.Currency, t.CommissionRate, t.CommissionAmount,
		t.ServiceFee, t.DealerCommission, nullString(t.PaymentMethod),
		t.PaymentReference, t.Status, nullString(string(t.StatusBeforeDispute)),
		nullString(t.Notes), nullString(t.PaymentVerifiedBy), t.PaymentVerifiedAt,
		t.CompletedAt, t.CancelledAt, t.Active, t.UpdatedAt,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*Transaction, error) {
	var t Transaction
	var dealerID, paymentMethod, beforeDispute, notes, verifiedBy sql.NullString
	var verifiedAt, completedAt, cancelledAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.Code, &t.BuyerID, &t.SellerID, &dealerID, &t.VehicleID,
		&t.Amount, &t.Currency, &t.CommissionRate, &t.CommissionAmount, &t.ServiceFee, &t.DealerCommission,
		&paymentMethod, &t.PaymentReference, &t.Status, &beforeDispute, &notes,
		&verifiedBy, &verifiedAt, &completedAt, &cancelledAt,
		&t.Active, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	t.DealerID = dealerID.String
	t.PaymentMethod = paymentMethod.String
	t.StatusBeforeDispute = Status(beforeDispute.String)
	t.Notes = notes.String
	t.PaymentVerifiedBy = verifiedBy.String
	if verifiedAt.Valid {
		t.PaymentVerifiedAt = &verifiedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	if cancelledAt.Valid {
		t.CancelledAt = &cancelledAt.Time
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

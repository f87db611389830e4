package payment

import (
	"context"
	"database/sql"
	"fmt"
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

const paymentColumns = `id, transaction_id, amount, currency, method, bank_reference,
	proof_url, status, submitted_by, verified_by, verified_at, reject_reason,
	created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, p *Payment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.TransactionID, p.Amount, p.Currency, p.Method, nullString(p.BankReference),
		nullString(p.ProofURL), p.Status, p.SubmittedBy, nullString(p.VerifiedBy), p.VerifiedAt,
		nullString(p.RejectReason), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Payment, error) {
	return scanPayment(s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

func (s *PostgresStore) ListByTransaction(ctx context.Context, transactionID string) ([]*Payment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1 ORDER BY created_at, id`,
		transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()
	return collectPayments(rows)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status Status, offset, limit int) ([]*Payment, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payments WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count payments: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE status = $1
		ORDER BY created_at, id LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	out, err := collectPayments(rows)
	return out, total, err
}

func (s *PostgresStore) Update(ctx context.Context, p *Payment) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payments SET
			status = $2, verified_by = $3, verified_at = $4,
			reject_reason = $5, proof_url = $6, updated_at = $7
		WHERE id = $1`,
		p.ID, p.Status, nullString(p.VerifiedBy), p.VerifiedAt,
		nullString(p.RejectReason), nullString(p.ProofURL), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPayment(row scanner) (*Payment, error) {
	var p Payment
	var bankRef, proofURL, verifiedBy, rejectReason sql.NullString
	var verifiedAt sql.NullTime

	err := row.Scan(
		&p.ID, &p.TransactionID, &p.Amount, &p.Currency, &p.Method, &bankRef,
		&proofURL, &p.Status, &p.SubmittedBy, &verifiedBy, &verifiedAt, &rejectReason,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}

	p.BankReference = bankRef.String
	p.ProofURL = proofURL.String
	p.VerifiedBy = verifiedBy.String
	p.RejectReason = rejectReason.String
	if verifiedAt.Valid {
		p.VerifiedAt = &verifiedAt.Time
	}
	return &p, nil
}

func collectPayments(rows *sql.Rows) ([]*Payment, error) {
	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

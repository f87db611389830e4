package dispute

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mbd888/safetrade/internal/transaction"
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

const disputeColumns = `id, transaction_id, opened_by, respondent, reason, description,
	status, outcome, resolution_notes, resolved_by, resolved_at, assigned_to,
	created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, d *Dispute) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO disputes (`+disputeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		disputeArgs(d)...)
	if err != nil {
		return fmt.Errorf("failed to insert dispute: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Dispute, error) {
	return scanDispute(s.db.QueryRowContext(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id))
}

func (s *PostgresStore) GetOpenByTransaction(ctx context.Context, transactionID string) (*Dispute, error) {
	return scanDispute(s.db.QueryRowContext(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE transaction_id = $1 AND status IN ('open', 'investigating')
		ORDER BY created_at DESC LIMIT 1`, transactionID))
}

func (s *PostgresStore) List(ctx context.Context, status Status, offset, limit int) ([]*Dispute, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM disputes WHERE ($1 = '' OR status = $1)`, string(status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count disputes: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+disputeColumns+` FROM disputes WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`, string(status), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list disputes: %w", err)
	}
	defer rows.Close()

	out, err := collectDisputes(rows)
	return out, total, err
}

func (s *PostgresStore) ListByTransaction(ctx context.Context, transactionID string) ([]*Dispute, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+disputeColumns+` FROM disputes WHERE transaction_id = $1
		ORDER BY created_at DESC, id`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list disputes: %w", err)
	}
	defer rows.Close()
	return collectDisputes(rows)
}

func (s *PostgresStore) Update(ctx context.Context, d *Dispute) error {
	res, err := s.db.ExecContext(ctx, disputeUpdateQuery, disputeUpdateArgs(d)...)
	if err != nil {
		return fmt.Errorf("failed to update dispute: %w", err)
	}
	return checkDisputeAffected(res)
}

// ResolveJoint writes the resolved dispute and the settled transaction in a
// single database transaction. The UPDATE on the transactions row carries a
// status = 'dispute' guard; zero affected rows there rolls everything back
// with transaction.ErrStatusConflict.
func (s *PostgresStore) ResolveJoint(ctx context.Context, d *Dispute, txn *transaction.Transaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE transactions SET
			status = $2, status_before_dispute = NULL, completed_at = $3,
			cancelled_at = $4, updated_at = $5
		WHERE id = $1 AND status = 'dispute'`,
		txn.ID, txn.Status, txn.CompletedAt, txn.CancelledAt, txn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to settle transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return transaction.ErrStatusConflict
	}

	res, err = tx.ExecContext(ctx, disputeUpdateQuery, disputeUpdateArgs(d)...)
	if err != nil {
		return fmt.Errorf("failed to update dispute: %w", err)
	}
	if err := checkDisputeAffected(res); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *PostgresStore) AddEvidence(ctx context.Context, e *Evidence) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispute_evidence (id, dispute_id, submitted_by, url, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.DisputeID, e.SubmittedBy, nullString(e.URL), nullString(e.Note), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert evidence: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEvidence(ctx context.Context, disputeID string) ([]*Evidence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, dispute_id, submitted_by, url, note, created_at
		FROM dispute_evidence WHERE dispute_id = $1 ORDER BY created_at, id`, disputeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	defer rows.Close()

	var out []*Evidence
	for rows.Next() {
		var e Evidence
		var url, note sql.NullString
		if err := rows.Scan(&e.ID, &e.DisputeID, &e.SubmittedBy, &url, &note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan evidence: %w", err)
		}
		e.URL = url.String
		e.Note = note.String
		out = append(out, &e)
	}
	return out, rows.Err()
}

const disputeUpdateQuery = `
	UPDATE disputes SET
		status = $2, outcome = $3, resolution_notes = $4, resolved_by = $5,
		resolved_at = $6, assigned_to = $7, updated_at = $8
	WHERE id = $1`

func disputeUpdateArgs(d *Dispute) []any {
	return []any{
		d.ID, d.Status, nullString(string(d.Outcome)), nullString(d.ResolutionNotes),
		nullString(d.ResolvedBy), d.ResolvedAt, nullString(d.AssignedTo), d.UpdatedAt,
	}
}

func disputeArgs(d *Dispute) []any {
	return []any{
		d.ID, d.TransactionID, d.OpenedBy, d.Respondent, d.Reason, nullString(d.Description),
		d.Status, nullString(string(d.Outcome)), nullString(d.ResolutionNotes),
		nullString(d.ResolvedBy), d.ResolvedAt, nullString(d.AssignedTo),
		d.CreatedAt, d.UpdatedAt,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDispute(row scanner) (*Dispute, error) {
	var d Dispute
	var description, outcome, notes, resolvedBy, assignedTo sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&d.ID, &d.TransactionID, &d.OpenedBy, &d.Respondent, &d.Reason, &description,
		&d.Status, &outcome, &notes, &resolvedBy, &resolvedAt, &assignedTo,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan dispute: %w", err)
	}

	d.Description = description.String
	d.Outcome = Outcome(outcome.String)
	d.ResolutionNotes = notes.String
	d.ResolvedBy = resolvedBy.String
	d.AssignedTo = assignedTo.String
	if resolvedAt.Valid {
		d.ResolvedAt = &resolvedAt.Time
	}
	return &d, nil
}

func collectDisputes(rows *sql.Rows) ([]*Dispute, error) {
	var out []*Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func checkDisputeAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

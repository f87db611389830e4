package review

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

const reviewColumns = `id, transaction_id, vehicle_id, reviewer_id, reviewee_id, rating,
	content, status, verified, verified_by, verified_at, reject_reason, flag_count,
	created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, r *Review) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews (`+reviewColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.ID, r.TransactionID, r.VehicleID, r.ReviewerID, r.RevieweeID, r.Rating,
		r.Content, r.Status, r.Verified, nullString(r.VerifiedBy), r.VerifiedAt,
		nullString(r.RejectReason), r.FlagCount, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert review: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Review, error) {
	return scanReview(s.db.QueryRowContext(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE id = $1`, id))
}

func (s *PostgresStore) GetByTransactionAndReviewer(ctx context.Context, transactionID, reviewerID string) (*Review, error) {
	return scanReview(s.db.QueryRowContext(ctx, `
		SELECT `+reviewColumns+` FROM reviews
		WHERE transaction_id = $1 AND reviewer_id = $2`, transactionID, reviewerID))
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter, offset, limit int) ([]*Review, int, error) {
	where := ` WHERE ($1 = '' OR status = $1)
		AND ($2 = '' OR vehicle_id = $2)
		AND ($3 = '' OR reviewee_id = $3)
		AND ($4 = '' OR reviewer_id = $4)`
	args := []any{string(filter.Status), filter.VehicleID, filter.RevieweeID, filter.ReviewerID}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reviews`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count reviews: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reviewColumns+` FROM reviews`+where+`
		ORDER BY created_at DESC, id LIMIT $5 OFFSET $6`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	var out []*Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, r *Review) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reviews SET
			status = $2, verified = $3, verified_by = $4, verified_at = $5,
			reject_reason = $6, flag_count = $7, updated_at = $8
		WHERE id = $1`,
		r.ID, r.Status, r.Verified, nullString(r.VerifiedBy), r.VerifiedAt,
		nullString(r.RejectReason), r.FlagCount, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update review: %w", err)
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

func (s *PostgresStore) Stats(ctx context.Context, revieweeID string) (*Stats, error) {
	stats := &Stats{UserID: revieweeID}
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'approved'),
			COUNT(*) FILTER (WHERE status = 'rejected'),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'flagged'),
			COUNT(*) FILTER (WHERE verified),
			COUNT(*) FILTER (WHERE verified AND verified_by = 'auto'),
			AVG(rating) FILTER (WHERE status = 'approved')
		FROM reviews WHERE reviewee_id = $1`, revieweeID,
	).Scan(&stats.Total, &stats.Approved, &stats.Rejected, &stats.Pending,
		&stats.Flagged, &stats.Verified, &stats.AutoVerified, &avg)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate reviews: %w", err)
	}
	stats.AverageRating = avg.Float64
	return stats, nil
}

func (s *PostgresStore) GlobalStats(ctx context.Context) (*GlobalStats, error) {
	g := &GlobalStats{
		ByStatus: make(map[Status]int),
		ByMethod: make(map[string]int),
	}
	var approved, rejected, pending, flagged, auto, manual int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'approved'),
			COUNT(*) FILTER (WHERE status = 'rejected'),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'flagged'),
			COUNT(*) FILTER (WHERE verified),
			COUNT(*) FILTER (WHERE verified AND verified_by = 'auto'),
			COUNT(*) FILTER (WHERE verified AND verified_by = 'manual')
		FROM reviews`,
	).Scan(&g.Total, &approved, &rejected, &pending, &flagged, &g.Verified, &auto, &manual)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate reviews: %w", err)
	}
	g.ByStatus[StatusApproved] = approved
	g.ByStatus[StatusRejected] = rejected
	g.ByStatus[StatusPending] = pending
	g.ByStatus[StatusFlagged] = flagged
	g.ByMethod[VerifiedAuto] = auto
	g.ByMethod[VerifiedManual] = manual
	return g, nil
}

func (s *PostgresStore) AddFlag(ctx context.Context, f *Flag) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO review_flags (id, review_id, flagged_by, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		f.ID, f.ReviewID, f.FlaggedBy, f.Reason, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert flag: %w", err)
	}
	return nil
}

func (s *PostgresStore) HasFlagged(ctx context.Context, reviewID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM review_flags WHERE review_id = $1 AND flagged_by = $2)`,
		reviewID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check flags: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListFlags(ctx context.Context, reviewID string) ([]*Flag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, review_id, flagged_by, reason, created_at
		FROM review_flags WHERE review_id = $1 ORDER BY created_at, id`, reviewID)
	if err != nil {
		return nil, fmt.Errorf("failed to list flags: %w", err)
	}
	defer rows.Close()

	var out []*Flag
	for rows.Next() {
		var f Flag
		if err := rows.Scan(&f.ID, &f.ReviewID, &f.FlaggedBy, &f.Reason, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan flag: %w", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ClearFlags(ctx context.Context, reviewID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM review_flags WHERE review_id = $1`, reviewID)
	if err != nil {
		return fmt.Errorf("failed to clear flags: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReview(row scanner) (*Review, error) {
	var r Review
	var verifiedBy, rejectReason sql.NullString
	var verifiedAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.TransactionID, &r.VehicleID, &r.ReviewerID, &r.RevieweeID, &r.Rating,
		&r.Content, &r.Status, &r.Verified, &verifiedBy, &verifiedAt, &rejectReason,
		&r.FlagCount, &r.CreatedAt, &r.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan review: %w", err)
	}

	r.VerifiedBy = verifiedBy.String
	r.RejectReason = rejectReason.String
	if verifiedAt.Valid {
		r.VerifiedAt = &verifiedAt.Time
	}
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

package audit

import (
	"context"
	"database/sql"
)

// PostgresLog persists audit entries in PostgreSQL. The audit_entries table
// grants no UPDATE or DELETE to the application role; inserts only.
type PostgresLog struct {
	db *sql.DB
}

// NewPostgresLog creates a new PostgreSQL-backed audit recorder.
func NewPostgresLog(db *sql.DB) *PostgresLog {
	return &PostgresLog{db: db}
}

func (p *PostgresLog) Record(ctx context.Context, e *Entry) error {
	return p.db.QueryRowContext(ctx, `
		INSERT INTO audit_entries (
			entity_type, entity_id, actor_id, action,
			from_state, to_state, reason, request_id, ip_address, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		e.EntityType, e.EntityID, e.ActorID, e.Action,
		e.FromState, e.ToState, e.Reason, e.RequestID, e.IPAddress, e.CreatedAt,
	).Scan(&e.ID)
}

func (p *PostgresLog) Query(ctx context.Context, entityType, entityID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, actor_id, action,
		       from_state, to_state, reason, request_id, ip_address, created_at
		FROM audit_entries
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY id ASC
		LIMIT $3`, entityType, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(
			&e.ID, &e.EntityType, &e.EntityID, &e.ActorID, &e.Action,
			&e.FromState, &e.ToState, &e.Reason, &e.RequestID, &e.IPAddress, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

var _ Recorder = (*PostgresLog)(nil)

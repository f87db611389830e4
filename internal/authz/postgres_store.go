package authz

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists API keys in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed API key store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, k *APIKey) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO api_keys (
			id, hash, actor_id, actor_name, capabilities,
			created_at, last_used, expires_at, revoked
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		k.ID, k.Hash, k.ActorID, k.ActorName, pq.Array(capStrings(k.Capabilities)),
		k.CreatedAt, nullTime(k.LastUsed), k.ExpiresAt, k.Revoked,
	)
	return err
}

func (p *PostgresStore) GetByHash(ctx context.Context, hash string) (*APIKey, error) {
	return p.scanOne(p.db.QueryRowContext(ctx, `
		SELECT id, hash, actor_id, actor_name, capabilities, created_at, last_used, expires_at, revoked
		FROM api_keys WHERE hash = $1`, hash))
}

func (p *PostgresStore) GetByActor(ctx context.Context, actorID string) ([]*APIKey, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, hash, actor_id, actor_name, capabilities, created_at, last_used, expires_at, revoked
		FROM api_keys WHERE actor_id = $1 ORDER BY created_at DESC`, actorID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*APIKey
	for rows.Next() {
		k, err := p.scanOne(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, k)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, k *APIKey) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used = $1, revoked = $2 WHERE id = $3`,
		nullTime(k.LastUsed), k.Revoked, k.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrKeyNotFound
	}
	return nil
}

func (p *PostgresStore) Touch(ctx context.Context, hash string, usedAt time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used = $1 WHERE hash = $2`, usedAt, hash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrKeyNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func (p *PostgresStore) scanOne(s scanner) (*APIKey, error) {
	k := &APIKey{}
	var (
		caps     []string
		lastUsed sql.NullTime
	)
	err := s.Scan(&k.ID, &k.Hash, &k.ActorID, &k.ActorName, pq.Array(&caps),
		&k.CreatedAt, &lastUsed, &k.ExpiresAt, &k.Revoked)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	for _, c := range caps {
		k.Capabilities = append(k.Capabilities, Capability(c))
	}
	if lastUsed.Valid {
		k.LastUsed = lastUsed.Time
	}
	return k, nil
}

func capStrings(caps []Capability) []string {
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = string(c)
	}
	return out
}

// nullTime maps the zero time to NULL.
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

var _ Store = (*PostgresStore)(nil)

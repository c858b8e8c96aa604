package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// uniqueViolation is the SQLSTATE raised when the one-active-per-owner index
// rejects an insert.
const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	owner_id       TEXT NOT NULL,
	sandbox_id     TEXT NOT NULL,
	sandbox_name   TEXT NOT NULL,
	status         TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	expires_at     TIMESTAMPTZ NOT NULL,
	reclaimed_at   TIMESTAMPTZ,
	reclaim_reason TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS sessions_one_active_per_owner
	ON sessions (owner_id) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS sessions_sandbox_id ON sessions (sandbox_id);
CREATE INDEX IF NOT EXISTS sessions_active_expiry
	ON sessions (expires_at) WHERE status = 'active';
`

const sessionColumns = `id, owner_id, sandbox_id, sandbox_name, status,
	created_at, expires_at, reclaimed_at, reclaim_reason`

// PostgresStore keeps records in PostgreSQL. Exclusivity is enforced by a
// partial unique index, so several processes can share one database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to dsn and creates the schema if it is missing.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (p *PostgresStore) migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (p *PostgresStore) InsertActive(ctx context.Context, s *Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (id, owner_id, sandbox_id, sandbox_name, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.OwnerID, s.SandboxID, s.SandboxName, StatusActive, s.CreatedAt, s.ExpiresAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (p *PostgresStore) ActiveByOwner(ctx context.Context, owner string) (*Session, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE owner_id = $1 AND status = 'active'`, owner)
	return scanOne(row)
}

func (p *PostgresStore) BySandbox(ctx context.Context, sandboxID string) (*Session, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE sandbox_id = $1
		ORDER BY created_at DESC LIMIT 1`, sandboxID)
	return scanOne(row)
}

func (p *PostgresStore) MarkReclaimed(ctx context.Context, id string, at time.Time, reason ReclaimReason) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE sessions SET status = $2, reclaimed_at = $3, reclaim_reason = $4
		WHERE id = $1 AND status = 'active'`,
		id, StatusReclaimed, at, reason)
	if err != nil {
		return false, fmt.Errorf("failed to reclaim session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to reclaim session: %w", err)
	}
	return n == 1, nil
}

func (p *PostgresStore) ListActive(ctx context.Context) ([]Session, error) {
	return p.query(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE status = 'active' ORDER BY created_at`)
}

func (p *PostgresStore) ListExpired(ctx context.Context, now time.Time) ([]Session, error) {
	return p.query(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		WHERE status = 'active' AND expires_at <= $1 ORDER BY created_at`, now)
}

func (p *PostgresStore) ListByOwner(ctx context.Context, owner string) ([]Session, error) {
	return p.query(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE owner_id = $1 ORDER BY created_at`, owner)
}

func (p *PostgresStore) DeleteOwner(ctx context.Context, owner string) (int, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE owner_id = $1`, owner)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}
	return int(n), nil
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func (p *PostgresStore) query(ctx context.Context, query string, args ...any) ([]Session, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var result []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row *sql.Row) (*Session, error) {
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func scanSession(row scanner) (*Session, error) {
	var (
		s           Session
		reclaimedAt sql.NullTime
	)
	err := row.Scan(&s.ID, &s.OwnerID, &s.SandboxID, &s.SandboxName, &s.Status,
		&s.CreatedAt, &s.ExpiresAt, &reclaimedAt, &s.ReclaimReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	if reclaimedAt.Valid {
		s.ReclaimedAt = reclaimedAt.Time
	}
	return &s, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed limiter with a sliding failure window and lockout.
type PG struct {
	db     querier
	policy Policy
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a limiter over q (a *pgxpool.Pool in production).
func NewPG(q querier, p Policy) *PG {
	return &PG{db: q, policy: p}
}

// Allow reports whether (login, source) is currently unblocked.
func (l *PG) Allow(ctx context.Context, login string, source []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM login_attempts WHERE login=$1 AND source_hash=$2`
	var blockedUntil time.Time
	err := l.db.QueryRow(ctx, q, login, source).Scan(&blockedUntil)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	case err != nil:
		return false, 0, err
	}
	if wait := time.Until(blockedUntil); wait > 0 {
		return false, wait, nil
	}
	return true, 0, nil
}

// Success resets counters for (login, source).
func (l *PG) Success(ctx context.Context, login string, source []byte) error {
	const q = `
INSERT INTO login_attempts (login, source_hash, fail_count, blocked_until, updated_at)
VALUES ($1, $2, 0, 'epoch', now())
ON CONFLICT (login, source_hash)
DO UPDATE SET fail_count=0, blocked_until='epoch', updated_at=now()`
	_, err := l.db.Exec(ctx, q, login, source)
	return err
}

// Failure counts a failed attempt and blocks the pair once MaxFails is reached.
func (l *PG) Failure(ctx context.Context, login string, source []byte) (bool, time.Duration, error) {
	const q = `
INSERT INTO login_attempts (login, source_hash, fail_count, blocked_until, updated_at)
VALUES ($1, $2, 1, 'epoch', now())
ON CONFLICT (login, source_hash) DO UPDATE
SET
  fail_count = CASE WHEN EXCLUDED.updated_at - login_attempts.updated_at > $3::interval THEN 1 ELSE login_attempts.fail_count + 1 END,
  updated_at = now()
RETURNING fail_count`
	var fails int
	if err := l.db.QueryRow(ctx, q, login, source, l.policy.Window).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.policy.MaxFails {
		return false, 0, nil
	}
	const block = `UPDATE login_attempts SET blocked_until=$3 WHERE login=$1 AND source_hash=$2`
	if _, err := l.db.Exec(ctx, block, login, source, time.Now().Add(l.policy.BlockFor)); err != nil {
		return false, 0, err
	}
	return true, l.policy.BlockFor, nil
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	pkgcrypto "github.com/thecodingmachine/security.userfiledao/internal/crypto"
	"github.com/thecodingmachine/security.userfiledao/internal/convert"
	"github.com/thecodingmachine/security.userfiledao/internal/errs"
	"github.com/thecodingmachine/security.userfiledao/internal/model"
	"github.com/thecodingmachine/security.userfiledao/internal/repository"
)

// UserDirectory implements repository.Directory on PostgreSQL. Mutations are
// applied immediately, so Write has nothing to flush. Unlike the file backend
// it tracks issued tokens.
type UserDirectory struct{ db *DB }

var (
	_ repository.Directory   = (*UserDirectory)(nil)
	_ repository.TokenIssuer = (*UserDirectory)(nil)
)

// NewUserDirectory constructs a Postgres-backed directory.
func NewUserDirectory(db *DB) *UserDirectory { return &UserDirectory{db: db} }

// LookupByLogin selects a user by login.
func (d *UserDirectory) LookupByLogin(ctx context.Context, login string) (*model.UserRecord, error) {
	const q = `
SELECT login, password_hash, options
FROM users WHERE login=$1`
	return scanUser(d.db.Pool.QueryRow(ctx, q, login))
}

// LookupByID is LookupByLogin: ids are logins.
func (d *UserDirectory) LookupByID(ctx context.Context, id string) (*model.UserRecord, error) {
	return d.LookupByLogin(ctx, id)
}

// LookupByCredentials returns the user only if password verifies.
func (d *UserDirectory) LookupByCredentials(ctx context.Context, login, password string) (*model.UserRecord, error) {
	u, err := d.LookupByLogin(ctx, login)
	if err != nil {
		return nil, err
	}
	if u == nil {
		pkgcrypto.VerifyNothing(password)
		return nil, nil
	}
	if !pkgcrypto.VerifyPassword(password, u.EncodedPassword()) {
		return nil, nil
	}
	return u, nil
}

// LookupByToken returns the owner of an unexpired token.
func (d *UserDirectory) LookupByToken(ctx context.Context, token string) (*model.UserRecord, error) {
	const q = `
SELECT u.login, u.password_hash, u.options
FROM user_tokens t JOIN users u ON u.login = t.login
WHERE t.token_id=$1 AND t.expires_at > now()`
	return scanUser(d.db.Pool.QueryRow(ctx, q, token))
}

// DiscardToken deletes a token; unknown tokens are ignored.
func (d *UserDirectory) DiscardToken(ctx context.Context, token string) error {
	const q = `DELETE FROM user_tokens WHERE token_id=$1`
	_, err := d.db.Pool.Exec(ctx, q, token)
	return err
}

// IssueToken records a token for login.
func (d *UserDirectory) IssueToken(ctx context.Context, login, tokenID string, expiresAt time.Time) error {
	const q = `
INSERT INTO user_tokens (token_id, login, expires_at)
VALUES ($1, $2, $3)`
	_, err := d.db.Pool.Exec(ctx, q, tokenID, login, expiresAt)
	switch pgCode(err) {
	case codeForeignKeyViolation:
		return fmt.Errorf("issue token: unknown login %q", login)
	case codeUniqueViolation:
		return fmt.Errorf("issue token: token id %q already issued", tokenID)
	}
	return err
}

// RegisterUser inserts or replaces a user row.
func (d *UserDirectory) RegisterUser(ctx context.Context, u *model.UserRecord) error {
	if u == nil {
		return errors.New("nil user")
	}
	opts, err := encodeOptions(u)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO users (login, password_hash, options)
VALUES ($1, $2, $3)
ON CONFLICT (login) DO UPDATE SET password_hash=EXCLUDED.password_hash, options=EXCLUDED.options`
	_, err = d.db.Pool.Exec(ctx, q, u.Login(), u.EncodedPassword(), opts)
	return err
}

// RemoveUser deletes a user and its tokens.
func (d *UserDirectory) RemoveUser(ctx context.Context, login string) error {
	const q = `DELETE FROM users WHERE login=$1`
	_, err := d.db.Pool.Exec(ctx, q, login)
	return err
}

// Write is a no-op: every mutation is already committed.
func (d *UserDirectory) Write(context.Context) error { return nil }

// IsAvailable pings the database.
func (d *UserDirectory) IsAvailable(ctx context.Context) bool {
	return d.db.Pool.Ping(ctx) == nil
}

func scanUser(row pgx.Row) (*model.UserRecord, error) {
	var (
		login, hash string
		raw         []byte
	)
	if err := row.Scan(&login, &hash, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var v any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode options of %q: %w", login, err)
		}
	}
	opts, err := convert.ToValue(v)
	if err != nil {
		return nil, fmt.Errorf("options of %q: %w", login, err)
	}
	return model.NewUserRecord(login, hash, opts), nil
}

// encodeOptions renders options as jsonb text; nil options become SQL NULL.
func encodeOptions(u *model.UserRecord) ([]byte, error) {
	v, err := convert.FromValue(u.Options())
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrSerialization, err)
	}
	return b, nil
}

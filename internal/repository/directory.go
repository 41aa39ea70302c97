// Package repository defines the user directory capability implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/thecodingmachine/security.userfiledao/internal/model"
)

// Directory is the capability set consumed by the authentication layer.
// Lookups return (nil, nil) when nothing matches; a miss is not an error.
type Directory interface {
	// LookupByID returns a user by identity.
	LookupByID(ctx context.Context, id string) (*model.UserRecord, error)
	// LookupByLogin returns a user by login.
	LookupByLogin(ctx context.Context, login string) (*model.UserRecord, error)
	// LookupByCredentials returns the user only if password matches its stored hash.
	// Unknown login and wrong password are indistinguishable.
	LookupByCredentials(ctx context.Context, login, password string) (*model.UserRecord, error)
	// LookupByToken returns the user owning a live token.
	LookupByToken(ctx context.Context, token string) (*model.UserRecord, error)
	// DiscardToken revokes a token.
	DiscardToken(ctx context.Context, token string) error
	// RegisterUser inserts or replaces the user keyed by its login.
	RegisterUser(ctx context.Context, u *model.UserRecord) error
	// RemoveUser deletes a user; removing an unknown login is a no-op.
	RemoveUser(ctx context.Context, login string) error
	// Write persists pending changes.
	Write(ctx context.Context) error
	// IsAvailable reports whether the backing store can currently be read.
	IsAvailable(ctx context.Context) bool
}

// TokenIssuer is implemented by backends that track issued tokens.
type TokenIssuer interface {
	// IssueToken records tokenID as belonging to login until expiresAt.
	IssueToken(ctx context.Context, login, tokenID string, expiresAt time.Time) error
}

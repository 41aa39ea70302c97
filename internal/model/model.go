// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	pkgcrypto "github.com/thecodingmachine/security.userfiledao/internal/crypto"
	"github.com/thecodingmachine/security.userfiledao/internal/convert"
	"google.golang.org/protobuf/types/known/structpb"
)

// UserRecord is one user as stored by a directory: login, password hash and
// free-form options. The plaintext password is never kept.
type UserRecord struct {
	login        string
	passwordHash string
	options      *structpb.Value // nil means null
}

// NewUserRecord builds a record from already-hashed data (as read from storage).
func NewUserRecord(login, passwordHash string, options *structpb.Value) *UserRecord {
	return &UserRecord{login: login, passwordHash: passwordHash, options: options}
}

// ID returns the user identity. Logins double as ids.
func (u *UserRecord) ID() string { return u.login }

// Login returns the user login.
func (u *UserRecord) Login() string { return u.login }

// EncodedPassword returns the stored hash, or "" if none was set.
func (u *UserRecord) EncodedPassword() string { return u.passwordHash }

// Options returns the options value as stored. It is not copied.
func (u *UserRecord) Options() *structpb.Value { return u.options }

// SetLogin replaces the login.
func (u *UserRecord) SetLogin(login string) { u.login = login }

// SetOptions replaces the options value.
func (u *UserRecord) SetOptions(options *structpb.Value) { u.options = options }

// SetOptionsAny converts v (maps, slices, scalars) and stores it as options.
func (u *UserRecord) SetOptionsAny(v any) error {
	opts, err := convert.ToValue(v)
	if err != nil {
		return err
	}
	u.options = opts
	return nil
}

// SetClearTextPassword hashes password with a fresh salt and stores the hash.
func (u *UserRecord) SetClearTextPassword(password string) error {
	h, err := pkgcrypto.HashPassword(password)
	if err != nil {
		return err
	}
	u.passwordHash = h
	return nil
}

// CheckPassword reports whether password matches the stored hash.
func (u *UserRecord) CheckPassword(password string) bool {
	return pkgcrypto.VerifyPassword(password, u.passwordHash)
}

// Tokens collects an issued access token.
type Tokens struct {
	AccessToken string
	TokenID     string    // jti, used for revocation
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}

package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/thecodingmachine/security.userfiledao/internal/errs"
	"github.com/thecodingmachine/security.userfiledao/internal/limiter"
	"github.com/thecodingmachine/security.userfiledao/internal/model"
	"github.com/thecodingmachine/security.userfiledao/internal/repository"
	"github.com/thecodingmachine/security.userfiledao/internal/repository/file"
)

// fakeTokenDir is an in-memory directory that tracks tokens.
type fakeTokenDir struct {
	users  map[string]*model.UserRecord
	tokens map[string]string

	issueErr error
	writes   int
}

var (
	_ repository.Directory   = (*fakeTokenDir)(nil)
	_ repository.TokenIssuer = (*fakeTokenDir)(nil)
)

func newFakeTokenDir() *fakeTokenDir {
	return &fakeTokenDir{users: map[string]*model.UserRecord{}, tokens: map[string]string{}}
}

func (f *fakeTokenDir) LookupByID(ctx context.Context, id string) (*model.UserRecord, error) {
	return f.LookupByLogin(ctx, id)
}
func (f *fakeTokenDir) LookupByLogin(_ context.Context, login string) (*model.UserRecord, error) {
	return f.users[login], nil
}
func (f *fakeTokenDir) LookupByCredentials(_ context.Context, login, password string) (*model.UserRecord, error) {
	u := f.users[login]
	if u == nil || !u.CheckPassword(password) {
		return nil, nil
	}
	return u, nil
}
func (f *fakeTokenDir) LookupByToken(_ context.Context, token string) (*model.UserRecord, error) {
	login, ok := f.tokens[token]
	if !ok {
		return nil, nil
	}
	return f.users[login], nil
}
func (f *fakeTokenDir) DiscardToken(_ context.Context, token string) error {
	delete(f.tokens, token)
	return nil
}
func (f *fakeTokenDir) IssueToken(_ context.Context, login, tokenID string, _ time.Time) error {
	if f.issueErr != nil {
		return f.issueErr
	}
	f.tokens[tokenID] = login
	return nil
}
func (f *fakeTokenDir) RegisterUser(_ context.Context, u *model.UserRecord) error {
	f.users[u.Login()] = u
	return nil
}
func (f *fakeTokenDir) RemoveUser(_ context.Context, login string) error {
	delete(f.users, login)
	return nil
}
func (f *fakeTokenDir) Write(context.Context) error { f.writes++; return nil }
func (f *fakeTokenDir) IsAvailable(context.Context) bool { return true }

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool

	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	return l.allowOK, time.Minute, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return nil
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, nil
}

func newFileDir(t *testing.T) *file.UserDirectory {
	t.Helper()
	d, err := file.New(filepath.Join(t.TempDir(), "users.json"))
	require.NoError(t, err)
	return d
}

func TestAuth_Register_FileBackend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := newFileDir(t)
	s := NewAuthService(dir, []byte("k"), time.Minute, &fakeLimiter{allowOK: true}, zaptest.NewLogger(t))

	require.Error(t, s.Register(ctx, "", "pwd", nil))
	require.Error(t, s.Register(ctx, "alice", "", nil))

	require.NoError(t, s.Register(ctx, "alice", "pwd", map[string]any{"role": "admin"}))
	require.NoError(t, s.Register(ctx, "bob", "pwd", nil))
	require.ErrorIs(t, s.Register(ctx, "alice", "other", nil), errs.ErrAlreadyExists)
	require.ErrorIs(t, s.Register(ctx, "carol", "pwd", func() {}), errs.ErrSerialization)

	fresh, err := file.New(dir.Path())
	require.NoError(t, err)
	logins, err := fresh.Logins(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, logins)

	u, err := fresh.LookupByCredentials(ctx, "alice", "pwd")
	require.NoError(t, err)
	require.NotNil(t, u)
	require.Equal(t, "admin", u.Options().GetStructValue().GetFields()["role"].GetStringValue())
}

func TestAuth_Login_RateLimiterAndCreds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := newFakeTokenDir()
	u := model.NewUserRecord("alice", "", nil)
	require.NoError(t, u.SetClearTextPassword("correct"))
	require.NoError(t, dir.RegisterUser(ctx, u))

	lim := &fakeLimiter{allowOK: true}
	s := NewAuthService(dir, []byte("secret"), 2*time.Minute, lim, zaptest.NewLogger(t))

	lim.allowErr = errors.New("lim-err")
	_, _, err := s.Login(ctx, "alice", "correct", "1.2.3.4")
	require.Error(t, err)
	lim.allowErr = nil

	lim.allowOK = false
	_, _, err = s.Login(ctx, "alice", "correct", "1.2.3.4")
	require.ErrorIs(t, err, errs.ErrRateLimited)
	lim.allowOK = true

	_, _, err = s.Login(ctx, "nope", "x", "")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	_, _, err = s.Login(ctx, "alice", "wrong", "")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	require.Equal(t, 2, lim.failureCalls)

	lim.failBlocked = true
	_, _, err = s.Login(ctx, "alice", "wrong", "")
	require.ErrorIs(t, err, errs.ErrRateLimited)
	lim.failBlocked = false

	tok, got, err := s.Login(ctx, "alice", "correct", "127.0.0.1:123")
	require.NoError(t, err)
	require.Equal(t, "alice", got.Login())
	require.NotEmpty(t, tok.AccessToken)
	require.True(t, tok.ExpiresAt.After(time.Now()))
	require.Equal(t, 1, lim.successCalls)
	require.Equal(t, "alice", dir.tokens[tok.TokenID])

	dir.issueErr = errors.New("db down")
	_, _, err = s.Login(ctx, "alice", "correct", "")
	require.Error(t, err)
}

func TestAuth_Resolve_And_Logout_TokenBackend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := newFakeTokenDir()
	u := model.NewUserRecord("alice", "", nil)
	require.NoError(t, u.SetClearTextPassword("p"))
	require.NoError(t, dir.RegisterUser(ctx, u))
	s := NewAuthService(dir, []byte("k"), time.Minute, &fakeLimiter{allowOK: true}, nil)

	tok, _, err := s.Login(ctx, "alice", "p", "")
	require.NoError(t, err)

	got, err := s.Resolve(ctx, tok.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "alice", got.Login())

	require.NoError(t, s.Logout(ctx, tok.AccessToken))
	_, err = s.Resolve(ctx, tok.AccessToken)
	require.ErrorIs(t, err, errs.ErrInvalidToken)
}

func TestAuth_Resolve_FileBackend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := newFileDir(t)
	s := NewAuthService(dir, []byte("k"), time.Minute, limiter.NewMemory(limiter.DefaultPolicy), zaptest.NewLogger(t))
	require.NoError(t, s.Register(ctx, "alice", "p", nil))

	tok, _, err := s.Login(ctx, "alice", "p", "")
	require.NoError(t, err)

	got, err := s.Resolve(ctx, tok.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "alice", got.Login())

	require.ErrorIs(t, s.Logout(ctx, tok.AccessToken), errs.ErrUnsupported)

	require.NoError(t, dir.RemoveUser(ctx, "alice"))
	_, err = s.Resolve(ctx, tok.AccessToken)
	require.ErrorIs(t, err, errs.ErrInvalidToken)
}

func TestAuth_Resolve_RejectsBadTokens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := newFakeTokenDir()
	s := NewAuthService(dir, []byte("k"), time.Minute, &fakeLimiter{allowOK: true}, nil)

	_, err := s.Resolve(ctx, "garbage")
	require.ErrorIs(t, err, errs.ErrInvalidToken)

	other := NewAuthService(dir, []byte("other-key"), time.Minute, &fakeLimiter{allowOK: true}, nil)
	tok, err := other.issueAccessToken("alice")
	require.NoError(t, err)
	_, err = s.Resolve(ctx, tok.AccessToken)
	require.ErrorIs(t, err, errs.ErrInvalidToken)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        "x",
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	signed, err := expired.SignedString([]byte("k"))
	require.NoError(t, err)
	_, err = s.Resolve(ctx, signed)
	require.ErrorIs(t, err, errs.ErrInvalidToken)

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ID: "x", Subject: "alice"})
	signed, err = noExp.SignedString([]byte("k"))
	require.NoError(t, err)
	_, err = s.Resolve(ctx, signed)
	require.ErrorIs(t, err, errs.ErrInvalidToken)

	require.ErrorIs(t, s.Logout(ctx, "garbage"), errs.ErrInvalidToken)
}

// Package service contains the authentication service built on a user directory.
package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/thecodingmachine/security.userfiledao/internal/errs"
	"github.com/thecodingmachine/security.userfiledao/internal/limiter"
	"github.com/thecodingmachine/security.userfiledao/internal/model"
	"github.com/thecodingmachine/security.userfiledao/internal/repository"
)

// AuthService defines registration and token-based authentication.
type AuthService interface {
	// Register adds a new user and persists the directory.
	Register(ctx context.Context, login, password string, options any) error
	// Login applies rate-limiting, checks credentials and issues an access token.
	Login(ctx context.Context, login, password, source string) (model.Tokens, *model.UserRecord, error)
	// Resolve returns the user an access token was issued to.
	Resolve(ctx context.Context, accessToken string) (*model.UserRecord, error)
	// Logout revokes an access token on directories that track tokens.
	Logout(ctx context.Context, accessToken string) error
}

type AuthServiceImpl struct {
	dir       repository.Directory
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
	log       *zap.Logger
}

var _ AuthService = (*AuthServiceImpl)(nil)

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(dir repository.Directory, signKey []byte, accessTTL time.Duration, lim limiter.Limiter, log *zap.Logger) *AuthServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthServiceImpl{dir: dir, signKey: signKey, accessTTL: accessTTL, lim: lim, log: log}
}

// Register hashes password, stores the user and writes the directory.
// The store is loaded first so existing users survive the write; a store that
// does not exist yet is created.
func (s *AuthServiceImpl) Register(ctx context.Context, login, password string, options any) error {
	if login == "" || password == "" {
		return errors.New("empty login/password")
	}
	existing, err := s.dir.LookupByLogin(ctx, login)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if existing != nil {
		return fmt.Errorf("user %q: %w", login, errs.ErrAlreadyExists)
	}

	u := model.NewUserRecord(login, "", nil)
	if err := u.SetClearTextPassword(password); err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := u.SetOptionsAny(options); err != nil {
		return err
	}
	if err := s.dir.RegisterUser(ctx, u); err != nil {
		return err
	}
	if err := s.dir.Write(ctx); err != nil {
		return err
	}
	s.log.Info("user registered", zap.String("login", login))
	return nil
}

// Login authenticates with rate limiting by (login, source).
func (s *AuthServiceImpl) Login(ctx context.Context, login, password, source string) (model.Tokens, *model.UserRecord, error) {
	src := limiter.HashSource(source)

	allowed, retry, err := s.lim.Allow(ctx, login, src)
	if err != nil {
		return model.Tokens{}, nil, err
	}
	if !allowed {
		s.log.Warn("login blocked", zap.String("login", login), zap.Duration("retry_after", retry))
		return model.Tokens{}, nil, errs.ErrRateLimited
	}

	u, err := s.dir.LookupByCredentials(ctx, login, password)
	if err != nil {
		return model.Tokens{}, nil, err
	}
	if u == nil {
		if blocked, _, ferr := s.lim.Failure(ctx, login, src); ferr == nil && blocked {
			s.log.Warn("login locked out", zap.String("login", login))
			return model.Tokens{}, nil, errs.ErrRateLimited
		}
		// unknown login and wrong password look the same
		return model.Tokens{}, nil, errs.ErrUnauthorized
	}

	// best-effort
	_ = s.lim.Success(ctx, login, src)

	tok, err := s.issueAccessToken(u.Login())
	if err != nil {
		return model.Tokens{}, nil, err
	}
	if ti, ok := s.dir.(repository.TokenIssuer); ok {
		if err := ti.IssueToken(ctx, u.Login(), tok.TokenID, tok.ExpiresAt); err != nil {
			return model.Tokens{}, nil, fmt.Errorf("record token: %w", err)
		}
	}
	s.log.Info("login", zap.String("login", u.Login()), zap.Time("expires_at", tok.ExpiresAt))
	return tok, u, nil
}

// Resolve verifies accessToken and loads its user. Token-tracking directories
// are consulted by token id so revoked tokens stop resolving.
func (s *AuthServiceImpl) Resolve(ctx context.Context, accessToken string) (*model.UserRecord, error) {
	claims, err := s.parseToken(accessToken)
	if err != nil {
		return nil, err
	}

	var u *model.UserRecord
	if _, ok := s.dir.(repository.TokenIssuer); ok {
		u, err = s.dir.LookupByToken(ctx, claims.ID)
	} else {
		u, err = s.dir.LookupByID(ctx, claims.Subject)
	}
	if err != nil {
		return nil, err
	}
	if u == nil || u.Login() != claims.Subject {
		return nil, errs.ErrInvalidToken
	}
	return u, nil
}

// Logout discards the token id of accessToken. Directories without token
// support return errs.ErrUnsupported.
func (s *AuthServiceImpl) Logout(ctx context.Context, accessToken string) error {
	claims, err := s.parseToken(accessToken)
	if err != nil {
		return err
	}
	return s.dir.DiscardToken(ctx, claims.ID)
}

// issueAccessToken creates a signed HS256 JWT for login with a random jti.
func (s *AuthServiceImpl) issueAccessToken(login string) (model.Tokens, error) {
	jti, err := uuid.NewV4()
	if err != nil {
		return model.Tokens{}, err
	}
	now := time.Now()
	exp := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		ID:        jti.String(),
		Subject:   login,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: signed, TokenID: jti.String(), ExpiresAt: exp}, nil
}

// parseToken verifies signature, algorithm and expiry.
func (s *AuthServiceImpl) parseToken(tok string) (*jwt.RegisteredClaims, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	}, jwt.WithLeeway(30*time.Second), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing sub/jti", errs.ErrInvalidToken)
	}
	return &claims, nil
}

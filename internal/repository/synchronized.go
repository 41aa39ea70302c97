package repository

import (
	"context"
	"sync"

	"github.com/thecodingmachine/security.userfiledao/internal/model"
)

// Synchronized serializes all calls to a Directory that is not safe for
// concurrent use (the file backend). TokenIssuer is not forwarded.
type Synchronized struct {
	mu  sync.Mutex
	dir Directory
}

// NewSynchronized wraps dir with a mutex.
func NewSynchronized(dir Directory) *Synchronized {
	return &Synchronized{dir: dir}
}

var _ Directory = (*Synchronized)(nil)

func (s *Synchronized) LookupByID(ctx context.Context, id string) (*model.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir.LookupByID(ctx, id)
}

func (s *Synchronized) LookupByLogin(ctx context.Context, login string) (*model.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir.LookupByLogin(ctx, login)
}

func (s *Synchronized) LookupByCredentials(ctx context.Context, login, password string) (*model.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir.LookupByCredentials(ctx, login, password)
}

func (s *Synchronized) LookupByToken(ctx context.Context, token string) (*model.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir.LookupByToken(ctx, token)
}

func (s *Synchronized) DiscardToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir.DiscardToken(ctx, token)
}

func (s *Synchronized) RegisterUser(ctx context.Context, u *model.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir.RegisterUser(ctx, u)
}

func (s *Synchronized) RemoveUser(ctx context.Context, login string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir.RemoveUser(ctx, login)
}

func (s *Synchronized) Write(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir.Write(ctx)
}

func (s *Synchronized) IsAvailable(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir.IsAvailable(ctx)
}

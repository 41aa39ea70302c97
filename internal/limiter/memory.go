package limiter

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process limiter for deployments without a database
// (the file-backed directory). State is lost on restart.
type Memory struct {
	mu     sync.Mutex
	policy Policy
	now    func() time.Time
	state  map[string]*attempts

	lastPrune time.Time
}

type attempts struct {
	fails        int
	lastFailure  time.Time
	blockedUntil time.Time
}

// NewMemory constructs an in-memory limiter.
func NewMemory(p Policy) *Memory {
	return &Memory{policy: p, now: time.Now, state: make(map[string]*attempts)}
}

func key(login string, source []byte) string { return login + "\x00" + string(source) }

// Allow reports whether (login, source) is currently unblocked.
func (m *Memory) Allow(_ context.Context, login string, source []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.state[key(login, source)]
	if !ok {
		return true, 0, nil
	}
	if wait := a.blockedUntil.Sub(m.now()); wait > 0 {
		return false, wait, nil
	}
	return true, 0, nil
}

// Success forgets the pair.
func (m *Memory) Success(_ context.Context, login string, source []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, key(login, source))
	return nil
}

// Failure counts a failed attempt and blocks the pair once MaxFails is reached.
func (m *Memory) Failure(_ context.Context, login string, source []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastPrune) >= m.policy.Window {
		m.prune(now)
	}
	k := key(login, source)
	a, ok := m.state[k]
	if !ok {
		a = &attempts{}
		m.state[k] = a
	}
	if now.Sub(a.lastFailure) > m.policy.Window {
		a.fails = 0
	}
	a.fails++
	a.lastFailure = now
	if a.fails < m.policy.MaxFails {
		return false, 0, nil
	}
	a.blockedUntil = now.Add(m.policy.BlockFor)
	return true, m.policy.BlockFor, nil
}

// prune drops pairs whose failures fell out of the window and whose block,
// if any, has expired. Callers hold mu.
func (m *Memory) prune(now time.Time) {
	for k, a := range m.state {
		if now.Sub(a.lastFailure) > m.policy.Window && !a.blockedUntil.After(now) {
			delete(m.state, k)
		}
	}
	m.lastPrune = now
}

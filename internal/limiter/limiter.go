// Package limiter throttles repeated failed logins per (login, source) pair.
package limiter

import (
	"context"
	"crypto/sha256"
	"time"
)

// Limiter controls login attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether a login attempt may proceed and, if not, for how long it is blocked.
	Allow(ctx context.Context, login string, source []byte) (bool, time.Duration, error)
	// Success clears the failure history after a successful login.
	Success(ctx context.Context, login string, source []byte) error
	// Failure records a failed attempt and reports whether the pair is now blocked.
	Failure(ctx context.Context, login string, source []byte) (bool, time.Duration, error)
}

// Policy holds the lockout thresholds shared by all implementations.
type Policy struct {
	Window   time.Duration // failures older than this are forgotten
	MaxFails int           // failures within Window that trigger a block
	BlockFor time.Duration
}

// DefaultPolicy blocks for 15 minutes after 5 failures in 15 minutes.
var DefaultPolicy = Policy{Window: 15 * time.Minute, MaxFails: 5, BlockFor: 15 * time.Minute}

// HashSource returns a stable hash of a client address so raw IPs are never stored.
func HashSource(addr string) []byte {
	h := sha256.Sum256([]byte(addr))
	return h[:]
}

// Package crypto implements password hashing and verification for stored users.
package crypto

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Cost is the bcrypt work factor used for new hashes.
var Cost = bcrypt.DefaultCost

// HashPassword returns a self-describing bcrypt hash ($2a$<cost>$<salt+digest>)
// of password. Each call draws a fresh random salt.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), Cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// VerifyPassword reports whether password matches the stored hash.
// A malformed or empty hash never matches.
func VerifyPassword(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// dummyHash is compared against when no user exists, at the current Cost.
var dummyHash = sync.OnceValue(func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("no such user"), Cost)
	if err != nil {
		panic(err)
	}
	return h
})

// VerifyNothing spends the same bcrypt work as VerifyPassword for a login that
// does not exist, so unknown logins and wrong passwords take equally long.
func VerifyNothing(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
}

// HashCost returns the cost parameter embedded in hash.
func HashCost(hash string) (int, error) {
	return bcrypt.Cost([]byte(hash))
}

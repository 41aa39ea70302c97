// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Storage sentinels returned by directory backends.
var (
	// ErrStorageUnavailable indicates the backing store is missing or unreadable at load time.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotWritable indicates the backing file or its directory cannot be written.
	ErrNotWritable = errors.New("storage not writable")

	// ErrUnsupported indicates the backend does not implement the operation.
	ErrUnsupported = errors.New("unsupported operation")

	// ErrSerialization indicates a value cannot be represented in the storage format.
	ErrSerialization = errors.New("serialization error")
)

// Service sentinels.
var (
	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates the login is already taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidToken indicates a malformed, expired or revoked access token.
	ErrInvalidToken = errors.New("invalid token")
)

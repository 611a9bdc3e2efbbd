package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrIdempotencyKeyRequired occurs when a replay-protected request carries no key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key required")
)

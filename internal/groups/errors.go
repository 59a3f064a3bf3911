package groups

import "errors"

var (
	// ErrInvalidRequest indicates the caller supplied missing or malformed input.
	ErrInvalidRequest = errors.New("invalid group request")
	// ErrNotFound indicates no live group matches the invite code or identifier.
	ErrNotFound = errors.New("group not found")
	// ErrCodeSpaceExhausted indicates every generated invite code collided
	// within the bounded retry budget.
	ErrCodeSpaceExhausted = errors.New("invite code space exhausted")
)

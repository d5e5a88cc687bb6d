package domain

import "errors"

// Sentinel errors shared across packages. Wrap with fmt.Errorf("pkg: op: %w", err)
// so callers can test with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrWSDisconnect = errors.New("websocket disconnected")

	// ErrStoreClosed is returned to blocked readers when the store shuts down.
	ErrStoreClosed = errors.New("state store closed")

	// ErrNoUpdate signals that a blocking read timed out without a mutation
	// of the requested key. It is an expected outcome, not a failure.
	ErrNoUpdate = errors.New("no update before timeout")
)

package domain

import "errors"

// Sentinel errors for the refund workflow. Handlers map these onto HTTP status
// codes; everything else is treated as an internal error.
var (
	// ErrUnauthorized means the actor has no valid session.
	ErrUnauthorized = errors.New("no valid session")

	// ErrForbidden means the actor is authenticated but lacks the required
	// role or ownership for the operation.
	ErrForbidden = errors.New("actor lacks required role or ownership")

	// ErrInvalidTransition means the operation is not valid from the
	// request's current status. Never silently no-ops.
	ErrInvalidTransition = errors.New("operation not valid from current status")

	// ErrNotFound means the refund request or receipt does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrQueueUnavailable means the durable queue backend rejected a publish.
	// It is recovered internally by direct dispatch and never surfaced to the
	// business operation.
	ErrQueueUnavailable = errors.New("durable queue backend unavailable")
)

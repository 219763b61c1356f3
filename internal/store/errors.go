package store

import "errors"

// Shared error kinds surfaced by the storage layer and the state machines
// built on top of it. Domain packages wrap these with context via %w so
// callers can classify with errors.Is.
var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrFieldNotFound indicates a dotted field path resolved to nothing,
	// or to an explicit JSON null.
	ErrFieldNotFound = errors.New("field not found")

	// ErrAlreadyExists indicates a create collided with an existing document.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidValue indicates a value outside its closed set, or a
	// malformed identifier.
	ErrInvalidValue = errors.New("invalid value")

	// ErrIllegalTransition indicates a forbidden state machine move.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrLockTimeout indicates the advisory lock was not acquired within
	// the deadline. Callers may retry; the store does not.
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrCorrupt indicates a document failed to parse. Corrupt documents
	// are never silently overwritten.
	ErrCorrupt = errors.New("corrupt document")

	// ErrSafetyViolation indicates a destructive operation targeted a path
	// the safety predicate refuses.
	ErrSafetyViolation = errors.New("safety violation")
)

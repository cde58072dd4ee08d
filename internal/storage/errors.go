package storage

import "errors"

// Store error taxonomy. Every error surfaced by the object store wraps exactly
// one of these so callers can branch with errors.Is.
var (
	// ErrIOFailure reports a backing file that cannot be opened, read, written
	// or that fails header validation.
	ErrIOFailure = errors.New("i/o failure")

	// ErrStoreClosed reports an operation on a closed handle.
	ErrStoreClosed = errors.New("store is closed")

	// ErrDuplicateKey reports an insert collision in a unique index.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrConflictDetected reports a failed optimistic version check at commit.
	ErrConflictDetected = errors.New("version conflict detected")

	// ErrCommitFailure reports an I/O error while flushing a commit.
	ErrCommitFailure = errors.New("commit failure")

	// ErrInvalidState reports transaction API misuse.
	ErrInvalidState = errors.New("invalid transaction state")
)

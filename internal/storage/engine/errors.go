package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/oodb/internal/storage"
	"github.com/KilimcininKorOglu/oodb/internal/storage/btree"
	"github.com/KilimcininKorOglu/oodb/internal/storage/heap"
	"github.com/KilimcininKorOglu/oodb/internal/storage/index"
	"github.com/KilimcininKorOglu/oodb/internal/storage/mvcc"
)

// Store error taxonomy.
var (
	ErrIOFailure        = storage.ErrIOFailure
	ErrStoreClosed      = storage.ErrStoreClosed
	ErrDuplicateKey     = storage.ErrDuplicateKey
	ErrConflictDetected = storage.ErrConflictDetected
	ErrCommitFailure    = storage.ErrCommitFailure
	ErrInvalidState     = storage.ErrInvalidState
)

// Index catalog errors.
var (
	ErrIndexExists   = index.ErrIndexExists
	ErrIndexNotFound = index.ErrIndexNotFound
)

// Object errors. All of them are API misuse and match ErrInvalidState.
var (
	ErrNilObject         = fmt.Errorf("%w: nil object", storage.ErrInvalidState)
	ErrNotPersistent     = fmt.Errorf("%w: object is not persistent", storage.ErrInvalidState)
	ErrUnknownType       = fmt.Errorf("%w: type is not registered", storage.ErrInvalidState)
	ErrTypeExists        = fmt.Errorf("%w: type already registered", storage.ErrInvalidState)
	ErrObjectNotFound    = fmt.Errorf("%w: object not found", storage.ErrInvalidState)
	ErrObjectDeleted     = fmt.Errorf("%w: object was deallocated", storage.ErrInvalidState)
	ErrNotFieldIndex     = fmt.Errorf("%w: not a field index", storage.ErrInvalidState)
	ErrFieldIndexUnbound = fmt.Errorf("%w: field index has no key function", storage.ErrInvalidState)
	ErrWrongType         = fmt.Errorf("%w: object has another type", storage.ErrInvalidState)
)

var taxonomy = []error{
	storage.ErrIOFailure,
	storage.ErrStoreClosed,
	storage.ErrDuplicateKey,
	storage.ErrConflictDetected,
	storage.ErrCommitFailure,
	storage.ErrInvalidState,
}

// misuse lists lower-level errors caused by the caller rather than by the
// file.
var misuse = []error{
	index.ErrIndexExists,
	index.ErrIndexNotFound,
	index.ErrInvalidName,
	index.ErrUnsupportedKey,
	index.ErrKeyTypeMismatch,
	btree.ErrKeyTooLarge,
	heap.ErrRecordTooLarge,
	mvcc.ErrVersionNotFound,
}

// wrap makes err match exactly one taxonomy error. Errors already in the
// taxonomy and context errors pass through; caller errors become
// ErrInvalidState and everything else ErrIOFailure.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	for _, t := range taxonomy {
		if errors.Is(err, t) {
			return err
		}
	}
	for _, m := range misuse {
		if errors.Is(err, m) {
			return fmt.Errorf("%w: %w", storage.ErrInvalidState, err)
		}
	}
	return fmt.Errorf("%w: %w", storage.ErrIOFailure, err)
}

package tx

import (
	"context"
	"errors"

	"github.com/KilimcininKorOglu/oodb/internal/storage"
)

// Outcome classifies the result of a unit of work.
type Outcome int

const (
	// OK means the transaction committed.
	OK Outcome = iota
	// Conflict means another handle committed a tracked object first. The
	// store is unchanged; reloading and reapplying the work may succeed.
	Conflict
	// Fatal covers every other failure.
	Fatal
)

// String returns the string representation of an Outcome.
func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Conflict:
		return "conflict"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by a commit to an Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, storage.ErrConflictDetected):
		return Conflict
	default:
		return Fatal
	}
}

// Beginner starts transactions. engine.Store implements it.
type Beginner interface {
	Begin(ctx context.Context, mode Mode) (*Transaction, error)
}

// Run executes fn in a new transaction of the given mode and commits it.
// When fn fails the transaction is rolled back. The error is returned with
// its classification; Run never retries.
func Run(ctx context.Context, b Beginner, mode Mode, fn func(t *Transaction) error) (Outcome, error) {
	t, err := b.Begin(ctx, mode)
	if err != nil {
		return Classify(err), err
	}

	if err := fn(t); err != nil {
		if t.IsActive() {
			_ = t.Rollback()
		}
		return Classify(err), err
	}

	err = t.Commit()
	return Classify(err), err
}

// Retry runs fn like Run and repeats it while the outcome is Conflict, at
// most attempts times. fn must reload the objects it changes, since a
// conflicted transaction leaves them at their stale versions.
func Retry(ctx context.Context, b Beginner, mode Mode, attempts int, fn func(t *Transaction) error) (Outcome, error) {
	var outcome Outcome
	var err error
	for i := 0; i < attempts; i++ {
		if cerr := ctx.Err(); cerr != nil {
			return Fatal, cerr
		}
		outcome, err = Run(ctx, b, mode, fn)
		if outcome != Conflict {
			return outcome, err
		}
	}
	return outcome, err
}

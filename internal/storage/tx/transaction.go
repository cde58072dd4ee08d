// Package tx provides the transaction coordinator of the oodb object store.
package tx

import (
	"fmt"
	"sync"
	"time"

	"github.com/KilimcininKorOglu/oodb/internal/logging"
)

// TxState represents the state of a transaction.
type TxState int

const (
	// TxActive indicates the transaction is currently active.
	TxActive TxState = iota
	// TxCommitted indicates the transaction has been successfully committed.
	TxCommitted
	// TxAborted indicates the transaction has been rolled back or failed.
	TxAborted
)

// String returns the string representation of a TxState.
func (s TxState) String() string {
	switch s {
	case TxActive:
		return "Active"
	case TxCommitted:
		return "Committed"
	case TxAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Mode selects how a transaction is isolated from other handles.
type Mode int

const (
	// Cooperative transactions take no cross-handle lock; concurrent commits
	// from other handles are reconciled when this one commits.
	Cooperative Mode = iota
	// Exclusive transactions hold the file commit lock from Begin to the
	// end, serializing every writer of the file.
	Exclusive
)

// String returns the string representation of a Mode.
func (m Mode) String() string {
	switch m {
	case Cooperative:
		return "cooperative"
	case Exclusive:
		return "exclusive"
	default:
		return "unknown"
	}
}

// OpKind identifies a logical operation recorded by a transaction.
type OpKind uint8

const (
	// OpIndexPut associates a key with an object.
	OpIndexPut OpKind = iota + 1
	// OpIndexRemove removes the first object stored under a key.
	OpIndexRemove
	// OpIndexRemoveObject removes one object from a key.
	OpIndexRemoveObject
	// OpDeallocate deletes an object.
	OpDeallocate
	// OpSetRoot changes the root object.
	OpSetRoot
	// OpCreateIndex defines a new index.
	OpCreateIndex
	// OpDropIndex removes an index.
	OpDropIndex
)

// String returns the string representation of an OpKind.
func (k OpKind) String() string {
	switch k {
	case OpIndexPut:
		return "index-put"
	case OpIndexRemove:
		return "index-remove"
	case OpIndexRemoveObject:
		return "index-remove-object"
	case OpDeallocate:
		return "deallocate"
	case OpSetRoot:
		return "set-root"
	case OpCreateIndex:
		return "create-index"
	case OpDropIndex:
		return "drop-index"
	default:
		return "unknown"
	}
}

// Op is one logical operation. When a cooperative commit finds that other
// handles committed since the transaction began, its page changes are
// discarded and the ops are applied again on the latest state.
type Op struct {
	Kind OpKind

	// Index names the index for index ops.
	Index string

	// Key is the encoded index key.
	Key []byte

	// OID is the object the op refers to.
	OID uint64

	// Arg carries op specific data, such as an index descriptor.
	Arg any
}

func (op Op) String() string {
	return fmt.Sprintf("%s(%s, oid=%d)", op.Kind, op.Index, op.OID)
}

// Transaction is a unit of work on one store handle.
type Transaction struct {
	// ID is unique among the transactions of a coordinator.
	ID uint64

	// Trace correlates the log lines of this transaction.
	Trace string

	// Mode is the isolation mode.
	Mode Mode

	// Implicit is set for transactions started by a mutation outside Begin.
	Implicit bool

	// StartTime is when the transaction began.
	StartTime time.Time

	// BaseSeq is the commit sequence the handle was at when the transaction
	// began.
	BaseSeq uint64

	state TxState
	ops   []Op
	coord *Coordinator
	log   logging.Logger

	mu sync.RWMutex
}

// State returns the current state.
func (t *Transaction) State() TxState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// IsActive returns true if the transaction is still active.
func (t *Transaction) IsActive() bool {
	return t.State() == TxActive
}

func (t *Transaction) setState(s TxState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// Record appends a logical operation.
func (t *Transaction) Record(op Op) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ops = append(t.ops, op)
}

// Ops returns a copy of the recorded operations in order.
func (t *Transaction) Ops() []Op {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Op, len(t.ops))
	copy(out, t.ops)
	return out
}

// Logger returns a logger tagged with the transaction request id.
func (t *Transaction) Logger() logging.Logger {
	return t.log
}

// Duration returns the time since the transaction started.
func (t *Transaction) Duration() time.Duration {
	return time.Since(t.StartTime)
}

// Commit commits the transaction. See Coordinator.Commit.
func (t *Transaction) Commit() error {
	return t.coord.Commit(t)
}

// Rollback rolls the transaction back. See Coordinator.Rollback.
func (t *Transaction) Rollback() error {
	return t.coord.Rollback(t)
}

// Package stream publishes committed object changes to in-process watchers.
// Every handle on a file shares one broker, so a watcher sees the commits of
// all of them. Recent events are kept for resume.
package stream

import "time"

// OperationType represents the type of change operation.
type OperationType uint8

const (
	// OpInsert indicates a new object was committed.
	OpInsert OperationType = iota + 1
	// OpUpdate indicates a new version of an existing object was committed.
	OpUpdate
	// OpDelete indicates an object was deallocated.
	OpDelete
)

// String returns the string representation of the operation type.
func (op OperationType) String() string {
	switch op {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ChangeEvent describes one object changed by a commit.
type ChangeEvent struct {
	// Token increases by one per event and is used to resume.
	Token uint64
	// Seq is the commit sequence that made the change durable.
	Seq uint64
	// Operation is the kind of change.
	Operation OperationType
	// OID identifies the object.
	OID uint64
	// TypeName is the registered type of the object.
	TypeName string
	// Version is the committed version; zero for deletions and untracked
	// objects that were never versioned.
	Version uint64
	// Timestamp is when the event was published.
	Timestamp time.Time
}

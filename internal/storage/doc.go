// Package storage provides the page layer of oodb, an embedded store that
// persists object graphs in a single file.
//
// # Overview
//
// A store file is a sequence of fixed-size pages (PageSize bytes). Physical
// pages 0 and 1 hold two copies of the FileHeader; every other physical page
// holds either user data or the logical to physical page map. Upper layers
// (record heap, B+ trees) address pages by logical PageID and never see
// physical locations.
//
// # Commit Protocol
//
// A PageStore handle buffers its changes in a BufferPool. Commit writes
//
//  1. every dirty page to a physical page no committed snapshot uses,
//  2. the page map pages that changed and the map directory chain,
//  3. the header into the slot opposite to the current one.
//
// The file is synced before and after the header write. Open picks the
// valid header slot with the highest sequence, so a crash at any point
// leaves the previous commit authoritative.
//
// # Handles
//
// Several handles may be opened on the same path inside one process. They
// share the latest committed snapshot, the physical free list and a commit
// mutex:
//
//	a, _ := storage.Open(path, 64<<20, storage.DefaultOptions())
//	b, _ := storage.Open(path, 64<<20, storage.DefaultOptions())
//
//	a.LockCommit()
//	err := a.Commit()
//	a.UnlockCommit()
//
//	if b.Stale() {
//	    // b must roll back or replay its work on the new snapshot.
//	}
//
// Pages superseded by a commit are only reused once no handle still reads
// an older snapshot. A second process is kept out by an advisory file lock.
//
// # Errors
//
// The package defines the error taxonomy shared by every layer above it:
// ErrIOFailure, ErrStoreClosed, ErrDuplicateKey, ErrConflictDetected,
// ErrCommitFailure and ErrInvalidState. Callers match them with errors.Is.
package storage

// Package engine implements the object store that combines the page store,
// the record heap, the B+ tree indices, the version history and the
// transaction coordinator into one API.
//
// # Opening a Store
//
//	s, err := engine.Open("accounts.odb", 64<<20)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
// # Persistent Types
//
// Types are registered under a stable name before use. Embedding Versioned
// makes a type version-tracked: every commit appends a version to its
// history and concurrent modifications are detected.
//
//	type User struct {
//	    engine.Versioned
//	    Name    string
//	    Balance float64
//	    Manager engine.Ref[User]
//	}
//
//	func (u *User) References() []engine.Reference {
//	    return []engine.Reference{&u.Manager}
//	}
//
//	engine.Register[User](s, "User")
//
// Exported fields are stored as JSON. References store the identity of
// their target and load it on the first Get. Objects reachable from a
// committed object through references are persisted with it.
//
// # Indices and Transactions
//
//	users, _ := s.CreateIndex("users", engine.KeyString, true)
//
//	t, _ := s.Begin(ctx, engine.Cooperative)
//	users.Put("alice", &User{Name: "alice"})
//	err := t.Commit()
//
// Mutations outside Begin join an implicit transaction that Commit ends.
// Exclusive transactions serialize every writer of the file. Cooperative
// transactions run concurrently and are rebased onto the latest state at
// commit; a conflicting change to a version-tracked object fails with
// ErrConflictDetected and leaves the objects at their committed state.
//
// # Version History
//
//	h, _ := s.GetVersionHistory(user)
//	first, _ := h.Root()
//	fmt.Println(h.NumberOfVersions(), first.Object.(*User).Balance)
package engine

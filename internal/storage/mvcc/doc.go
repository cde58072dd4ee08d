// Package mvcc keeps the version chains of version-tracked objects.
//
// # Records
//
// Every committed object state is a Record in the record heap carrying the
// object id, its version number, the commit time, the registered type name
// and the encoded fields. Versions count from 1.
//
// # History
//
// The History tree maps oid ‖ version to the heap location of the record
// of that version. A commit of a tracked object writes a fresh record and
// appends it; older records are never rewritten, so every past version stays
// readable:
//
//	hist, _ := mvcc.OpenHistory(pager, heap, records, root)
//	if err := hist.Validate(oid, loadedVersion); err != nil {
//	    // errors.Is(err, storage.ErrConflictDetected)
//	}
//	_ = hist.Append(oid, loadedVersion+1, loc)
//
// # Conflict Detection
//
// Validate compares the version an object was loaded at with the newest
// committed version. Any difference means another handle committed the
// object in between, and the commit must abort.
//
// Chains never shrink while the object lives. Deallocating the object drops
// its chain and frees the superseded records.
package mvcc

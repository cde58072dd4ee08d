// Package tx coordinates the transactions of an oodb store handle.
//
// # Overview
//
// A transaction is Active until it is committed or rolled back:
//
//	Active --Commit--> Committed
//	Active --Rollback/failed commit--> Aborted
//
// Committing or rolling back a transaction that already ended fails with
// storage.ErrInvalidState.
//
// # Modes
//
// Exclusive transactions hold the file commit lock from Begin until they
// end, so no other handle commits in between and the commit never has to
// reconcile concurrent work. Cooperative transactions lock only for the
// commit itself; if other handles committed meanwhile, the store replays
// the recorded Ops on the latest state and validates tracked objects.
//
// Mutations made outside Begin join an implicit cooperative transaction
// that the store commits on request.
//
// # Outcomes
//
// Run wraps a unit of work and reports an Outcome instead of leaving the
// caller to sort errors:
//
//	outcome, err := tx.Run(ctx, store, tx.Cooperative, func(t *tx.Transaction) error {
//	    acct.Balance += 10
//	    return store.Modify(acct)
//	})
//	switch outcome {
//	case tx.Conflict:
//	    // reload and try again
//	case tx.Fatal:
//	    return err
//	}
package tx

// Package btree provides the B+ tree used by oodb for the object table, the
// version history and every named index.
//
// # Overview
//
// Keys are byte strings of at most MaxKeySize bytes compared with
// bytes.Compare; values are uint64 (record locations, object ids). Each key
// appears once. Callers that need duplicate keys append a unique suffix, as
// the index package does with object ids.
//
// # Node Structure
//
// Every node occupies one page of type storage.PageTypeIndex:
//
//	+------------------+
//	| Header (21 B)    |  IsLeaf, KeyCount, NextLeaf, PrevLeaf, Reserved
//	+------------------+
//	| Keys             |  uint16 length + bytes, per key
//	+------------------+
//	| Values/Children  |  uint64 per key (leaf) or per child (internal)
//	+------------------+
//
// Nodes split when their serialized form no longer fits in a page and are
// merged with or rebalanced against a sibling when they fall below a quarter
// of a page.
//
// # Stable Root
//
// The root page never moves. A root split moves both halves into new pages
// and turns the root into an internal node; when the root is left with a
// single child, that child is copied into the root page. Callers can store
// Root() once and keep it.
//
// # Iteration
//
//	it := tree.Range(&btree.Bound{Key: low, Inclusive: true}, nil, false)
//	defer it.Close()
//	for key, value, ok := it.Next(); ok; key, value, ok = it.Next() {
//	    // process key and value
//	}
//	if err := it.Err(); err != nil {
//	    return err
//	}
//
// Iterators may outlive modifications of the tree. When the pager reports a
// new generation, the iterator re-seeks strictly past the last key it
// returned, so every key is returned at most once and keys inserted ahead of
// the cursor are seen.
package btree

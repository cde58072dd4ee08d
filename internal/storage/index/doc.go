// Package index implements the named indices of the oodb object store.
//
// # Overview
//
// An index maps keys to object ids through a B+ tree:
//
//   - Unique indices hold at most one object per key; a colliding Put fails
//     with storage.ErrDuplicateKey and keeps the original mapping.
//   - Non-unique indices hold any number of objects per key. The tree key is
//     the encoded key followed by the big-endian object id.
//
// # Key Encoding
//
// Keys are encoded so that bytes.Compare on encodings agrees with the
// natural order of the values: strings and byte slices by bytes, integers
// and floats numerically, times chronologically, composites component-wise
// from the left. Each encoded component starts with a type tag:
//
//	enc, _ := index.EncodeKey(index.Composite{"smith", int64(42)})
//
// # Catalog
//
// The Catalog stores index descriptors in the record heap and maps names to
// them with its own tree:
//
//	cat, _ := index.OpenCatalog(pager, heap, root)
//	ix, _ := cat.Create(index.Descriptor{Name: "username", KeyType: index.KeyString, Unique: true})
//	_ = ix.Put("user500", oid)
//
// # Iteration
//
//	it, _ := ix.Iterate(index.Inclusive("a"), index.Exclusive("m"), index.Ascending)
//	defer it.Close()
//	for key, oid, ok := it.Next(); ok; key, oid, ok = it.Next() {
//	    // process key and oid
//	}
package index

package index

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/oodb/internal/storage"
	"github.com/KilimcininKorOglu/oodb/internal/storage/btree"
)

// oidSize is the length of the object id suffix of non-unique entries.
const oidSize = 8

// Index maps encoded keys to object ids.
//
// A unique index stores the encoded key itself. A non-unique index stores
// key ‖ oid so that several objects share a key; since encoded keys are
// prefix-free, every entry of a key lies in the key's prefix range.
type Index struct {
	desc Descriptor
	tree *btree.BPlusTree
}

// Descriptor returns the definition of the index.
func (ix *Index) Descriptor() Descriptor {
	return ix.desc
}

// Name returns the index name.
func (ix *Index) Name() string {
	return ix.desc.Name
}

// Unique reports whether the index admits one object per key.
func (ix *Index) Unique() bool {
	return ix.desc.Unique
}

// KeyType returns the declared key type.
func (ix *Index) KeyType() KeyType {
	return ix.desc.KeyType
}

func (ix *Index) encode(key any) ([]byte, error) {
	enc, err := EncodeKeyAs(ix.desc.KeyType, key)
	if err != nil {
		return nil, err
	}
	if len(enc)+oidSize > btree.MaxKeySize {
		return nil, fmt.Errorf("index %s: %w", ix.desc.Name, btree.ErrKeyTooLarge)
	}
	return enc, nil
}

func withOID(enc []byte, oid uint64) []byte {
	k := make([]byte, len(enc), len(enc)+oidSize)
	copy(k, enc)
	return binary.BigEndian.AppendUint64(k, oid)
}

// EncodedKey returns the encoded form of key, validated against the index
// key type.
func (ix *Index) EncodedKey(key any) ([]byte, error) {
	return ix.encode(key)
}

// Put associates key with oid. A unique index fails with
// storage.ErrDuplicateKey when key maps to another object; the existing
// entry is left untouched.
func (ix *Index) Put(key any, oid uint64) error {
	enc, err := ix.encode(key)
	if err != nil {
		return err
	}
	return ix.PutEncoded(enc, oid)
}

// PutEncoded is Put for an already encoded key.
func (ix *Index) PutEncoded(enc []byte, oid uint64) error {
	if !ix.desc.Unique {
		err := ix.tree.Insert(withOID(enc, oid), oid)
		if errors.Is(err, btree.ErrKeyExists) {
			return nil
		}
		return err
	}

	err := ix.tree.Insert(enc, oid)
	if errors.Is(err, btree.ErrKeyExists) {
		existing, _, gerr := ix.tree.Get(enc)
		if gerr != nil {
			return gerr
		}
		if existing == oid {
			return nil
		}
		return fmt.Errorf("%w: index %s", storage.ErrDuplicateKey, ix.desc.Name)
	}
	return err
}

// Get returns the object stored under key. For a non-unique index it
// returns the member with the smallest object id.
func (ix *Index) Get(key any) (uint64, bool, error) {
	enc, err := ix.encode(key)
	if err != nil {
		return 0, false, err
	}
	if ix.desc.Unique {
		return ix.tree.Get(enc)
	}
	_, oid, ok, err := ix.tree.First(enc)
	return oid, ok, err
}

// GetAll returns every object stored under key in object id order.
func (ix *Index) GetAll(key any) ([]uint64, error) {
	enc, err := ix.encode(key)
	if err != nil {
		return nil, err
	}
	if ix.desc.Unique {
		oid, ok, err := ix.tree.Get(enc)
		if err != nil || !ok {
			return nil, err
		}
		return []uint64{oid}, nil
	}

	var oids []uint64
	it := ix.tree.Prefix(enc, false)
	defer it.Close()
	for _, oid, ok := it.Next(); ok; _, oid, ok = it.Next() {
		oids = append(oids, oid)
	}
	return oids, it.Err()
}

// Contains reports whether oid is stored under key.
func (ix *Index) Contains(key any, oid uint64) (bool, error) {
	enc, err := ix.encode(key)
	if err != nil {
		return false, err
	}
	return ix.ContainsEncoded(enc, oid)
}

// ContainsEncoded is Contains for an already encoded key.
func (ix *Index) ContainsEncoded(enc []byte, oid uint64) (bool, error) {
	if !ix.desc.Unique {
		return ix.tree.Has(withOID(enc, oid))
	}
	got, ok, err := ix.tree.Get(enc)
	return ok && got == oid, err
}

// Remove deletes the entry for key and returns the object it referenced.
// For a non-unique index the member with the smallest object id is removed.
// The object itself is not deallocated.
func (ix *Index) Remove(key any) (uint64, bool, error) {
	enc, err := ix.encode(key)
	if err != nil {
		return 0, false, err
	}
	return ix.RemoveFirstEncoded(enc)
}

// RemoveFirstEncoded is Remove for an already encoded key.
func (ix *Index) RemoveFirstEncoded(enc []byte) (uint64, bool, error) {
	if ix.desc.Unique {
		return ix.tree.Delete(enc)
	}

	first, oid, ok, err := ix.tree.First(enc)
	if err != nil || !ok {
		return 0, false, err
	}
	_, _, err = ix.tree.Delete(first)
	return oid, err == nil, err
}

// RemoveObject deletes the entry mapping key to oid.
func (ix *Index) RemoveObject(key any, oid uint64) (bool, error) {
	enc, err := ix.encode(key)
	if err != nil {
		return false, err
	}
	return ix.RemoveEncoded(enc, oid)
}

// RemoveEncoded is RemoveObject for an already encoded key.
func (ix *Index) RemoveEncoded(enc []byte, oid uint64) (bool, error) {
	if !ix.desc.Unique {
		_, ok, err := ix.tree.Delete(withOID(enc, oid))
		return ok, err
	}

	got, ok, err := ix.tree.Get(enc)
	if err != nil || !ok || got != oid {
		return false, err
	}
	_, ok, err = ix.tree.Delete(enc)
	return ok, err
}

// Count returns the number of entries in the index.
func (ix *Index) Count() (int, error) {
	return ix.tree.Count()
}

// Iterate returns an iterator over the entries with keys between from and
// to. The iterator is lazy and may be used while the index changes; every
// entry is returned at most once.
func (ix *Index) Iterate(from, to *Bound, order Order) (*Iterator, error) {
	var low, high *btree.Bound

	if from != nil {
		enc, err := ix.encode(from.Key)
		if err != nil {
			return nil, err
		}
		if from.Inclusive {
			low = &btree.Bound{Key: enc, Inclusive: true}
		} else if end := btree.PrefixEnd(enc); end != nil {
			low = &btree.Bound{Key: end, Inclusive: true}
		} else {
			return &Iterator{ix: ix, it: nil}, nil
		}
	}

	if to != nil {
		enc, err := ix.encode(to.Key)
		if err != nil {
			return nil, err
		}
		if !to.Inclusive {
			high = &btree.Bound{Key: enc}
		} else if end := btree.PrefixEnd(enc); end != nil {
			high = &btree.Bound{Key: end}
		}
	}

	return &Iterator{ix: ix, it: ix.tree.Range(low, high, order == Descending)}, nil
}

// Drop frees every page of the index tree.
func (ix *Index) Drop() error {
	return ix.tree.Drop()
}

// Iterator walks index entries in key order.
type Iterator struct {
	ix  *Index
	it  *btree.Iterator
	err error
}

// Next returns the next key and object id. ok is false at the end of the
// range or on error; check Err.
func (i *Iterator) Next() (key any, oid uint64, ok bool) {
	if i.it == nil || i.err != nil {
		return nil, 0, false
	}

	raw, oid, ok := i.it.Next()
	if !ok {
		return nil, 0, false
	}
	if !i.ix.desc.Unique {
		raw = raw[:len(raw)-oidSize]
	}
	key, err := DecodeKey(raw)
	if err != nil {
		i.err = err
		return nil, 0, false
	}
	return key, oid, true
}

// Err returns the first error encountered.
func (i *Iterator) Err() error {
	if i.err != nil {
		return i.err
	}
	if i.it != nil {
		return i.it.Err()
	}
	return nil
}

// Close releases the iterator.
func (i *Iterator) Close() {
	if i.it != nil {
		i.it.Close()
	}
}

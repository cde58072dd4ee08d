package engine

import (
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/oodb/internal/storage/index"
	"github.com/KilimcininKorOglu/oodb/internal/storage/tx"
)

// Key types.
const (
	KeyString    = index.KeyString
	KeyBytes     = index.KeyBytes
	KeyBool      = index.KeyBool
	KeyInt       = index.KeyInt
	KeyUint      = index.KeyUint
	KeyFloat     = index.KeyFloat
	KeyTime      = index.KeyTime
	KeyComposite = index.KeyComposite
)

// Iteration orders.
const (
	Ascending  = index.Ascending
	Descending = index.Descending
)

// KeyFunc extracts the key of a field index from one of its objects. It
// must not call back into the store.
type KeyFunc func(obj any) (any, error)

// Index is a handle on a named index. Entries map keys to objects; index
// changes belong to the current transaction like object changes.
type Index struct {
	s    *Store
	name string
}

// CreateIndex defines a new index over keys of keyType.
func (s *Store) CreateIndex(name string, keyType index.KeyType, unique bool) (*Index, error) {
	return s.createIndex(index.Descriptor{Name: name, KeyType: keyType, Unique: unique}, nil)
}

// CreateFieldIndex defines an index over the field of objects of the
// registered type typeName. keyOf extracts the key; objects become members
// through PutObject, and a member whose key changes is moved at commit.
func (s *Store) CreateFieldIndex(name, typeName, field string, keyType index.KeyType, unique bool, keyOf KeyFunc) (*Index, error) {
	if field == "" {
		return nil, fmt.Errorf("%w: empty field name", ErrInvalidState)
	}
	if keyOf == nil {
		return nil, ErrFieldIndexUnbound
	}
	desc := index.Descriptor{Name: name, KeyType: keyType, Unique: unique, TypeName: typeName, Field: field}
	return s.createIndex(desc, keyOf)
}

func (s *Store) createIndex(desc index.Descriptor, keyOf KeyFunc) (*Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if desc.IsFieldIndex() {
		if _, ok := s.types[desc.TypeName]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownType, desc.TypeName)
		}
	}

	t := s.join()
	ix, err := s.catalog.Create(desc)
	if err != nil {
		return nil, wrap(err)
	}
	t.Record(tx.Op{Kind: tx.OpCreateIndex, Index: desc.Name, Arg: ix.Descriptor()})
	if keyOf != nil {
		s.keyFuncs[desc.Name] = keyOf
	}
	t.Logger().Debug("index created", "index", desc.Name, "key_type", desc.KeyType.String(), "unique", desc.Unique)
	return &Index{s: s, name: desc.Name}, nil
}

// Index returns the index called name.
func (s *Store) Index(name string) (*Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if _, err := s.catalog.Open(name); err != nil {
		return nil, wrap(err)
	}
	return &Index{s: s, name: name}, nil
}

// FieldIndex returns the field index called name and binds keyOf to it.
// Field indices must be bound in every process before their members are
// modified.
func (s *Store) FieldIndex(name string, keyOf KeyFunc) (*Index, error) {
	if keyOf == nil {
		return nil, ErrFieldIndexUnbound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	ix, err := s.catalog.Open(name)
	if err != nil {
		return nil, wrap(err)
	}
	if !ix.Descriptor().IsFieldIndex() {
		return nil, fmt.Errorf("%w: %s", ErrNotFieldIndex, name)
	}
	s.keyFuncs[name] = keyOf
	for _, st := range s.byOID {
		if st.status == statusClean && st.reg.name == ix.Descriptor().TypeName {
			s.trackFieldKeys(st)
		}
	}
	return &Index{s: s, name: name}, nil
}

// DropIndex removes the index called name. Its objects are kept.
func (s *Store) DropIndex(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	t := s.join()
	if err := s.catalog.Drop(name); err != nil {
		return wrap(err)
	}
	t.Record(tx.Op{Kind: tx.OpDropIndex, Index: name})
	for _, st := range s.byOID {
		delete(st.fieldKeys, name)
	}
	return nil
}

// Indexes returns the definitions of every index, sorted by name.
func (s *Store) Indexes() ([]index.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	descs, err := s.catalog.List()
	return descs, wrap(err)
}

// open returns the catalog handle of the index. The store mutex must be
// held.
func (ix *Index) open() (*index.Index, error) {
	if err := ix.s.checkOpen(); err != nil {
		return nil, err
	}
	return ix.s.catalog.Open(ix.name)
}

// Name returns the index name.
func (ix *Index) Name() string {
	return ix.name
}

// Descriptor returns the definition of the index.
func (ix *Index) Descriptor() (index.Descriptor, error) {
	ix.s.mu.Lock()
	defer ix.s.mu.Unlock()
	raw, err := ix.open()
	if err != nil {
		return index.Descriptor{}, wrap(err)
	}
	return raw.Descriptor(), nil
}

// Put stores obj under key, persisting obj if needed. A unique index fails
// with ErrDuplicateKey when key maps to another object and keeps the
// existing entry.
func (ix *Index) Put(key any, obj any) error {
	s := ix.s
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := ix.open()
	if err != nil {
		return wrap(err)
	}
	enc, err := raw.EncodedKey(key)
	if err != nil {
		return wrap(err)
	}
	_, existed := s.stateOf(obj)
	st, err := s.persist(obj)
	if err != nil {
		return err
	}
	if err := raw.PutEncoded(enc, uint64(st.oid)); err != nil {
		if !existed {
			s.forget(st)
		}
		return wrap(err)
	}
	s.join().Record(tx.Op{Kind: tx.OpIndexPut, Index: ix.name, Key: enc, OID: uint64(st.oid)})
	return nil
}

// PutObject adds obj to a field index under the key its KeyFunc returns.
func (ix *Index) PutObject(obj any) error {
	s := ix.s
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := ix.open()
	if err != nil {
		return wrap(err)
	}
	desc := raw.Descriptor()
	if !desc.IsFieldIndex() {
		return fmt.Errorf("%w: %s", ErrNotFieldIndex, ix.name)
	}
	keyOf, ok := s.keyFuncs[ix.name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFieldIndexUnbound, ix.name)
	}
	reg, err := s.registrationOf(obj)
	if err != nil {
		return err
	}
	if reg.name != desc.TypeName {
		return fmt.Errorf("%w: index %s holds %s, not %s", ErrWrongType, ix.name, desc.TypeName, reg.name)
	}

	key, err := keyOf(obj)
	if err != nil {
		return fmt.Errorf("%w: index %s: %w", ErrInvalidState, ix.name, err)
	}
	enc, err := raw.EncodedKey(key)
	if err != nil {
		return wrap(err)
	}
	_, existed := s.stateOf(obj)
	st, err := s.persist(obj)
	if err != nil {
		return err
	}
	if err := raw.PutEncoded(enc, uint64(st.oid)); err != nil {
		if !existed {
			s.forget(st)
		}
		return wrap(err)
	}
	if st.fieldKeys == nil {
		st.fieldKeys = make(map[string][]byte)
	}
	st.fieldKeys[ix.name] = enc
	s.join().Record(tx.Op{Kind: tx.OpIndexPut, Index: ix.name, Key: enc, OID: uint64(st.oid)})
	return nil
}

// Get returns the object stored under key, or nil. For a non-unique index
// it returns the first match.
func (ix *Index) Get(key any) (any, error) {
	s := ix.s
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := ix.open()
	if err != nil {
		return nil, wrap(err)
	}
	oid, ok, err := raw.Get(key)
	if err != nil || !ok {
		return nil, wrap(err)
	}
	return s.loadLive(OID(oid))
}

// GetAll returns every object stored under key.
func (ix *Index) GetAll(key any) ([]any, error) {
	s := ix.s
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := ix.open()
	if err != nil {
		return nil, wrap(err)
	}
	oids, err := raw.GetAll(key)
	if err != nil {
		return nil, wrap(err)
	}
	out := make([]any, 0, len(oids))
	for _, oid := range oids {
		obj, err := s.loadLive(OID(oid))
		if err != nil {
			return nil, err
		}
		if obj != nil {
			out = append(out, obj)
		}
	}
	return out, nil
}

// loadLive loads oid, treating a deallocated or missing object as nil.
func (s *Store) loadLive(oid OID) (any, error) {
	obj, err := s.load(oid)
	if errors.Is(err, ErrObjectNotFound) || errors.Is(err, ErrObjectDeleted) {
		return nil, nil
	}
	return obj, wrap(err)
}

// Remove deletes the entry for key and returns the object it referenced,
// or nil when key was absent. The object is not deallocated.
func (ix *Index) Remove(key any) (any, error) {
	s := ix.s
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := ix.open()
	if err != nil {
		return nil, wrap(err)
	}
	enc, err := raw.EncodedKey(key)
	if err != nil {
		return nil, wrap(err)
	}
	t := s.join()
	oid, ok, err := raw.RemoveFirstEncoded(enc)
	if err != nil || !ok {
		return nil, wrap(err)
	}
	t.Record(tx.Op{Kind: tx.OpIndexRemove, Index: ix.name, Key: enc, OID: oid})
	if st, ok := s.byOID[OID(oid)]; ok {
		delete(st.fieldKeys, ix.name)
	}
	return s.loadLive(OID(oid))
}

// RemoveObject deletes the entry mapping key to obj and reports whether it
// existed.
func (ix *Index) RemoveObject(key any, obj any) (bool, error) {
	s := ix.s
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := ix.open()
	if err != nil {
		return false, wrap(err)
	}
	st, ok := s.stateOf(obj)
	if !ok {
		return false, nil
	}
	enc, err := raw.EncodedKey(key)
	if err != nil {
		return false, wrap(err)
	}
	t := s.join()
	removed, err := raw.RemoveEncoded(enc, uint64(st.oid))
	if err != nil || !removed {
		return false, wrap(err)
	}
	t.Record(tx.Op{Kind: tx.OpIndexRemoveObject, Index: ix.name, Key: enc, OID: uint64(st.oid)})
	delete(st.fieldKeys, ix.name)
	return true, nil
}

// RemoveMember removes obj from a field index under its recorded key.
func (ix *Index) RemoveMember(obj any) (bool, error) {
	s := ix.s
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := ix.open()
	if err != nil {
		return false, wrap(err)
	}
	if !raw.Descriptor().IsFieldIndex() {
		return false, fmt.Errorf("%w: %s", ErrNotFieldIndex, ix.name)
	}
	st, ok := s.stateOf(obj)
	if !ok {
		return false, nil
	}
	enc, ok := st.fieldKeys[ix.name]
	if !ok {
		return false, nil
	}
	t := s.join()
	removed, err := raw.RemoveEncoded(enc, uint64(st.oid))
	if err != nil {
		return false, wrap(err)
	}
	delete(st.fieldKeys, ix.name)
	if removed {
		t.Record(tx.Op{Kind: tx.OpIndexRemoveObject, Index: ix.name, Key: enc, OID: uint64(st.oid)})
	}
	return removed, nil
}

// Count returns the number of entries.
func (ix *Index) Count() (int, error) {
	s := ix.s
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := ix.open()
	if err != nil {
		return 0, wrap(err)
	}
	n, err := raw.Count()
	return n, wrap(err)
}

// Iterate returns an iterator over the entries with keys between from and
// to. A nil bound is open. The iterator is lazy and stays valid while the
// index changes; every entry is returned at most once.
func (ix *Index) Iterate(from, to *index.Bound, order index.Order) (*Iterator, error) {
	s := ix.s
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := ix.open()
	if err != nil {
		return nil, wrap(err)
	}
	it, err := raw.Iterate(from, to, order)
	if err != nil {
		return nil, wrap(err)
	}
	return &Iterator{s: s, it: it}, nil
}

// Find returns the object stored under key as a *T, or nil.
func Find[T any](ix *Index, key any) (*T, error) {
	obj, err := ix.Get(key)
	if err != nil || obj == nil {
		return nil, err
	}
	t, ok := obj.(*T)
	if !ok {
		return nil, fmt.Errorf("%w: index %s holds %T", ErrWrongType, ix.name, obj)
	}
	return t, nil
}

// Iterator walks index entries and materializes their objects. Entries of
// deallocated objects are skipped.
type Iterator struct {
	s   *Store
	it  *index.Iterator
	err error
}

// Next returns the next key and object. ok is false at the end or on
// error; check Err.
func (i *Iterator) Next() (key any, obj any, ok bool) {
	if i.err != nil {
		return nil, nil, false
	}
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	if err := i.s.checkOpen(); err != nil {
		i.err = err
		return nil, nil, false
	}

	for {
		key, oid, ok := i.it.Next()
		if !ok {
			return nil, nil, false
		}
		obj, err := i.s.loadLive(OID(oid))
		if err != nil {
			i.err = err
			return nil, nil, false
		}
		if obj != nil {
			return key, obj, true
		}
	}
}

// Err returns the first error encountered.
func (i *Iterator) Err() error {
	if i.err != nil {
		return i.err
	}
	return wrap(i.it.Err())
}

// Close releases the iterator.
func (i *Iterator) Close() {
	i.it.Close()
}

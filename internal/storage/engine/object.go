package engine

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/KilimcininKorOglu/oodb/internal/storage"
	"github.com/KilimcininKorOglu/oodb/internal/storage/heap"
	"github.com/KilimcininKorOglu/oodb/internal/storage/index"
	"github.com/KilimcininKorOglu/oodb/internal/storage/mvcc"
	"github.com/KilimcininKorOglu/oodb/internal/storage/tx"
)

type objectStatus int

const (
	statusNew objectStatus = iota
	statusClean
	statusDirty
	statusDeleted
)

// objectState is the bookkeeping of one materialized object.
type objectState struct {
	obj     any
	oid     OID
	reg     *registration
	version uint64
	status  objectStatus

	// snapshot is the payload of the last committed version.
	snapshot []byte

	// fieldKeys holds the encoded key of every field index the object is
	// a member of.
	fieldKeys map[string][]byte

	queued bool
}

// dropInfo describes a deallocated object for replay.
type dropInfo struct {
	typeName  string
	tracked   bool
	fieldKeys map[string][]byte
}

func oidKey(oid OID) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(oid))
}

func extentPrefix(typeName string) []byte {
	enc, _ := index.EncodeKey(typeName)
	return enc
}

func extentKey(typeName string, oid OID) []byte {
	return binary.BigEndian.AppendUint64(extentPrefix(typeName), uint64(oid))
}

func (s *Store) attach(st *objectState) {
	s.byOID[st.oid] = st
	s.states[st.obj] = st
}

// stateOf returns the bookkeeping of obj. Only pointers can be persistent.
func (s *Store) stateOf(obj any) (*objectState, bool) {
	if obj == nil || reflect.TypeOf(obj).Kind() != reflect.Pointer {
		return nil, false
	}
	st, ok := s.states[obj]
	return st, ok
}

func (s *Store) detach(st *objectState) {
	if cur, ok := s.byOID[st.oid]; ok && cur == st {
		delete(s.byOID, st.oid)
	}
	delete(s.states, st.obj)
}

func (s *Store) enqueue(st *objectState) {
	if !st.queued {
		st.queued = true
		s.pending = append(s.pending, st)
	}
}

func (s *Store) allocOID() OID {
	next := s.ps.Meta(storage.MetaNextOID)
	if next == 0 {
		next = 1
	}
	s.ps.SetMeta(storage.MetaNextOID, next+1)
	return OID(next)
}

// load returns the object oid, materializing it on first use.
func (s *Store) load(oid OID) (any, error) {
	if oid == 0 {
		return nil, nil
	}
	if st, ok := s.byOID[oid]; ok {
		if st.status == statusDeleted {
			return nil, fmt.Errorf("%w: %d", ErrObjectDeleted, oid)
		}
		return st.obj, nil
	}

	rec, err := s.readHead(oid)
	if err != nil {
		return nil, err
	}
	st, err := s.decode(rec)
	if err != nil {
		return nil, err
	}
	s.trackFieldKeys(st)
	s.attach(st)
	return st.obj, nil
}

// readHead reads the newest record of oid visible to the handle.
func (s *Store) readHead(oid OID) (*mvcc.Record, error) {
	v, ok, err := s.objects.Get(oidKey(oid))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrObjectNotFound, oid)
	}
	data, err := s.heap.Read(heap.Location(v))
	if err != nil {
		return nil, fmt.Errorf("object %d: %w", oid, err)
	}
	rec, err := mvcc.UnmarshalRecord(data)
	if err != nil {
		return nil, fmt.Errorf("object %d: %w", oid, err)
	}
	if OID(rec.OID) != oid {
		return nil, fmt.Errorf("%w: object table entry %d holds object %d", mvcc.ErrInvalidVersion, oid, rec.OID)
	}
	return rec, nil
}

// decode builds a fresh object from rec.
func (s *Store) decode(rec *mvcc.Record) (*objectState, error) {
	reg, ok := s.types[rec.TypeName]
	if !ok {
		return nil, fmt.Errorf("%w: %s (object %d)", ErrUnknownType, rec.TypeName, rec.OID)
	}
	obj := reg.newFn()
	if err := json.Unmarshal(rec.Payload, obj); err != nil {
		return nil, fmt.Errorf("failed to decode object %d: %w", rec.OID, err)
	}
	bindRefs(s, obj)
	return &objectState{
		obj:      obj,
		oid:      OID(rec.OID),
		reg:      reg,
		version:  rec.Version,
		status:   statusClean,
		snapshot: rec.Payload,
	}, nil
}

// restore resets the fields of st.obj to its committed snapshot.
func (s *Store) restore(st *objectState) {
	st.reg.reset(st.obj)
	if len(st.snapshot) > 0 {
		if err := json.Unmarshal(st.snapshot, st.obj); err != nil {
			s.log.Error("failed to restore object", "oid", uint64(st.oid), "error", err.Error())
		}
	}
	bindRefs(s, st.obj)
	st.status = statusClean
}

// trackFieldKeys records which bound field indices hold st.
func (s *Store) trackFieldKeys(st *objectState) {
	st.fieldKeys = nil
	for name, keyOf := range s.keyFuncs {
		ix, err := s.catalog.Open(name)
		if err != nil {
			continue
		}
		if ix.Descriptor().TypeName != st.reg.name {
			continue
		}
		key, err := keyOf(st.obj)
		if err != nil {
			continue
		}
		enc, err := ix.EncodedKey(key)
		if err != nil {
			continue
		}
		if ok, err := ix.ContainsEncoded(enc, uint64(st.oid)); err == nil && ok {
			if st.fieldKeys == nil {
				st.fieldKeys = make(map[string][]byte)
			}
			st.fieldKeys[name] = enc
		}
	}
}

// reloadClean brings unmodified cached objects up to the snapshot of the
// handle, in place. Objects deleted meanwhile are detached.
func (s *Store) reloadClean() error {
	for _, st := range s.byOID {
		if st.status != statusClean {
			continue
		}
		rec, err := s.readHead(st.oid)
		if errors.Is(err, ErrObjectNotFound) {
			s.detach(st)
			continue
		}
		if err != nil {
			return err
		}
		if rec.Version == st.version {
			continue
		}
		st.version = rec.Version
		st.snapshot = rec.Payload
		s.restore(st)
		s.trackFieldKeys(st)
	}
	return nil
}

// persist makes obj persistent in the current transaction.
func (s *Store) persist(obj any) (*objectState, error) {
	if st, ok := s.stateOf(obj); ok {
		if st.status == statusDeleted {
			return nil, fmt.Errorf("%w: %d", ErrObjectDeleted, st.oid)
		}
		return st, nil
	}
	reg, err := s.registrationOf(obj)
	if err != nil {
		return nil, err
	}

	s.join()
	st := &objectState{obj: obj, oid: s.allocOID(), reg: reg, status: statusNew}
	bindRefs(s, obj)
	s.attach(st)
	s.enqueue(st)
	return st, nil
}

// forget drops a new object again, as if it had been deallocated.
func (s *Store) forget(st *objectState) {
	s.detach(st)
	st.status = statusDeleted
	if s.ghosts == nil {
		s.ghosts = make(map[OID]struct{})
	}
	s.ghosts[st.oid] = struct{}{}
}

// MakePersistent assigns an identity to obj and schedules it to be written
// at the next commit. It returns the existing identity of an object that is
// already persistent.
func (s *Store) MakePersistent(obj any) (OID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	st, err := s.persist(obj)
	if err != nil {
		return 0, err
	}
	return st.oid, nil
}

// Modify marks obj as changed so the next commit writes it.
func (s *Store) Modify(obj any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	st, ok := s.stateOf(obj)
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotPersistent, obj)
	}
	switch st.status {
	case statusDeleted:
		return fmt.Errorf("%w: %d", ErrObjectDeleted, st.oid)
	case statusClean:
		st.status = statusDirty
	}
	s.join()
	s.enqueue(st)
	return nil
}

// Deallocate deletes obj, its version history and its field index entries.
// Entries of other indices that still reference obj resolve to nothing.
func (s *Store) Deallocate(obj any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	st, ok := s.stateOf(obj)
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotPersistent, obj)
	}
	if st.status == statusDeleted {
		return nil
	}
	t := s.join()

	info := dropInfo{typeName: st.reg.name, tracked: st.reg.tracked, fieldKeys: st.fieldKeys}
	if st.status == statusNew {
		if err := s.dropFieldKeys(st.oid, info.fieldKeys); err != nil {
			return wrap(err)
		}
		s.forget(st)
		return nil
	}

	if err := s.dropObject(st.oid, info); err != nil {
		return wrap(err)
	}
	st.status = statusDeleted
	s.enqueue(st)
	t.Record(tx.Op{Kind: tx.OpDeallocate, OID: uint64(st.oid), Arg: info})
	t.Logger().Debug("object deallocated", "oid", uint64(st.oid), "type", info.typeName)
	return nil
}

// dropObject removes every stored trace of oid. Missing pieces are ignored
// so that a replay after another handle deleted the object succeeds.
func (s *Store) dropObject(oid OID, info dropInfo) error {
	loc, found, err := s.objects.Delete(oidKey(oid))
	if err != nil {
		return err
	}
	if info.tracked {
		if _, err := s.history.Drop(uint64(oid), 0); err != nil {
			return err
		}
	} else if found {
		if err := s.heap.Delete(heap.Location(loc)); err != nil && !errors.Is(err, heap.ErrRecordDeleted) {
			return err
		}
	}
	if _, _, err := s.extents.Delete(extentKey(info.typeName, oid)); err != nil {
		return err
	}
	return s.dropFieldKeys(oid, info.fieldKeys)
}

func (s *Store) dropFieldKeys(oid OID, keys map[string][]byte) error {
	for name, enc := range keys {
		ix, err := s.catalog.Open(name)
		if errors.Is(err, index.ErrIndexNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if _, err := ix.RemoveEncoded(enc, uint64(oid)); err != nil {
			return err
		}
	}
	return nil
}

// Load returns the object with identity oid.
func (s *Store) Load(oid OID) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	obj, err := s.load(oid)
	return obj, wrap(err)
}

// Get loads the object oid as a *T.
func Get[T any](s *Store, oid OID) (*T, error) {
	obj, err := s.Load(oid)
	if err != nil || obj == nil {
		return nil, err
	}
	t, ok := obj.(*T)
	if !ok {
		return nil, fmt.Errorf("%w: object %d is %T", ErrWrongType, oid, obj)
	}
	return t, nil
}

// OID returns the identity of obj and whether it is persistent.
func (s *Store) OID(obj any) (OID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stateOf(obj)
	if !ok || st.status == statusDeleted {
		return 0, false
	}
	return st.oid, true
}

// Reload discards uncommitted changes to obj and reads its newest state
// visible to the handle.
func (s *Store) Reload(obj any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	st, ok := s.stateOf(obj)
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotPersistent, obj)
	}
	if st.status == statusNew || st.status == statusDeleted {
		return fmt.Errorf("%w: object %d has no committed state", ErrInvalidState, st.oid)
	}
	rec, err := s.readHead(st.oid)
	if err != nil {
		return wrap(err)
	}
	st.version = rec.Version
	st.snapshot = rec.Payload
	s.restore(st)
	s.trackFieldKeys(st)
	return nil
}

// GetRoot returns the root object, or nil when none is set.
func (s *Store) GetRoot() (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	obj, err := s.load(OID(s.ps.Meta(storage.MetaRootOID)))
	return obj, wrap(err)
}

// SetRoot makes obj the root object, persisting it if needed. A nil obj
// clears the root.
func (s *Store) SetRoot(obj any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	var oid OID
	if obj != nil {
		st, err := s.persist(obj)
		if err != nil {
			return err
		}
		oid = st.oid
	}
	t := s.join()
	s.ps.SetMeta(storage.MetaRootOID, uint64(oid))
	t.Record(tx.Op{Kind: tx.OpSetRoot, OID: uint64(oid)})
	return nil
}

// RetrieveAll returns every live object of the registered type typeName,
// committed objects in identity order followed by new ones.
func (s *Store) RetrieveAll(typeName string) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if _, ok := s.types[typeName]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}

	var oids []OID
	it := s.extents.Prefix(extentPrefix(typeName), false)
	for _, v, ok := it.Next(); ok; _, v, ok = it.Next() {
		oids = append(oids, OID(v))
	}
	it.Close()
	if err := it.Err(); err != nil {
		return nil, wrap(err)
	}

	out := make([]any, 0, len(oids))
	for _, oid := range oids {
		obj, err := s.load(oid)
		if errors.Is(err, ErrObjectDeleted) || errors.Is(err, ErrObjectNotFound) {
			continue
		}
		if err != nil {
			return nil, wrap(err)
		}
		out = append(out, obj)
	}
	for _, st := range s.pending {
		if st.status == statusNew && st.reg.name == typeName {
			out = append(out, st.obj)
		}
	}
	return out, nil
}

// All returns every live object of typeName as *T.
func All[T any](s *Store, typeName string) ([]*T, error) {
	objs, err := s.RetrieveAll(typeName)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(objs))
	for _, obj := range objs {
		t, ok := obj.(*T)
		if !ok {
			return nil, fmt.Errorf("%w: %s holds %T", ErrWrongType, typeName, obj)
		}
		out = append(out, t)
	}
	return out, nil
}

// ResolveAll materializes every object reachable from obj through its
// references and returns how many distinct objects were reached, obj
// included. Cycles and shared targets are visited once.
func (s *Store) ResolveAll(obj any) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if obj == nil {
		return 0, nil
	}

	visitedOID := make(map[OID]struct{})
	visitedObj := make(map[any]struct{})
	visit := func(o any) bool {
		if st, ok := s.stateOf(o); ok {
			if _, seen := visitedOID[st.oid]; seen {
				return false
			}
			visitedOID[st.oid] = struct{}{}
			return true
		}
		if _, seen := visitedObj[o]; seen {
			return false
		}
		visitedObj[o] = struct{}{}
		return true
	}

	queue := []any{obj}
	visit(obj)
	count := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		count++

		h, ok := cur.(Holder)
		if !ok {
			continue
		}
		for _, ref := range h.References() {
			if ref == nil {
				continue
			}
			if oid := ref.OID(); oid != 0 && ref.target() == nil {
				if _, seen := visitedOID[oid]; seen {
					continue
				}
			}
			target, err := ref.resolve(s)
			if errors.Is(err, ErrObjectNotFound) || errors.Is(err, ErrObjectDeleted) {
				continue
			}
			if err != nil {
				return count, wrap(err)
			}
			if target != nil && visit(target) {
				queue = append(queue, target)
			}
		}
	}
	return count, nil
}

package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/KilimcininKorOglu/oodb/internal/storage"
	"github.com/KilimcininKorOglu/oodb/internal/storage/heap"
	"github.com/KilimcininKorOglu/oodb/internal/storage/index"
	"github.com/KilimcininKorOglu/oodb/internal/storage/mvcc"
	"github.com/KilimcininKorOglu/oodb/internal/storage/tx"
)

// written is an object write staged until the page store commit succeeds.
type written struct {
	st        *objectState
	version   uint64
	payload   []byte
	record    []byte
	fieldKeys map[string][]byte
	inserted  bool
}

// LockCommit takes the commit lock of the backing file.
func (s *Store) LockCommit() {
	s.ps.LockCommit()
}

// UnlockCommit releases the commit lock of the backing file.
func (s *Store) UnlockCommit() {
	s.ps.UnlockCommit()
}

// Prepare brings the handle up to date when a transaction becomes
// explicit. Exclusive transactions rebase pending changes onto the latest
// state; cooperative ones only refresh a handle with nothing pending.
func (s *Store) Prepare(t *tx.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !s.ps.Stale() {
		return nil
	}

	if !s.hasChanges() {
		return wrap(s.refresh())
	}
	if t.Mode == tx.Exclusive {
		if err := s.rebase(t); err != nil {
			return wrap(err)
		}
	}
	return nil
}

// Flush commits the changes of t. The commit lock is held.
func (s *Store) Flush(t *tx.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !s.hasChanges() {
		s.resetPending()
		return nil
	}

	if err := s.flush(t); err != nil {
		s.discard()
		return wrap(err)
	}
	return nil
}

// Discard drops the changes of t.
func (s *Store) Discard(t *tx.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.discard()
}

func (s *Store) flush(t *tx.Transaction) error {
	log := t.Logger()
	start := time.Now()

	if s.ps.Stale() {
		if err := s.rebase(t); err != nil {
			return err
		}
	}

	for _, st := range s.pending {
		if st.status != statusDirty || !st.reg.tracked {
			continue
		}
		if err := s.history.Validate(uint64(st.oid), st.version); err != nil {
			log.Warn("version conflict", "oid", uint64(st.oid), "type", st.reg.name, "loaded", st.version)
			return err
		}
	}

	if err := s.persistReachable(); err != nil {
		return err
	}

	now := time.Now()
	var writes []written
	for _, st := range s.pending {
		if st.status != statusNew && st.status != statusDirty {
			continue
		}
		w, err := s.writeObject(st, now)
		if err != nil {
			return err
		}
		writes = append(writes, w)
	}

	if err := s.ps.Commit(); err != nil {
		return err
	}

	for _, w := range writes {
		w.st.version = w.version
		w.st.snapshot = w.payload
		w.st.status = statusClean
		w.st.fieldKeys = w.fieldKeys
		if w.st.reg.tracked {
			s.ps.Records().Set(uint64(w.st.oid), w.version, w.record)
		}
	}
	events := changeEvents(writes, s.pending, s.ghosts, s.ps.Seq())
	for _, st := range s.pending {
		if st.status == statusDeleted {
			s.detach(st)
		}
	}
	s.resetPending()
	if len(events) > 0 {
		s.ps.Feed().Publish(events...)
	}

	log.Debug("commit flushed",
		"seq", s.ps.Seq(),
		"objects", len(writes),
		"ops", len(t.Ops()),
		"duration", time.Since(start).String())
	return nil
}

// rebase moves the changes of t onto the latest snapshot: page changes are
// dropped, new objects get fresh identities and the logical operations of
// t are applied again.
func (s *Store) rebase(t *tx.Transaction) error {
	from := s.ps.Seq()
	if err := s.ps.Rollback(); err != nil {
		return err
	}
	if err := s.ps.Refresh(); err != nil {
		return err
	}
	if err := s.openStructures(); err != nil {
		return err
	}

	s.rebased = true

	remap := make(map[OID]OID)
	var fresh []*objectState
	for _, st := range s.pending {
		if st.status != statusNew {
			continue
		}
		if cur, ok := s.byOID[st.oid]; ok && cur == st {
			delete(s.byOID, st.oid)
		}
		fresh = append(fresh, st)
	}
	for _, st := range fresh {
		old := st.oid
		st.oid = s.allocOID()
		remap[old] = st.oid
		s.byOID[st.oid] = st
	}

	if err := s.reloadClean(); err != nil {
		return err
	}

	ops := t.Ops()
	for _, op := range ops {
		if err := s.replay(op, remap); err != nil {
			return fmt.Errorf("replay of %s: %w", op, err)
		}
	}

	t.Logger().Info("transaction rebased",
		"from", from,
		"to", s.ps.Seq(),
		"ops", len(ops),
		"renumbered", len(remap))
	return nil
}

func (s *Store) replay(op tx.Op, remap map[OID]OID) error {
	if _, ghost := s.ghosts[OID(op.OID)]; ghost && op.OID != 0 {
		switch op.Kind {
		case tx.OpIndexPut, tx.OpIndexRemoveObject, tx.OpSetRoot:
			return nil
		}
	}
	oid := OID(op.OID)
	if n, ok := remap[oid]; ok {
		oid = n
	}

	switch op.Kind {
	case tx.OpIndexPut, tx.OpIndexRemove, tx.OpIndexRemoveObject:
		ix, err := s.catalog.Open(op.Index)
		if errors.Is(err, index.ErrIndexNotFound) {
			return fmt.Errorf("%w: index %s was dropped concurrently", storage.ErrConflictDetected, op.Index)
		}
		if err != nil {
			return err
		}
		switch op.Kind {
		case tx.OpIndexPut:
			return ix.PutEncoded(op.Key, uint64(oid))
		case tx.OpIndexRemove:
			_, _, err = ix.RemoveFirstEncoded(op.Key)
		default:
			_, err = ix.RemoveEncoded(op.Key, uint64(oid))
		}
		return err

	case tx.OpDeallocate:
		info, _ := op.Arg.(dropInfo)
		return s.dropObject(oid, info)

	case tx.OpSetRoot:
		s.ps.SetMeta(storage.MetaRootOID, uint64(oid))
		return nil

	case tx.OpCreateIndex:
		desc, _ := op.Arg.(index.Descriptor)
		_, err := s.catalog.Create(desc)
		if !errors.Is(err, index.ErrIndexExists) {
			return err
		}
		existing, oerr := s.catalog.Open(desc.Name)
		if oerr != nil {
			return oerr
		}
		d := existing.Descriptor()
		if d.KeyType != desc.KeyType || d.Unique != desc.Unique || d.TypeName != desc.TypeName || d.Field != desc.Field {
			return fmt.Errorf("%w: index %s was defined concurrently", storage.ErrConflictDetected, desc.Name)
		}
		return nil

	case tx.OpDropIndex:
		err := s.catalog.Drop(op.Index)
		if errors.Is(err, index.ErrIndexNotFound) {
			return nil
		}
		return err
	}
	return fmt.Errorf("unknown op kind %d", op.Kind)
}

// persistReachable makes every unpersisted object referenced from a new or
// modified object persistent and stores target identities in references.
func (s *Store) persistReachable() error {
	for i := 0; i < len(s.pending); i++ {
		st := s.pending[i]
		if st.status != statusNew && st.status != statusDirty {
			continue
		}
		h, ok := st.obj.(Holder)
		if !ok {
			continue
		}
		for _, ref := range h.References() {
			if ref == nil {
				continue
			}
			ref.bind(s)
			target := ref.target()
			if target == nil {
				continue
			}
			tst, err := s.persist(target)
			if errors.Is(err, ErrObjectDeleted) {
				continue
			}
			if err != nil {
				return fmt.Errorf("object %d references %T: %w", st.oid, target, err)
			}
			ref.setOID(tst.oid)
		}
	}
	return nil
}

// writeObject stores the next version of st.
func (s *Store) writeObject(st *objectState, now time.Time) (written, error) {
	payload, err := json.Marshal(st.obj)
	if err != nil {
		return written{}, fmt.Errorf("%w: failed to encode object %d: %w", storage.ErrInvalidState, st.oid, err)
	}

	version, err := s.nextVersion(st)
	if err != nil {
		return written{}, err
	}
	rec := &mvcc.Record{
		OID:         uint64(st.oid),
		Version:     version,
		Tracked:     st.reg.tracked,
		CommittedAt: now,
		TypeName:    st.reg.name,
		Payload:     payload,
	}
	data := rec.Marshal()
	key := oidKey(st.oid)

	var loc heap.Location
	if st.reg.tracked {
		if loc, err = s.heap.Insert(data); err != nil {
			return written{}, err
		}
		if err := s.history.Append(uint64(st.oid), version, loc); err != nil {
			return written{}, err
		}
	} else {
		cur, ok, err := s.objects.Get(key)
		if err != nil {
			return written{}, err
		}
		if ok {
			loc, err = s.heap.Update(heap.Location(cur), data)
		} else {
			loc, err = s.heap.Insert(data)
		}
		if err != nil {
			return written{}, err
		}
	}
	if _, _, err := s.objects.Put(key, uint64(loc)); err != nil {
		return written{}, err
	}

	if st.status == statusNew {
		if _, _, err := s.extents.Put(extentKey(st.reg.name, st.oid), uint64(st.oid)); err != nil {
			return written{}, err
		}
	}

	keys, err := s.moveFieldKeys(st)
	if err != nil {
		return written{}, err
	}
	return written{st: st, version: version, payload: payload, record: data, fieldKeys: keys, inserted: st.status == statusNew}, nil
}

// nextVersion returns the version of the next record of st. Untracked
// objects continue from the committed head, which another handle may have
// advanced past the version st was loaded at.
func (s *Store) nextVersion(st *objectState) (uint64, error) {
	version := st.version + 1
	if st.reg.tracked || st.status == statusNew {
		return version, nil
	}
	head, err := s.readHead(st.oid)
	if errors.Is(err, ErrObjectNotFound) {
		return version, nil
	}
	if err != nil {
		return 0, err
	}
	if head.Version >= version {
		version = head.Version + 1
	}
	return version, nil
}

// moveFieldKeys re-indexes st in every field index whose key changed and
// returns the new membership.
func (s *Store) moveFieldKeys(st *objectState) (map[string][]byte, error) {
	if len(st.fieldKeys) == 0 {
		return st.fieldKeys, nil
	}

	keys := make(map[string][]byte, len(st.fieldKeys))
	for name, old := range st.fieldKeys {
		keys[name] = old
		keyOf, ok := s.keyFuncs[name]
		if !ok {
			continue
		}
		ix, err := s.catalog.Open(name)
		if errors.Is(err, index.ErrIndexNotFound) {
			delete(keys, name)
			continue
		}
		if err != nil {
			return nil, err
		}
		key, err := keyOf(st.obj)
		if err != nil {
			return nil, fmt.Errorf("%w: index %s: %w", storage.ErrInvalidState, name, err)
		}
		enc, err := ix.EncodedKey(key)
		if err != nil {
			return nil, err
		}
		if bytes.Equal(enc, old) {
			continue
		}
		if _, err := ix.RemoveEncoded(old, uint64(st.oid)); err != nil {
			return nil, err
		}
		if err := ix.PutEncoded(enc, uint64(st.oid)); err != nil {
			return nil, err
		}
		keys[name] = enc
	}
	return keys, nil
}

// discard rolls the page store back and restores every object of the
// transaction to its committed state. New objects are detached.
func (s *Store) discard() {
	if err := s.ps.Rollback(); err != nil {
		s.log.Error("page rollback failed", "error", err.Error())
	}
	if err := s.openStructures(); err != nil {
		s.log.Error("failed to reopen structures", "error", err.Error())
	}

	for _, st := range s.pending {
		switch {
		case st.status == statusNew:
			s.detach(st)
		case st.status == statusDeleted && st.version == 0:
		default:
			s.restore(st)
			s.byOID[st.oid] = st
			s.states[st.obj] = st
			s.trackFieldKeys(st)
		}
	}
	if s.rebased {
		if err := s.reloadClean(); err != nil {
			s.log.Error("failed to reload objects", "error", err.Error())
		}
	}
	s.resetPending()
}

func (s *Store) resetPending() {
	for _, st := range s.pending {
		st.queued = false
	}
	s.pending = nil
	s.ghosts = nil
	s.rebased = false
}

package engine

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/KilimcininKorOglu/oodb/internal/logging"
	"github.com/KilimcininKorOglu/oodb/internal/storage"
	"github.com/KilimcininKorOglu/oodb/internal/storage/btree"
	"github.com/KilimcininKorOglu/oodb/internal/storage/heap"
	"github.com/KilimcininKorOglu/oodb/internal/storage/index"
	"github.com/KilimcininKorOglu/oodb/internal/storage/mvcc"
	"github.com/KilimcininKorOglu/oodb/internal/storage/tx"
)

// Transaction modes.
const (
	Cooperative = tx.Cooperative
	Exclusive   = tx.Exclusive
)

// Store is one handle on an object store file. Several handles may share a
// file within a process; each has its own identity map and runs at most
// one transaction at a time.
type Store struct {
	ps    *storage.PageStore
	log   logging.Logger
	coord *tx.Coordinator

	// mu guards everything below and the page store.
	mu sync.Mutex

	heap    *heap.Heap
	objects *btree.BPlusTree
	extents *btree.BPlusTree
	history *mvcc.History
	catalog *index.Catalog

	types    map[string]*registration
	byType   map[reflect.Type]*registration
	keyFuncs map[string]KeyFunc

	byOID   map[OID]*objectState
	states  map[any]*objectState
	pending []*objectState
	ghosts  map[OID]struct{}

	// rebased is set once the current transaction moved to a newer
	// snapshot.
	rebased bool

	closed bool
}

var _ tx.Participant = (*Store)(nil)
var _ tx.Beginner = (*Store)(nil)

// Open opens or creates the store file at path with a page pool of
// poolSizeBytes.
func Open(path string, poolSizeBytes int64, opts ...Option) (*Store, error) {
	o := storage.DefaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}

	ps, err := storage.Open(path, poolSizeBytes, o)
	if err != nil {
		return nil, err
	}

	s := &Store{
		ps:       ps,
		log:      o.Logger.WithFields("handle", ps.ID().String()),
		types:    make(map[string]*registration),
		byType:   make(map[reflect.Type]*registration),
		keyFuncs: make(map[string]KeyFunc),
		byOID:    make(map[OID]*objectState),
		states:   make(map[any]*objectState),
	}
	s.coord = tx.NewCoordinator(s, s.log)

	if err := s.bootstrap(); err != nil {
		_ = ps.Close()
		return nil, wrap(err)
	}

	s.log.Info("store opened", "path", ps.Path(), "seq", ps.Seq())
	return s, nil
}

// bootstrap creates the object table, the extents, the version history and
// the index catalog of a new file.
func (s *Store) bootstrap() error {
	s.ps.LockCommit()
	defer s.ps.UnlockCommit()

	if err := s.ps.Refresh(); err != nil {
		return err
	}
	if s.ps.Meta(storage.MetaObjectTable) != 0 {
		return s.openStructures()
	}

	objects, err := btree.Create(s.ps)
	if err != nil {
		return fmt.Errorf("failed to create object table: %w", err)
	}
	extents, err := btree.Create(s.ps)
	if err != nil {
		return fmt.Errorf("failed to create extents: %w", err)
	}
	h := heap.New(s.ps)
	history, err := mvcc.OpenHistory(s.ps, h, nil, storage.InvalidPageID)
	if err != nil {
		return err
	}
	catalog, err := index.OpenCatalog(s.ps, h, storage.InvalidPageID)
	if err != nil {
		return err
	}

	s.ps.SetMeta(storage.MetaObjectTable, uint64(objects.Root()))
	s.ps.SetMeta(storage.MetaExtents, uint64(extents.Root()))
	s.ps.SetMeta(storage.MetaHistory, uint64(history.Root()))
	s.ps.SetMeta(storage.MetaDirectory, uint64(catalog.Root()))
	s.ps.SetMeta(storage.MetaNextOID, 1)

	if err := s.ps.Commit(); err != nil {
		_ = s.ps.Rollback()
		return err
	}
	s.log.Info("initialized object store", "seq", s.ps.Seq())
	return s.openStructures()
}

// openStructures binds the trees to the roots of the current snapshot.
func (s *Store) openStructures() error {
	var err error
	s.heap = heap.New(s.ps)

	s.objects, err = btree.Open(s.ps, storage.PageID(s.ps.Meta(storage.MetaObjectTable)))
	if err != nil {
		return fmt.Errorf("failed to open object table: %w", err)
	}
	s.extents, err = btree.Open(s.ps, storage.PageID(s.ps.Meta(storage.MetaExtents)))
	if err != nil {
		return fmt.Errorf("failed to open extents: %w", err)
	}
	s.history, err = mvcc.OpenHistory(s.ps, s.heap, s.ps.Records(), storage.PageID(s.ps.Meta(storage.MetaHistory)))
	if err != nil {
		return err
	}
	s.catalog, err = index.OpenCatalog(s.ps, s.heap, storage.PageID(s.ps.Meta(storage.MetaDirectory)))
	return err
}

func (s *Store) checkOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Path returns the path of the backing file.
func (s *Store) Path() string {
	return s.ps.Path()
}

// Close commits pending changes and releases the handle. A second Close
// returns ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.mu.Unlock()

	var commitErr error
	if t := s.coord.Current(); t != nil {
		if commitErr = t.Commit(); commitErr != nil {
			s.log.Warn("pending changes lost at close", "error", commitErr.Error())
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.byOID = nil
	s.states = nil
	s.pending = nil

	err := s.ps.Close()
	s.log.Info("store closed")
	if commitErr != nil {
		return wrap(commitErr)
	}
	return wrap(err)
}

// Begin starts an explicit transaction. Pending changes made outside a
// transaction become part of it. Begin blocks while another explicit
// transaction runs on this handle; Exclusive also blocks while any handle
// on the file runs an exclusive transaction or commits. When ctx ends the
// wait, its error is returned as is. With a ctx that is never done, a Begin
// while an explicit transaction is active fails with ErrInvalidState.
func (s *Store) Begin(ctx context.Context, mode tx.Mode) (*tx.Transaction, error) {
	s.mu.Lock()
	if err := s.checkOpen(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	seq := s.ps.Seq()
	s.mu.Unlock()

	t, err := s.coord.Begin(ctx, mode, seq)
	if err != nil {
		return nil, wrap(err)
	}
	return t, nil
}

// Commit commits the active transaction of the handle, explicit or
// implicit. With nothing pending it does nothing.
func (s *Store) Commit() error {
	s.mu.Lock()
	if err := s.checkOpen(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	t := s.coord.Current()
	if t == nil {
		return nil
	}
	return wrap(t.Commit())
}

// Rollback discards the active transaction of the handle.
func (s *Store) Rollback() error {
	s.mu.Lock()
	if err := s.checkOpen(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	t := s.coord.Current()
	if t == nil {
		return nil
	}
	return wrap(t.Rollback())
}

// Refresh moves the handle to the latest committed state of the file and
// reloads cached objects that changed. It fails with ErrInvalidState while
// changes are pending.
func (s *Store) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.hasChanges() {
		return fmt.Errorf("%w: refresh with pending changes", ErrInvalidState)
	}
	return wrap(s.refresh())
}

// refresh adopts the latest snapshot when the handle is behind.
func (s *Store) refresh() error {
	if !s.ps.Stale() {
		return nil
	}
	if err := s.ps.Refresh(); err != nil {
		return err
	}
	if err := s.openStructures(); err != nil {
		return err
	}
	return s.reloadClean()
}

func (s *Store) hasChanges() bool {
	return len(s.pending) > 0 || s.ps.HasChanges()
}

// join returns the transaction a mutation belongs to.
func (s *Store) join() *tx.Transaction {
	return s.coord.Implicit(s.ps.Seq())
}

// Stats describes a store handle.
type Stats struct {
	Storage storage.Stats

	// Objects is the number of materialized objects.
	Objects int

	// Pending is the number of new or modified objects not yet committed.
	Pending int

	// Types is the number of registered types.
	Types int

	// InTransaction is set while a transaction is active.
	InTransaction bool
}

// Stats returns statistics about the handle.
func (s *Store) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return Stats{}, err
	}

	pending := 0
	for _, st := range s.pending {
		if st.status == statusNew || st.status == statusDirty {
			pending++
		}
	}
	return Stats{
		Storage:       s.ps.Stats(),
		Objects:       len(s.byOID),
		Pending:       pending,
		Types:         len(s.types),
		InTransaction: s.coord.Current() != nil,
	}, nil
}

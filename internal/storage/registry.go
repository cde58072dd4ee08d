package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/KilimcininKorOglu/oodb/internal/logging"
	"github.com/KilimcininKorOglu/oodb/internal/storage/cache"
	"github.com/KilimcininKorOglu/oodb/internal/storage/stream"
)

// Registry errors.
var (
	ErrFileLocked = errors.New("store file is locked by another process")
)

// retiredSet holds physical pages that stopped being referenced at seq.
type retiredSet struct {
	seq   uint64
	pages []PageID
}

// sharedFile is the per-process state of one backing file. Every PageStore
// handle on the same path shares it: the latest committed snapshot, the
// physical free list, the commit mutex and the record cache.
type sharedFile struct {
	path string
	file *os.File
	refs int
	log  logging.Logger

	// commitMu serializes commits across handles.
	commitMu sync.Mutex

	mu         sync.Mutex
	latest     *snapshot
	free       *FreeList
	totalPages uint64
	growth     int
	retired    []retiredSet
	pins       map[*PageStore]uint64

	records *cache.RecordCache
	feed    *stream.Broker
}

var registry = struct {
	mu    sync.Mutex
	files map[string]*sharedFile
}{files: make(map[string]*sharedFile)}

// acquireShared returns the shared state of path, mounting the file on first
// use in this process.
func acquireShared(path string, opts Options) (*sharedFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	if sf, ok := registry.files[abs]; ok {
		sf.refs++
		return sf, nil
	}

	sf, err := mountShared(abs, opts)
	if err != nil {
		return nil, err
	}
	registry.files[abs] = sf
	return sf, nil
}

// mountShared opens, locks and validates the file.
func mountShared(path string, opts Options) (*sharedFile, error) {
	flags := os.O_RDWR
	if opts.CreateIfNotExists {
		flags |= os.O_CREATE
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %v", ErrIOFailure, path, err)
	}

	if err := lockFile(file); err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrIOFailure, path, err)
	}

	sf := &sharedFile{
		path:   path,
		file:   file,
		refs:   1,
		log:    opts.Logger.WithFields("file", path),
		free:   NewFreeList(),
		growth: opts.GrowthPages,
		pins:   make(map[*PageStore]uint64),
	}

	fail := func(err error) (*sharedFile, error) {
		_ = unlockFile(file)
		file.Close()
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrIOFailure, err))
	}

	if info.Size() == 0 {
		if err := sf.initializeNew(opts); err != nil {
			return fail(err)
		}
	} else {
		if err := sf.loadExisting(); err != nil {
			return fail(err)
		}
	}

	records, err := cache.New(opts.CacheSize)
	if err != nil {
		return fail(fmt.Errorf("failed to create record cache: %w", err))
	}
	sf.records = records
	sf.feed = stream.NewBroker(opts.FeedBufferSize)

	return sf, nil
}

// initializeNew writes the first header of an empty file.
func (sf *sharedFile) initializeNew(opts Options) error {
	h := NewFileHeader(uint64(opts.PoolSize))
	h.Seq = 1

	zero := make([]byte, FileHeaderSize)
	if _, err := sf.file.WriteAt(zero, 0); err != nil {
		return fmt.Errorf("%w: failed to initialize header: %v", ErrIOFailure, err)
	}
	buf, err := h.Serialize()
	if err != nil {
		return err
	}
	if _, err := sf.file.WriteAt(buf, int64(h.Slot())*PageSize); err != nil {
		return fmt.Errorf("%w: failed to write header: %v", ErrIOFailure, err)
	}
	if err := sf.file.Sync(); err != nil {
		return fmt.Errorf("%w: failed to sync: %v", ErrIOFailure, err)
	}

	sf.latest = emptySnapshot(h)
	sf.totalPages = h.TotalPages
	sf.log.Info("created store file", "file_id", h.FileID.String())
	return nil
}

// loadExisting picks the newest valid header and rebuilds the free list.
func (sf *sharedFile) loadExisting() error {
	slots := make([][]byte, HeaderSlots)
	for i := range slots {
		buf := make([]byte, FileHeaderSize)
		if _, err := sf.file.ReadAt(buf, int64(i)*PageSize); err != nil {
			// A short file may hold only the first slot.
			buf = nil
		}
		slots[i] = buf
	}

	var valid [][]byte
	for _, s := range slots {
		if s != nil {
			valid = append(valid, s)
		}
	}
	h, err := pickHeader(valid)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}

	snap, err := loadSnapshot(sf.file, h)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}

	sf.latest = snap
	sf.totalPages = h.TotalPages

	used := snap.reachable()
	for p := uint64(HeaderSlots); p < h.TotalPages; p++ {
		if _, ok := used[PageID(p)]; !ok {
			sf.free.Push(PageID(p))
		}
	}

	sf.log.Info("mounted store file",
		"seq", h.Seq,
		"total_pages", h.TotalPages,
		"free_pages", sf.free.Count())
	return nil
}

// allocPhysical returns a physical page no snapshot references.
func (sf *sharedFile) allocPhysical() PageID {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	if id, ok := sf.free.Pop(); ok {
		return id
	}

	first := sf.totalPages
	sf.totalPages += uint64(sf.growth)
	for p := sf.totalPages - 1; p > first; p-- {
		sf.free.Push(PageID(p))
	}
	return PageID(first)
}

// releasePhysical returns pages that were never part of a committed snapshot.
func (sf *sharedFile) releasePhysical(ids []PageID) {
	if len(ids) == 0 {
		return
	}
	sf.mu.Lock()
	defer sf.mu.Unlock()
	sf.free.PushAll(ids)
}

// snapshotLatest returns the newest committed snapshot.
func (sf *sharedFile) snapshotLatest() *snapshot {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.latest
}

// publish installs a newly committed snapshot and retires the pages it
// superseded. Must be called with commitMu held.
func (sf *sharedFile) publish(ps *PageStore, s *snapshot, superseded []PageID) {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	sf.latest = s
	if len(superseded) > 0 {
		sf.retired = append(sf.retired, retiredSet{seq: s.header.Seq, pages: superseded})
	}
	sf.pins[ps] = s.header.Seq
	sf.reclaimLocked()
}

// pin records the snapshot a handle reads from.
func (sf *sharedFile) pin(ps *PageStore, seq uint64) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	sf.pins[ps] = seq
	sf.reclaimLocked()
}

// reclaimLocked frees retired pages no pinned snapshot can still read.
func (sf *sharedFile) reclaimLocked() {
	low := sf.latest.header.Seq
	for _, seq := range sf.pins {
		if seq < low {
			low = seq
		}
	}

	kept := sf.retired[:0]
	for _, r := range sf.retired {
		if r.seq <= low {
			sf.free.PushAll(r.pages)
			continue
		}
		kept = append(kept, r)
	}
	sf.retired = kept
}

// release drops one handle's reference and unmounts the file with the last.
func (sf *sharedFile) release(ps *PageStore) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	sf.mu.Lock()
	delete(sf.pins, ps)
	sf.reclaimLocked()
	sf.mu.Unlock()

	sf.refs--
	if sf.refs > 0 {
		return nil
	}

	delete(registry.files, sf.path)
	sf.records.Close()
	sf.feed.Close()

	var firstErr error
	if err := unlockFile(sf.file); err != nil {
		firstErr = err
	}
	if err := sf.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	sf.log.Info("unmounted store file")
	return firstErr
}

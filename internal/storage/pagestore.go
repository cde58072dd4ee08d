package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/KilimcininKorOglu/oodb/internal/logging"
	"github.com/KilimcininKorOglu/oodb/internal/storage/cache"
	"github.com/KilimcininKorOglu/oodb/internal/storage/stream"
)

// Errors for PageStore operations.
var (
	ErrInvalidPageID     = errors.New("invalid page ID")
	ErrUncommittedChange = errors.New("handle has uncommitted changes")
	ErrStoreNotEmpty     = errors.New("store is not empty")
)

// PageStore is one handle on a backing file. It reads pages from the
// snapshot it was last refreshed to and buffers its own changes until
// Commit. A handle is not safe for concurrent use; open one handle per
// worker to write concurrently.
type PageStore struct {
	id     uuid.UUID
	path   string
	file   File
	shared *sharedFile
	opts   Options
	log    logging.Logger
	pool   *BufferPool

	base        *snapshot
	meta        [MetaSlots]uint64
	nextLogical uint64
	freeLogical []PageID

	allocated map[PageID]struct{}
	freed     map[PageID]struct{}
	spilled   map[PageID]PageID

	generation uint64
	closed     bool
	stats      pageStoreCounters
}

type pageStoreCounters struct {
	reads   uint64
	writes  uint64
	spills  uint64
	commits uint64
}

// Open mounts path with a page pool of poolSizeBytes, creating the file if it
// does not exist. Open fails with ErrIOFailure when the file cannot be
// opened or no header slot validates.
func Open(path string, poolSizeBytes int64, opts Options) (*PageStore, error) {
	if poolSizeBytes > 0 {
		opts.PoolSize = poolSizeBytes
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	shared, err := acquireShared(path, opts)
	if err != nil {
		return nil, err
	}

	file, err := opts.OpenFile(shared.path)
	if err != nil {
		_ = shared.release(nil)
		return nil, fmt.Errorf("%w: failed to open %s: %v", ErrIOFailure, path, err)
	}

	ps := &PageStore{
		id:     uuid.New(),
		path:   shared.path,
		file:   file,
		shared: shared,
		opts:   opts,
		pool:   NewBufferPool(PoolFrames(opts.PoolSize)),
	}
	ps.log = opts.Logger.WithFields("handle", ps.id.String())
	ps.pool.SetSpillCallback(ps.spill)

	ps.adopt(shared.snapshotLatest())
	shared.pin(ps, ps.base.header.Seq)

	ps.log.Debug("opened page store",
		"path", ps.path,
		"seq", ps.base.header.Seq,
		"pool_frames", ps.pool.Stats().Capacity)
	return ps, nil
}

// adopt makes s the handle's base and discards all uncommitted state.
func (ps *PageStore) adopt(s *snapshot) {
	ps.base = s
	ps.meta = s.header.Meta
	ps.nextLogical = s.header.NextLogical
	ps.freeLogical = s.freeLogical()
	ps.allocated = make(map[PageID]struct{})
	ps.freed = make(map[PageID]struct{})
	ps.spilled = make(map[PageID]PageID)
	ps.generation++
}

// ID returns the handle identifier.
func (ps *PageStore) ID() uuid.UUID {
	return ps.id
}

// Path returns the absolute path of the backing file.
func (ps *PageStore) Path() string {
	return ps.path
}

// Generation changes whenever the visible page state changes. Iterators use
// it to detect that they must re-seek.
func (ps *PageStore) Generation() uint64 {
	return ps.generation
}

// Seq returns the commit sequence of the snapshot the handle reads.
func (ps *PageStore) Seq() uint64 {
	return ps.base.header.Seq
}

// Header returns a copy of the base snapshot's header.
func (ps *PageStore) Header() *FileHeader {
	return ps.base.header.Clone()
}

// Records returns the record cache shared by all handles on the file.
func (ps *PageStore) Records() *cache.RecordCache {
	return ps.shared.records
}

// Feed returns the change feed shared by every handle on the file.
func (ps *PageStore) Feed() *stream.Broker {
	return ps.shared.feed
}

func (ps *PageStore) checkOpen() error {
	if ps.closed {
		return ErrStoreClosed
	}
	return nil
}

// ReadPage returns a private copy of a logical page.
func (ps *PageStore) ReadPage(id PageID) (*Page, error) {
	if err := ps.checkOpen(); err != nil {
		return nil, err
	}
	if id == InvalidPageID {
		return nil, ErrInvalidPageID
	}
	if _, ok := ps.freed[id]; ok {
		return nil, fmt.Errorf("%w: %d", ErrUnmappedPage, id)
	}

	if page, ok := ps.pool.Get(id); ok {
		return page.Clone(), nil
	}

	phys, ok := ps.spilled[id]
	if !ok {
		phys = ps.base.physical(id)
	}
	if phys == InvalidPageID {
		return nil, fmt.Errorf("%w: %d", ErrUnmappedPage, id)
	}

	page, err := readPhysical(ps.file, phys)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if page.Header.PageID != id {
		return nil, fmt.Errorf("%w: %w: logical %d at physical %d holds %d",
			ErrIOFailure, ErrMisdirectedPage, id, phys, page.Header.PageID)
	}
	ps.stats.reads++

	if err := ps.pool.Put(id, page, false); err != nil {
		return nil, err
	}
	return page.Clone(), nil
}

// WritePage stores a modified page. The change stays in memory until Commit.
func (ps *PageStore) WritePage(page *Page) error {
	if err := ps.checkOpen(); err != nil {
		return err
	}
	id := page.Header.PageID
	if id == InvalidPageID || uint64(id) >= ps.nextLogical {
		return fmt.Errorf("%w: %d", ErrInvalidPageID, id)
	}
	if _, ok := ps.freed[id]; ok {
		return fmt.Errorf("%w: %d", ErrUnmappedPage, id)
	}
	if err := ps.pool.Put(id, page.Clone(), true); err != nil {
		return err
	}
	ps.stats.writes++
	ps.generation++
	return nil
}

// AllocatePage returns a new zeroed page of the given type.
func (ps *PageStore) AllocatePage(pageType PageType) (*Page, error) {
	if err := ps.checkOpen(); err != nil {
		return nil, err
	}

	var id PageID
	if n := len(ps.freeLogical); n > 0 {
		id = ps.freeLogical[n-1]
		ps.freeLogical = ps.freeLogical[:n-1]
	} else {
		id = PageID(ps.nextLogical)
		ps.nextLogical++
	}
	ps.allocated[id] = struct{}{}

	page := NewPage(id, pageType)
	if err := ps.pool.Put(id, page.Clone(), true); err != nil {
		return nil, err
	}
	ps.generation++
	return page, nil
}

// FreePage releases a logical page. Committed content stays readable by
// other snapshots until they are no longer pinned.
func (ps *PageStore) FreePage(id PageID) error {
	if err := ps.checkOpen(); err != nil {
		return err
	}
	if id == InvalidPageID {
		return ErrInvalidPageID
	}

	ps.pool.Remove(id)
	if phys, ok := ps.spilled[id]; ok {
		ps.shared.releasePhysical([]PageID{phys})
		delete(ps.spilled, id)
	}

	if _, ok := ps.allocated[id]; ok {
		delete(ps.allocated, id)
		ps.freeLogical = append(ps.freeLogical, id)
	} else {
		ps.freed[id] = struct{}{}
	}
	ps.generation++
	return nil
}

// Meta returns a metadata word of the working state.
func (ps *PageStore) Meta(slot int) uint64 {
	return ps.meta[slot]
}

// SetMeta sets a metadata word; it becomes durable with the next Commit.
func (ps *PageStore) SetMeta(slot int, v uint64) {
	ps.meta[slot] = v
	ps.generation++
}

// HasChanges reports whether the handle holds uncommitted changes.
func (ps *PageStore) HasChanges() bool {
	return ps.pool.Stats().DirtyPages > 0 ||
		len(ps.spilled) > 0 ||
		len(ps.freed) > 0 ||
		len(ps.allocated) > 0 ||
		ps.meta != ps.base.header.Meta
}

// spill writes a dirty page evicted before commit to a physical page no
// committed snapshot references.
func (ps *PageStore) spill(id PageID, page *Page) error {
	phys, ok := ps.spilled[id]
	if !ok {
		phys = ps.shared.allocPhysical()
		ps.spilled[id] = phys
	}
	if err := ps.writePhysical(phys, page); err != nil {
		return fmt.Errorf("%w: failed to spill page %d: %v", ErrIOFailure, id, err)
	}
	ps.stats.spills++
	return nil
}

func (ps *PageStore) writePhysical(phys PageID, page *Page) error {
	buf := make([]byte, PageSize)
	if err := page.SerializeTo(buf); err != nil {
		return err
	}
	_, err := ps.file.WriteAt(buf, int64(phys)*PageSize)
	return err
}

// LockCommit serializes commits across all handles on the file.
func (ps *PageStore) LockCommit() {
	ps.shared.commitMu.Lock()
}

// UnlockCommit releases the lock taken by LockCommit.
func (ps *PageStore) UnlockCommit() {
	ps.shared.commitMu.Unlock()
}

// Stale reports whether another handle committed since this handle's base.
func (ps *PageStore) Stale() bool {
	return ps.shared.snapshotLatest() != ps.base
}

// Refresh moves the handle to the latest committed snapshot. It fails with
// ErrUncommittedChange when the handle holds changes.
func (ps *PageStore) Refresh() error {
	if err := ps.checkOpen(); err != nil {
		return err
	}
	latest := ps.shared.snapshotLatest()
	if latest == ps.base {
		return nil
	}
	if ps.HasChanges() {
		return ErrUncommittedChange
	}

	for _, id := range ps.pool.PageIDs() {
		if ps.base.physical(id) != latest.physical(id) {
			ps.pool.Remove(id)
		}
	}

	ps.log.Debug("refreshed snapshot", "from", ps.base.header.Seq, "to", latest.header.Seq)
	ps.adopt(latest)
	ps.shared.pin(ps, latest.header.Seq)
	return nil
}

// Rollback discards every change since the last commit or refresh.
func (ps *PageStore) Rollback() error {
	if err := ps.checkOpen(); err != nil {
		return err
	}

	ps.pool.DropDirty()
	for id := range ps.allocated {
		ps.pool.Remove(id)
	}

	released := make([]PageID, 0, len(ps.spilled))
	for id, phys := range ps.spilled {
		ps.pool.Remove(id)
		released = append(released, phys)
	}
	ps.shared.releasePhysical(released)

	ps.adopt(ps.base)
	return nil
}

// Commit makes every change durable. The caller must hold LockCommit and the
// handle must not be stale. Data pages are written first, then the page map
// and its directory, then the header into the alternate slot. An I/O error
// returns ErrCommitFailure and leaves the changes in place for Rollback.
func (ps *PageStore) Commit() error {
	if err := ps.checkOpen(); err != nil {
		return err
	}
	if ps.Stale() {
		return fmt.Errorf("%w: handle is stale", ErrInvalidState)
	}
	if !ps.HasChanges() {
		return nil
	}

	start := time.Now()
	base := ps.base

	// Physical pages taken during this commit, returned on failure.
	var fresh []PageID
	alloc := func() PageID {
		p := ps.shared.allocPhysical()
		fresh = append(fresh, p)
		return p
	}
	fail := func(err error) error {
		ps.shared.releasePhysical(fresh)
		ps.log.Error("commit failed", "seq", base.header.Seq+1, "error", err)
		return fmt.Errorf("%w: %v", ErrCommitFailure, err)
	}

	changes := make(map[PageID]PageID)
	for _, id := range ps.pool.DirtyPageIDs() {
		page, ok := ps.pool.Get(id)
		if !ok {
			continue
		}
		phys, ok := ps.spilled[id]
		if !ok {
			phys = alloc()
		}
		if err := ps.writePhysical(phys, page); err != nil {
			return fail(err)
		}
		changes[id] = phys
	}
	for id, phys := range ps.spilled {
		if _, ok := changes[id]; !ok {
			changes[id] = phys
		}
	}
	for id := range ps.freed {
		changes[id] = InvalidPageID
	}

	var superseded []PageID
	mapping := make([]PageID, ps.nextLogical)
	copy(mapping, base.mapping)
	touched := make(map[int]struct{})
	for id, phys := range changes {
		if old := base.physical(id); old != InvalidPageID && old != phys {
			superseded = append(superseded, old)
		}
		mapping[id] = phys
		touched[int(id)/mapEntriesPerPage] = struct{}{}
	}

	mapCount := mapPagesFor(len(mapping))
	mapPages := make([]PageID, mapCount)
	copy(mapPages, base.mapPages)
	for k := len(base.mapPages); k < mapCount; k++ {
		touched[k] = struct{}{}
	}
	for k := range touched {
		if k >= mapCount {
			continue
		}
		phys := alloc()
		if err := ps.writePhysical(phys, encodeMapPage(k, mapping, phys)); err != nil {
			return fail(err)
		}
		if k < len(base.mapPages) {
			superseded = append(superseded, base.mapPages[k])
		}
		mapPages[k] = phys
	}

	dirPages := make([]PageID, dirPagesFor(len(mapPages)))
	for i := range dirPages {
		dirPages[i] = alloc()
	}
	for _, page := range encodeDirPages(mapPages, dirPages) {
		if err := ps.writePhysical(page.Header.PageID, page); err != nil {
			return fail(err)
		}
	}
	superseded = append(superseded, base.dirPages...)

	if ps.opts.SyncOnCommit {
		if err := ps.file.Sync(); err != nil {
			return fail(err)
		}
	}

	h := base.header.Clone()
	h.Seq++
	h.TotalPages = ps.totalPages()
	h.NextLogical = ps.nextLogical
	h.MapPages = uint32(len(mapPages))
	h.MapDir = InvalidPageID
	if len(dirPages) > 0 {
		h.MapDir = dirPages[0]
	}
	h.Meta = ps.meta

	buf, err := h.Serialize()
	if err != nil {
		return fail(err)
	}
	if _, err := ps.file.WriteAt(buf, int64(h.Slot())*PageSize); err != nil {
		return fail(err)
	}
	if ps.opts.SyncOnCommit {
		if err := ps.file.Sync(); err != nil {
			return fail(err)
		}
	}

	next := &snapshot{
		header:   h,
		mapping:  mapping,
		mapPages: mapPages,
		dirPages: dirPages,
	}
	ps.shared.publish(ps, next, superseded)

	ps.pool.MarkClean()
	written := len(changes)
	ps.adopt(next)
	ps.stats.commits++

	ps.log.Debug("committed",
		"seq", h.Seq,
		"pages", written,
		"superseded", len(superseded),
		"duration", time.Since(start).String())
	return nil
}

func (ps *PageStore) totalPages() uint64 {
	ps.shared.mu.Lock()
	defer ps.shared.mu.Unlock()
	return ps.shared.totalPages
}

// ImportPage installs a page at its own logical id. It is used to rebuild a
// store from a backup and only works on a store that has never committed
// data pages.
func (ps *PageStore) ImportPage(page *Page) error {
	if err := ps.checkOpen(); err != nil {
		return err
	}
	id := page.Header.PageID
	if id == InvalidPageID {
		return ErrInvalidPageID
	}
	if ps.base.header.NextLogical > 1 {
		return ErrStoreNotEmpty
	}
	if uint64(id) >= ps.nextLogical {
		ps.nextLogical = uint64(id) + 1
	}
	ps.allocated[id] = struct{}{}
	ps.freeLogical = nil
	if err := ps.pool.Put(id, page.Clone(), true); err != nil {
		return err
	}
	ps.generation++
	return nil
}

// ExportPages calls fn for every mapped logical page of the base snapshot
// in ascending order.
func (ps *PageStore) ExportPages(fn func(page *Page) error) error {
	if err := ps.checkOpen(); err != nil {
		return err
	}
	for id := 1; id < len(ps.base.mapping); id++ {
		phys := ps.base.mapping[id]
		if phys == InvalidPageID {
			continue
		}
		page, err := readPhysical(ps.file, phys)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIOFailure, err)
		}
		if err := fn(page); err != nil {
			return err
		}
	}
	return nil
}

// Stats describes a page store handle.
type Stats struct {
	FileID        string
	Seq           uint64
	CreatedAt     time.Time
	TotalPages    uint64
	LogicalPages  uint64
	MappedPages   int
	FreePhysical  int
	RetiredSets   int
	Pool          BufferPoolStats
	PageReads     uint64
	PageWrites    uint64
	Spills        uint64
	Commits       uint64
	CacheHits     uint64
	CacheMisses   uint64
	PoolSizeBytes uint64
}

// Stats returns current statistics about the handle and its file.
func (ps *PageStore) Stats() Stats {
	mapped := 0
	for _, p := range ps.base.mapping {
		if p != InvalidPageID {
			mapped++
		}
	}

	ps.shared.mu.Lock()
	free := ps.shared.free.Count()
	retired := len(ps.shared.retired)
	total := ps.shared.totalPages
	ps.shared.mu.Unlock()

	hits, misses := ps.shared.records.Stats()
	h := ps.base.header
	return Stats{
		FileID:        h.FileID.String(),
		Seq:           h.Seq,
		CreatedAt:     time.Unix(0, h.CreatedAt),
		TotalPages:    total,
		LogicalPages:  ps.nextLogical,
		MappedPages:   mapped,
		FreePhysical:  free,
		RetiredSets:   retired,
		Pool:          ps.pool.Stats(),
		PageReads:     ps.stats.reads,
		PageWrites:    ps.stats.writes,
		Spills:        ps.stats.spills,
		Commits:       ps.stats.commits,
		CacheHits:     hits,
		CacheMisses:   misses,
		PoolSizeBytes: h.PoolSize,
	}
}

// Close drops uncommitted changes and releases the handle. A second Close
// returns ErrStoreClosed.
func (ps *PageStore) Close() error {
	if ps.closed {
		return ErrStoreClosed
	}
	if ps.HasChanges() {
		ps.log.Warn("closing with uncommitted changes; discarding")
		_ = ps.Rollback()
	}
	ps.closed = true
	ps.pool.Clear()

	var firstErr error
	if err := ps.file.Close(); err != nil {
		firstErr = fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if err := ps.shared.release(ps); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	ps.log.Debug("closed page store")
	return firstErr
}

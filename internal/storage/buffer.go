package storage

import (
	"errors"
	"sort"
	"sync"
)

// Buffer pool errors.
var (
	ErrBufferPoolFull = errors.New("buffer pool is full and no pages can be evicted")
	ErrPageNotFound   = errors.New("page not found in buffer pool")
)

// minPoolFrames is the smallest pool that still lets a B+ tree split run
// without evicting a node it is about to rewrite.
const minPoolFrames = 16

type frame struct {
	page  *Page
	dirty bool
}

// BufferPool caches logical pages of one page store handle with LRU eviction.
// Dirty pages are handed to the spill callback before they leave the pool.
type BufferPool struct {
	capacity int
	frames   map[PageID]*frame
	lru      *LRUCache
	dirty    map[PageID]struct{}
	mu       sync.Mutex

	spill func(id PageID, page *Page) error
}

// NewBufferPool creates a pool holding up to capacity pages.
func NewBufferPool(capacity int) *BufferPool {
	if capacity < minPoolFrames {
		capacity = minPoolFrames
	}
	return &BufferPool{
		capacity: capacity,
		frames:   make(map[PageID]*frame),
		lru:      NewLRUCache(),
		dirty:    make(map[PageID]struct{}),
	}
}

// PoolFrames converts a pool size in bytes into a frame count.
func PoolFrames(poolSizeBytes int64) int {
	n := int(poolSizeBytes / PageSize)
	if n < minPoolFrames {
		n = minPoolFrames
	}
	return n
}

// SetSpillCallback sets the function that persists a dirty page on eviction.
func (bp *BufferPool) SetSpillCallback(fn func(id PageID, page *Page) error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.spill = fn
}

// Get returns the cached page. The returned page is owned by the pool.
func (bp *BufferPool) Get(id PageID) (*Page, bool) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	f, ok := bp.frames[id]
	if !ok {
		return nil, false
	}
	bp.lru.Access(id)
	return f.page, true
}

// Put installs page in the pool, evicting the coldest page when full.
func (bp *BufferPool) Put(id PageID, page *Page, dirty bool) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if f, ok := bp.frames[id]; ok {
		f.page = page
		if dirty {
			f.dirty = true
			bp.dirty[id] = struct{}{}
		}
		bp.lru.Access(id)
		return nil
	}

	for len(bp.frames) >= bp.capacity {
		if err := bp.evictOneLocked(id); err != nil {
			return err
		}
	}

	bp.frames[id] = &frame{page: page, dirty: dirty}
	if dirty {
		bp.dirty[id] = struct{}{}
	}
	bp.lru.Access(id)
	return nil
}

// evictOneLocked evicts the least recently used page other than keep.
func (bp *BufferPool) evictOneLocked(keep PageID) error {
	victim, ok := bp.lru.Victim(func(id PageID) bool { return id == keep })
	if !ok {
		return ErrBufferPoolFull
	}

	f := bp.frames[victim]
	if f.dirty {
		if bp.spill == nil {
			return ErrBufferPoolFull
		}
		if err := bp.spill(victim, f.page); err != nil {
			return err
		}
	}

	delete(bp.frames, victim)
	delete(bp.dirty, victim)
	bp.lru.Remove(victim)
	return nil
}

// Remove drops a page without spilling it.
func (bp *BufferPool) Remove(id PageID) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	delete(bp.frames, id)
	delete(bp.dirty, id)
	bp.lru.Remove(id)
}

// IsDirty reports whether the cached page has unflushed changes.
func (bp *BufferPool) IsDirty(id PageID) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	_, ok := bp.dirty[id]
	return ok
}

// DirtyPageIDs returns the dirty page IDs in ascending order.
func (bp *BufferPool) DirtyPageIDs() []PageID {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	ids := make([]PageID, 0, len(bp.dirty))
	for id := range bp.dirty {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MarkClean clears the dirty flag of every page.
func (bp *BufferPool) MarkClean() {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for id := range bp.dirty {
		if f, ok := bp.frames[id]; ok {
			f.dirty = false
		}
	}
	bp.dirty = make(map[PageID]struct{})
}

// DropDirty removes every dirty page from the pool.
func (bp *BufferPool) DropDirty() {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for id := range bp.dirty {
		delete(bp.frames, id)
		bp.lru.Remove(id)
	}
	bp.dirty = make(map[PageID]struct{})
}

// PageIDs returns every cached page ID.
func (bp *BufferPool) PageIDs() []PageID {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	ids := make([]PageID, 0, len(bp.frames))
	for id := range bp.frames {
		ids = append(ids, id)
	}
	return ids
}

// Clear removes all pages from the pool without spilling.
func (bp *BufferPool) Clear() {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	bp.frames = make(map[PageID]*frame)
	bp.dirty = make(map[PageID]struct{})
	bp.lru.Clear()
}

// BufferPoolStats contains statistics about the buffer pool.
type BufferPoolStats struct {
	Capacity   int
	Size       int
	DirtyPages int
}

// Stats returns current statistics about the buffer pool.
func (bp *BufferPool) Stats() BufferPoolStats {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	return BufferPoolStats{
		Capacity:   bp.capacity,
		Size:       len(bp.frames),
		DirtyPages: len(bp.dirty),
	}
}

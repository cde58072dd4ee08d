package storage

import (
	"sort"
	"sync"
)

// FreeList tracks physical pages that no committed snapshot references.
// It is rebuilt at open from the reachable set and never persisted.
type FreeList struct {
	freePages []PageID
	member    map[PageID]struct{}
	mu        sync.Mutex
}

// NewFreeList creates a new empty FreeList.
func NewFreeList() *FreeList {
	return &FreeList{
		freePages: make([]PageID, 0),
		member:    make(map[PageID]struct{}),
	}
}

// Count returns the total number of free pages.
func (fl *FreeList) Count() int {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return len(fl.freePages)
}

// IsEmpty returns true if there are no free pages.
func (fl *FreeList) IsEmpty() bool {
	return fl.Count() == 0
}

// Push adds a page ID to the free list. Pushing a page twice is a no-op.
func (fl *FreeList) Push(pageID PageID) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	fl.pushLocked(pageID)
}

// PushAll adds several page IDs to the free list.
func (fl *FreeList) PushAll(ids []PageID) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	for _, id := range ids {
		fl.pushLocked(id)
	}
}

func (fl *FreeList) pushLocked(pageID PageID) {
	if _, ok := fl.member[pageID]; ok {
		return
	}
	fl.member[pageID] = struct{}{}
	fl.freePages = append(fl.freePages, pageID)
}

// Pop removes and returns a page ID from the free list.
// Returns 0 and false if the free list is empty.
func (fl *FreeList) Pop() (PageID, bool) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if len(fl.freePages) == 0 {
		return 0, false
	}

	// LIFO keeps recently freed pages hot in the OS cache.
	idx := len(fl.freePages) - 1
	pageID := fl.freePages[idx]
	fl.freePages = fl.freePages[:idx]
	delete(fl.member, pageID)

	return pageID, true
}

// PeekAll returns a sorted copy of all free page IDs.
func (fl *FreeList) PeekAll() []PageID {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	result := make([]PageID, len(fl.freePages))
	copy(result, fl.freePages)
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// Contains checks if a page ID is in the free list.
func (fl *FreeList) Contains(pageID PageID) bool {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	_, ok := fl.member[pageID]
	return ok
}

// Clear removes all entries from the free list.
func (fl *FreeList) Clear() {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	fl.freePages = make([]PageID, 0)
	fl.member = make(map[PageID]struct{})
}

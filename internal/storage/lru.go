package storage

import "container/list"

// LRUCache keeps page access order for buffer pool eviction.
type LRUCache struct {
	list    *list.List
	entries map[PageID]*list.Element
}

// NewLRUCache creates a new LRU cache.
func NewLRUCache() *LRUCache {
	return &LRUCache{
		list:    list.New(),
		entries: make(map[PageID]*list.Element),
	}
}

// Access marks a page as most recently used, adding it if absent.
func (c *LRUCache) Access(pageID PageID) {
	if elem, ok := c.entries[pageID]; ok {
		c.list.MoveToFront(elem)
		return
	}
	c.entries[pageID] = c.list.PushFront(pageID)
}

// Remove removes a page from the LRU cache.
func (c *LRUCache) Remove(pageID PageID) {
	if elem, ok := c.entries[pageID]; ok {
		c.list.Remove(elem)
		delete(c.entries, pageID)
	}
}

// Victim returns the least recently used page for which skip returns false.
func (c *LRUCache) Victim(skip func(PageID) bool) (PageID, bool) {
	for elem := c.list.Back(); elem != nil; elem = elem.Prev() {
		id := elem.Value.(PageID)
		if skip == nil || !skip(id) {
			return id, true
		}
	}
	return 0, false
}

// Contains checks if a page is in the LRU cache.
func (c *LRUCache) Contains(pageID PageID) bool {
	_, ok := c.entries[pageID]
	return ok
}

// Len returns the number of entries in the LRU cache.
func (c *LRUCache) Len() int {
	return c.list.Len()
}

// Clear removes all entries from the LRU cache.
func (c *LRUCache) Clear() {
	c.list.Init()
	c.entries = make(map[PageID]*list.Element)
}

// Order returns page IDs from least to most recently used.
func (c *LRUCache) Order() []PageID {
	result := make([]PageID, 0, c.list.Len())
	for elem := c.list.Back(); elem != nil; elem = elem.Prev() {
		result = append(result, elem.Value.(PageID))
	}
	return result
}

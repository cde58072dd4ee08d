package storage

// Pager is the page-level API the record heap and the B+ trees are built on.
// PageStore implements it.
type Pager interface {
	// ReadPage returns a private copy of a logical page.
	ReadPage(id PageID) (*Page, error)
	// WritePage stores a modified page.
	WritePage(page *Page) error
	// AllocatePage returns a new zeroed page of the given type.
	AllocatePage(pageType PageType) (*Page, error)
	// FreePage releases a logical page.
	FreePage(id PageID) error
	// Meta returns a metadata word.
	Meta(slot int) uint64
	// SetMeta sets a metadata word.
	SetMeta(slot int, v uint64)
	// Generation changes whenever the visible page state changes.
	Generation() uint64
}

var _ Pager = (*PageStore)(nil)

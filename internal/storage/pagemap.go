package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Page map layout constants.
const (
	// mapEntriesPerPage is the number of logical pages one map page covers.
	mapEntriesPerPage = PageDataSize / 8

	// dirEntriesPerPage is the number of map pages one directory page lists.
	// The first 8 bytes of a directory page hold the next directory page.
	dirEntriesPerPage = (PageDataSize - 8) / 8
)

// Page map errors.
var (
	ErrCorruptPageMap  = errors.New("corrupt page map")
	ErrUnmappedPage    = errors.New("logical page is not mapped")
	ErrMisdirectedPage = errors.New("page id does not match its location")
)

// snapshot is one committed state of the file: its header and the full
// logical to physical page mapping. Snapshots are immutable once published.
type snapshot struct {
	header   *FileHeader
	mapping  []PageID
	mapPages []PageID
	dirPages []PageID
}

// emptySnapshot returns the state of a freshly created file.
func emptySnapshot(h *FileHeader) *snapshot {
	return &snapshot{
		header:  h,
		mapping: make([]PageID, h.NextLogical),
	}
}

// physical returns the physical page backing a logical page, or
// InvalidPageID when the logical page is free.
func (s *snapshot) physical(id PageID) PageID {
	if id == InvalidPageID || int(id) >= len(s.mapping) {
		return InvalidPageID
	}
	return s.mapping[id]
}

// reachable returns every physical page the snapshot references, including
// the header slots.
func (s *snapshot) reachable() map[PageID]struct{} {
	used := make(map[PageID]struct{}, len(s.mapping)+len(s.mapPages)+len(s.dirPages)+HeaderSlots)
	for i := 0; i < HeaderSlots; i++ {
		used[PageID(i)] = struct{}{}
	}
	for _, p := range s.dirPages {
		used[p] = struct{}{}
	}
	for _, p := range s.mapPages {
		used[p] = struct{}{}
	}
	for _, p := range s.mapping {
		if p != InvalidPageID {
			used[p] = struct{}{}
		}
	}
	return used
}

// freeLogical returns the logical pages below NextLogical that are unmapped.
func (s *snapshot) freeLogical() []PageID {
	var ids []PageID
	for i := 1; i < len(s.mapping); i++ {
		if s.mapping[i] == InvalidPageID {
			ids = append(ids, PageID(i))
		}
	}
	return ids
}

// readPhysical reads and validates one physical page.
func readPhysical(r io.ReaderAt, phys PageID) (*Page, error) {
	buf := make([]byte, PageSize)
	if _, err := r.ReadAt(buf, int64(phys)*PageSize); err != nil {
		return nil, fmt.Errorf("failed to read page %d: %w", phys, err)
	}
	page := &Page{}
	if err := page.DeserializeAndValidate(buf); err != nil {
		return nil, fmt.Errorf("page %d: %w", phys, err)
	}
	return page, nil
}

// loadSnapshot reconstructs the page mapping referenced by h.
func loadSnapshot(r io.ReaderAt, h *FileHeader) (*snapshot, error) {
	s := emptySnapshot(h)

	next := h.MapDir
	for next != InvalidPageID {
		if len(s.dirPages) > int(h.TotalPages) {
			return nil, fmt.Errorf("%w: directory cycle", ErrCorruptPageMap)
		}
		page, err := readPhysical(r, next)
		if err != nil {
			return nil, err
		}
		if page.Header.PageType != PageTypeMapDir || page.Header.PageID != next {
			return nil, fmt.Errorf("%w: bad directory page %d", ErrCorruptPageMap, next)
		}
		s.dirPages = append(s.dirPages, next)
		count := int(page.Header.ItemCount)
		if count > dirEntriesPerPage {
			return nil, fmt.Errorf("%w: directory page %d overfull", ErrCorruptPageMap, next)
		}
		for i := 0; i < count; i++ {
			off := 8 + i*8
			s.mapPages = append(s.mapPages, PageID(binary.LittleEndian.Uint64(page.Data[off:off+8])))
		}
		next = PageID(binary.LittleEndian.Uint64(page.Data[0:8]))
	}

	if len(s.mapPages) != int(h.MapPages) {
		return nil, fmt.Errorf("%w: expected %d map pages, found %d", ErrCorruptPageMap, h.MapPages, len(s.mapPages))
	}

	for k, phys := range s.mapPages {
		page, err := readPhysical(r, phys)
		if err != nil {
			return nil, err
		}
		if page.Header.PageType != PageTypeMap || page.Header.PageID != phys {
			return nil, fmt.Errorf("%w: bad map page %d", ErrCorruptPageMap, phys)
		}
		base := k * mapEntriesPerPage
		for i := 0; i < mapEntriesPerPage; i++ {
			l := base + i
			if l >= len(s.mapping) {
				break
			}
			off := i * 8
			s.mapping[l] = PageID(binary.LittleEndian.Uint64(page.Data[off : off+8]))
		}
	}

	return s, nil
}

// encodeMapPage builds map page k of mapping, stored at physical page phys.
func encodeMapPage(k int, mapping []PageID, phys PageID) *Page {
	page := NewPage(phys, PageTypeMap)
	base := k * mapEntriesPerPage
	n := 0
	for i := 0; i < mapEntriesPerPage; i++ {
		l := base + i
		if l >= len(mapping) {
			break
		}
		off := i * 8
		binary.LittleEndian.PutUint64(page.Data[off:off+8], uint64(mapping[l]))
		n++
	}
	page.Header.ItemCount = uint16(n)
	return page
}

// encodeDirPages builds the directory chain listing mapPages, stored at the
// physical pages dirPhys.
func encodeDirPages(mapPages, dirPhys []PageID) []*Page {
	pages := make([]*Page, len(dirPhys))
	for d := range dirPhys {
		page := NewPage(dirPhys[d], PageTypeMapDir)
		if d+1 < len(dirPhys) {
			binary.LittleEndian.PutUint64(page.Data[0:8], uint64(dirPhys[d+1]))
		}
		start := d * dirEntriesPerPage
		n := 0
		for i := start; i < len(mapPages) && n < dirEntriesPerPage; i++ {
			off := 8 + n*8
			binary.LittleEndian.PutUint64(page.Data[off:off+8], uint64(mapPages[i]))
			n++
		}
		page.Header.ItemCount = uint16(n)
		pages[d] = page
	}
	return pages
}

// mapPagesFor returns how many map pages a mapping of n logical pages needs.
func mapPagesFor(n int) int {
	return (n + mapEntriesPerPage - 1) / mapEntriesPerPage
}

// dirPagesFor returns how many directory pages n map pages need.
func dirPagesFor(n int) int {
	return (n + dirEntriesPerPage - 1) / dirEntriesPerPage
}

// Package heap stores variable-length records in slotted pages.
package heap

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/oodb/internal/storage"
)

// Slotted page layout inside Page.Data:
//
//	[0:2]   slot count
//	[2:4]   start of the record area (records grow down from the end)
//	[4:8]   reserved
//	[8:...] slot directory, 4 bytes per slot (offset u16, length u16)
//
// A slot with offset 0 is empty.
const (
	slotCountOffset = 0
	recordTopOffset = 2
	slotDirOffset   = 8
	slotSize        = 4
)

// Cell kinds. Every stored cell starts with one kind byte.
const (
	cellInline   byte = 0
	cellOverflow byte = 1

	// overflowCellSize is kind + first overflow page + total length.
	overflowCellSize = 1 + 8 + 4
)

// Overflow page layout: next page (8), chunk length (4), chunk.
const (
	overflowHeaderSize = 12
	overflowChunkSize  = storage.PageDataSize - overflowHeaderSize
)

// MaxInline is the largest record stored directly in a slotted page.
// Larger records are moved to an overflow chain.
const MaxInline = 1000

// MaxRecordSize is the largest record the heap accepts.
const MaxRecordSize = 1<<32 - 1

// Heap errors.
var (
	ErrInvalidLocation = errors.New("invalid record location")
	ErrRecordDeleted   = errors.New("record is deleted")
	ErrCorruptRecord   = errors.New("corrupt record")
	ErrRecordTooLarge  = errors.New("record too large")
)

// Location addresses a record: the heap page in the high 48 bits and the
// slot in the low 16.
type Location uint64

// NewLocation builds a location from a page and a slot.
func NewLocation(page storage.PageID, slot uint16) Location {
	return Location(uint64(page)<<16 | uint64(slot))
}

// Page returns the heap page of the location.
func (l Location) Page() storage.PageID {
	return storage.PageID(uint64(l) >> 16)
}

// Slot returns the slot of the location.
func (l Location) Slot() uint16 {
	return uint16(l)
}

func (l Location) String() string {
	return fmt.Sprintf("%d:%d", l.Page(), l.Slot())
}

// Heap is a record heap on top of a pager. The page receiving new records
// is remembered in the storage.MetaHeapTail metadata slot.
type Heap struct {
	pager storage.Pager
}

// New returns a heap over pager.
func New(pager storage.Pager) *Heap {
	return &Heap{pager: pager}
}

// Insert stores data and returns its location.
func (h *Heap) Insert(data []byte) (Location, error) {
	cell, err := h.makeCell(data)
	if err != nil {
		return 0, err
	}
	return h.place(cell)
}

// Read returns a copy of the record at loc.
func (h *Heap) Read(loc Location) ([]byte, error) {
	page, err := h.readHeapPage(loc.Page())
	if err != nil {
		return nil, err
	}
	cell, err := cellAt(page, loc.Slot())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", loc, err)
	}

	switch cell[0] {
	case cellInline:
		out := make([]byte, len(cell)-1)
		copy(out, cell[1:])
		return out, nil
	case cellOverflow:
		if len(cell) != overflowCellSize {
			return nil, fmt.Errorf("%w: overflow cell at %s", ErrCorruptRecord, loc)
		}
		first := storage.PageID(binary.LittleEndian.Uint64(cell[1:9]))
		length := binary.LittleEndian.Uint32(cell[9:13])
		return h.readOverflow(first, length)
	default:
		return nil, fmt.Errorf("%w: unknown cell kind %d at %s", ErrCorruptRecord, cell[0], loc)
	}
}

// Update replaces the record at loc. The record stays in place when the new
// cell fits its page; otherwise it moves and the new location is returned.
func (h *Heap) Update(loc Location, data []byte) (Location, error) {
	page, err := h.readHeapPage(loc.Page())
	if err != nil {
		return 0, err
	}
	old, err := cellAt(page, loc.Slot())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", loc, err)
	}

	cell, err := h.makeCell(data)
	if err != nil {
		return 0, err
	}
	if err := h.freeOverflow(old); err != nil {
		return 0, err
	}

	clearSlot(page, loc.Slot())
	if fitsAfterCompaction(page, len(cell), false) {
		compact(page)
		putCell(page, loc.Slot(), cell)
		return loc, h.pager.WritePage(page)
	}

	if err := h.finishDelete(page); err != nil {
		return 0, err
	}
	return h.place(cell)
}

// Delete removes the record at loc and frees its overflow pages. A heap
// page left empty is released unless it is the tail.
func (h *Heap) Delete(loc Location) error {
	page, err := h.readHeapPage(loc.Page())
	if err != nil {
		return err
	}
	cell, err := cellAt(page, loc.Slot())
	if err != nil {
		return fmt.Errorf("%s: %w", loc, err)
	}
	if err := h.freeOverflow(cell); err != nil {
		return err
	}
	clearSlot(page, loc.Slot())
	return h.finishDelete(page)
}

// finishDelete writes page back or frees it when it holds no records.
func (h *Heap) finishDelete(page *storage.Page) error {
	id := page.Header.PageID
	if page.Header.ItemCount == 0 && uint64(id) != h.pager.Meta(storage.MetaHeapTail) {
		return h.pager.FreePage(id)
	}
	return h.pager.WritePage(page)
}

// makeCell encodes data inline or spills it to an overflow chain.
func (h *Heap) makeCell(data []byte) ([]byte, error) {
	if uint64(len(data)) > MaxRecordSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(data))
	}
	if len(data) <= MaxInline {
		cell := make([]byte, 1+len(data))
		cell[0] = cellInline
		copy(cell[1:], data)
		return cell, nil
	}

	first, err := h.writeOverflow(data)
	if err != nil {
		return nil, err
	}
	cell := make([]byte, overflowCellSize)
	cell[0] = cellOverflow
	binary.LittleEndian.PutUint64(cell[1:9], uint64(first))
	binary.LittleEndian.PutUint32(cell[9:13], uint32(len(data)))
	return cell, nil
}

// place stores cell in the tail page, starting a new tail when it is full.
func (h *Heap) place(cell []byte) (Location, error) {
	if tail := storage.PageID(h.pager.Meta(storage.MetaHeapTail)); tail != storage.InvalidPageID {
		page, err := h.readHeapPage(tail)
		if err != nil {
			return 0, err
		}
		if fitsAfterCompaction(page, len(cell), true) {
			return h.placeIn(page, cell)
		}
	}

	page, err := h.pager.AllocatePage(storage.PageTypeData)
	if err != nil {
		return 0, err
	}
	initPage(page)
	h.pager.SetMeta(storage.MetaHeapTail, uint64(page.Header.PageID))
	return h.placeIn(page, cell)
}

func (h *Heap) placeIn(page *storage.Page, cell []byte) (Location, error) {
	slot, ok := freeSlot(page)
	if !ok {
		slot = slotCount(page)
		setSlotCount(page, slot+1)
	}
	if contiguousFree(page) < len(cell) {
		compact(page)
	}
	putCell(page, slot, cell)
	if err := h.pager.WritePage(page); err != nil {
		return 0, err
	}
	return NewLocation(page.Header.PageID, slot), nil
}

func (h *Heap) readHeapPage(id storage.PageID) (*storage.Page, error) {
	if id == storage.InvalidPageID {
		return nil, ErrInvalidLocation
	}
	page, err := h.pager.ReadPage(id)
	if err != nil {
		return nil, err
	}
	if page.Header.PageType != storage.PageTypeData {
		return nil, fmt.Errorf("%w: page %d is %s", ErrInvalidLocation, id, page.Header.PageType)
	}
	return page, nil
}

// writeOverflow stores data in a chain of overflow pages and returns the
// first page.
func (h *Heap) writeOverflow(data []byte) (storage.PageID, error) {
	n := (len(data) + overflowChunkSize - 1) / overflowChunkSize
	pages := make([]*storage.Page, n)
	for i := range pages {
		page, err := h.pager.AllocatePage(storage.PageTypeOverflow)
		if err != nil {
			return 0, err
		}
		pages[i] = page
	}

	for i, page := range pages {
		chunk := data[i*overflowChunkSize:]
		if len(chunk) > overflowChunkSize {
			chunk = chunk[:overflowChunkSize]
		}
		if i+1 < n {
			binary.LittleEndian.PutUint64(page.Data[0:8], uint64(pages[i+1].Header.PageID))
		}
		binary.LittleEndian.PutUint32(page.Data[8:12], uint32(len(chunk)))
		copy(page.Data[overflowHeaderSize:], chunk)
		page.Header.ItemCount = 1
		if err := h.pager.WritePage(page); err != nil {
			return 0, err
		}
	}
	return pages[0].Header.PageID, nil
}

func (h *Heap) readOverflow(first storage.PageID, length uint32) ([]byte, error) {
	out := make([]byte, 0, length)
	for id := first; id != storage.InvalidPageID; {
		page, err := h.pager.ReadPage(id)
		if err != nil {
			return nil, err
		}
		if page.Header.PageType != storage.PageTypeOverflow {
			return nil, fmt.Errorf("%w: page %d is not an overflow page", ErrCorruptRecord, id)
		}
		n := binary.LittleEndian.Uint32(page.Data[8:12])
		if n > overflowChunkSize || uint64(len(out))+uint64(n) > uint64(length) {
			return nil, fmt.Errorf("%w: overflow page %d", ErrCorruptRecord, id)
		}
		out = append(out, page.Data[overflowHeaderSize:overflowHeaderSize+int(n)]...)
		id = storage.PageID(binary.LittleEndian.Uint64(page.Data[0:8]))
	}
	if uint32(len(out)) != length {
		return nil, fmt.Errorf("%w: overflow chain holds %d of %d bytes", ErrCorruptRecord, len(out), length)
	}
	return out, nil
}

// freeOverflow releases the overflow chain of cell, if any.
func (h *Heap) freeOverflow(cell []byte) error {
	if cell[0] != cellOverflow || len(cell) != overflowCellSize {
		return nil
	}
	id := storage.PageID(binary.LittleEndian.Uint64(cell[1:9]))
	for id != storage.InvalidPageID {
		page, err := h.pager.ReadPage(id)
		if err != nil {
			return err
		}
		next := storage.PageID(binary.LittleEndian.Uint64(page.Data[0:8]))
		if err := h.pager.FreePage(id); err != nil {
			return err
		}
		id = next
	}
	return nil
}

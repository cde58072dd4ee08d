package heap

import (
	"encoding/binary"
	"sort"

	"github.com/KilimcininKorOglu/oodb/internal/storage"
)

func initPage(page *storage.Page) {
	setSlotCount(page, 0)
	setRecordTop(page, storage.PageDataSize)
	page.Header.ItemCount = 0
	updateFreeSpace(page)
}

func slotCount(page *storage.Page) uint16 {
	return binary.LittleEndian.Uint16(page.Data[slotCountOffset:])
}

func setSlotCount(page *storage.Page, n uint16) {
	binary.LittleEndian.PutUint16(page.Data[slotCountOffset:], n)
}

func recordTop(page *storage.Page) int {
	return int(binary.LittleEndian.Uint16(page.Data[recordTopOffset:]))
}

func setRecordTop(page *storage.Page, top int) {
	binary.LittleEndian.PutUint16(page.Data[recordTopOffset:], uint16(top))
}

func readSlot(page *storage.Page, slot uint16) (offset, length int) {
	pos := slotDirOffset + int(slot)*slotSize
	return int(binary.LittleEndian.Uint16(page.Data[pos:])),
		int(binary.LittleEndian.Uint16(page.Data[pos+2:]))
}

func writeSlot(page *storage.Page, slot uint16, offset, length int) {
	pos := slotDirOffset + int(slot)*slotSize
	binary.LittleEndian.PutUint16(page.Data[pos:], uint16(offset))
	binary.LittleEndian.PutUint16(page.Data[pos+2:], uint16(length))
}

// cellAt returns the stored cell of slot, aliasing the page data.
func cellAt(page *storage.Page, slot uint16) ([]byte, error) {
	if slot >= slotCount(page) {
		return nil, ErrInvalidLocation
	}
	offset, length := readSlot(page, slot)
	if offset == 0 {
		return nil, ErrRecordDeleted
	}
	if length == 0 || offset+length > storage.PageDataSize {
		return nil, ErrCorruptRecord
	}
	return page.Data[offset : offset+length], nil
}

// freeSlot returns the first empty slot of the directory.
func freeSlot(page *storage.Page) (uint16, bool) {
	n := slotCount(page)
	for s := uint16(0); s < n; s++ {
		if offset, _ := readSlot(page, s); offset == 0 {
			return s, true
		}
	}
	return 0, false
}

// contiguousFree is the gap between the slot directory and the records.
func contiguousFree(page *storage.Page) int {
	return recordTop(page) - (slotDirOffset + int(slotCount(page))*slotSize)
}

// liveBytes is the total size of the stored cells.
func liveBytes(page *storage.Page) int {
	total := 0
	n := slotCount(page)
	for s := uint16(0); s < n; s++ {
		if offset, length := readSlot(page, s); offset != 0 {
			total += length
		}
	}
	return total
}

// fitsAfterCompaction reports whether a cell of size n fits the page once
// holes are squeezed out. newSlot accounts for a directory entry when no
// empty slot can be reused.
func fitsAfterCompaction(page *storage.Page, n int, newSlot bool) bool {
	slots := int(slotCount(page))
	if newSlot {
		if _, ok := freeSlot(page); !ok {
			slots++
		}
	}
	used := slotDirOffset + slots*slotSize + liveBytes(page)
	return used+n <= storage.PageDataSize
}

// putCell copies cell into the record area and points slot at it. The
// caller guarantees the contiguous space.
func putCell(page *storage.Page, slot uint16, cell []byte) {
	top := recordTop(page) - len(cell)
	copy(page.Data[top:], cell)
	setRecordTop(page, top)
	writeSlot(page, slot, top, len(cell))
	page.Header.ItemCount++
	updateFreeSpace(page)
}

func clearSlot(page *storage.Page, slot uint16) {
	writeSlot(page, slot, 0, 0)
	page.Header.ItemCount--
	updateFreeSpace(page)
}

// compact moves every live cell to the end of the page, keeping slot
// numbers.
func compact(page *storage.Page) {
	type live struct {
		slot   uint16
		offset int
		length int
	}
	var cells []live
	n := slotCount(page)
	for s := uint16(0); s < n; s++ {
		if offset, length := readSlot(page, s); offset != 0 {
			cells = append(cells, live{s, offset, length})
		}
	}
	// Highest offsets first so moves never overwrite unread cells.
	sort.Slice(cells, func(i, j int) bool { return cells[i].offset > cells[j].offset })

	top := storage.PageDataSize
	for _, c := range cells {
		top -= c.length
		copy(page.Data[top:top+c.length], page.Data[c.offset:c.offset+c.length])
		writeSlot(page, c.slot, top, c.length)
	}
	setRecordTop(page, top)
	updateFreeSpace(page)
}

func updateFreeSpace(page *storage.Page) {
	free := contiguousFree(page)
	if free < 0 {
		free = 0
	}
	page.Header.FreeSpace = uint16(free)
}

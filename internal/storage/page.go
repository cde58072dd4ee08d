// Package storage provides the page store underlying the oodb object store.
package storage

import (
	"encoding/binary"
	"errors"

	"github.com/cespare/xxhash/v2"
)

// PageSize is the page size in bytes.
const PageSize = 4096

// PageHeaderSize is the size of the page header in bytes.
const PageHeaderSize = 24

// PageDataSize is the number of bytes available to page owners.
const PageDataSize = PageSize - PageHeaderSize

// PageType represents the type of a page in the store.
type PageType uint8

const (
	// PageTypeFree indicates a free/unused page.
	PageTypeFree PageType = iota
	// PageTypeData indicates a record heap page.
	PageTypeData
	// PageTypeIndex indicates a B+ tree node page.
	PageTypeIndex
	// PageTypeOverflow indicates an overflow page for large records.
	PageTypeOverflow
	// PageTypeMap indicates a page of logical to physical mappings.
	PageTypeMap
	// PageTypeMapDir indicates a page listing the map pages.
	PageTypeMapDir
)

// String returns the string representation of a PageType.
func (pt PageType) String() string {
	switch pt {
	case PageTypeFree:
		return "Free"
	case PageTypeData:
		return "Data"
	case PageTypeIndex:
		return "Index"
	case PageTypeOverflow:
		return "Overflow"
	case PageTypeMap:
		return "Map"
	case PageTypeMapDir:
		return "MapDir"
	default:
		return "Unknown"
	}
}

// PageFlag represents flags for a page.
type PageFlag uint8

const (
	// PageFlagLeaf indicates the page is a leaf node (for tree structures).
	PageFlagLeaf PageFlag = 1 << iota
)

// PageID identifies a page. Upper layers see logical ids; the page store maps
// them to physical slots in the backing file.
type PageID uint64

// InvalidPageID is the null page reference.
const InvalidPageID PageID = 0

// PageHeader represents the header of each page (first 24 bytes).
// Layout:
//   - Bytes 0-7:   PageID (uint64)
//   - Byte 8:      PageType (uint8)
//   - Byte 9:      Flags (uint8)
//   - Bytes 10-11: ItemCount (uint16)
//   - Bytes 12-13: FreeSpace (uint16)
//   - Bytes 14-15: Reserved
//   - Bytes 16-23: Checksum (xxhash64 of header bytes 0-15 and page data)
type PageHeader struct {
	PageID    PageID
	PageType  PageType
	Flags     PageFlag
	ItemCount uint16
	FreeSpace uint16
	Checksum  uint64
}

// Errors for page operations.
var (
	ErrInvalidPageSize     = errors.New("invalid page size")
	ErrInvalidChecksum     = errors.New("page checksum mismatch")
	ErrInvalidPageType     = errors.New("invalid page type")
	ErrInsufficientSpace   = errors.New("insufficient space in page")
	ErrPageHeaderCorrupted = errors.New("page header corrupted")
)

// NewPageHeader creates a new PageHeader with the given parameters.
func NewPageHeader(pageID PageID, pageType PageType) *PageHeader {
	return &PageHeader{
		PageID:    pageID,
		PageType:  pageType,
		FreeSpace: PageDataSize,
	}
}

// Serialize writes the PageHeader to a byte slice.
func (h *PageHeader) Serialize(buf []byte) error {
	if len(buf) < PageHeaderSize {
		return ErrInvalidPageSize
	}

	binary.LittleEndian.PutUint64(buf[0:8], uint64(h.PageID))
	buf[8] = byte(h.PageType)
	buf[9] = byte(h.Flags)
	binary.LittleEndian.PutUint16(buf[10:12], h.ItemCount)
	binary.LittleEndian.PutUint16(buf[12:14], h.FreeSpace)
	buf[14] = 0
	buf[15] = 0
	binary.LittleEndian.PutUint64(buf[16:24], h.Checksum)

	return nil
}

// Deserialize reads the PageHeader from a byte slice.
func (h *PageHeader) Deserialize(buf []byte) error {
	if len(buf) < PageHeaderSize {
		return ErrInvalidPageSize
	}

	h.PageID = PageID(binary.LittleEndian.Uint64(buf[0:8]))
	h.PageType = PageType(buf[8])
	h.Flags = PageFlag(buf[9])
	h.ItemCount = binary.LittleEndian.Uint16(buf[10:12])
	h.FreeSpace = binary.LittleEndian.Uint16(buf[12:14])
	h.Checksum = binary.LittleEndian.Uint64(buf[16:24])

	return nil
}

// Page is a header plus PageDataSize bytes owned by the page's user.
type Page struct {
	Header PageHeader
	Data   []byte
}

// NewPage creates a zeroed page.
func NewPage(pageID PageID, pageType PageType) *Page {
	return &Page{
		Header: *NewPageHeader(pageID, pageType),
		Data:   make([]byte, PageDataSize),
	}
}

// Clone returns a deep copy of the page.
func (p *Page) Clone() *Page {
	data := make([]byte, len(p.Data))
	copy(data, p.Data)
	return &Page{Header: p.Header, Data: data}
}

// Serialize returns the on-disk form of the page with a fresh checksum.
func (p *Page) Serialize() ([]byte, error) {
	buf := make([]byte, PageSize)
	if err := p.SerializeTo(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// SerializeTo writes the page into buf and stamps the checksum.
func (p *Page) SerializeTo(buf []byte) error {
	if len(buf) < PageSize || len(p.Data) > PageDataSize {
		return ErrInvalidPageSize
	}

	p.Header.Checksum = 0
	if err := p.Header.Serialize(buf); err != nil {
		return err
	}
	n := copy(buf[PageHeaderSize:], p.Data)
	for i := PageHeaderSize + n; i < PageSize; i++ {
		buf[i] = 0
	}

	p.Header.Checksum = pageChecksum(buf)
	binary.LittleEndian.PutUint64(buf[16:24], p.Header.Checksum)
	return nil
}

// Deserialize reads a page from its on-disk form.
func (p *Page) Deserialize(buf []byte) error {
	if len(buf) < PageSize {
		return ErrInvalidPageSize
	}
	if err := p.Header.Deserialize(buf); err != nil {
		return err
	}
	if len(p.Data) != PageDataSize {
		p.Data = make([]byte, PageDataSize)
	}
	copy(p.Data, buf[PageHeaderSize:PageSize])
	return nil
}

// DeserializeAndValidate reads a page and verifies its checksum.
func (p *Page) DeserializeAndValidate(buf []byte) error {
	if err := p.Deserialize(buf); err != nil {
		return err
	}
	if pageChecksum(buf) != p.Header.Checksum {
		return ErrInvalidChecksum
	}
	return nil
}

// Reset clears the page data and header counters, keeping its id and type.
func (p *Page) Reset() {
	for i := range p.Data {
		p.Data[i] = 0
	}
	p.Header.ItemCount = 0
	p.Header.FreeSpace = PageDataSize
	p.Header.Flags = 0
	p.Header.Checksum = 0
}

// pageChecksum hashes a serialized page, skipping the checksum field.
func pageChecksum(buf []byte) uint64 {
	d := xxhash.New()
	_, _ = d.Write(buf[0:16])
	_, _ = d.Write(buf[PageHeaderSize:PageSize])
	return d.Sum64()
}

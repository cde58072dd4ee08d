package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// File header constants.
const (
	// FileHeaderSize is the on-disk size of one header slot.
	FileHeaderSize = PageSize

	// HeaderSlots is the number of alternating header slots at the start of
	// the file. Slot i lives in physical page i.
	HeaderSlots = 2

	// CurrentVersion is the current file format version.
	CurrentVersion uint32 = 1

	// MetaSlots is the number of metadata words carried in the header.
	MetaSlots = 16

	headerChecksumOffset = 216
	headerChecksumSize   = 32
)

// Magic is the magic number for oodb files.
var Magic = [4]byte{'O', 'O', 'D', 'B'}

// Metadata slot numbers. The page store only persists these words; their
// meaning belongs to the layers above.
const (
	MetaRootOID = iota
	MetaObjectTable
	MetaHistory
	MetaDirectory
	MetaHeapTail
	MetaNextOID
	MetaExtents
)

// FileHeader is the commit record of the store. A commit is durable once its
// header has been written to the slot seq%HeaderSlots.
// Layout:
//   - Bytes 0-3:     Magic number ("OODB")
//   - Bytes 4-7:     Version (uint32)
//   - Bytes 8-11:    PageSize (uint32)
//   - Bytes 12-15:   Reserved
//   - Bytes 16-23:   Seq, commit sequence (uint64)
//   - Bytes 24-39:   FileID (UUID)
//   - Bytes 40-47:   TotalPages, physical pages in the file (uint64)
//   - Bytes 48-55:   NextLogical, next never-used logical page (uint64)
//   - Bytes 56-63:   MapDir, physical page of the first map directory page
//   - Bytes 64-67:   MapPages, number of map pages (uint32)
//   - Bytes 68-71:   Reserved
//   - Bytes 72-79:   PoolSize, configured page pool bytes (uint64)
//   - Bytes 80-87:   CreatedAt, unix nanoseconds (int64)
//   - Bytes 88-215:  Meta words (16 x uint64)
//   - Bytes 216-247: blake3-256 of bytes 0-215
type FileHeader struct {
	Magic       [4]byte
	Version     uint32
	PageSize    uint32
	Seq         uint64
	FileID      uuid.UUID
	TotalPages  uint64
	NextLogical uint64
	MapDir      PageID
	MapPages    uint32
	PoolSize    uint64
	CreatedAt   int64
	Meta        [MetaSlots]uint64
	Checksum    [headerChecksumSize]byte
}

// Errors for file header operations.
var (
	ErrInvalidMagic       = errors.New("invalid magic number: not an oodb file")
	ErrUnsupportedVersion = errors.New("unsupported file format version")
	ErrHeaderChecksum     = errors.New("file header checksum mismatch")
	ErrInvalidHeaderSize  = errors.New("invalid header size")
	ErrPageSizeMismatch   = errors.New("file page size does not match")
)

// NewFileHeader creates the header of an empty store.
func NewFileHeader(poolSize uint64) *FileHeader {
	return &FileHeader{
		Magic:       Magic,
		Version:     CurrentVersion,
		PageSize:    PageSize,
		FileID:      uuid.New(),
		TotalPages:  HeaderSlots,
		NextLogical: 1,
		PoolSize:    poolSize,
		CreatedAt:   time.Now().UnixNano(),
	}
}

// Clone returns a copy of the header.
func (h *FileHeader) Clone() *FileHeader {
	c := *h
	return &c
}

// Slot returns the header slot this header is written to.
func (h *FileHeader) Slot() int {
	return int(h.Seq % HeaderSlots)
}

// Serialize writes the FileHeader into a new FileHeaderSize buffer.
func (h *FileHeader) Serialize() ([]byte, error) {
	buf := make([]byte, FileHeaderSize)
	return buf, h.SerializeTo(buf)
}

// SerializeTo writes the FileHeader and its checksum to buf.
func (h *FileHeader) SerializeTo(buf []byte) error {
	if len(buf) < FileHeaderSize {
		return ErrInvalidHeaderSize
	}

	for i := range buf[:FileHeaderSize] {
		buf[i] = 0
	}

	copy(buf[0:4], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.PageSize)
	binary.LittleEndian.PutUint64(buf[16:24], h.Seq)
	copy(buf[24:40], h.FileID[:])
	binary.LittleEndian.PutUint64(buf[40:48], h.TotalPages)
	binary.LittleEndian.PutUint64(buf[48:56], h.NextLogical)
	binary.LittleEndian.PutUint64(buf[56:64], uint64(h.MapDir))
	binary.LittleEndian.PutUint32(buf[64:68], h.MapPages)
	binary.LittleEndian.PutUint64(buf[72:80], h.PoolSize)
	binary.LittleEndian.PutUint64(buf[80:88], uint64(h.CreatedAt))
	for i, v := range h.Meta {
		off := 88 + i*8
		binary.LittleEndian.PutUint64(buf[off:off+8], v)
	}

	h.Checksum = blake3.Sum256(buf[:headerChecksumOffset])
	copy(buf[headerChecksumOffset:headerChecksumOffset+headerChecksumSize], h.Checksum[:])

	return nil
}

// Deserialize reads the FileHeader from buf without validating it.
func (h *FileHeader) Deserialize(buf []byte) error {
	if len(buf) < FileHeaderSize {
		return ErrInvalidHeaderSize
	}

	copy(h.Magic[:], buf[0:4])
	h.Version = binary.LittleEndian.Uint32(buf[4:8])
	h.PageSize = binary.LittleEndian.Uint32(buf[8:12])
	h.Seq = binary.LittleEndian.Uint64(buf[16:24])
	copy(h.FileID[:], buf[24:40])
	h.TotalPages = binary.LittleEndian.Uint64(buf[40:48])
	h.NextLogical = binary.LittleEndian.Uint64(buf[48:56])
	h.MapDir = PageID(binary.LittleEndian.Uint64(buf[56:64]))
	h.MapPages = binary.LittleEndian.Uint32(buf[64:68])
	h.PoolSize = binary.LittleEndian.Uint64(buf[72:80])
	h.CreatedAt = int64(binary.LittleEndian.Uint64(buf[80:88]))
	for i := range h.Meta {
		off := 88 + i*8
		h.Meta[i] = binary.LittleEndian.Uint64(buf[off : off+8])
	}
	copy(h.Checksum[:], buf[headerChecksumOffset:headerChecksumOffset+headerChecksumSize])

	return nil
}

// ValidateMagic checks if the magic number is valid.
func (h *FileHeader) ValidateMagic() error {
	if h.Magic != Magic {
		return ErrInvalidMagic
	}
	return nil
}

// ValidateVersion checks if the file format version is supported.
func (h *FileHeader) ValidateVersion() error {
	if h.Version > CurrentVersion || h.Version == 0 {
		return ErrUnsupportedVersion
	}
	return nil
}

// DeserializeAndValidate reads the header from buf and checks magic, version,
// page size and checksum.
func (h *FileHeader) DeserializeAndValidate(buf []byte) error {
	if err := h.Deserialize(buf); err != nil {
		return err
	}
	if err := h.ValidateMagic(); err != nil {
		return err
	}
	if err := h.ValidateVersion(); err != nil {
		return err
	}
	sum := blake3.Sum256(buf[:headerChecksumOffset])
	if !bytes.Equal(sum[:], h.Checksum[:]) {
		return ErrHeaderChecksum
	}
	if h.PageSize != PageSize {
		return ErrPageSizeMismatch
	}
	return nil
}

// IsStoreFile checks if the given buffer starts with the oodb magic number.
func IsStoreFile(buf []byte) bool {
	return len(buf) >= 4 && bytes.Equal(buf[0:4], Magic[:])
}

// pickHeader returns the valid header with the highest sequence among the
// given slot buffers.
func pickHeader(slots [][]byte) (*FileHeader, error) {
	var best *FileHeader
	var firstErr error
	for _, buf := range slots {
		h := &FileHeader{}
		if err := h.DeserializeAndValidate(buf); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if best == nil || h.Seq > best.Seq {
			best = h
		}
	}
	if best == nil {
		if firstErr == nil {
			firstErr = ErrHeaderChecksum
		}
		return nil, firstErr
	}
	return best, nil
}

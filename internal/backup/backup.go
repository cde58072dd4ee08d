package backup

import (
	"encoding/binary"
	"errors"
	"hash"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/KilimcininKorOglu/oodb/internal/logging"
	"github.com/KilimcininKorOglu/oodb/internal/storage"
)

// Backup format constants.
const (
	// BackupVersion is the current backup format version.
	BackupVersion uint32 = 1

	// BackupHeaderSize is the size of the backup header in bytes.
	BackupHeaderSize = 256

	digestSize = 32
)

// BackupMagic is the magic number for oodb backup files.
var BackupMagic = [4]byte{'O', 'D', 'B', 'K'}

// Backup errors.
var (
	ErrBackupFailed      = errors.New("backup failed")
	ErrRestoreFailed     = errors.New("restore failed")
	ErrInvalidBackup     = errors.New("invalid backup file")
	ErrInvalidMagic      = errors.New("invalid backup magic number")
	ErrUnsupportedFormat = errors.New("unsupported backup format")
	ErrDigestMismatch    = errors.New("backup digest mismatch")
	ErrOutputPathEmpty   = errors.New("output path is empty")
	ErrInputPathEmpty    = errors.New("input path is empty")
	ErrStorePathEmpty    = errors.New("store path is empty")
	ErrTargetExists      = errors.New("restore target already exists")
)

// BackupOptions configures the backup operation.
type BackupOptions struct {
	// OutputPath is the path to the backup file.
	OutputPath string

	// Compress streams pages through xz.
	Compress bool

	// PoolSize is the page pool of the handle used to read the store.
	// Zero uses a small pool.
	PoolSize int64

	// Logger receives progress events. Nil disables logging.
	Logger logging.Logger
}

// Validate validates the backup options.
func (o *BackupOptions) Validate() error {
	if o.OutputPath == "" {
		return ErrOutputPathEmpty
	}
	if o.PoolSize <= 0 {
		o.PoolSize = defaultPoolSize
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	return nil
}

// RestoreOptions configures the restore operation.
type RestoreOptions struct {
	// InputPath is the path to the backup file.
	InputPath string

	// TargetPath is the store file to create. It must not exist.
	TargetPath string

	// PoolSize is the page pool of the handle writing the restored store.
	PoolSize int64

	// Logger receives progress events. Nil disables logging.
	Logger logging.Logger
}

// Validate validates the restore options.
func (o *RestoreOptions) Validate() error {
	if o.InputPath == "" {
		return ErrInputPathEmpty
	}
	if o.TargetPath == "" {
		return ErrStorePathEmpty
	}
	if o.PoolSize <= 0 {
		o.PoolSize = defaultPoolSize
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	return nil
}

const defaultPoolSize = 8 << 20

// BackupHeader is the manifest at the start of a backup file.
// Layout (256 bytes):
//   - Bytes 0-3:     Magic number ("ODBK")
//   - Bytes 4-7:     Version (uint32)
//   - Bytes 8-15:    Timestamp (int64, unix nanoseconds)
//   - Bytes 16-19:   Flags (uint32)
//   - Bytes 20-23:   PageSize (uint32)
//   - Bytes 24-31:   Pages (uint64)
//   - Bytes 32-39:   Seq of the source commit (uint64)
//   - Bytes 40-55:   BackupID (UUID)
//   - Bytes 56-71:   SourceFileID (UUID)
//   - Bytes 72-199:  Meta words (16 x uint64)
//   - Bytes 200-231: Digest, blake3-256 of the page stream and meta words
//   - Bytes 232-255: Reserved
type BackupHeader struct {
	Magic        [4]byte
	Version      uint32
	Timestamp    int64
	Flags        uint32
	PageSize     uint32
	Pages        uint64
	Seq          uint64
	BackupID     uuid.UUID
	SourceFileID uuid.UUID
	Meta         [storage.MetaSlots]uint64
	Digest       [digestSize]byte
}

// Backup flags.
const (
	// BackupFlagCompressed indicates the page stream is xz compressed.
	BackupFlagCompressed uint32 = 1 << iota
)

// NewBackupHeader creates a new backup header with default values.
func NewBackupHeader() *BackupHeader {
	return &BackupHeader{
		Magic:     BackupMagic,
		Version:   BackupVersion,
		Timestamp: time.Now().UnixNano(),
		PageSize:  storage.PageSize,
		BackupID:  uuid.New(),
	}
}

// IsCompressed returns true if the backup is compressed.
func (h *BackupHeader) IsCompressed() bool {
	return h.Flags&BackupFlagCompressed != 0
}

// SetCompressed sets the compressed flag.
func (h *BackupHeader) SetCompressed(compressed bool) {
	if compressed {
		h.Flags |= BackupFlagCompressed
	} else {
		h.Flags &^= BackupFlagCompressed
	}
}

// CreatedAt returns the backup time.
func (h *BackupHeader) CreatedAt() time.Time {
	return time.Unix(0, h.Timestamp)
}

// Serialize writes the backup header to a byte slice.
func (h *BackupHeader) Serialize() ([]byte, error) {
	buf := make([]byte, BackupHeaderSize)
	return buf, h.SerializeTo(buf)
}

// SerializeTo writes the backup header to an existing byte slice.
func (h *BackupHeader) SerializeTo(buf []byte) error {
	if len(buf) < BackupHeaderSize {
		return ErrInvalidBackup
	}
	clear(buf[:BackupHeaderSize])

	copy(buf[0:4], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.Timestamp))
	binary.LittleEndian.PutUint32(buf[16:20], h.Flags)
	binary.LittleEndian.PutUint32(buf[20:24], h.PageSize)
	binary.LittleEndian.PutUint64(buf[24:32], h.Pages)
	binary.LittleEndian.PutUint64(buf[32:40], h.Seq)
	copy(buf[40:56], h.BackupID[:])
	copy(buf[56:72], h.SourceFileID[:])
	for i, v := range h.Meta {
		binary.LittleEndian.PutUint64(buf[72+i*8:], v)
	}
	copy(buf[200:232], h.Digest[:])
	return nil
}

// Deserialize reads the backup header from a byte slice.
func (h *BackupHeader) Deserialize(buf []byte) error {
	if len(buf) < BackupHeaderSize {
		return ErrInvalidBackup
	}

	copy(h.Magic[:], buf[0:4])
	h.Version = binary.LittleEndian.Uint32(buf[4:8])
	h.Timestamp = int64(binary.LittleEndian.Uint64(buf[8:16]))
	h.Flags = binary.LittleEndian.Uint32(buf[16:20])
	h.PageSize = binary.LittleEndian.Uint32(buf[20:24])
	h.Pages = binary.LittleEndian.Uint64(buf[24:32])
	h.Seq = binary.LittleEndian.Uint64(buf[32:40])
	copy(h.BackupID[:], buf[40:56])
	copy(h.SourceFileID[:], buf[56:72])
	for i := range h.Meta {
		h.Meta[i] = binary.LittleEndian.Uint64(buf[72+i*8:])
	}
	copy(h.Digest[:], buf[200:232])
	return nil
}

// Validate validates the backup header.
func (h *BackupHeader) Validate() error {
	if h.Magic != BackupMagic {
		return ErrInvalidMagic
	}
	if h.Version == 0 || h.Version > BackupVersion {
		return ErrUnsupportedFormat
	}
	if h.PageSize != storage.PageSize {
		return ErrUnsupportedFormat
	}
	return nil
}

// BackupStats contains statistics about a backup operation.
type BackupStats struct {
	// ID identifies the backup.
	ID uuid.UUID

	// Seq is the commit sequence captured by the backup.
	Seq uint64

	// TotalPages is the total number of pages backed up.
	TotalPages uint64

	// TotalBytes is the uncompressed size of the page stream.
	TotalBytes int64

	// CompressedBytes is the size written after compression.
	CompressedBytes int64

	// Duration is the time taken to complete the backup.
	Duration time.Duration
}

// CompressionRatio returns the compression ratio (0-1).
// Returns 0 if compression is not enabled or no data was written.
func (s *BackupStats) CompressionRatio() float64 {
	if s.TotalBytes == 0 || s.CompressedBytes == 0 {
		return 0
	}
	return 1.0 - float64(s.CompressedBytes)/float64(s.TotalBytes)
}

// digestWriter hashes everything written through it.
type digestWriter struct {
	w       io.Writer
	h       hash.Hash
	written int64
}

func newDigestWriter(w io.Writer) *digestWriter {
	return &digestWriter{w: w, h: blake3.New()}
}

func (dw *digestWriter) Write(p []byte) (int, error) {
	n, err := dw.w.Write(p)
	if n > 0 {
		dw.h.Write(p[:n])
		dw.written += int64(n)
	}
	return n, err
}

// sum finishes the digest over the stream and the meta words.
func (dw *digestWriter) sum(meta [storage.MetaSlots]uint64) [digestSize]byte {
	return finishDigest(dw.h, meta)
}

// digestReader hashes everything read through it.
type digestReader struct {
	r io.Reader
	h hash.Hash
}

func newDigestReader(r io.Reader) *digestReader {
	return &digestReader{r: r, h: blake3.New()}
}

func (dr *digestReader) Read(p []byte) (int, error) {
	n, err := dr.r.Read(p)
	if n > 0 {
		dr.h.Write(p[:n])
	}
	return n, err
}

func (dr *digestReader) sum(meta [storage.MetaSlots]uint64) [digestSize]byte {
	return finishDigest(dr.h, meta)
}

func finishDigest(h hash.Hash, meta [storage.MetaSlots]uint64) [digestSize]byte {
	var buf [storage.MetaSlots * 8]byte
	for i, v := range meta {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	h.Write(buf[:])

	var out [digestSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// countingWriter counts bytes written to the backing file.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

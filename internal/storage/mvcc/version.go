package mvcc

import (
	"encoding/binary"
	"errors"
	"time"
)

// Version errors.
var (
	ErrVersionNotFound = errors.New("version not found")
	ErrVersionExists   = errors.New("version already recorded")
	ErrInvalidVersion  = errors.New("invalid version data")
)

// RecordFormat is the current object record format.
const RecordFormat byte = 1

// Record flags.
const (
	// FlagTracked marks records of version-tracked objects.
	FlagTracked byte = 1 << iota
)

// RecordHeaderSize is the fixed part of a serialized record.
// Layout:
//   - Byte 0:      Format (uint8)
//   - Byte 1:      Flags (uint8)
//   - Bytes 2-9:   OID (uint64)
//   - Bytes 10-17: Version (uint64)
//   - Bytes 18-25: CommittedAt, unix nanoseconds (int64)
//   - Bytes 26-27: TypeName length (uint16)
//
// The type name and the payload follow.
const RecordHeaderSize = 28

// Record is one committed state of an object. Records of version-tracked
// objects are immutable once a newer version exists.
type Record struct {
	OID         uint64
	Version     uint64
	Tracked     bool
	CommittedAt time.Time
	TypeName    string
	Payload     []byte
}

// Marshal serializes the record.
func (r *Record) Marshal() []byte {
	buf := make([]byte, RecordHeaderSize+len(r.TypeName)+len(r.Payload))
	buf[0] = RecordFormat
	if r.Tracked {
		buf[1] = FlagTracked
	}
	binary.LittleEndian.PutUint64(buf[2:10], r.OID)
	binary.LittleEndian.PutUint64(buf[10:18], r.Version)
	binary.LittleEndian.PutUint64(buf[18:26], uint64(r.CommittedAt.UnixNano()))
	binary.LittleEndian.PutUint16(buf[26:28], uint16(len(r.TypeName)))
	off := RecordHeaderSize
	off += copy(buf[off:], r.TypeName)
	copy(buf[off:], r.Payload)
	return buf
}

// UnmarshalRecord decodes a record written by Marshal.
func UnmarshalRecord(data []byte) (*Record, error) {
	if len(data) < RecordHeaderSize || data[0] != RecordFormat {
		return nil, ErrInvalidVersion
	}

	n := int(binary.LittleEndian.Uint16(data[26:28]))
	if RecordHeaderSize+n > len(data) {
		return nil, ErrInvalidVersion
	}

	payload := make([]byte, len(data)-RecordHeaderSize-n)
	copy(payload, data[RecordHeaderSize+n:])

	return &Record{
		OID:         binary.LittleEndian.Uint64(data[2:10]),
		Version:     binary.LittleEndian.Uint64(data[10:18]),
		Tracked:     data[1]&FlagTracked != 0,
		CommittedAt: time.Unix(0, int64(binary.LittleEndian.Uint64(data[18:26]))),
		TypeName:    string(data[RecordHeaderSize : RecordHeaderSize+n]),
		Payload:     payload,
	}, nil
}

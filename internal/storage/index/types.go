package index

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/KilimcininKorOglu/oodb/internal/storage"
)

// KeyType is the declared key type of an index.
type KeyType uint8

const (
	// KeyString indexes string keys.
	KeyString KeyType = iota + 1
	// KeyBytes indexes []byte keys.
	KeyBytes
	// KeyBool indexes bool keys.
	KeyBool
	// KeyInt indexes signed integer keys of any width.
	KeyInt
	// KeyUint indexes unsigned integer keys of any width.
	KeyUint
	// KeyFloat indexes float32 and float64 keys.
	KeyFloat
	// KeyTime indexes time.Time keys.
	KeyTime
	// KeyComposite indexes Composite keys.
	KeyComposite
)

// String returns the string representation of a KeyType.
func (kt KeyType) String() string {
	switch kt {
	case KeyString:
		return "string"
	case KeyBytes:
		return "bytes"
	case KeyBool:
		return "bool"
	case KeyInt:
		return "int"
	case KeyUint:
		return "uint"
	case KeyFloat:
		return "float"
	case KeyTime:
		return "time"
	case KeyComposite:
		return "composite"
	default:
		return "unknown"
	}
}

// ParseKeyType parses the name returned by KeyType.String.
func ParseKeyType(s string) (KeyType, error) {
	for kt := KeyString; kt <= KeyComposite; kt++ {
		if strings.EqualFold(s, kt.String()) {
			return kt, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedKey, s)
}

// KeyTypeOf returns the key type of a Go value.
func KeyTypeOf(key any) (KeyType, error) {
	switch key.(type) {
	case string:
		return KeyString, nil
	case []byte:
		return KeyBytes, nil
	case bool:
		return KeyBool, nil
	case int, int8, int16, int32, int64:
		return KeyInt, nil
	case uint, uint8, uint16, uint32, uint64:
		return KeyUint, nil
	case float32, float64:
		return KeyFloat, nil
	case time.Time:
		return KeyTime, nil
	case Composite:
		return KeyComposite, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
	}
}

// ParseKey converts the textual form of a key into a value of type kt.
// Composite keys are not accepted.
func ParseKey(kt KeyType, s string) (any, error) {
	switch kt {
	case KeyString:
		return s, nil
	case KeyBytes:
		return []byte(s), nil
	case KeyBool:
		return strconv.ParseBool(s)
	case KeyInt:
		return strconv.ParseInt(s, 10, 64)
	case KeyUint:
		return strconv.ParseUint(s, 10, 64)
	case KeyFloat:
		return strconv.ParseFloat(s, 64)
	case KeyTime:
		return time.Parse(time.RFC3339Nano, s)
	default:
		return nil, fmt.Errorf("%w: cannot parse %s keys", ErrUnsupportedKey, kt)
	}
}

// Order is the direction of an index scan.
type Order int

const (
	// Ascending visits keys from smallest to largest.
	Ascending Order = iota
	// Descending visits keys from largest to smallest.
	Descending
)

// Bound is one end of a key range. A nil *Bound leaves that end open.
type Bound struct {
	Key       any
	Inclusive bool
}

// Inclusive returns a bound that includes key.
func Inclusive(key any) *Bound {
	return &Bound{Key: key, Inclusive: true}
}

// Exclusive returns a bound that excludes key.
func Exclusive(key any) *Bound {
	return &Bound{Key: key}
}

// Descriptor is the persistent definition of an index.
type Descriptor struct {
	// Name identifies the index in the store.
	Name string

	// KeyType is the type every key must have.
	KeyType KeyType

	// Unique rejects a second object under the same key.
	Unique bool

	// Root is the root page of the index tree.
	Root storage.PageID

	// TypeName and Field are set for field indices: the registered type
	// whose objects are indexed and the field the key is extracted from.
	TypeName string
	Field    string
}

// IsFieldIndex reports whether the index extracts keys from object fields.
func (d Descriptor) IsFieldIndex() bool {
	return d.Field != ""
}

const descriptorVersion byte = 1

// MarshalBinary encodes the descriptor.
// Layout: version, key type, unique, root (8), then name, type name and
// field, each as a uint16 length and bytes.
func (d Descriptor) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 11+6+len(d.Name)+len(d.TypeName)+len(d.Field))
	buf = append(buf, descriptorVersion, byte(d.KeyType))
	if d.Unique {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.LittleEndian.AppendUint64(buf, uint64(d.Root))
	for _, s := range []string{d.Name, d.TypeName, d.Field} {
		if len(s) > MaxNameLength {
			return nil, ErrInvalidName
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
		buf = append(buf, s...)
	}
	return buf, nil
}

// UnmarshalBinary decodes a descriptor written by MarshalBinary.
func (d *Descriptor) UnmarshalBinary(data []byte) error {
	if len(data) < 11 || data[0] != descriptorVersion {
		return ErrMetadataCorrupted
	}
	d.KeyType = KeyType(data[1])
	d.Unique = data[2] == 1
	d.Root = storage.PageID(binary.LittleEndian.Uint64(data[3:11]))

	off := 11
	fields := []*string{&d.Name, &d.TypeName, &d.Field}
	for _, f := range fields {
		if off+2 > len(data) {
			return ErrMetadataCorrupted
		}
		n := int(binary.LittleEndian.Uint16(data[off:]))
		off += 2
		if off+n > len(data) {
			return ErrMetadataCorrupted
		}
		*f = string(data[off : off+n])
		off += n
	}
	return nil
}

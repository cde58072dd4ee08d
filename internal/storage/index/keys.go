package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Key encoding errors.
var (
	ErrUnsupportedKey  = errors.New("unsupported key type")
	ErrKeyTypeMismatch = errors.New("key type does not match index")
	ErrCorruptKey      = errors.New("corrupt encoded key")
)

// Composite is a key made of several components compared left to right.
type Composite []any

// Type tags. Each encoded component starts with one; tagEnd terminates a
// composite and sorts before every component.
const (
	tagEnd       byte = 0x00
	tagBool      byte = 0x10
	tagInt       byte = 0x20
	tagUint      byte = 0x28
	tagFloat     byte = 0x30
	tagTime      byte = 0x40
	tagString    byte = 0x50
	tagBytes     byte = 0x58
	tagComposite byte = 0x70
)

// Escaping for variable-length components: 0x00 becomes 0x00 0xFF and the
// component ends with 0x00 0x01. The result is prefix-free and sorts like
// the raw bytes.
const (
	escByte  byte = 0x00
	escZero  byte = 0xFF
	escClose byte = 0x01
)

// EncodeKey returns the order-preserving encoding of key. Encodings of
// distinct keys are never prefixes of one another.
func EncodeKey(key any) ([]byte, error) {
	return appendKey(nil, key)
}

// EncodeKeyAs encodes key and checks that it matches kt.
func EncodeKeyAs(kt KeyType, key any) ([]byte, error) {
	got, err := KeyTypeOf(key)
	if err != nil {
		return nil, err
	}
	if got != kt {
		return nil, fmt.Errorf("%w: %s index, %s key", ErrKeyTypeMismatch, kt, got)
	}
	return EncodeKey(key)
}

func appendKey(buf []byte, key any) ([]byte, error) {
	switch v := key.(type) {
	case bool:
		if v {
			return append(buf, tagBool, 1), nil
		}
		return append(buf, tagBool, 0), nil
	case int:
		return appendInt(buf, int64(v)), nil
	case int8:
		return appendInt(buf, int64(v)), nil
	case int16:
		return appendInt(buf, int64(v)), nil
	case int32:
		return appendInt(buf, int64(v)), nil
	case int64:
		return appendInt(buf, v), nil
	case uint:
		return appendUint(buf, uint64(v)), nil
	case uint8:
		return appendUint(buf, uint64(v)), nil
	case uint16:
		return appendUint(buf, uint64(v)), nil
	case uint32:
		return appendUint(buf, uint64(v)), nil
	case uint64:
		return appendUint(buf, v), nil
	case float32:
		return appendFloat(buf, float64(v)), nil
	case float64:
		return appendFloat(buf, v), nil
	case time.Time:
		buf = append(buf, tagTime)
		return binary.BigEndian.AppendUint64(buf, uint64(v.UnixNano())^(1<<63)), nil
	case string:
		return appendEscaped(append(buf, tagString), []byte(v)), nil
	case []byte:
		return appendEscaped(append(buf, tagBytes), v), nil
	case Composite:
		buf = append(buf, tagComposite)
		var err error
		for i, part := range v {
			if _, ok := part.(Composite); ok {
				return nil, fmt.Errorf("%w: nested composite at %d", ErrUnsupportedKey, i)
			}
			if buf, err = appendKey(buf, part); err != nil {
				return nil, err
			}
		}
		return append(buf, tagEnd), nil
	case nil:
		return nil, fmt.Errorf("%w: nil", ErrUnsupportedKey)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
	}
}

func appendInt(buf []byte, v int64) []byte {
	buf = append(buf, tagInt)
	return binary.BigEndian.AppendUint64(buf, uint64(v)^(1<<63))
}

func appendUint(buf []byte, v uint64) []byte {
	buf = append(buf, tagUint)
	return binary.BigEndian.AppendUint64(buf, v)
}

func appendFloat(buf []byte, v float64) []byte {
	bits := math.Float64bits(v)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	buf = append(buf, tagFloat)
	return binary.BigEndian.AppendUint64(buf, bits)
}

func appendEscaped(buf, b []byte) []byte {
	for _, c := range b {
		if c == escByte {
			buf = append(buf, escByte, escZero)
			continue
		}
		buf = append(buf, c)
	}
	return append(buf, escByte, escClose)
}

// DecodeKey decodes an encoded key. Integers decode as int64, unsigned
// integers as uint64 and floats as float64; times are returned in UTC.
func DecodeKey(b []byte) (any, error) {
	v, rest, err := decodeOne(b)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptKey, len(rest))
	}
	return v, nil
}

func decodeOne(b []byte) (any, []byte, error) {
	if len(b) == 0 {
		return nil, nil, ErrCorruptKey
	}
	tag, b := b[0], b[1:]

	switch tag {
	case tagBool:
		if len(b) < 1 {
			return nil, nil, ErrCorruptKey
		}
		return b[0] == 1, b[1:], nil
	case tagInt, tagUint, tagFloat, tagTime:
		if len(b) < 8 {
			return nil, nil, ErrCorruptKey
		}
		u := binary.BigEndian.Uint64(b)
		rest := b[8:]
		switch tag {
		case tagInt:
			return int64(u ^ (1 << 63)), rest, nil
		case tagUint:
			return u, rest, nil
		case tagFloat:
			if u&(1<<63) != 0 {
				u &^= 1 << 63
			} else {
				u = ^u
			}
			return math.Float64frombits(u), rest, nil
		default:
			return time.Unix(0, int64(u^(1<<63))).UTC(), rest, nil
		}
	case tagString, tagBytes:
		raw, rest, err := decodeEscaped(b)
		if err != nil {
			return nil, nil, err
		}
		if tag == tagString {
			return string(raw), rest, nil
		}
		return raw, rest, nil
	case tagComposite:
		var parts Composite
		for {
			if len(b) == 0 {
				return nil, nil, ErrCorruptKey
			}
			if b[0] == tagEnd {
				return parts, b[1:], nil
			}
			var part any
			var err error
			if part, b, err = decodeOne(b); err != nil {
				return nil, nil, err
			}
			parts = append(parts, part)
		}
	default:
		return nil, nil, fmt.Errorf("%w: tag 0x%02x", ErrCorruptKey, tag)
	}
}

func decodeEscaped(b []byte) ([]byte, []byte, error) {
	out := []byte{}
	for i := 0; i < len(b); i++ {
		if b[i] != escByte {
			out = append(out, b[i])
			continue
		}
		if i+1 >= len(b) {
			return nil, nil, ErrCorruptKey
		}
		switch b[i+1] {
		case escZero:
			out = append(out, 0)
			i++
		case escClose:
			return out, b[i+2:], nil
		default:
			return nil, nil, ErrCorruptKey
		}
	}
	return nil, nil, ErrCorruptKey
}

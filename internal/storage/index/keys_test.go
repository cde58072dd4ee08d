package index

import (
	"bytes"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeAll(t *testing.T, keys []any) [][]byte {
	t.Helper()
	out := make([][]byte, len(keys))
	for i, k := range keys {
		enc, err := EncodeKey(k)
		require.NoError(t, err, "key %v", k)
		out[i] = enc
	}
	return out
}

func assertSorted(t *testing.T, keys []any) {
	t.Helper()
	encs := encodeAll(t, keys)
	for i := 1; i < len(encs); i++ {
		assert.Negative(t, bytes.Compare(encs[i-1], encs[i]), "%v should sort before %v", keys[i-1], keys[i])
	}
}

func TestEncodeOrderPreserving(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		keys []any
	}{
		{"strings", []any{"", "\x00", "\x00\x00", "\x01", "a", "a\x00", "ab", "b"}},
		{"bytes", []any{[]byte{}, []byte{0}, []byte{0, 0xFF}, []byte{1}, []byte{0xFF}}},
		{"bools", []any{false, true}},
		{"ints", []any{int64(math.MinInt64), -1000, int8(-1), 0, int16(1), int32(70000), int64(math.MaxInt64)}},
		{"uints", []any{uint8(0), uint16(1), uint32(1 << 20), uint64(math.MaxUint64)}},
		{"floats", []any{math.Inf(-1), -1.5, float32(-0.25), 0.0, 1e-9, 2.5, math.Inf(1)}},
		{"times", []any{base.Add(-time.Hour), base, base.Add(time.Nanosecond)}},
		{"composites", []any{
			Composite{"a"},
			Composite{"a", int64(-1)},
			Composite{"a", int64(2)},
			Composite{"ab"},
			Composite{"b", int64(0)},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertSorted(t, tt.keys)
		})
	}
}

func TestEncodeIsPrefixFree(t *testing.T) {
	keys := []any{"a", "ab", "a\x00", Composite{"a"}, Composite{"a", "b"}, []byte("a")}
	encs := encodeAll(t, keys)
	for i := range encs {
		for j := range encs {
			if i == j {
				continue
			}
			assert.False(t, bytes.HasPrefix(encs[j], encs[i]), "%v is a prefix of %v", keys[i], keys[j])
		}
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	when := time.Date(2023, 5, 6, 7, 8, 9, 10, time.UTC)

	tests := []struct {
		in   any
		want any
	}{
		{"user500", "user500"},
		{"with\x00zero", "with\x00zero"},
		{[]byte{0, 1, 0}, []byte{0, 1, 0}},
		{true, true},
		{42, int64(42)},
		{int8(-3), int64(-3)},
		{uint16(9), uint64(9)},
		{float32(1.5), 1.5},
		{-2.25, -2.25},
		{when, when},
		{Composite{"x", 1, true}, Composite{"x", int64(1), true}},
	}

	for _, tt := range tests {
		enc, err := EncodeKey(tt.in)
		require.NoError(t, err)
		got, err := DecodeKey(enc)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestEncodeUnsupported(t *testing.T) {
	_, err := EncodeKey(struct{}{})
	assert.ErrorIs(t, err, ErrUnsupportedKey)

	_, err = EncodeKey(nil)
	assert.ErrorIs(t, err, ErrUnsupportedKey)

	_, err = EncodeKey(Composite{Composite{"nested"}})
	assert.ErrorIs(t, err, ErrUnsupportedKey)
}

func TestEncodeKeyAsMismatch(t *testing.T) {
	_, err := EncodeKeyAs(KeyString, 5)
	assert.ErrorIs(t, err, ErrKeyTypeMismatch)

	_, err = EncodeKeyAs(KeyInt, int32(5))
	assert.NoError(t, err)
}

func TestDecodeCorrupt(t *testing.T) {
	for _, b := range [][]byte{nil, {tagInt, 1, 2}, {tagString, 'a'}, {0x99}, {tagString, 'a', 0, 0x05}} {
		_, err := DecodeKey(b)
		assert.ErrorIs(t, err, ErrCorruptKey, "%x", b)
	}
}

func TestFloatOrderMatchesSort(t *testing.T) {
	values := []float64{3, -7.5, 0, 1e10, -1e-10, 42.125, -3}
	encs := make([][]byte, len(values))
	for i, v := range values {
		encs[i], _ = EncodeKey(v)
	}
	sort.Slice(encs, func(i, j int) bool { return bytes.Compare(encs[i], encs[j]) < 0 })
	sort.Float64s(values)

	for i, enc := range encs {
		got, err := DecodeKey(enc)
		require.NoError(t, err)
		assert.Equal(t, values[i], got)
	}
}

func TestParseKey(t *testing.T) {
	v, err := ParseKey(KeyInt, "-12")
	require.NoError(t, err)
	assert.Equal(t, int64(-12), v)

	v, err = ParseKey(KeyString, "user1")
	require.NoError(t, err)
	assert.Equal(t, "user1", v)

	_, err = ParseKey(KeyComposite, "x")
	assert.ErrorIs(t, err, ErrUnsupportedKey)

	kt, err := ParseKeyType("TIME")
	require.NoError(t, err)
	assert.Equal(t, KeyTime, kt)
}

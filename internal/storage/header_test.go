package storage

import (
	"testing"
)

// =============================================================================
// FileHeader Tests
// =============================================================================

func TestFileHeaderRoundTrip(t *testing.T) {
	h := NewFileHeader(64 << 20)
	h.Seq = 9
	h.TotalPages = 120
	h.NextLogical = 55
	h.MapDir = 17
	h.MapPages = 1
	h.Meta[MetaRootOID] = 42
	h.Meta[MetaNextOID] = 1001

	buf, err := h.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	got := &FileHeader{}
	if err := got.DeserializeAndValidate(buf); err != nil {
		t.Fatalf("DeserializeAndValidate failed: %v", err)
	}

	if got.Seq != 9 || got.TotalPages != 120 || got.NextLogical != 55 {
		t.Errorf("counters mismatch: %+v", got)
	}
	if got.MapDir != 17 || got.MapPages != 1 {
		t.Errorf("map location mismatch: %+v", got)
	}
	if got.FileID != h.FileID {
		t.Errorf("FileID = %v, want %v", got.FileID, h.FileID)
	}
	if got.PoolSize != 64<<20 {
		t.Errorf("PoolSize = %v, want %v", got.PoolSize, 64<<20)
	}
	if got.Meta[MetaRootOID] != 42 || got.Meta[MetaNextOID] != 1001 {
		t.Errorf("meta mismatch: %v", got.Meta)
	}
}

func TestFileHeaderChecksum(t *testing.T) {
	h := NewFileHeader(0)
	buf, _ := h.Serialize()

	buf[20] ^= 0x10

	got := &FileHeader{}
	if err := got.DeserializeAndValidate(buf); err != ErrHeaderChecksum {
		t.Errorf("expected ErrHeaderChecksum, got %v", err)
	}
}

func TestFileHeaderInvalidMagic(t *testing.T) {
	buf := make([]byte, FileHeaderSize)
	copy(buf, "NOPE")

	got := &FileHeader{}
	if err := got.DeserializeAndValidate(buf); err != ErrInvalidMagic {
		t.Errorf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestFileHeaderSlotAlternates(t *testing.T) {
	h := NewFileHeader(0)
	h.Seq = 4
	if h.Slot() != 0 {
		t.Errorf("Slot() = %d, want 0", h.Slot())
	}
	h.Seq = 5
	if h.Slot() != 1 {
		t.Errorf("Slot() = %d, want 1", h.Slot())
	}
}

func TestPickHeaderPrefersHighestValidSeq(t *testing.T) {
	older := NewFileHeader(0)
	older.Seq = 3
	newer := older.Clone()
	newer.Seq = 4

	a, _ := older.Serialize()
	b, _ := newer.Serialize()

	got, err := pickHeader([][]byte{a, b})
	if err != nil {
		t.Fatalf("pickHeader failed: %v", err)
	}
	if got.Seq != 4 {
		t.Errorf("Seq = %d, want 4", got.Seq)
	}

	// A torn newer slot falls back to the older one.
	b[30] ^= 0xFF
	got, err = pickHeader([][]byte{a, b})
	if err != nil {
		t.Fatalf("pickHeader failed: %v", err)
	}
	if got.Seq != 3 {
		t.Errorf("Seq = %d, want 3", got.Seq)
	}
}

func TestPickHeaderNoValidSlot(t *testing.T) {
	_, err := pickHeader([][]byte{make([]byte, FileHeaderSize), make([]byte, FileHeaderSize)})
	if err == nil {
		t.Error("expected error for empty slots")
	}
}

func TestIsStoreFile(t *testing.T) {
	h := NewFileHeader(0)
	buf, _ := h.Serialize()
	if !IsStoreFile(buf) {
		t.Error("IsStoreFile should accept a serialized header")
	}
	if IsStoreFile([]byte("xy")) {
		t.Error("IsStoreFile should reject short input")
	}
}

package storage

import (
	"bytes"
	"testing"
)

// =============================================================================
// PageType Tests
// =============================================================================

func TestPageTypeString(t *testing.T) {
	tests := []struct {
		pageType PageType
		expected string
	}{
		{PageTypeFree, "Free"},
		{PageTypeData, "Data"},
		{PageTypeIndex, "Index"},
		{PageTypeOverflow, "Overflow"},
		{PageTypeMap, "Map"},
		{PageTypeMapDir, "MapDir"},
		{PageType(255), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.pageType.String(); got != tt.expected {
				t.Errorf("PageType.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

// =============================================================================
// Page Tests
// =============================================================================

func TestNewPage(t *testing.T) {
	page := NewPage(42, PageTypeData)

	if page.Header.PageID != 42 {
		t.Errorf("PageID = %v, want 42", page.Header.PageID)
	}
	if page.Header.FreeSpace != PageDataSize {
		t.Errorf("FreeSpace = %v, want %v", page.Header.FreeSpace, PageDataSize)
	}
	if len(page.Data) != PageDataSize {
		t.Errorf("len(Data) = %v, want %v", len(page.Data), PageDataSize)
	}
}

func TestPageRoundTrip(t *testing.T) {
	page := NewPage(7, PageTypeIndex)
	page.Header.ItemCount = 3
	page.Header.Flags = PageFlagLeaf
	copy(page.Data, []byte("hello page"))

	buf, err := page.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	if len(buf) != PageSize {
		t.Fatalf("len(buf) = %d, want %d", len(buf), PageSize)
	}

	got := &Page{}
	if err := got.DeserializeAndValidate(buf); err != nil {
		t.Fatalf("DeserializeAndValidate failed: %v", err)
	}
	if got.Header.PageID != 7 || got.Header.PageType != PageTypeIndex {
		t.Errorf("header mismatch: %+v", got.Header)
	}
	if got.Header.ItemCount != 3 || got.Header.Flags != PageFlagLeaf {
		t.Errorf("counters mismatch: %+v", got.Header)
	}
	if !bytes.HasPrefix(got.Data, []byte("hello page")) {
		t.Error("data mismatch")
	}
}

func TestPageChecksumDetectsCorruption(t *testing.T) {
	page := NewPage(1, PageTypeData)
	copy(page.Data, []byte("payload"))

	buf, err := page.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	buf[PageHeaderSize+2] ^= 0xFF

	got := &Page{}
	if err := got.DeserializeAndValidate(buf); err != ErrInvalidChecksum {
		t.Errorf("expected ErrInvalidChecksum, got %v", err)
	}
}

func TestPageChecksumCoversHeader(t *testing.T) {
	page := NewPage(1, PageTypeData)
	buf, _ := page.Serialize()

	// Flip the page id.
	buf[0] ^= 0x01

	got := &Page{}
	if err := got.DeserializeAndValidate(buf); err != ErrInvalidChecksum {
		t.Errorf("expected ErrInvalidChecksum, got %v", err)
	}
}

func TestPageCloneIsDeep(t *testing.T) {
	page := NewPage(3, PageTypeData)
	page.Data[0] = 1

	clone := page.Clone()
	clone.Data[0] = 2

	if page.Data[0] != 1 {
		t.Error("Clone shares data with the original")
	}
}

func TestPageReset(t *testing.T) {
	page := NewPage(3, PageTypeData)
	page.Data[10] = 9
	page.Header.ItemCount = 4

	page.Reset()

	if page.Data[10] != 0 || page.Header.ItemCount != 0 {
		t.Error("Reset did not clear the page")
	}
	if page.Header.PageID != 3 || page.Header.PageType != PageTypeData {
		t.Error("Reset must keep id and type")
	}
}

func TestPageHeaderBufferTooSmall(t *testing.T) {
	h := NewPageHeader(1, PageTypeData)
	if err := h.Serialize(make([]byte, 4)); err != ErrInvalidPageSize {
		t.Errorf("expected ErrInvalidPageSize, got %v", err)
	}
	if err := h.Deserialize(make([]byte, 4)); err != ErrInvalidPageSize {
		t.Errorf("expected ErrInvalidPageSize, got %v", err)
	}
}

package storage

import (
	"errors"
	"testing"
)

// =============================================================================
// BufferPool Tests
// =============================================================================

func TestPoolFramesMinimum(t *testing.T) {
	if got := PoolFrames(0); got != minPoolFrames {
		t.Errorf("PoolFrames(0) = %d, want %d", got, minPoolFrames)
	}
	if got := PoolFrames(64 << 20); got != (64<<20)/PageSize {
		t.Errorf("PoolFrames(64MiB) = %d, want %d", got, (64<<20)/PageSize)
	}
}

func TestBufferPoolPutGet(t *testing.T) {
	bp := NewBufferPool(16)

	page := NewPage(1, PageTypeData)
	if err := bp.Put(1, page, false); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, ok := bp.Get(1)
	if !ok || got != page {
		t.Fatal("Get did not return the cached page")
	}
	if bp.IsDirty(1) {
		t.Error("clean page reported dirty")
	}

	if err := bp.Put(1, page, true); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !bp.IsDirty(1) {
		t.Error("dirty page reported clean")
	}
}

func TestBufferPoolEvictsCleanPages(t *testing.T) {
	bp := NewBufferPool(16)

	for i := 1; i <= 17; i++ {
		if err := bp.Put(PageID(i), NewPage(PageID(i), PageTypeData), false); err != nil {
			t.Fatalf("Put(%d) failed: %v", i, err)
		}
	}

	if _, ok := bp.Get(1); ok {
		t.Error("coldest page should have been evicted")
	}
	if stats := bp.Stats(); stats.Size != 16 {
		t.Errorf("Size = %d, want 16", stats.Size)
	}
}

func TestBufferPoolSpillsDirtyPages(t *testing.T) {
	bp := NewBufferPool(16)

	var spilled []PageID
	bp.SetSpillCallback(func(id PageID, page *Page) error {
		spilled = append(spilled, id)
		return nil
	})

	for i := 1; i <= 18; i++ {
		if err := bp.Put(PageID(i), NewPage(PageID(i), PageTypeData), true); err != nil {
			t.Fatalf("Put(%d) failed: %v", i, err)
		}
	}

	if len(spilled) != 2 || spilled[0] != 1 || spilled[1] != 2 {
		t.Errorf("spilled = %v, want [1 2]", spilled)
	}
	if len(bp.DirtyPageIDs()) != 16 {
		t.Errorf("DirtyPageIDs() = %d pages, want 16", len(bp.DirtyPageIDs()))
	}
}

func TestBufferPoolFullWithoutSpill(t *testing.T) {
	bp := NewBufferPool(16)
	for i := 1; i <= 16; i++ {
		_ = bp.Put(PageID(i), NewPage(PageID(i), PageTypeData), true)
	}

	err := bp.Put(17, NewPage(17, PageTypeData), true)
	if !errors.Is(err, ErrBufferPoolFull) {
		t.Errorf("expected ErrBufferPoolFull, got %v", err)
	}
}

func TestBufferPoolSpillErrorPropagates(t *testing.T) {
	bp := NewBufferPool(16)
	boom := errors.New("disk full")
	bp.SetSpillCallback(func(PageID, *Page) error { return boom })

	for i := 1; i <= 16; i++ {
		_ = bp.Put(PageID(i), NewPage(PageID(i), PageTypeData), true)
	}
	if err := bp.Put(17, NewPage(17, PageTypeData), true); !errors.Is(err, boom) {
		t.Errorf("expected spill error, got %v", err)
	}
}

func TestBufferPoolMarkCleanAndDropDirty(t *testing.T) {
	bp := NewBufferPool(16)
	_ = bp.Put(1, NewPage(1, PageTypeData), true)
	_ = bp.Put(2, NewPage(2, PageTypeData), false)

	bp.MarkClean()
	if bp.IsDirty(1) {
		t.Error("MarkClean left page 1 dirty")
	}
	if _, ok := bp.Get(1); !ok {
		t.Error("MarkClean removed page 1")
	}

	_ = bp.Put(3, NewPage(3, PageTypeData), true)
	bp.DropDirty()
	if _, ok := bp.Get(3); ok {
		t.Error("DropDirty kept page 3")
	}
	if _, ok := bp.Get(2); !ok {
		t.Error("DropDirty removed clean page 2")
	}
}

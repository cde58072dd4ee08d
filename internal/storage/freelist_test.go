package storage

import (
	"testing"
)

// =============================================================================
// FreeList Tests
// =============================================================================

func TestFreeListPushPop(t *testing.T) {
	fl := NewFreeList()

	if !fl.IsEmpty() {
		t.Fatal("new free list should be empty")
	}

	fl.Push(5)
	fl.Push(9)

	if fl.Count() != 2 {
		t.Errorf("Count() = %d, want 2", fl.Count())
	}

	id, ok := fl.Pop()
	if !ok || id != 9 {
		t.Errorf("Pop() = %d, %v, want 9, true", id, ok)
	}
	id, ok = fl.Pop()
	if !ok || id != 5 {
		t.Errorf("Pop() = %d, %v, want 5, true", id, ok)
	}
	if _, ok := fl.Pop(); ok {
		t.Error("Pop() on empty list should fail")
	}
}

func TestFreeListIgnoresDuplicates(t *testing.T) {
	fl := NewFreeList()
	fl.Push(3)
	fl.Push(3)
	fl.PushAll([]PageID{3, 4})

	if fl.Count() != 2 {
		t.Errorf("Count() = %d, want 2", fl.Count())
	}
	if !fl.Contains(4) {
		t.Error("Contains(4) = false")
	}
}

func TestFreeListPeekAllSorted(t *testing.T) {
	fl := NewFreeList()
	fl.PushAll([]PageID{8, 2, 5})

	got := fl.PeekAll()
	want := []PageID{2, 5, 8}
	if len(got) != len(want) {
		t.Fatalf("PeekAll() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("PeekAll()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFreeListClear(t *testing.T) {
	fl := NewFreeList()
	fl.PushAll([]PageID{1, 2})
	fl.Clear()

	if !fl.IsEmpty() || fl.Contains(1) {
		t.Error("Clear() left pages behind")
	}
}

// =============================================================================
// LRUCache Tests
// =============================================================================

func TestLRUCacheVictimOrder(t *testing.T) {
	c := NewLRUCache()
	c.Access(1)
	c.Access(2)
	c.Access(3)
	c.Access(1)

	victim, ok := c.Victim(nil)
	if !ok || victim != 2 {
		t.Errorf("Victim() = %d, %v, want 2, true", victim, ok)
	}

	victim, ok = c.Victim(func(id PageID) bool { return id == 2 })
	if !ok || victim != 3 {
		t.Errorf("Victim(skip 2) = %d, %v, want 3, true", victim, ok)
	}
}

func TestLRUCacheRemove(t *testing.T) {
	c := NewLRUCache()
	c.Access(1)
	c.Access(2)
	c.Remove(1)

	if c.Contains(1) || c.Len() != 1 {
		t.Errorf("Remove() left state %v", c.Order())
	}
}

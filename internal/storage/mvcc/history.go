package mvcc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/oodb/internal/storage"
	"github.com/KilimcininKorOglu/oodb/internal/storage/btree"
	"github.com/KilimcininKorOglu/oodb/internal/storage/cache"
	"github.com/KilimcininKorOglu/oodb/internal/storage/heap"
)

// History stores the version chains of every tracked object. Its tree maps
// oid ‖ version, both big-endian, to the heap location of the record.
type History struct {
	tree    *btree.BPlusTree
	heap    *heap.Heap
	records *cache.RecordCache
}

// OpenHistory opens the history rooted at root, or creates an empty one when
// root is storage.InvalidPageID. records may be nil.
func OpenHistory(pager storage.Pager, h *heap.Heap, records *cache.RecordCache, root storage.PageID) (*History, error) {
	var tree *btree.BPlusTree
	var err error
	if root == storage.InvalidPageID {
		tree, err = btree.Create(pager)
	} else {
		tree, err = btree.Open(pager, root)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open version history: %w", err)
	}
	return &History{tree: tree, heap: h, records: records}, nil
}

// Root returns the root page of the history tree.
func (h *History) Root() storage.PageID {
	return h.tree.Root()
}

func historyKey(oid, version uint64) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k[0:8], oid)
	binary.BigEndian.PutUint64(k[8:16], version)
	return k
}

func oidPrefix(oid uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, oid)
}

// Append records version of oid at loc.
func (h *History) Append(oid, version uint64, loc heap.Location) error {
	err := h.tree.Insert(historyKey(oid, version), uint64(loc))
	if errors.Is(err, btree.ErrKeyExists) {
		return fmt.Errorf("%w: object %d version %d", ErrVersionExists, oid, version)
	}
	return err
}

// Head returns the newest committed version of oid.
func (h *History) Head(oid uint64) (Entry, bool, error) {
	key, loc, ok, err := h.tree.Last(oidPrefix(oid))
	if err != nil || !ok {
		return Entry{}, false, err
	}
	return Entry{Version: binary.BigEndian.Uint64(key[8:]), Location: heap.Location(loc)}, true, nil
}

// Validate checks that loaded is still the newest committed version of oid.
// An object without history validates only against version 0.
func (h *History) Validate(oid, loaded uint64) error {
	head, ok, err := h.Head(oid)
	if err != nil {
		return err
	}
	var current uint64
	if ok {
		current = head.Version
	}
	if current != loaded {
		return fmt.Errorf("%w: object %d loaded at version %d, committed version is %d",
			storage.ErrConflictDetected, oid, loaded, current)
	}
	return nil
}

// Chain returns the version chain of oid, or nil when it has none.
func (h *History) Chain(oid uint64) (*Chain, error) {
	chain := &Chain{OID: oid}

	it := h.tree.Prefix(oidPrefix(oid), false)
	defer it.Close()
	for key, loc, ok := it.Next(); ok; key, loc, ok = it.Next() {
		chain.Entries = append(chain.Entries, Entry{
			Version:  binary.BigEndian.Uint64(key[8:]),
			Location: heap.Location(loc),
		})
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	if len(chain.Entries) == 0 {
		return nil, nil
	}
	return chain, nil
}

// Read returns the record of one version, served from the record cache
// when possible.
func (h *History) Read(oid uint64, e Entry) (*Record, error) {
	if h.records != nil {
		if data, ok := h.records.Get(oid, e.Version); ok {
			return UnmarshalRecord(data)
		}
	}

	data, err := h.heap.Read(e.Location)
	if err != nil {
		return nil, fmt.Errorf("object %d version %d: %w", oid, e.Version, err)
	}
	rec, err := UnmarshalRecord(data)
	if err != nil {
		return nil, fmt.Errorf("object %d version %d: %w", oid, e.Version, err)
	}
	if rec.OID != oid || rec.Version != e.Version {
		return nil, fmt.Errorf("%w: expected object %d version %d, found %d/%d",
			ErrInvalidVersion, oid, e.Version, rec.OID, rec.Version)
	}
	if h.records != nil {
		h.records.Set(oid, e.Version, data)
	}
	return rec, nil
}

// Drop removes the chain of oid and deletes every record except the one
// at keep, which the caller still owns. It returns the number of versions
// removed.
func (h *History) Drop(oid uint64, keep heap.Location) (int, error) {
	chain, err := h.Chain(oid)
	if err != nil || chain == nil {
		return 0, err
	}

	for _, e := range chain.Entries {
		if _, _, err := h.tree.Delete(historyKey(oid, e.Version)); err != nil {
			return 0, err
		}
		if e.Location != keep {
			if err := h.heap.Delete(e.Location); err != nil {
				return 0, err
			}
		}
		if h.records != nil {
			h.records.Forget(oid, e.Version)
		}
	}
	return len(chain.Entries), nil
}

package btree

import (
	"bytes"
)

// Bound is one end of a key range. A nil *Bound leaves that end open.
type Bound struct {
	Key       []byte
	Inclusive bool
}

// Iterator walks the leaves of a tree in key order.
type Iterator struct {
	tree    *BPlusTree
	low     *Bound
	high    *Bound
	reverse bool

	leaf *Node
	pos  int
	gen  uint64

	lastKey []byte
	started bool
	done    bool
	err     error
}

// Range returns an iterator over the keys between low and high, ascending,
// or descending when reverse is set.
func (t *BPlusTree) Range(low, high *Bound, reverse bool) *Iterator {
	return &Iterator{tree: t, low: low, high: high, reverse: reverse}
}

// Prefix returns an iterator over the keys starting with prefix.
func (t *BPlusTree) Prefix(prefix []byte, reverse bool) *Iterator {
	var high *Bound
	if end := PrefixEnd(prefix); end != nil {
		high = &Bound{Key: end}
	}
	return t.Range(&Bound{Key: prefix, Inclusive: true}, high, reverse)
}

// Next returns the next key and value. ok is false when the range is
// exhausted or an error occurred; check Err.
func (it *Iterator) Next() (key []byte, value uint64, ok bool) {
	if it.done {
		return nil, 0, false
	}

	var err error
	switch {
	case !it.started:
		it.started = true
		err = it.seek(it.low, it.high)
	case it.tree.pager.Generation() != it.gen:
		if it.reverse {
			err = it.seek(it.low, &Bound{Key: it.lastKey})
		} else {
			err = it.seek(&Bound{Key: it.lastKey}, it.high)
		}
	}
	if err != nil {
		it.fail(err)
		return nil, 0, false
	}

	for {
		if it.leaf == nil {
			it.done = true
			return nil, 0, false
		}
		if it.pos < 0 || it.pos >= len(it.leaf.Keys) {
			if err := it.step(); err != nil {
				it.fail(err)
				return nil, 0, false
			}
			continue
		}

		k := it.leaf.Keys[it.pos]
		if it.pastEnd(k) {
			it.done = true
			it.leaf = nil
			return nil, 0, false
		}

		v := it.leaf.Values[it.pos]
		if it.reverse {
			it.pos--
		} else {
			it.pos++
		}

		it.lastKey = append(it.lastKey[:0], k...)
		out := make([]byte, len(k))
		copy(out, k)
		return out, v, true
	}
}

// Err returns the first error the iterator encountered.
func (it *Iterator) Err() error {
	return it.err
}

// Close releases the iterator. Further calls to Next return false.
func (it *Iterator) Close() {
	it.done = true
	it.leaf = nil
}

func (it *Iterator) fail(err error) {
	it.err = err
	it.done = true
	it.leaf = nil
}

// seek positions the cursor on the first key inside [low, high] in the
// direction of iteration.
func (it *Iterator) seek(low, high *Bound) error {
	it.gen = it.tree.pager.Generation()

	if !it.reverse {
		if low == nil {
			leaf, err := it.tree.edgeLeaf(false)
			if err != nil {
				return err
			}
			it.leaf, it.pos = leaf, 0
			return nil
		}
		leaf, err := it.tree.findLeaf(low.Key)
		if err != nil {
			return err
		}
		i, found := leaf.search(low.Key)
		if found && !low.Inclusive {
			i++
		}
		it.leaf, it.pos = leaf, i
		return nil
	}

	if high == nil {
		leaf, err := it.tree.edgeLeaf(true)
		if err != nil {
			return err
		}
		it.leaf, it.pos = leaf, len(leaf.Keys)-1
		return nil
	}
	leaf, err := it.tree.findLeaf(high.Key)
	if err != nil {
		return err
	}
	i, found := leaf.search(high.Key)
	if !(found && high.Inclusive) {
		i--
	}
	it.leaf, it.pos = leaf, i
	return nil
}

// step moves the cursor to the neighbouring leaf.
func (it *Iterator) step() error {
	next := it.leaf.Next
	if it.reverse {
		next = it.leaf.Prev
	}
	if next == InvalidPageID {
		it.leaf = nil
		return nil
	}

	leaf, err := it.tree.readNode(next)
	if err != nil {
		return err
	}
	it.leaf = leaf
	if it.reverse {
		it.pos = len(leaf.Keys) - 1
	} else {
		it.pos = 0
	}
	return nil
}

// pastEnd reports whether k lies beyond the far end of the range.
func (it *Iterator) pastEnd(k []byte) bool {
	if it.reverse {
		if it.low == nil {
			return false
		}
		c := bytes.Compare(k, it.low.Key)
		return c < 0 || (c == 0 && !it.low.Inclusive)
	}
	if it.high == nil {
		return false
	}
	c := bytes.Compare(k, it.high.Key)
	return c > 0 || (c == 0 && !it.high.Inclusive)
}

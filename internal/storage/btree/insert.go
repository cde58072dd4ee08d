package btree

import (
	"fmt"

	"github.com/KilimcininKorOglu/oodb/internal/storage"
)

// Insert adds key with value. It fails with ErrKeyExists when key is already
// present and leaves the existing value untouched.
//
// Algorithm:
//  1. Find the leaf covering the key, remembering the path.
//  2. Insert the entry in sorted position.
//  3. If the leaf no longer fits in a page, split it at the byte midpoint
//     and insert the separator into the parent, splitting upwards as needed.
func (t *BPlusTree) Insert(key []byte, value uint64) error {
	_, _, err := t.put(key, value, false)
	return err
}

// Put stores value under key, replacing any existing value. It returns the
// previous value and whether one existed.
func (t *BPlusTree) Put(key []byte, value uint64) (uint64, bool, error) {
	return t.put(key, value, true)
}

func (t *BPlusTree) put(key []byte, value uint64, replace bool) (uint64, bool, error) {
	if len(key) > MaxKeySize {
		return 0, false, ErrKeyTooLarge
	}

	leaf, path, err := t.findLeafWithPath(key)
	if err != nil {
		return 0, false, err
	}

	i, found := leaf.search(key)
	if found {
		if !replace {
			return 0, false, ErrKeyExists
		}
		old := leaf.Values[i]
		leaf.Values[i] = value
		return old, true, t.writeNode(leaf)
	}

	leaf.insertLeaf(i, key, value)
	if leaf.FitsInPage() {
		return 0, false, t.writeNode(leaf)
	}
	return 0, false, t.fixOverflow(leaf, path)
}

// fixOverflow splits node, which no longer fits in a page, and propagates
// the new separator into its ancestors.
func (t *BPlusTree) fixOverflow(node *Node, path []pathEntry) error {
	if len(path) == 0 {
		return t.splitRoot(node)
	}

	right, sep, err := t.splitOff(node)
	if err != nil {
		return err
	}
	if err := t.writeNode(node); err != nil {
		return err
	}
	if err := t.writeNode(right); err != nil {
		return err
	}

	last := len(path) - 1
	parent := path[last].node
	parent.insertChild(path[last].index, sep, right.PageID)
	if parent.FitsInPage() {
		return t.writeNode(parent)
	}
	return t.fixOverflow(parent, path[:last])
}

// splitRoot splits the root while keeping it in its page: the root content
// moves into a new left node, which is then split, and the root becomes an
// internal node over the two halves.
func (t *BPlusTree) splitRoot(root *Node) error {
	left, err := t.allocNode(root.IsLeaf)
	if err != nil {
		return err
	}
	left.Keys = root.Keys
	left.Values = root.Values
	left.Children = root.Children

	right, sep, err := t.splitOff(left)
	if err != nil {
		return err
	}
	if err := t.writeNode(left); err != nil {
		return err
	}
	if err := t.writeNode(right); err != nil {
		return err
	}

	newRoot := NewInternalNode(root.PageID)
	newRoot.Keys = [][]byte{sep}
	newRoot.Children = []storage.PageID{left.PageID, right.PageID}
	return t.writeNode(newRoot)
}

// splitOff moves the upper half of node into a new right sibling and returns
// it with the separator to insert into the parent.
func (t *BPlusTree) splitOff(node *Node) (*Node, []byte, error) {
	right, err := t.allocNode(node.IsLeaf)
	if err != nil {
		return nil, nil, err
	}

	mid := splitPoint(node)

	if node.IsLeaf {
		right.Keys = append([][]byte(nil), node.Keys[mid:]...)
		right.Values = append([]uint64(nil), node.Values[mid:]...)
		node.Keys = node.Keys[:mid:mid]
		node.Values = node.Values[:mid:mid]

		right.Prev = node.PageID
		right.Next = node.Next
		if node.Next != InvalidPageID {
			next, err := t.readNode(node.Next)
			if err != nil {
				return nil, nil, err
			}
			next.Prev = right.PageID
			if err := t.writeNode(next); err != nil {
				return nil, nil, err
			}
		}
		node.Next = right.PageID

		sep := make([]byte, len(right.Keys[0]))
		copy(sep, right.Keys[0])
		return right, sep, nil
	}

	sep := node.Keys[mid]
	right.Keys = append([][]byte(nil), node.Keys[mid+1:]...)
	right.Children = append([]storage.PageID(nil), node.Children[mid+1:]...)
	node.Keys = node.Keys[:mid:mid]
	node.Children = node.Children[: mid+1 : mid+1]
	return right, sep, nil
}

// splitPoint returns the index at which node is split so that both halves
// hold about the same number of bytes. For internal nodes the key at the
// returned index moves up to the parent.
func splitPoint(node *Node) int {
	n := len(node.Keys)
	if n < 2 {
		panic(fmt.Sprintf("btree: cannot split node %d with %d keys", node.PageID, n))
	}

	total := 0
	for _, k := range node.Keys {
		total += entrySize(k)
	}

	mid, acc := 0, 0
	for mid < n && acc < total/2 {
		acc += entrySize(node.Keys[mid])
		mid++
	}

	lo, hi := 1, n-1
	if !node.IsLeaf && n > 2 {
		hi = n - 2
	}
	if mid < lo {
		mid = lo
	}
	if mid > hi {
		mid = hi
	}
	return mid
}

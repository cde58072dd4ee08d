package btree

import (
	"github.com/KilimcininKorOglu/oodb/internal/storage"
)

// Delete removes key and returns the value it held.
//
// Algorithm:
//  1. Find the leaf containing the key.
//  2. Remove the entry.
//  3. If the leaf falls below a quarter of a page, merge it with a sibling
//     when both fit in one page, otherwise redistribute entries between the
//     two. Merges remove a separator from the parent, which is rebalanced in
//     turn.
//  4. An internal root left with a single child absorbs that child.
func (t *BPlusTree) Delete(key []byte) (uint64, bool, error) {
	leaf, path, err := t.findLeafWithPath(key)
	if err != nil {
		return 0, false, err
	}

	i, found := leaf.search(key)
	if !found {
		return 0, false, nil
	}

	value := leaf.removeLeaf(i)
	return value, true, t.rebalance(leaf, path)
}

// rebalance writes node and restores the fill invariant along path.
func (t *BPlusTree) rebalance(node *Node, path []pathEntry) error {
	if len(path) == 0 {
		if !node.IsLeaf && len(node.Keys) == 0 {
			return t.collapseRoot(node)
		}
		return t.writeNode(node)
	}

	if node.SerializedSize() >= minFill {
		return t.writeNode(node)
	}

	last := len(path) - 1
	parent := path[last].node
	idx := path[last].index

	var left, right *Node
	var sepIdx int
	if idx > 0 {
		sib, err := t.readNode(parent.Children[idx-1])
		if err != nil {
			return err
		}
		left, right, sepIdx = sib, node, idx-1
	} else {
		sib, err := t.readNode(parent.Children[idx+1])
		if err != nil {
			return err
		}
		left, right, sepIdx = node, sib, idx
	}

	sep := parent.Keys[sepIdx]
	if mergedSize(left, right, sep) <= NodeCapacity {
		if err := t.merge(left, right, sep); err != nil {
			return err
		}
		parent.removeChild(sepIdx)
		return t.rebalance(parent, path[:last])
	}

	newSep := t.redistribute(left, right, sep)
	if err := t.writeNode(left); err != nil {
		return err
	}
	if err := t.writeNode(right); err != nil {
		return err
	}
	parent.Keys[sepIdx] = newSep
	if parent.FitsInPage() {
		return t.writeNode(parent)
	}
	return t.fixOverflow(parent, path[:last])
}

// mergedSize returns the serialized size of left and right merged.
func mergedSize(left, right *Node, sep []byte) int {
	size := left.SerializedSize() + right.SerializedSize() - NodeHeaderSize
	if !left.IsLeaf {
		size += KeyLengthSize + len(sep)
	}
	return size
}

// merge moves every entry of right into left and frees right. For internal
// nodes the separator comes down between the two halves.
func (t *BPlusTree) merge(left, right *Node, sep []byte) error {
	if left.IsLeaf {
		left.Keys = append(left.Keys, right.Keys...)
		left.Values = append(left.Values, right.Values...)
		left.Next = right.Next
		if right.Next != InvalidPageID {
			next, err := t.readNode(right.Next)
			if err != nil {
				return err
			}
			next.Prev = left.PageID
			if err := t.writeNode(next); err != nil {
				return err
			}
		}
	} else {
		left.Keys = append(left.Keys, sep)
		left.Keys = append(left.Keys, right.Keys...)
		left.Children = append(left.Children, right.Children...)
	}

	if err := t.writeNode(left); err != nil {
		return err
	}
	return t.pager.FreePage(right.PageID)
}

// redistribute splits the combined entries of left and right evenly by size
// and returns the new separator.
func (t *BPlusTree) redistribute(left, right *Node, sep []byte) []byte {
	combined := &Node{PageID: left.PageID, IsLeaf: left.IsLeaf}
	if left.IsLeaf {
		combined.Keys = append(append([][]byte(nil), left.Keys...), right.Keys...)
		combined.Values = append(append([]uint64(nil), left.Values...), right.Values...)
	} else {
		combined.Keys = append(append(append([][]byte(nil), left.Keys...), sep), right.Keys...)
		combined.Children = append(append([]storage.PageID(nil), left.Children...), right.Children...)
	}

	mid := splitPoint(combined)

	if left.IsLeaf {
		left.Keys = combined.Keys[:mid:mid]
		left.Values = combined.Values[:mid:mid]
		right.Keys = combined.Keys[mid:]
		right.Values = combined.Values[mid:]
		newSep := make([]byte, len(right.Keys[0]))
		copy(newSep, right.Keys[0])
		return newSep
	}

	left.Keys = combined.Keys[:mid:mid]
	left.Children = combined.Children[: mid+1 : mid+1]
	right.Keys = combined.Keys[mid+1:]
	right.Children = combined.Children[mid+1:]
	return combined.Keys[mid]
}

// collapseRoot copies the only child of root into the root page and frees
// the child, reducing the height by one.
func (t *BPlusTree) collapseRoot(root *Node) error {
	child, err := t.readNode(root.Children[0])
	if err != nil {
		return err
	}
	oldID := child.PageID

	child.PageID = root.PageID
	if child.IsLeaf {
		child.Next = InvalidPageID
		child.Prev = InvalidPageID
	} else if len(child.Keys) == 0 {
		if err := t.pager.FreePage(oldID); err != nil {
			return err
		}
		return t.collapseRoot(child)
	}

	if err := t.writeNode(child); err != nil {
		return err
	}
	return t.pager.FreePage(oldID)
}

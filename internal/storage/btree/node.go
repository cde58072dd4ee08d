package btree

import (
	"bytes"

	"github.com/KilimcininKorOglu/oodb/internal/storage"
)

// InvalidPageID represents an invalid or null page reference.
const InvalidPageID storage.PageID = 0

// Node is the in-memory form of one B+ tree page.
type Node struct {
	// PageID is the page the node is stored in.
	PageID storage.PageID

	// IsLeaf indicates whether this is a leaf node.
	IsLeaf bool

	// Keys are sorted ascending. In an internal node Keys[i] is the smallest
	// key reachable through Children[i+1].
	Keys [][]byte

	// Values holds one value per key (leaf nodes only).
	Values []uint64

	// Children holds len(Keys)+1 child pages (internal nodes only).
	Children []storage.PageID

	// Next and Prev link the leaves in key order.
	Next storage.PageID
	Prev storage.PageID
}

// NewLeafNode creates an empty leaf node.
func NewLeafNode(pageID storage.PageID) *Node {
	return &Node{PageID: pageID, IsLeaf: true}
}

// NewInternalNode creates an empty internal node.
func NewInternalNode(pageID storage.PageID) *Node {
	return &Node{PageID: pageID}
}

// KeyCount returns the number of keys in the node.
func (n *Node) KeyCount() int {
	return len(n.Keys)
}

// search returns the index of the first key >= key and whether it is equal.
func (n *Node) search(key []byte) (int, bool) {
	low, high := 0, len(n.Keys)
	for low < high {
		mid := (low + high) / 2
		if bytes.Compare(n.Keys[mid], key) < 0 {
			low = mid + 1
		} else {
			high = mid
		}
	}
	return low, low < len(n.Keys) && bytes.Equal(n.Keys[low], key)
}

// upperBound returns the index of the first key > key.
func (n *Node) upperBound(key []byte) int {
	low, high := 0, len(n.Keys)
	for low < high {
		mid := (low + high) / 2
		if bytes.Compare(n.Keys[mid], key) <= 0 {
			low = mid + 1
		} else {
			high = mid
		}
	}
	return low
}

// childIndex returns the index of the child whose subtree covers key.
func (n *Node) childIndex(key []byte) int {
	return n.upperBound(key)
}

// insertLeaf inserts key and value at index i.
func (n *Node) insertLeaf(i int, key []byte, value uint64) {
	k := make([]byte, len(key))
	copy(k, key)

	n.Keys = append(n.Keys, nil)
	copy(n.Keys[i+1:], n.Keys[i:])
	n.Keys[i] = k

	n.Values = append(n.Values, 0)
	copy(n.Values[i+1:], n.Values[i:])
	n.Values[i] = value
}

// removeLeaf removes the entry at index i and returns its value.
func (n *Node) removeLeaf(i int) uint64 {
	v := n.Values[i]
	n.Keys = append(n.Keys[:i], n.Keys[i+1:]...)
	n.Values = append(n.Values[:i], n.Values[i+1:]...)
	return v
}

// insertChild inserts separator key at index i with child to its right.
func (n *Node) insertChild(i int, key []byte, child storage.PageID) {
	n.Keys = append(n.Keys, nil)
	copy(n.Keys[i+1:], n.Keys[i:])
	n.Keys[i] = key

	n.Children = append(n.Children, InvalidPageID)
	copy(n.Children[i+2:], n.Children[i+1:])
	n.Children[i+1] = child
}

// removeChild removes separator i and the child to its right.
func (n *Node) removeChild(i int) {
	n.Keys = append(n.Keys[:i], n.Keys[i+1:]...)
	n.Children = append(n.Children[:i+1], n.Children[i+2:]...)
}

// FirstKey returns the first key in the node, or nil if empty.
func (n *Node) FirstKey() []byte {
	if len(n.Keys) == 0 {
		return nil
	}
	return n.Keys[0]
}

// LastKey returns the last key in the node, or nil if empty.
func (n *Node) LastKey() []byte {
	if len(n.Keys) == 0 {
		return nil
	}
	return n.Keys[len(n.Keys)-1]
}

// CompareKeys compares two keys lexicographically.
func CompareKeys(a, b []byte) int {
	return bytes.Compare(a, b)
}

// PrefixEnd returns the smallest key greater than every key starting with
// prefix, or nil when no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

package btree

import (
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/oodb/internal/storage"
)

// Tree errors.
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrKeyExists   = errors.New("key already exists")
	ErrInvalidRoot = errors.New("invalid root page")
)

// BPlusTree is a B+ tree stored in the pages of a storage.Pager.
// A tree is not safe for concurrent use; the owner of the pager serializes
// access.
type BPlusTree struct {
	pager storage.Pager
	root  storage.PageID
}

// Create allocates an empty tree and returns it.
func Create(pager storage.Pager) (*BPlusTree, error) {
	page, err := pager.AllocatePage(storage.PageTypeIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate root: %w", err)
	}

	t := &BPlusTree{pager: pager, root: page.Header.PageID}
	if err := t.writeNode(NewLeafNode(t.root)); err != nil {
		return nil, err
	}
	return t, nil
}

// Open returns the tree whose root is stored in page root.
func Open(pager storage.Pager, root storage.PageID) (*BPlusTree, error) {
	if root == InvalidPageID {
		return nil, ErrInvalidRoot
	}
	return &BPlusTree{pager: pager, root: root}, nil
}

// Root returns the root page of the tree. It does not change over the
// lifetime of the tree.
func (t *BPlusTree) Root() storage.PageID {
	return t.root
}

// readNode loads the node stored in page id.
func (t *BPlusTree) readNode(id storage.PageID) (*Node, error) {
	page, err := t.pager.ReadPage(id)
	if err != nil {
		return nil, fmt.Errorf("failed to read node %d: %w", id, err)
	}
	node, err := NewNodeFromPage(page)
	if err != nil {
		return nil, fmt.Errorf("node %d: %w", id, err)
	}
	return node, nil
}

// writeNode stores node in its page.
func (t *BPlusTree) writeNode(node *Node) error {
	page := storage.NewPage(node.PageID, storage.PageTypeIndex)
	if err := node.SerializeToPage(page); err != nil {
		return fmt.Errorf("node %d: %w", node.PageID, err)
	}
	return t.pager.WritePage(page)
}

// allocNode allocates a page for a new node.
func (t *BPlusTree) allocNode(leaf bool) (*Node, error) {
	page, err := t.pager.AllocatePage(storage.PageTypeIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate node: %w", err)
	}
	if leaf {
		return NewLeafNode(page.Header.PageID), nil
	}
	return NewInternalNode(page.Header.PageID), nil
}

// Count returns the number of keys in the tree.
func (t *BPlusTree) Count() (int, error) {
	leaf, err := t.edgeLeaf(false)
	if err != nil {
		return 0, err
	}

	count := 0
	for {
		count += len(leaf.Keys)
		if leaf.Next == InvalidPageID {
			return count, nil
		}
		if leaf, err = t.readNode(leaf.Next); err != nil {
			return 0, err
		}
	}
}

// Height returns the number of levels of the tree.
func (t *BPlusTree) Height() (int, error) {
	height := 1
	node, err := t.readNode(t.root)
	if err != nil {
		return 0, err
	}
	for !node.IsLeaf {
		if node, err = t.readNode(node.Children[0]); err != nil {
			return 0, err
		}
		height++
	}
	return height, nil
}

// Drop frees every page of the tree, including the root. The tree must not
// be used afterwards.
func (t *BPlusTree) Drop() error {
	if err := t.dropPage(t.root); err != nil {
		return err
	}
	t.root = InvalidPageID
	return nil
}

func (t *BPlusTree) dropPage(id storage.PageID) error {
	node, err := t.readNode(id)
	if err != nil {
		return err
	}
	if !node.IsLeaf {
		for _, child := range node.Children {
			if err := t.dropPage(child); err != nil {
				return err
			}
		}
	}
	return t.pager.FreePage(id)
}

package btree

// pathEntry records a node visited on the way to a leaf and the index of the
// child that was followed.
type pathEntry struct {
	node  *Node
	index int
}

// findLeaf returns the leaf whose key range covers key.
func (t *BPlusTree) findLeaf(key []byte) (*Node, error) {
	leaf, _, err := t.findLeafWithPath(key)
	return leaf, err
}

// findLeafWithPath returns the leaf covering key and the internal nodes on
// the way down, root first.
func (t *BPlusTree) findLeafWithPath(key []byte) (*Node, []pathEntry, error) {
	var path []pathEntry

	node, err := t.readNode(t.root)
	if err != nil {
		return nil, nil, err
	}

	for !node.IsLeaf {
		i := node.childIndex(key)
		path = append(path, pathEntry{node: node, index: i})
		if node, err = t.readNode(node.Children[i]); err != nil {
			return nil, nil, err
		}
	}

	return node, path, nil
}

// edgeLeaf returns the leftmost leaf, or the rightmost when last is true.
func (t *BPlusTree) edgeLeaf(last bool) (*Node, error) {
	node, err := t.readNode(t.root)
	if err != nil {
		return nil, err
	}

	for !node.IsLeaf {
		child := node.Children[0]
		if last {
			child = node.Children[len(node.Children)-1]
		}
		if node, err = t.readNode(child); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// Get returns the value stored under key.
func (t *BPlusTree) Get(key []byte) (uint64, bool, error) {
	leaf, err := t.findLeaf(key)
	if err != nil {
		return 0, false, err
	}
	i, found := leaf.search(key)
	if !found {
		return 0, false, nil
	}
	return leaf.Values[i], true, nil
}

// Has reports whether key is present.
func (t *BPlusTree) Has(key []byte) (bool, error) {
	_, found, err := t.Get(key)
	return found, err
}

// First returns the smallest key starting with prefix and its value.
func (t *BPlusTree) First(prefix []byte) ([]byte, uint64, bool, error) {
	it := t.Prefix(prefix, false)
	defer it.Close()
	key, value, ok := it.Next()
	return key, value, ok, it.Err()
}

// Last returns the greatest key starting with prefix and its value.
func (t *BPlusTree) Last(prefix []byte) ([]byte, uint64, bool, error) {
	it := t.Prefix(prefix, true)
	defer it.Close()
	key, value, ok := it.Next()
	return key, value, ok, it.Err()
}

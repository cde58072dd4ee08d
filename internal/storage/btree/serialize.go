package btree

import (
	"encoding/binary"
	"errors"

	"github.com/KilimcininKorOglu/oodb/internal/storage"
)

// Serialization constants.
const (
	// NodeHeaderSize is the size of the node header in bytes.
	// Layout:
	//   - Byte 0:      IsLeaf (uint8, 0 or 1)
	//   - Bytes 1-2:   KeyCount (uint16)
	//   - Bytes 3-10:  NextLeaf (PageID/uint64)
	//   - Bytes 11-18: PrevLeaf (PageID/uint64)
	//   - Bytes 19-20: Reserved
	NodeHeaderSize = 21

	// MaxKeySize is the maximum size of a single key in bytes.
	MaxKeySize = 1024

	// KeyLengthSize is the size of the key length prefix.
	KeyLengthSize = 2

	// ValueSize is the size of a leaf value or a child pointer.
	ValueSize = 8

	// NodeCapacity is the number of bytes available to a serialized node.
	NodeCapacity = storage.PageDataSize

	// minFill is the size below which a non-root node is rebalanced.
	minFill = NodeCapacity / 4
)

// Serialization errors.
var (
	ErrKeyTooLarge     = errors.New("key exceeds maximum size")
	ErrInvalidNodeData = errors.New("invalid node data")
	ErrNodeTooLarge    = errors.New("node data exceeds page size")
	ErrCorruptedNode   = errors.New("corrupted node data")
)

// entrySize is the serialized size of one key with its value or child.
func entrySize(key []byte) int {
	return KeyLengthSize + len(key) + ValueSize
}

// SerializedSize calculates the serialized size of the node.
func (n *Node) SerializedSize() int {
	size := NodeHeaderSize
	for _, key := range n.Keys {
		size += entrySize(key)
	}
	if !n.IsLeaf {
		size += ValueSize
	}
	return size
}

// FitsInPage returns true if the node can be serialized within a page.
func (n *Node) FitsInPage() bool {
	return n.SerializedSize() <= NodeCapacity
}

// Serialize writes the node to buf and returns the number of bytes written.
func (n *Node) Serialize(buf []byte) (int, error) {
	if len(buf) < n.SerializedSize() {
		return 0, ErrNodeTooLarge
	}
	if !n.IsLeaf && len(n.Children) != len(n.Keys)+1 {
		return 0, ErrInvalidNodeData
	}
	if n.IsLeaf && len(n.Values) != len(n.Keys) {
		return 0, ErrInvalidNodeData
	}

	if n.IsLeaf {
		buf[0] = 1
	} else {
		buf[0] = 0
	}
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(n.Keys)))
	binary.LittleEndian.PutUint64(buf[3:11], uint64(n.Next))
	binary.LittleEndian.PutUint64(buf[11:19], uint64(n.Prev))
	buf[19], buf[20] = 0, 0
	offset := NodeHeaderSize

	for _, key := range n.Keys {
		if len(key) > MaxKeySize {
			return 0, ErrKeyTooLarge
		}
		binary.LittleEndian.PutUint16(buf[offset:], uint16(len(key)))
		offset += KeyLengthSize
		offset += copy(buf[offset:], key)
	}

	if n.IsLeaf {
		for _, v := range n.Values {
			binary.LittleEndian.PutUint64(buf[offset:], v)
			offset += ValueSize
		}
	} else {
		for _, child := range n.Children {
			binary.LittleEndian.PutUint64(buf[offset:], uint64(child))
			offset += ValueSize
		}
	}

	return offset, nil
}

// Deserialize reads a node from buf.
func (n *Node) Deserialize(buf []byte, pageID storage.PageID) error {
	if len(buf) < NodeHeaderSize {
		return ErrCorruptedNode
	}

	n.PageID = pageID
	n.IsLeaf = buf[0] == 1
	keyCount := int(binary.LittleEndian.Uint16(buf[1:3]))
	n.Next = storage.PageID(binary.LittleEndian.Uint64(buf[3:11]))
	n.Prev = storage.PageID(binary.LittleEndian.Uint64(buf[11:19]))
	offset := NodeHeaderSize

	n.Keys = make([][]byte, keyCount)
	for i := 0; i < keyCount; i++ {
		if offset+KeyLengthSize > len(buf) {
			return ErrCorruptedNode
		}
		keyLen := int(binary.LittleEndian.Uint16(buf[offset:]))
		offset += KeyLengthSize
		if keyLen > MaxKeySize || offset+keyLen > len(buf) {
			return ErrCorruptedNode
		}
		n.Keys[i] = make([]byte, keyLen)
		copy(n.Keys[i], buf[offset:offset+keyLen])
		offset += keyLen
	}

	count := keyCount
	if !n.IsLeaf {
		count++
	}
	if offset+count*ValueSize > len(buf) {
		return ErrCorruptedNode
	}

	if n.IsLeaf {
		n.Values = make([]uint64, count)
		n.Children = nil
		for i := range n.Values {
			n.Values[i] = binary.LittleEndian.Uint64(buf[offset:])
			offset += ValueSize
		}
	} else {
		n.Children = make([]storage.PageID, count)
		n.Values = nil
		for i := range n.Children {
			n.Children[i] = storage.PageID(binary.LittleEndian.Uint64(buf[offset:]))
			offset += ValueSize
		}
	}

	return nil
}

// SerializeToPage writes the node into page and updates the page header.
func (n *Node) SerializeToPage(page *storage.Page) error {
	if !n.FitsInPage() {
		return ErrNodeTooLarge
	}

	for i := range page.Data {
		page.Data[i] = 0
	}
	if _, err := n.Serialize(page.Data); err != nil {
		return err
	}

	page.Header.PageType = storage.PageTypeIndex
	page.Header.ItemCount = uint16(len(n.Keys))
	if n.IsLeaf {
		page.Header.Flags |= storage.PageFlagLeaf
	} else {
		page.Header.Flags &^= storage.PageFlagLeaf
	}
	page.Header.FreeSpace = uint16(NodeCapacity - n.SerializedSize())
	return nil
}

// NewNodeFromPage decodes the node stored in page.
func NewNodeFromPage(page *storage.Page) (*Node, error) {
	if page.Header.PageType != storage.PageTypeIndex {
		return nil, ErrInvalidNodeData
	}
	node := &Node{}
	if err := node.Deserialize(page.Data, page.Header.PageID); err != nil {
		return nil, err
	}
	return node, nil
}

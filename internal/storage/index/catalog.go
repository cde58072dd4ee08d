package index

import (
	"errors"
	"fmt"
	"sort"

	"github.com/KilimcininKorOglu/oodb/internal/storage"
	"github.com/KilimcininKorOglu/oodb/internal/storage/btree"
	"github.com/KilimcininKorOglu/oodb/internal/storage/heap"
)

// Catalog errors.
var (
	ErrIndexExists       = errors.New("index already exists")
	ErrIndexNotFound     = errors.New("index not found")
	ErrInvalidName       = errors.New("invalid index name")
	ErrMetadataCorrupted = errors.New("index metadata corrupted")
)

// MaxNameLength is the maximum length of an index, type or field name.
const MaxNameLength = 256

// Catalog is the directory of named indices: a tree from index name to the
// heap record holding the index descriptor.
type Catalog struct {
	pager storage.Pager
	heap  *heap.Heap
	dir   *btree.BPlusTree

	open map[string]*Index
}

// OpenCatalog opens the catalog rooted at root, or creates an empty one when
// root is storage.InvalidPageID.
func OpenCatalog(pager storage.Pager, h *heap.Heap, root storage.PageID) (*Catalog, error) {
	var dir *btree.BPlusTree
	var err error
	if root == storage.InvalidPageID {
		dir, err = btree.Create(pager)
	} else {
		dir, err = btree.Open(pager, root)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open index catalog: %w", err)
	}

	return &Catalog{
		pager: pager,
		heap:  h,
		dir:   dir,
		open:  make(map[string]*Index),
	}, nil
}

// Root returns the root page of the catalog tree.
func (c *Catalog) Root() storage.PageID {
	return c.dir.Root()
}

// Create defines a new index and returns it. Root in desc is ignored.
func (c *Catalog) Create(desc Descriptor) (*Index, error) {
	if desc.Name == "" || len(desc.Name) > MaxNameLength {
		return nil, ErrInvalidName
	}
	if desc.KeyType < KeyString || desc.KeyType > KeyComposite {
		return nil, fmt.Errorf("%w: key type %d", ErrUnsupportedKey, desc.KeyType)
	}

	exists, err := c.dir.Has([]byte(desc.Name))
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrIndexExists, desc.Name)
	}

	tree, err := btree.Create(c.pager)
	if err != nil {
		return nil, err
	}
	desc.Root = tree.Root()

	data, err := desc.MarshalBinary()
	if err != nil {
		return nil, err
	}
	loc, err := c.heap.Insert(data)
	if err != nil {
		return nil, err
	}
	if err := c.dir.Insert([]byte(desc.Name), uint64(loc)); err != nil {
		return nil, err
	}

	ix := &Index{desc: desc, tree: tree}
	c.open[desc.Name] = ix
	return ix, nil
}

// Open returns the index called name.
func (c *Catalog) Open(name string) (*Index, error) {
	if ix, ok := c.open[name]; ok {
		return ix, nil
	}

	desc, _, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	tree, err := btree.Open(c.pager, desc.Root)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", name, err)
	}

	ix := &Index{desc: desc, tree: tree}
	c.open[name] = ix
	return ix, nil
}

func (c *Catalog) lookup(name string) (Descriptor, heap.Location, error) {
	v, ok, err := c.dir.Get([]byte(name))
	if err != nil {
		return Descriptor{}, 0, err
	}
	if !ok {
		return Descriptor{}, 0, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}

	loc := heap.Location(v)
	data, err := c.heap.Read(loc)
	if err != nil {
		return Descriptor{}, 0, fmt.Errorf("index %s: %w", name, err)
	}
	var desc Descriptor
	if err := desc.UnmarshalBinary(data); err != nil {
		return Descriptor{}, 0, fmt.Errorf("index %s: %w", name, err)
	}
	return desc, loc, nil
}

// Drop removes the index called name and frees its pages.
func (c *Catalog) Drop(name string) error {
	desc, loc, err := c.lookup(name)
	if err != nil {
		return err
	}

	tree, err := btree.Open(c.pager, desc.Root)
	if err != nil {
		return err
	}
	if err := tree.Drop(); err != nil {
		return err
	}
	if err := c.heap.Delete(loc); err != nil {
		return err
	}
	if _, _, err := c.dir.Delete([]byte(name)); err != nil {
		return err
	}
	delete(c.open, name)
	return nil
}

// List returns the descriptors of every index, sorted by name.
func (c *Catalog) List() ([]Descriptor, error) {
	var names []string
	it := c.dir.Range(nil, nil, false)
	for key, _, ok := it.Next(); ok; key, _, ok = it.Next() {
		names = append(names, string(key))
	}
	it.Close()
	if err := it.Err(); err != nil {
		return nil, err
	}

	descs := make([]Descriptor, 0, len(names))
	for _, name := range names {
		desc, _, err := c.lookup(name)
		if err != nil {
			return nil, err
		}
		descs = append(descs, desc)
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })
	return descs, nil
}

// FieldIndices returns the field indices defined over typeName.
func (c *Catalog) FieldIndices(typeName string) ([]*Index, error) {
	descs, err := c.List()
	if err != nil {
		return nil, err
	}

	var out []*Index
	for _, d := range descs {
		if d.TypeName != typeName || !d.IsFieldIndex() {
			continue
		}
		ix, err := c.Open(d.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, ix)
	}
	return out, nil
}

// Reset forgets every opened index handle. It is called after the pager
// state was rolled back or refreshed.
func (c *Catalog) Reset() {
	c.open = make(map[string]*Index)
}

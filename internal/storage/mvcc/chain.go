package mvcc

import (
	"github.com/KilimcininKorOglu/oodb/internal/storage/heap"
)

// Entry is one committed version of an object.
type Entry struct {
	Version  uint64
	Location heap.Location
}

// Chain is the version chain of one object, oldest first.
type Chain struct {
	OID     uint64
	Entries []Entry
}

// NumberOfVersions returns the length of the chain.
func (c *Chain) NumberOfVersions() int {
	return len(c.Entries)
}

// Current returns the newest version.
func (c *Chain) Current() Entry {
	return c.Entries[len(c.Entries)-1]
}

// Root returns the first committed version.
func (c *Chain) Root() Entry {
	return c.Entries[0]
}

// Version returns version n, counting from 1.
func (c *Chain) Version(n uint64) (Entry, bool) {
	// Versions are contiguous from 1 unless the chain was truncated.
	if n >= 1 && n <= uint64(len(c.Entries)) && c.Entries[n-1].Version == n {
		return c.Entries[n-1], true
	}
	for _, e := range c.Entries {
		if e.Version == n {
			return e, true
		}
	}
	return Entry{}, false
}

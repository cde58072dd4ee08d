// Package cache holds committed object records in memory so repeated loads
// of the same object version skip the page store.
package cache

import (
	"encoding/binary"
	"errors"

	"github.com/dgraph-io/ristretto/v2"
)

// Errors.
var (
	ErrInvalidSize = errors.New("cache size must be positive")
)

// minCost keeps tiny configurations usable.
const minCost = 1 << 20

// RecordCache maps (oid, version) to the committed record bytes. A record
// version never changes once committed, so entries need no invalidation on
// commit; Forget exists for deallocated objects.
type RecordCache struct {
	c *ristretto.Cache[string, []byte]
}

// New creates a cache bounded to maxBytes of record payload.
func New(maxBytes int64) (*RecordCache, error) {
	if maxBytes <= 0 {
		return nil, ErrInvalidSize
	}
	if maxBytes < minCost {
		maxBytes = minCost
	}

	// Ten counters per expected entry, assuming ~1 KiB records.
	counters := maxBytes / 1024 * 10
	if counters < 1000 {
		counters = 1000
	}

	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: counters,
		MaxCost:     maxBytes,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &RecordCache{c: c}, nil
}

// Key builds the cache key of one object version.
func Key(oid, version uint64) string {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], oid)
	binary.BigEndian.PutUint64(buf[8:16], version)
	return string(buf[:])
}

// Get returns a copy of the cached record.
func (rc *RecordCache) Get(oid, version uint64) ([]byte, bool) {
	data, ok := rc.c.Get(Key(oid, version))
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// Set stores a private copy of the record. Admission is best effort.
func (rc *RecordCache) Set(oid, version uint64, data []byte) {
	stored := make([]byte, len(data))
	copy(stored, data)
	rc.c.Set(Key(oid, version), stored, int64(len(stored)))
}

// Forget drops one object version.
func (rc *RecordCache) Forget(oid, version uint64) {
	rc.c.Del(Key(oid, version))
}

// Wait blocks until buffered writes are applied.
func (rc *RecordCache) Wait() {
	rc.c.Wait()
}

// Clear drops every entry.
func (rc *RecordCache) Clear() {
	rc.c.Clear()
}

// Close releases the cache goroutines.
func (rc *RecordCache) Close() {
	rc.c.Close()
}

// Stats reports hit and miss counts.
func (rc *RecordCache) Stats() (hits, misses uint64) {
	if rc.c.Metrics == nil {
		return 0, 0
	}
	return rc.c.Metrics.Hits(), rc.c.Metrics.Misses()
}

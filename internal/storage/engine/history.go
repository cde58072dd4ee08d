package engine

import (
	"fmt"
	"time"

	"github.com/KilimcininKorOglu/oodb/internal/storage/mvcc"
)

// Version is one committed state of a version-tracked object. Object is a
// detached copy: changing it does not change the store.
type Version struct {
	Number      uint64
	CommittedAt time.Time
	Object      any
}

// VersionHistory is the chain of committed versions of one object as of
// the moment it was obtained.
type VersionHistory struct {
	s     *Store
	oid   OID
	chain *mvcc.Chain
}

// GetVersionHistory returns the version chain of obj, or nil when obj is
// not version-tracked or was never committed.
func (s *Store) GetVersionHistory(obj any) (*VersionHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	st, ok := s.stateOf(obj)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotPersistent, obj)
	}
	if !st.reg.tracked || st.status == statusNew {
		return nil, nil
	}
	chain, err := s.history.Chain(uint64(st.oid))
	if err != nil || chain == nil {
		return nil, wrap(err)
	}
	return &VersionHistory{s: s, oid: st.oid, chain: chain}, nil
}

// OID returns the identity of the object.
func (h *VersionHistory) OID() OID {
	return h.oid
}

// NumberOfVersions returns the length of the chain.
func (h *VersionHistory) NumberOfVersions() int {
	return h.chain.NumberOfVersions()
}

// Current returns the newest version.
func (h *VersionHistory) Current() (*Version, error) {
	return h.materialize(h.chain.Current())
}

// Root returns the first version.
func (h *VersionHistory) Root() (*Version, error) {
	return h.materialize(h.chain.Root())
}

// Version returns version n.
func (h *VersionHistory) Version(n uint64) (*Version, error) {
	e, ok := h.chain.Version(n)
	if !ok {
		return nil, fmt.Errorf("%w: %w: object %d version %d", ErrInvalidState, mvcc.ErrVersionNotFound, h.oid, n)
	}
	return h.materialize(e)
}

// Versions returns every version, oldest first.
func (h *VersionHistory) Versions() ([]*Version, error) {
	out := make([]*Version, 0, len(h.chain.Entries))
	for _, e := range h.chain.Entries {
		v, err := h.materialize(e)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (h *VersionHistory) materialize(e mvcc.Entry) (*Version, error) {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rec, err := s.history.Read(uint64(h.oid), e)
	if err != nil {
		return nil, wrap(err)
	}
	st, err := s.decode(rec)
	if err != nil {
		return nil, wrap(err)
	}
	return &Version{Number: rec.Version, CommittedAt: rec.CommittedAt, Object: st.obj}, nil
}

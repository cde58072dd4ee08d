package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// OID identifies a persistent object within a store file. Zero is the nil
// object.
type OID uint64

// Reference is a persistent link to another object. Ref implements it.
type Reference interface {
	// OID returns the identity of the target, or zero for a nil reference
	// or an unpersisted target.
	OID() OID

	target() any
	setOID(oid OID)
	bind(s *Store)
	resolve(s *Store) (any, error)
}

// Holder is implemented by types with reference fields. The store walks
// References to resolve graphs and to persist reachable objects.
type Holder interface {
	References() []Reference
}

// Ref is a lazily resolved reference to a *T. The zero Ref is nil. Only the
// OID is stored; the target is materialized on the first Get.
type Ref[T any] struct {
	oid OID
	obj *T
	s   *Store
}

// RefTo returns a reference to obj.
func RefTo[T any](obj *T) Ref[T] {
	return Ref[T]{obj: obj}
}

// OID returns the identity of the target.
func (r *Ref[T]) OID() OID {
	return r.oid
}

// IsNil reports whether the reference points nowhere.
func (r *Ref[T]) IsNil() bool {
	return r.obj == nil && r.oid == 0
}

// Set points the reference at obj. A nil obj clears it.
func (r *Ref[T]) Set(obj *T) {
	r.obj = obj
	r.oid = 0
	if obj != nil && r.s != nil {
		if oid, ok := r.s.OID(obj); ok {
			r.oid = oid
		}
	}
}

// Get returns the target, loading it on first use. A nil reference returns
// nil without touching the store.
func (r *Ref[T]) Get() (*T, error) {
	if r.obj != nil {
		return r.obj, nil
	}
	if r.oid == 0 {
		return nil, nil
	}
	if r.s == nil {
		return nil, fmt.Errorf("%w: reference to object %d is not bound to a store", ErrInvalidState, r.oid)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.checkOpen(); err != nil {
		return nil, err
	}
	if _, err := r.resolve(r.s); err != nil {
		return nil, wrap(err)
	}
	return r.obj, nil
}

func (r *Ref[T]) target() any {
	if r.obj == nil {
		return nil
	}
	return r.obj
}

func (r *Ref[T]) setOID(oid OID) {
	r.oid = oid
}

func (r *Ref[T]) bind(s *Store) {
	r.s = s
}

// resolve materializes the target. The store mutex must be held.
func (r *Ref[T]) resolve(s *Store) (any, error) {
	r.s = s
	if r.obj != nil {
		return r.obj, nil
	}
	if r.oid == 0 {
		return nil, nil
	}
	obj, err := s.load(r.oid)
	if err != nil {
		return nil, err
	}
	t, ok := obj.(*T)
	if !ok {
		return nil, fmt.Errorf("%w: object %d is %T", ErrWrongType, r.oid, obj)
	}
	r.obj = t
	return t, nil
}

// MarshalJSON writes the target OID, or null.
func (r Ref[T]) MarshalJSON() ([]byte, error) {
	if r.oid == 0 {
		return []byte("null"), nil
	}
	return strconv.AppendUint(nil, uint64(r.oid), 10), nil
}

// UnmarshalJSON reads an OID written by MarshalJSON. The target is dropped
// and loaded again on the next Get.
func (r *Ref[T]) UnmarshalJSON(data []byte) error {
	r.obj = nil
	if string(data) == "null" {
		r.oid = 0
		return nil
	}
	var oid uint64
	if err := json.Unmarshal(data, &oid); err != nil {
		return err
	}
	r.oid = OID(oid)
	return nil
}

// bindRefs attaches every reference of obj to s.
func bindRefs(s *Store, obj any) {
	h, ok := obj.(Holder)
	if !ok {
		return
	}
	for _, ref := range h.References() {
		if ref != nil {
			ref.bind(s)
		}
	}
}

package engine

import (
	"fmt"
	"reflect"

	"github.com/KilimcininKorOglu/oodb/internal/storage/index"
)

// Versioned marks a type as version-tracked. Embed it in a struct to keep
// the full history of every committed state and to have concurrent
// modifications detected at commit.
type Versioned struct{}

func (Versioned) versionTracked() {}

type versionTracked interface {
	versionTracked()
}

// registration describes one persistent type.
type registration struct {
	name    string
	tracked bool
	newFn   func() any
	reset   func(obj any)
}

// Register makes *T storable under name. The name is written into every
// record, so it must stay stable across program versions. A type embedding
// Versioned is version-tracked.
func Register[T any](s *Store, name string) error {
	if name == "" || len(name) > index.MaxNameLength {
		return fmt.Errorf("%w: invalid type name %q", ErrInvalidState, name)
	}

	var zero T
	_, tracked := any(&zero).(versionTracked)
	reg := &registration{
		name:    name,
		tracked: tracked,
		newFn:   func() any { return new(T) },
		reset: func(obj any) {
			var z T
			*obj.(*T) = z
		},
	}
	rt := reflect.TypeOf((*T)(nil))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if prev, ok := s.types[name]; ok {
		if s.byType[rt] == prev {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrTypeExists, name)
	}
	if prev, ok := s.byType[rt]; ok {
		return fmt.Errorf("%w: %s is already registered as %s", ErrTypeExists, rt, prev.name)
	}

	s.types[name] = reg
	s.byType[rt] = reg
	s.log.Debug("registered type", "type", name, "tracked", tracked)
	return nil
}

// registrationOf returns the registration of the dynamic type of obj.
func (s *Store) registrationOf(obj any) (*registration, error) {
	if obj == nil {
		return nil, ErrNilObject
	}
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return nil, fmt.Errorf("%w: %T is not a non-nil pointer", ErrNilObject, obj)
	}
	reg, ok := s.byType[v.Type()]
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, obj)
	}
	return reg, nil
}

package engine

import (
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/oodb/internal/storage/stream"
)

// Change feed types.
type (
	ChangeEvent = stream.ChangeEvent
	WatchFilter = stream.WatchFilter
	Watcher     = stream.Subscriber
)

// Change operations.
const (
	OpInsert = stream.OpInsert
	OpUpdate = stream.OpUpdate
	OpDelete = stream.OpDelete
)

// ErrTokenTooOld is returned by WatchFrom when the events after the token
// are no longer retained.
var ErrTokenTooOld = stream.ErrTokenTooOld

// changeEvents describes the objects written and deleted by a commit.
func changeEvents(writes []written, pending []*objectState, ghosts map[OID]struct{}, seq uint64) []ChangeEvent {
	var events []ChangeEvent
	for _, w := range writes {
		op := stream.OpUpdate
		if w.inserted {
			op = stream.OpInsert
		}
		events = append(events, ChangeEvent{
			Seq:       seq,
			Operation: op,
			OID:       uint64(w.st.oid),
			TypeName:  w.st.reg.name,
			Version:   w.version,
		})
	}
	for _, st := range pending {
		if st.status != statusDeleted || st.version == 0 {
			continue
		}
		if _, ghost := ghosts[st.oid]; ghost {
			continue
		}
		events = append(events, ChangeEvent{
			Seq:       seq,
			Operation: stream.OpDelete,
			OID:       uint64(st.oid),
			TypeName:  st.reg.name,
		})
	}
	return events
}

// Watch subscribes to the objects committed from now on by any handle on
// the file. Events arrive on the watcher's Channel, which is closed by
// Unwatch or when the last handle on the file closes. A watcher that falls
// behind loses events; DroppedCount reports how many.
func (s *Store) Watch(filter WatchFilter) (*Watcher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	w, err := s.ps.Feed().Subscribe(filter)
	return w, feedErr(err)
}

// WatchFrom is Watch preceded by the retained events after token, so a
// watcher can resume from the Token of the last event it saw.
func (s *Store) WatchFrom(filter WatchFilter, token uint64) (*Watcher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	w, err := s.ps.Feed().SubscribeFrom(filter, token)
	return w, feedErr(err)
}

// Unwatch ends a subscription made by Watch or WatchFrom.
func (s *Store) Unwatch(w *Watcher) {
	if w == nil {
		return
	}
	s.ps.Feed().Unsubscribe(w.ID)
}

// FeedToken returns the token of the last published change event.
func (s *Store) FeedToken() uint64 {
	return s.ps.Feed().CurrentToken()
}

func feedErr(err error) error {
	if errors.Is(err, stream.ErrBrokerClosed) {
		return fmt.Errorf("%w: change feed closed", ErrStoreClosed)
	}
	return err
}

package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// SubscriberID is a unique identifier for a subscriber.
type SubscriberID uint64

// Subscriber receives the events matching its filter on Channel. A slow
// subscriber loses events instead of blocking commits; DroppedCount tells
// how many.
type Subscriber struct {
	// ID is the unique identifier for this subscriber.
	ID SubscriberID
	// Filter determines which events this subscriber receives.
	Filter WatchFilter
	// Channel receives matching change events. It is closed when the
	// subscription ends.
	Channel chan ChangeEvent
	// Created is when the subscription was created.
	Created time.Time

	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

// NewSubscriber creates a new subscriber with the given filter and buffer size.
func NewSubscriber(id SubscriberID, filter WatchFilter, bufferSize int) *Subscriber {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Subscriber{
		ID:      id,
		Filter:  filter,
		Channel: make(chan ChangeEvent, bufferSize),
		Created: time.Now(),
	}
}

// Send delivers event without blocking. It returns false when the
// subscriber is closed or its buffer is full.
func (s *Subscriber) Send(event ChangeEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.Channel <- event:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Next waits for the next event. ok is false once the subscription is
// closed and drained.
func (s *Subscriber) Next(ctx context.Context) (event ChangeEvent, ok bool, err error) {
	select {
	case event, ok = <-s.Channel:
		return event, ok, nil
	case <-ctx.Done():
		return ChangeEvent{}, false, ctx.Err()
	}
}

// Close closes the subscriber's channel. Safe to call multiple times.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.Channel)
	}
}

// IsClosed returns true if the subscriber has been closed.
func (s *Subscriber) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// DroppedCount returns the number of events dropped due to backpressure.
func (s *Subscriber) DroppedCount() uint64 {
	return s.dropped.Load()
}

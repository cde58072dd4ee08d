package stream

import (
	"errors"
	"sync"
	"time"
)

// Buffer size constants.
const (
	DefaultBufferSize = 256
	ReplayBufferSize  = 4096
)

// Errors.
var (
	ErrTokenTooOld  = errors.New("stream: resume token too old")
	ErrBrokerClosed = errors.New("stream: broker is closed")
)

// Broker fans committed changes out to subscribers and keeps the most
// recent events for resume.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[SubscriberID]*Subscriber
	nextID      SubscriberID
	replay      *RingBuffer
	token       uint64
	closed      bool
}

// NewBroker creates a broker that keeps replaySize events for resume.
func NewBroker(replaySize int) *Broker {
	return &Broker{
		subscribers: make(map[SubscriberID]*Subscriber),
		replay:      NewRingBuffer(replaySize),
	}
}

// Subscribe creates a subscription receiving events published from now on.
func (b *Broker) Subscribe(filter WatchFilter) (*Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}
	return b.subscribeLocked(filter), nil
}

// SubscribeFrom creates a subscription that first receives the retained
// events after token, then live events. No event is missed or repeated
// between the two. It fails with ErrTokenTooOld when events after token
// were already evicted.
func (b *Broker) SubscribeFrom(filter WatchFilter, token uint64) (*Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}

	events, ok := b.replay.EventsSince(token)
	if !ok {
		return nil, ErrTokenTooOld
	}

	size := DefaultBufferSize
	if len(events) > size {
		size = len(events) + DefaultBufferSize
	}
	sub := b.subscribeSized(filter, size)
	for _, e := range events {
		if filter.Matches(&e) {
			sub.Send(e)
		}
	}
	return sub, nil
}

func (b *Broker) subscribeLocked(filter WatchFilter) *Subscriber {
	return b.subscribeSized(filter, DefaultBufferSize)
}

func (b *Broker) subscribeSized(filter WatchFilter, size int) *Subscriber {
	b.nextID++
	sub := NewSubscriber(b.nextID, filter, size)
	b.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe ends a subscription and closes its channel.
func (b *Broker) Unsubscribe(id SubscriberID) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	delete(b.subscribers, id)
	b.mu.Unlock()
	if ok {
		sub.Close()
	}
}

// Publish assigns tokens to events in order, retains them and delivers
// them to matching subscribers. The events of one call are delivered
// contiguously. It returns the last token assigned.
func (b *Broker) Publish(events ...ChangeEvent) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return b.token
	}

	now := time.Now()
	for i := range events {
		b.token++
		events[i].Token = b.token
		events[i].Timestamp = now
		b.replay.Push(events[i])
	}
	for _, sub := range b.subscribers {
		for i := range events {
			if sub.Filter.Matches(&events[i]) {
				sub.Send(events[i])
			}
		}
	}
	return b.token
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// CurrentToken returns the last assigned token.
func (b *Broker) CurrentToken() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.token
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return BrokerStats{
		SubscriberCount: len(b.subscribers),
		CurrentToken:    b.token,
		ReplayBufferLen: b.replay.Len(),
		MinReplayToken:  b.replay.MinToken(),
	}
}

// Close ends every subscription. Publishing after Close does nothing.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		sub.Close()
		delete(b.subscribers, id)
	}
}

// IsClosed returns true if the broker has been closed.
func (b *Broker) IsClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// BrokerStats contains broker statistics.
type BrokerStats struct {
	SubscriberCount int
	CurrentToken    uint64
	ReplayBufferLen int
	MinReplayToken  uint64
}

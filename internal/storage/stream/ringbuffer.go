package stream

// RingBuffer keeps the most recent events in token order. It is not safe
// for concurrent use; the broker serializes access.
type RingBuffer struct {
	events []ChangeEvent
	head   int
	size   int
}

// NewRingBuffer creates a ring buffer holding up to capacity events.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = ReplayBufferSize
	}
	return &RingBuffer{events: make([]ChangeEvent, capacity)}
}

// Push appends an event, evicting the oldest one when full.
func (rb *RingBuffer) Push(event ChangeEvent) {
	n := len(rb.events)
	rb.events[(rb.head+rb.size)%n] = event
	if rb.size < n {
		rb.size++
		return
	}
	rb.head = (rb.head + 1) % n
}

// EventsSince returns the retained events with a token greater than token.
// ok is false when an event after token has already been evicted.
func (rb *RingBuffer) EventsSince(token uint64) (events []ChangeEvent, ok bool) {
	if rb.size == 0 {
		return nil, true
	}
	if min := rb.at(0).Token; token+1 < min {
		return nil, false
	}
	for i := 0; i < rb.size; i++ {
		if e := rb.at(i); e.Token > token {
			events = append(events, e)
		}
	}
	return events, true
}

func (rb *RingBuffer) at(i int) ChangeEvent {
	return rb.events[(rb.head+i)%len(rb.events)]
}

// Len returns the number of retained events.
func (rb *RingBuffer) Len() int {
	return rb.size
}

// MinToken returns the oldest retained token, or 0 when empty.
func (rb *RingBuffer) MinToken() uint64 {
	if rb.size == 0 {
		return 0
	}
	return rb.at(0).Token
}

// MaxToken returns the newest retained token, or 0 when empty.
func (rb *RingBuffer) MaxToken() uint64 {
	if rb.size == 0 {
		return 0
	}
	return rb.at(rb.size - 1).Token
}

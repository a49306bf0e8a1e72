package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Queue is the ordered buffer of inbound events awaiting consumption.
// Events are never reordered; acknowledging removes an event from any position.
type Queue struct {
	mu     sync.Mutex
	events []Event
	seq    uint64
	notify chan struct{}
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push appends ev to the tail, assigning its local id and sequence number.
func (q *Queue) Push(ev Event) Event {
	q.mu.Lock()
	q.seq++
	ev.Seq = q.seq
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	q.events = append(q.events, ev)
	q.mu.Unlock()

	q.signal()
	return ev
}

// PeekHead returns the earliest unacknowledged event without removing it.
func (q *Queue) PeekHead() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return Event{}, false
	}
	return q.events[0], true
}

// Acknowledge removes the event with the given id. Returns false if it was not queued.
func (q *Queue) Acknowledge(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.events {
		if q.events[i].ID == id {
			q.events = append(q.events[:i], q.events[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of unacknowledged events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Snapshot returns a copy of the queued events in order.
func (q *Queue) Snapshot() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Event, len(q.events))
	copy(out, q.events)
	return out
}

// Notify fires (coalesced) after every push.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

package core

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Handler applies one event to a consumer's state.
type Handler func(Event)

type consumer struct {
	name    string
	kinds   map[EventKind]struct{}
	handle  Handler
	lastSeq uint64
	removed bool
}

func (c *consumer) recognizes(k EventKind) bool {
	_, ok := c.kinds[k]
	return ok
}

// Dispatcher drains the queue head into registered consumers.
//
// Every consumer that recognizes the head's kind applies it once, in
// registration order, and the head is acknowledged after the last of them.
// A head no consumer recognizes is logged and dropped so it never blocks
// the queue.
type Dispatcher struct {
	queue *Queue
	log   *zerolog.Logger

	mu        sync.Mutex
	consumers []*consumer

	// drainMu makes each drain one synchronous turn.
	drainMu sync.Mutex
}

// NewDispatcher binds a dispatcher to a queue.
func NewDispatcher(q *Queue, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{queue: q, log: logger}
}

// Register adds a consumer for the given kinds and returns a function that removes it.
func (d *Dispatcher) Register(name string, handle Handler, kinds ...EventKind) func() {
	c := &consumer{
		name:   name,
		kinds:  make(map[EventKind]struct{}, len(kinds)),
		handle: handle,
	}
	for _, k := range kinds {
		c.kinds[k] = struct{}{}
	}

	d.mu.Lock()
	d.consumers = append(d.consumers, c)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		c.removed = true
		for i, existing := range d.consumers {
			if existing == c {
				d.consumers = append(d.consumers[:i], d.consumers[i+1:]...)
				return
			}
		}
	}
}

// Drain consumes events until the queue is empty and returns how many were removed.
func (d *Dispatcher) Drain() int {
	d.drainMu.Lock()
	defer d.drainMu.Unlock()

	n := 0
	for {
		ev, ok := d.queue.PeekHead()
		if !ok {
			return n
		}

		interested := d.interested(ev.Kind)
		if len(interested) == 0 {
			d.log.Warn().
				Str("event_id", ev.ID).
				Str("type", ev.Type).
				Msg("no consumer recognizes event, dropping")
		}
		for _, c := range interested {
			if ev.Seq <= c.lastSeq {
				continue
			}
			c.lastSeq = ev.Seq
			d.apply(c, ev)
		}

		if d.queue.Acknowledge(ev.ID) {
			n++
		}
	}
}

// Run drains on every push until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		d.Drain()
		select {
		case <-ctx.Done():
			return
		case <-d.queue.Notify():
		}
	}
}

func (d *Dispatcher) interested(k EventKind) []*consumer {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*consumer
	for _, c := range d.consumers {
		if !c.removed && c.recognizes(k) {
			out = append(out, c)
		}
	}
	return out
}

func (d *Dispatcher) apply(c *consumer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Interface("panic", r).
				Str("consumer", c.name).
				Str("event_id", ev.ID).
				Str("type", ev.Type).
				Msg("consumer panicked while applying event")
		}
	}()
	c.handle(ev)
}

package broadcast

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// DefaultQueueCapacity is the initial per-subscriber queue size.
const DefaultQueueCapacity = 64

// Event is one item of the sequence: a value, or a non-terminal error such as
// a decode failure. Completion is signalled by closing the subscription channel.
type Event[T any] struct {
	Value T
	Err   error
}

// Broadcaster is a push-based sequence delivering every event to every current
// subscriber in publish order. Once closed it stays closed.
//
// Publish, PublishError, Fail and Close must not be called concurrently with
// each other if ordering across them matters; the owner serializes them.
type Broadcaster[T any] struct {
	queueCap int

	mu     sync.Mutex
	subs   []*Subscription[T] // copy-on-write
	closed bool
}

// New creates an open Broadcaster.
func New[T any]() *Broadcaster[T] {
	return NewWithCapacity[T](DefaultQueueCapacity)
}

// NewWithCapacity creates an open Broadcaster whose subscriber queues start at
// the given capacity.
func NewWithCapacity[T any](queueCap int) *Broadcaster[T] {
	return &Broadcaster[T]{queueCap: queueCap}
}

// Subscribe registers a new consumer. It receives events published from now
// on. Subscribing to a closed Broadcaster returns an already completed
// subscription.
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{
		id:   uuid.New(),
		b:    b,
		q:    newQueue[Event[T]](b.queueCap),
		ch:   make(chan Event[T]),
		stop: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		s.q.close()
	} else {
		subs := make([]*Subscription[T], len(b.subs), len(b.subs)+1)
		copy(subs, b.subs)
		b.subs = append(subs, s)
	}
	b.mu.Unlock()

	go s.pump()
	return s
}

// Publish delivers v to every current subscriber. Returns the number of
// subscribers it was queued for.
func (b *Broadcaster[T]) Publish(v T) int {
	return b.deliver(Event[T]{Value: v})
}

// PublishError delivers a non-terminal error event. Subscribers keep receiving
// subsequent events.
func (b *Broadcaster[T]) PublishError(err error) int {
	return b.deliver(Event[T]{Err: err})
}

// Fail delivers err as the final event and completes the sequence.
func (b *Broadcaster[T]) Fail(err error) {
	b.deliver(Event[T]{Err: err})
	b.Close()
}

// Close completes the sequence. Subscribers receive anything already queued,
// then see their channel closed. Close is idempotent.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		s.q.close()
	}
}

// Closed reports whether the sequence has completed.
func (b *Broadcaster[T]) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Len returns the number of live subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster[T]) deliver(ev Event[T]) int {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0
	}
	snapshot := b.subs
	b.mu.Unlock()

	n := 0
	for _, s := range snapshot {
		if s.q.push(ev) {
			n++
		}
	}
	return n
}

func (b *Broadcaster[T]) remove(target *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s == target {
			subs := make([]*Subscription[T], 0, len(b.subs)-1)
			subs = append(subs, b.subs[:i]...)
			b.subs = append(subs, b.subs[i+1:]...)
			return
		}
	}
}

// Subscription is one consumer's view of a Broadcaster.
type Subscription[T any] struct {
	id   uuid.UUID
	b    *Broadcaster[T]
	q    *queue[Event[T]]
	ch   chan Event[T]
	stop chan struct{}
	once sync.Once
}

// ID returns a unique identifier for logging.
func (s *Subscription[T]) ID() string {
	return s.id.String()
}

// C returns the event channel. It is closed when the sequence completes or the
// subscription is cancelled.
func (s *Subscription[T]) C() <-chan Event[T] {
	return s.ch
}

// Next blocks for the next event. ok is false once the channel is closed or
// ctx is done.
func (s *Subscription[T]) Next(ctx context.Context) (ev Event[T], ok bool) {
	select {
	case ev, ok = <-s.ch:
		return ev, ok
	case <-ctx.Done():
		return Event[T]{}, false
	}
}

// Pending returns the number of queued events not yet received.
func (s *Subscription[T]) Pending() int {
	return s.q.len()
}

// Unsubscribe detaches the consumer and drops undelivered events. Other
// subscribers are unaffected. Safe to call more than once.
func (s *Subscription[T]) Unsubscribe() {
	s.once.Do(func() {
		s.b.remove(s)
		close(s.stop)
		s.q.discard()
	})
}

// pump moves events from the unbounded queue to the unbuffered channel.
func (s *Subscription[T]) pump() {
	defer close(s.ch)

	for {
		ev, ok := s.q.pop()
		if !ok {
			return
		}
		select {
		case s.ch <- ev:
		case <-s.stop:
			return
		}
	}
}

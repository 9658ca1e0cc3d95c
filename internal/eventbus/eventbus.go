// Package eventbus is the in-process fan-out bus scheduling events travel on.
package eventbus

import (
	"sync"
	"sync/atomic"
)

// Event represents an arbitrary event passed on the bus.
type Event interface{}

// EventBus implements a simple publish/subscribe event bus.
type EventBus interface {
	Publish(Event)
	Subscribe() <-chan Event
	Unsubscribe(<-chan Event)
	Close()
}

// DefaultBuffer is the channel capacity of Subscribe.
const DefaultBuffer = 8

// Typed is a publish/subscribe bus for events of type T using fan-out
// channels. Delivery never blocks the publisher: an event a subscriber has no
// room for is dropped and counted.
type Typed[T any] struct {
	mu      sync.RWMutex
	subs    []chan T
	closed  bool
	dropped atomic.Int64
}

// Bus is the untyped bus the service publishes on.
type Bus = Typed[Event]

var _ EventBus = (*Bus)(nil)

// New creates a new Bus.
func New() *Bus { return &Bus{} }

// NewTyped creates a bus for events of type T.
func NewTyped[T any]() *Typed[T] { return &Typed[T]{} }

// Publish sends the event to all subscribers.
func (b *Typed[T]) Publish(e T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a new subscriber with DefaultBuffer capacity.
func (b *Typed[T]) Subscribe() <-chan T { return b.SubscribeN(DefaultBuffer) }

// SubscribeN registers a new subscriber whose channel holds up to n events.
func (b *Typed[T]) SubscribeN(n int) <-chan T {
	if n < 0 {
		n = 0
	}
	ch := make(chan T, n)
	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subs = append(b.subs, ch)
	}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Typed[T]) Unsubscribe(sub <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ch := range b.subs {
		if ch == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			if !b.closed {
				close(ch)
			}
			return
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Typed[T]) Dropped() int64 { return b.dropped.Load() }

// Close closes all subscriber channels and clears the list.
func (b *Typed[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

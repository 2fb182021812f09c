// Package pubsub is a small typed fan-out bus. The gateway publishes its
// connection and domain events on one, the sync engine publishes view
// updates on another.
package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
)

// Bus fans out values of type T to every live subscription.
type Bus[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription[T]
	nextID uint64
	closed bool
}

// Subscription receives published values on C until it is closed.
type Subscription[T any] struct {
	C <-chan T

	ch           chan T
	id           uint64
	bus          *Bus[T]
	dropWhenFull bool
	dropped      atomic.Int64
	done         chan struct{}
	once         sync.Once
}

// New returns an empty bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[uint64]*Subscription[T])}
}

// Subscribe registers a subscriber with the given queue size. A subscriber
// with dropWhenFull never slows publishers down: values that do not fit in
// its queue are counted and discarded. Otherwise Publish blocks until the
// value is queued.
func (b *Bus[T]) Subscribe(buffer int, dropWhenFull bool) *Subscription[T] {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan T, buffer)
	s := &Subscription[T]{
		C:            ch,
		ch:           ch,
		bus:          b,
		dropWhenFull: dropWhenFull,
		done:         make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.once.Do(func() { close(s.done) })
		close(ch)
		return s
	}
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	return s
}

// Publish delivers v to every subscription. It returns ctx.Err() if ctx
// ends while waiting on a full blocking subscriber.
func (b *Bus[T]) Publish(ctx context.Context, v T) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	for _, s := range b.subs {
		if s.dropWhenFull {
			select {
			case s.ch <- v:
			default:
				s.dropped.Add(1)
			}
			continue
		}
		select {
		case s.ch <- v:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Len returns the number of live subscriptions.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription and rejects further publishes.
func (b *Bus[T]) Close() {
	b.mu.RLock()
	for _, s := range b.subs {
		s.once.Do(func() { close(s.done) })
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		close(s.ch)
	}
}

// Dropped returns how many values were discarded because the queue was full.
func (s *Subscription[T]) Dropped() int64 {
	return s.dropped.Load()
}

// Done is closed once the subscription has been closed.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.once.Do(func() { close(s.done) })

	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s.id]; !ok {
		return
	}
	delete(b.subs, s.id)
	close(s.ch)
}

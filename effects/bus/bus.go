// Package bus is an in-memory, synchronous event bus a scheduler can bind to.
package bus

import (
	"fmt"
	"sync"

	"github.com/on-the-ground/effect_ive_saga/effects"
)

// ErrClosed is returned by Publish once the bus is closed.
var ErrClosed = fmt.Errorf("%w: bus closed", effects.ErrAdapterFailure)

// Listener receives every published event.
type Listener = func(event any)

type subscription struct {
	listener Listener
	active   bool
}

// Bus delivers each published event synchronously to its listeners in
// subscription order.
//
// Listeners may subscribe, unsubscribe and publish while an event is being
// delivered. A delivery works on the listener list as it was when Publish was
// called, except that listeners unsubscribed meanwhile are skipped.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscription
	closed bool
}

// New creates an open bus.
func New() *Bus {
	return &Bus{
		subs: make([]*subscription, 0),
	}
}

// Subscribe adds l and returns the function removing it. Removing twice is a no-op.
func (b *Bus) Subscribe(l Listener) func() {
	sub := &subscription{listener: l, active: true}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if !sub.active {
			return
		}
		sub.active = false
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers event to the current listeners.
func (b *Bus) Publish(event any) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := b.subs
	b.mu.RUnlock()

	for _, sub := range subs {
		b.mu.RLock()
		active := sub.active
		b.mu.RUnlock()
		if active {
			sub.listener(event)
		}
	}
	return nil
}

// Len returns the number of listeners.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close rejects further publishes and drops every listener.
// Safe to call multiple times.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		sub.active = false
	}
	b.subs = nil
}

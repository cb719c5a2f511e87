package runloop

import (
	"sync"
)

// Loop is the single processing point of a scheduler.
//
// Work handed to a busy loop is queued and runs, strictly in enqueue order,
// once the unit currently running has fully returned. No unit ever runs nested
// inside another, which keeps the call stack flat and the order causal.
//
// Any goroutine may enqueue. Only the goroutine that found the loop idle runs
// units, so units never run in parallel.
type Loop struct {
	mu    sync.Mutex
	queue []func()
	busy  bool
}

// New creates an idle loop.
func New() *Loop {
	return &Loop{
		queue: make([]func(), 0, 16),
	}
}

// Asap runs fn once everything queued before it has run.
// When the loop is idle the caller drains it before Asap returns.
func (l *Loop) Asap(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	if l.busy {
		l.mu.Unlock()
		return
	}
	l.busy = true
	l.mu.Unlock()

	l.drain()
}

// Immediately runs fn right away with the loop held, so that work enqueued
// while fn runs waits for fn to return. When the loop is already busy fn is
// queued like Asap.
func (l *Loop) Immediately(fn func()) {
	l.mu.Lock()
	if l.busy {
		l.queue = append(l.queue, fn)
		l.mu.Unlock()
		return
	}
	l.busy = true
	l.mu.Unlock()

	l.exec(fn)
	l.drain()
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.busy = false
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.exec(fn)
	}
}

// exec runs one unit. A panic escaping it releases the loop; units still
// queued run on the next Asap or Immediately.
func (l *Loop) exec(fn func()) {
	ok := false
	defer func() {
		if !ok {
			l.mu.Lock()
			l.busy = false
			l.mu.Unlock()
		}
	}()
	fn()
	ok = true
}

// Package scheduler runs sagas: it interprets the effects their bodies yield,
// resumes them with the results, and keeps every task of a tree consistent
// under failure and cancellation.
package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/on-the-ground/effect_ive_saga/effects"
	"github.com/on-the-ground/effect_ive_saga/internal/runloop"
	"github.com/on-the-ground/effect_ive_saga/internal/watchers"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrClosed is the failure of a task started on a closed scheduler.
var ErrClosed = errors.New("scheduler closed")

// Bus is the event source and sink a scheduler binds to.
// Publish is expected to deliver the event to the subscribed listener before
// it returns.
type Bus interface {
	Subscribe(listener func(event any)) (unsubscribe func())
	Publish(event any) error
}

// StateReader is implemented by buses that keep a state. Select reads it.
type StateReader interface {
	State() any
}

// Scheduler owns one run loop, one watcher registry and the trees of tasks
// started on it. Everything it does to tasks happens on the loop; the exported
// methods may be called from any goroutine.
type Scheduler struct {
	bus         Bus
	unsubscribe func()
	loop        *runloop.Loop
	watchers    *watchers.Registry
	opts        options
	logger      *zap.Logger
	monitor     Monitor

	effectSeq uint64

	mu     sync.Mutex
	roots  map[*Task]struct{}
	errs   error
	closed atomic.Bool
}

// New creates a scheduler bound to bus.
func New(bus Bus, opts ...Option) *Scheduler {
	o := newOptions(opts)
	s := &Scheduler{
		bus:      bus,
		loop:     runloop.New(),
		watchers: watchers.New(),
		opts:     o,
		logger:   o.logger,
		monitor:  o.monitor,
		roots:    make(map[*Task]struct{}),
	}
	s.unsubscribe = bus.Subscribe(func(event any) {
		s.loop.Asap(func() { s.dispatch(event) })
	})
	return s
}

// Run starts saga as a root task and returns its handle.
//
// The body runs up to its first suspending effect before Run returns, unless
// Run is called from inside the loop (a task body, a bus listener, a Batch), in
// which case the task starts once the current unit of work is done.
func (s *Scheduler) Run(saga effects.Saga, args ...any) *Task {
	t := s.newTask(nil, saga, args)
	if s.closed.Load() {
		t.reject(ErrClosed)
		return t
	}
	s.addRoot(t)
	s.loop.Immediately(t.start)
	return t
}

// Batch runs fn holding the loop. Events published and tasks started inside fn
// are processed, in order, after fn returns.
func (s *Scheduler) Batch(fn func()) {
	s.loop.Immediately(fn)
}

// Close cancels every root task and detaches from the bus. The cancellation is
// a unit of work on the loop: it has run by the time Close returns only when the
// loop was idle. While the loop is busy, inside a body or a Batch or draining
// on another goroutine, it runs once the loop reaches it; wait on the tasks'
// Done channels to observe it. Close returns the unhandled root failures seen
// so far, like Err.
func (s *Scheduler) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return s.Err()
	}
	s.loop.Asap(func() {
		for _, t := range s.rootTasks() {
			t.cancelTask()
		}
		s.unsubscribe()
	})
	return s.Err()
}

// Err returns every unhandled root failure so far, combined.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs
}

// Watching returns the number of registered watchers. It reads loop-owned
// state without synchronization and is meant for tests on an idle scheduler.
func (s *Scheduler) Watching() int {
	return s.watchers.Len()
}

func (s *Scheduler) dispatch(event any) {
	n := s.watchers.Dispatch(event)
	if ce := s.logger.Check(zap.DebugLevel, "event dispatched"); ce != nil {
		ce.Write(zap.Any("event", event), zap.Int("resolved", n))
	}
}

func (s *Scheduler) publish(event any) error {
	if err := s.bus.Publish(event); err != nil {
		if errors.Is(err, effects.ErrAdapterFailure) {
			return err
		}
		return fmt.Errorf("%w: %w", effects.ErrAdapterFailure, err)
	}
	return nil
}

func (s *Scheduler) nextEffectID() uint64 {
	s.effectSeq++
	return s.effectSeq
}

func (s *Scheduler) addRoot(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roots[t] = struct{}{}
}

func (s *Scheduler) rootTasks() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Task, 0, len(s.roots))
	for t := range s.roots {
		out = append(out, t)
	}
	return out
}

// rootTerminated reports a root failure nobody awaited.
func (s *Scheduler) rootTerminated(t *Task, handled bool) {
	s.mu.Lock()
	delete(s.roots, t)
	if t.Status() != effects.StatusErrored || handled {
		s.mu.Unlock()
		return
	}
	err := &effects.TaskError{TaskID: t.id, Err: t.err}
	s.errs = multierr.Append(s.errs, err)
	s.mu.Unlock()

	s.opts.onError(err)
}

package effects

import (
	"context"
	"time"

	effectmodel "github.com/on-the-ground/effect_ive_saga/effects/internal/model"
)

// Outcome is delivered to a body when it resumes.
type Outcome struct {
	Value any
	Err   error
}

// Failed reports whether the outcome carries an error.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// OutcomeOf builds an Outcome from a value and an error.
func OutcomeOf(v any, err error) Outcome {
	return Outcome{Value: v, Err: err}
}

type cancelledMarker struct{}

func (cancelledMarker) String() string { return "@@cancelled" }

// TaskCancelled is the value an AwaitChild resumes with when the awaited task
// was cancelled. Cancellation is not a failure.
var TaskCancelled any = cancelledMarker{}

// IsCancelled reports whether v is the TaskCancelled marker.
func IsCancelled(v any) bool {
	_, ok := v.(cancelledMarker)
	return ok
}

// Status is the lifecycle state of a task.
type Status = effectmodel.Status

const (
	StatusRunning   = effectmodel.StatusRunning
	StatusSuspended = effectmodel.StatusSuspended
	StatusDone      = effectmodel.StatusDone
	StatusCancelled = effectmodel.StatusCancelled
	StatusErrored   = effectmodel.StatusErrored
)

// Handle refers to a task. AwaitChild and Cancel take one.
type Handle interface {
	ID() string
	Status() Status
	Done() <-chan struct{}
	Wait(ctx context.Context) (any, error)
	RequestCancel()
}

// Channel is a buffered event source owned by a task, created by ActionChannel.
type Channel interface {
	// Take hands the next buffered event to cb, immediately when one is buffered,
	// otherwise once one arrives. The returned func withdraws a pending request.
	Take(cb func(Outcome)) (cancel func())
	// Flush removes and returns every buffered event.
	Flush() []any
	Close()
	Closed() bool
}

// Future is a computation that settles outside the scheduler.
// Invoke suspends the task until it settles.
type Future interface {
	// Await registers onSettle, called exactly once from any goroutine.
	// The returned func abandons the computation.
	Await(onSettle func(value any, err error)) (cancel func())
}

type asyncFuture struct {
	fn func(ctx context.Context) (any, error)
}

// Async runs fn on its own goroutine once awaited. Its ctx is cancelled when
// the awaiting task stops waiting.
func Async(fn func(ctx context.Context) (any, error)) Future {
	return asyncFuture{fn: fn}
}

func (f asyncFuture) Await(onSettle func(any, error)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	go func() {
		close(ready)
		v, err := f.fn(ctx)
		if ctx.Err() != nil {
			return
		}
		onSettle(v, err)
	}()
	<-ready
	return cancel
}

type timerFuture time.Duration

// After settles with nil once d has elapsed.
func After(d time.Duration) Future {
	return timerFuture(d)
}

func (d timerFuture) Await(onSettle func(any, error)) func() {
	timer := time.AfterFunc(time.Duration(d), func() {
		onSettle(nil, nil)
	})
	return func() { timer.Stop() }
}

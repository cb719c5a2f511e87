package effects

import (
	"iter"

	"github.com/on-the-ground/effect_ive_saga/shared/helper"
)

// Body is a resumable task body.
//
// The scheduler calls Next with the outcome of the previously yielded effect
// (the zero Outcome on the first call) and receives either the next effect to
// perform or the final result. Stop abandons the body when its task is cancelled
// or aborted; it is never followed by another Next.
type Body interface {
	Next(in Outcome) Step
	Stop()
}

// Saga creates a Body from its arguments. Spawn, Detach and Run take a Saga.
type Saga func(args ...any) Body

// Step is what a Body hands back to the scheduler: an effect to perform,
// or, when Done is set, the final value or error.
type Step struct {
	Effect Effect
	Done   bool
	Value  any
	Err    error
}

// Perform yields eff.
func Perform(eff Effect) Step {
	return Step{Effect: eff}
}

// Return finishes the body with v.
func Return(v any) Step {
	return Step{Done: true, Value: v}
}

// Throw finishes the body with err.
func Throw(err error) Step {
	return Step{Done: true, Err: err}
}

// StepFunc is a Body written as an explicit state machine.
// Locals that must survive a suspension live in the closure.
type StepFunc func(in Outcome) Step

func (f StepFunc) Next(in Outcome) Step { return f(in) }
func (f StepFunc) Stop()                {}

// Yielder is handed to coroutine bodies built with Go.
type Yielder struct {
	yield   func(Effect) bool
	in      Outcome
	stopped bool
}

// Do performs eff and returns its outcome.
//
// When the task is cancelled Do does not return: the body unwinds from the
// suspended Do, running its deferred calls, and its result is discarded.
// Error branches never see a cancellation. A body that recovers panics must
// re-panic values it does not recognise.
func (y *Yielder) Do(eff Effect) (any, error) {
	if y.stopped || !y.yield(eff) {
		y.stopped = true
		panic(stopSignal{})
	}
	in := y.in
	y.in = Outcome{}
	return in.Value, in.Err
}

// Cancelled reports whether the task running this body has been stopped.
// Deferred cleanup can use it to tell cancellation from a normal return.
func (y *Yielder) Cancelled() bool {
	return y.stopped
}

// DoAs performs eff and asserts its value to T.
func DoAs[T any](y *Yielder, eff Effect) (T, error) {
	return helper.GetTypedValueOf[T](func() (any, error) {
		return y.Do(eff)
	})
}

// stopSignal unwinds a coroutine body whose task was stopped.
type stopSignal struct{}

type coroutine struct {
	y        *Yielder
	next     func() (Effect, bool)
	stop     func()
	value    any
	err      error
	finished bool
}

// Go builds a Body from a plain Go function. fn runs as a coroutine: every
// y.Do suspends it until the scheduler resumes it, and nothing runs in
// parallel with the scheduler.
func Go(fn func(y *Yielder) (any, error)) Body {
	c := &coroutine{y: &Yielder{}}
	seq := func(yield func(Effect) bool) {
		c.y.yield = yield
		defer func() {
			if rec := recover(); rec != nil {
				if _, ok := rec.(stopSignal); !ok {
					panic(rec)
				}
			}
		}()
		c.value, c.err = fn(c.y)
		c.finished = true
	}
	c.next, c.stop = iter.Pull(iter.Seq[Effect](seq))
	return c
}

// GoSaga adapts a coroutine function taking arguments into a Saga.
func GoSaga(fn func(y *Yielder, args ...any) (any, error)) Saga {
	return func(args ...any) Body {
		return Go(func(y *Yielder) (any, error) {
			return fn(y, args...)
		})
	}
}

func (c *coroutine) Next(in Outcome) Step {
	c.y.in = in
	eff, ok := c.next()
	if !ok {
		return Step{Done: true, Value: c.value, Err: c.err}
	}
	return Perform(eff)
}

func (c *coroutine) Stop() {
	c.y.stopped = true
	c.stop()
}

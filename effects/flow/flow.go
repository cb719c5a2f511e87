// Package flow provides sagas for the usual ways of reacting to a stream of
// events. They are written as step functions, so they carry no goroutine.
package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/on-the-ground/effect_ive_saga/effects"
)

// ErrMaxAttempts wraps the last failure of a Retry that ran out of attempts.
var ErrMaxAttempts = errors.New("max attempts reached")

type phase int

const (
	phaseStart phase = iota
	phaseWaiting
	phaseCancelling
	phaseSpawning
	phaseWorking
	phaseSleeping
)

func workerArgs(event any, args []any) []any {
	return append([]any{event}, args...)
}

// TakeEvery runs worker(event, args...) as a child for every event matching p.
// Workers run concurrently with each other.
func TakeEvery(p effects.Pattern, worker effects.Saga, args ...any) effects.Saga {
	return func(...any) effects.Body {
		ph := phaseStart
		return effects.StepFunc(func(in effects.Outcome) effects.Step {
			if in.Err != nil {
				return effects.Throw(in.Err)
			}
			if ph == phaseWaiting {
				ph = phaseSpawning
				return effects.Perform(effects.Spawn(worker, workerArgs(in.Value, args)...))
			}
			ph = phaseWaiting
			return effects.Perform(effects.Wait(p))
		})
	}
}

// TakeLatest runs worker(event, args...) for every event matching p, cancelling
// the worker started for the previous event if it is still running.
func TakeLatest(p effects.Pattern, worker effects.Saga, args ...any) effects.Saga {
	return func(...any) effects.Body {
		ph := phaseStart
		var last effects.Handle
		var event any
		return effects.StepFunc(func(in effects.Outcome) effects.Step {
			if in.Err != nil {
				return effects.Throw(in.Err)
			}
			switch ph {
			case phaseWaiting:
				event = in.Value
				if last != nil && !last.Status().Terminal() {
					ph = phaseCancelling
					return effects.Perform(effects.Cancel(last))
				}
				ph = phaseSpawning
				return effects.Perform(effects.Spawn(worker, workerArgs(event, args)...))
			case phaseCancelling:
				ph = phaseSpawning
				return effects.Perform(effects.Spawn(worker, workerArgs(event, args)...))
			case phaseSpawning:
				last, _ = in.Value.(effects.Handle)
				event = nil
			}
			ph = phaseWaiting
			return effects.Perform(effects.Wait(p))
		})
	}
}

// TakeLeading runs worker(event, args...) for an event matching p and ignores
// further events until that worker is done. A failing worker fails TakeLeading.
func TakeLeading(p effects.Pattern, worker effects.Saga, args ...any) effects.Saga {
	return func(...any) effects.Body {
		ph := phaseStart
		return effects.StepFunc(func(in effects.Outcome) effects.Step {
			if in.Err != nil {
				return effects.Throw(in.Err)
			}
			if ph == phaseWaiting {
				ph = phaseWorking
				wargs := workerArgs(in.Value, args)
				return effects.Perform(effects.Invoke(func(context.Context, ...any) (any, error) {
					return worker(wargs...), nil
				}))
			}
			ph = phaseWaiting
			return effects.Perform(effects.Wait(p))
		})
	}
}

// Retry invokes fn until it succeeds, at most maxTries times, sleeping delay
// between attempts. It returns fn's value, or the last failure wrapped in
// ErrMaxAttempts.
func Retry(maxTries int, delay time.Duration, fn effects.InvokeFunc, args ...any) effects.Saga {
	return func(...any) effects.Body {
		ph := phaseStart
		attempts := 0
		return effects.StepFunc(func(in effects.Outcome) effects.Step {
			switch ph {
			case phaseWorking:
				if in.Err == nil {
					return effects.Return(in.Value)
				}
				if attempts >= maxTries {
					return effects.Throw(fmt.Errorf("%w after %d tries: %w", ErrMaxAttempts, attempts, in.Err))
				}
				if delay > 0 {
					ph = phaseSleeping
					return effects.Perform(effects.Delay(delay))
				}
			case phaseSleeping:
				if in.Err != nil {
					return effects.Throw(in.Err)
				}
			}
			ph = phaseWorking
			attempts++
			return effects.Perform(effects.Invoke(fn, args...))
		})
	}
}

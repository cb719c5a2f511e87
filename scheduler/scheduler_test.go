package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/on-the-ground/effect_ive_saga/effects"
	"github.com/on-the-ground/effect_ive_saga/effects/bus"
	"github.com/on-the-ground/effect_ive_saga/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type ev struct {
	Type string
	N    int
}

func (e ev) EventType() string { return e.Type }

func saga(fn func(y *effects.Yielder) (any, error)) effects.Saga {
	return func(...any) effects.Body {
		return effects.Go(fn)
	}
}

func newScheduler(t *testing.T, opts ...scheduler.Option) (*scheduler.Scheduler, *bus.Bus) {
	t.Helper()
	b := bus.New()
	opts = append([]scheduler.Option{scheduler.WithLogger(zaptest.NewLogger(t))}, opts...)
	s := scheduler.New(b, opts...)
	t.Cleanup(func() {
		_ = s.Close()
		b.Close()
	})
	return s, b
}

func wait(t *testing.T, task *scheduler.Task) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return task.Wait(ctx)
}

func TestScheduler_SequentialConsumption(t *testing.T) {
	s, b := newScheduler(t)
	var global []ev

	consume := func(typ string, n int) effects.Saga {
		return saga(func(y *effects.Yielder) (any, error) {
			var seen []any
			for range n {
				got, err := y.Do(effects.Wait(effects.Type(typ)))
				if err != nil {
					return nil, err
				}
				seen = append(seen, got)
				global = append(global, got.(ev))
			}
			return seen, nil
		})
	}
	a := s.Run(consume("A", 2))
	bt := s.Run(consume("B", 1))

	e1, e2, e3 := ev{"A", 1}, ev{"B", 2}, ev{"A", 3}
	require.NoError(t, b.Publish(e1))
	require.NoError(t, b.Publish(e2))
	require.NoError(t, b.Publish(e3))

	aSeen, err := wait(t, a)
	require.NoError(t, err)
	bSeen, err := wait(t, bt)
	require.NoError(t, err)

	assert.Equal(t, []any{e1, e3}, aSeen)
	assert.Equal(t, []any{e2}, bSeen)
	assert.Equal(t, []ev{e1, e2, e3}, global)
}

func TestScheduler_RaceRemovesLosingWatcher(t *testing.T) {
	s, b := newScheduler(t)

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		won, err := y.Do(effects.Race(map[string]effects.Effect{
			"x": effects.Wait(effects.Type("X")),
			"y": effects.Wait(effects.Type("Y")),
		}))
		if err != nil {
			return nil, err
		}
		later, err := y.Do(effects.Wait(effects.Type("Y")))
		return []any{won, later}, err
	}))
	assert.Equal(t, 2, s.Watching())

	require.NoError(t, b.Publish("X"))
	assert.Equal(t, 1, s.Watching())
	assert.Equal(t, effects.StatusSuspended, task.Status())

	require.NoError(t, b.Publish("Y"))

	got, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"x": "X"}, "Y"}, got)
	assert.Equal(t, 0, s.Watching())
}

func TestScheduler_RaceStopsStartingBranchesAfterSyncWinner(t *testing.T) {
	s, _ := newScheduler(t)

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		return y.Do(effects.Race(map[string]effects.Effect{
			"a": effects.Invoke(func(context.Context, ...any) (any, error) { return 1, nil }),
			"b": effects.Wait(effects.Type("B")),
		}))
	}))

	got, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1}, got)
	assert.Equal(t, 0, s.Watching())
}

func TestScheduler_EmptyRaceAndAll(t *testing.T) {
	s, _ := newScheduler(t)

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		race, err := y.Do(effects.Race(nil))
		if err != nil {
			return nil, err
		}
		all, err := y.Do(effects.All())
		return []any{race, all}, err
	}))

	got, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{}, []any{}}, got)
}

func TestScheduler_AllWaitsForEveryMember(t *testing.T) {
	s, b := newScheduler(t)

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		return y.Do(effects.All(
			effects.Wait(effects.Type("X")),
			effects.Wait(effects.Type("Y")),
		))
	}))

	require.NoError(t, b.Publish("X"))
	assert.Equal(t, effects.StatusSuspended, task.Status())

	require.NoError(t, b.Publish("Y"))

	got, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, []any{"X", "Y"}, got)
}

func TestScheduler_AllKeepsInputOrder(t *testing.T) {
	s, b := newScheduler(t)

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		return y.Do(effects.Effects{
			effects.Wait(effects.Type("X")),
			effects.Wait(effects.Type("Y")),
		})
	}))

	require.NoError(t, b.Publish("Y"))
	require.NoError(t, b.Publish("X"))

	got, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, []any{"X", "Y"}, got)
}

func TestScheduler_AllFailsOnFirstError(t *testing.T) {
	s, _ := newScheduler(t)
	boom := errors.New("boom")

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		return y.Do(effects.All(
			effects.Wait(effects.Type("X")),
			effects.Invoke(func(context.Context, ...any) (any, error) { return nil, boom }),
			effects.Wait(effects.Type("Y")),
		))
	}))

	_, err := wait(t, task)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, s.Watching())
}

func TestScheduler_AllWithRace(t *testing.T) {
	s, b := newScheduler(t)

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		return y.Do(effects.All(
			effects.Race(map[string]effects.Effect{
				"x": effects.Wait(effects.Type("X")),
				"y": effects.Wait(effects.Type("Y")),
			}),
			effects.Wait(effects.Type("Y")),
		))
	}))

	require.NoError(t, b.Publish("X"))
	require.NoError(t, b.Publish("Y"))

	got, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"x": "X"}, "Y"}, got)
}

func TestScheduler_EmissionsDuringSetupAreNotLost(t *testing.T) {
	store := bus.NewStore(func(log []any, event any) []any {
		return append(log, event)
	}, []any(nil))
	s := scheduler.New(store, scheduler.WithLogger(zaptest.NewLogger(t)))
	defer s.Close()

	var recorded []any
	var emitter *scheduler.Task
	s.Batch(func() {
		emitter = s.Run(saga(func(y *effects.Yielder) (any, error) {
			for _, e := range []string{"E1", "E2", "E3"} {
				if _, err := y.Do(effects.Emit(e)); err != nil {
					return nil, err
				}
			}
			return nil, nil
		}))
		assert.Equal(t, effects.StatusRunning, emitter.Status())
		store.Subscribe(func(event any) { recorded = append(recorded, event) })
	})

	_, err := wait(t, emitter)
	require.NoError(t, err)
	assert.Equal(t, []any{"E1", "E2", "E3"}, recorded)
	assert.Equal(t, []any{"E1", "E2", "E3"}, store.Current())
}

func TestScheduler_EmitterResumesBeforeItsEventIsDispatched(t *testing.T) {
	s, _ := newScheduler(t)
	var order []string

	observer := s.Run(saga(func(y *effects.Yielder) (any, error) {
		for range 3 {
			got, err := y.Do(effects.Wait(effects.Any()))
			if err != nil {
				return nil, err
			}
			order = append(order, "observed "+got.(string))
		}
		return nil, nil
	}))
	emitter := s.Run(saga(func(y *effects.Yielder) (any, error) {
		for _, e := range []string{"E1", "E2", "E3"} {
			if _, err := y.Do(effects.Emit(e)); err != nil {
				return nil, err
			}
			order = append(order, "emitted "+e)
		}
		return nil, nil
	}))

	_, err := wait(t, emitter)
	require.NoError(t, err)
	_, err = wait(t, observer)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"emitted E1", "observed E1",
		"emitted E2", "observed E2",
		"emitted E3", "observed E3",
	}, order)
}

func TestScheduler_EmitterSeesSynchronousReaction(t *testing.T) {
	s, b := newScheduler(t)
	b.Subscribe(func(event any) {
		if event == "Y" {
			_ = b.Publish("R")
		}
	})

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		if _, err := y.Do(effects.Emit("Y")); err != nil {
			return nil, err
		}
		return y.Do(effects.Wait(effects.Type("R")))
	}))

	got, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, "R", got)
	assert.Equal(t, effects.StatusDone, task.Status())
	assert.Equal(t, 0, s.Watching())
}

func TestScheduler_PerformedEmitIsPublishedAfterCancel(t *testing.T) {
	s, b := newScheduler(t)
	var published []any
	b.Subscribe(func(event any) { published = append(published, event) })
	var child effects.Handle

	parent := s.Run(saga(func(y *effects.Yielder) (any, error) {
		var err error
		child, err = effects.DoAs[effects.Handle](y, effects.Spawn(saga(func(y *effects.Yielder) (any, error) {
			return y.Do(effects.Emit("X"))
		})))
		if err != nil {
			return nil, err
		}
		return y.Do(effects.Cancel(child))
	}))

	_, err := wait(t, parent)
	require.NoError(t, err)
	assert.Equal(t, effects.StatusCancelled, child.Status())
	assert.Equal(t, []any{"X"}, published)
}

func TestScheduler_InterleavedWaitAndEmit(t *testing.T) {
	s, b := newScheduler(t)
	var published []any
	b.Subscribe(func(event any) { published = append(published, event) })

	var turns []string
	ponger := s.Run(saga(func(y *effects.Yielder) (any, error) {
		for range 3 {
			if _, err := y.Do(effects.Wait(effects.Type("ping"))); err != nil {
				return nil, err
			}
			turns = append(turns, "got ping")
			if _, err := y.Do(effects.Emit("pong")); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}))
	pinger := s.Run(saga(func(y *effects.Yielder) (any, error) {
		for range 3 {
			if _, err := y.Do(effects.Emit("ping")); err != nil {
				return nil, err
			}
			if _, err := y.Do(effects.Wait(effects.Type("pong"))); err != nil {
				return nil, err
			}
			turns = append(turns, "got pong")
		}
		return nil, nil
	}))

	_, err := wait(t, pinger)
	require.NoError(t, err)
	_, err = wait(t, ponger)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"got ping", "got pong",
		"got ping", "got pong",
		"got ping", "got pong",
	}, turns)
	assert.Equal(t, []any{"ping", "pong", "ping", "pong", "ping", "pong"}, published)
}

func TestScheduler_CancelParentRemovesChildWatchers(t *testing.T) {
	s, b := newScheduler(t)
	resumed := false
	var waiting, sleeping effects.Handle

	parent := s.Run(saga(func(y *effects.Yielder) (any, error) {
		var err error
		waiting, err = effects.DoAs[effects.Handle](y, effects.Spawn(saga(func(y *effects.Yielder) (any, error) {
			_, err := y.Do(effects.Wait(effects.Type("X")))
			resumed = true
			return nil, err
		})))
		if err != nil {
			return nil, err
		}
		sleeping, err = effects.DoAs[effects.Handle](y, effects.Spawn(saga(func(y *effects.Yielder) (any, error) {
			return y.Do(effects.Delay(time.Hour))
		})))
		if err != nil {
			return nil, err
		}
		return y.Do(effects.Wait(effects.Type("never")))
	}))
	require.Equal(t, 2, s.Watching())

	parent.RequestCancel()

	assert.Equal(t, effects.StatusCancelled, parent.Status())
	assert.Equal(t, effects.StatusCancelled, waiting.Status())
	assert.Equal(t, effects.StatusCancelled, sleeping.Status())
	assert.Equal(t, 0, s.Watching())

	require.NoError(t, b.Publish("X"))
	assert.False(t, resumed)

	_, err := wait(t, parent)
	assert.ErrorIs(t, err, effects.ErrTaskCancelled)
}

func TestScheduler_CancelledBodyRunsDeferredCleanup(t *testing.T) {
	s, _ := newScheduler(t)
	cleaned := false

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		defer func() { cleaned = y.Cancelled() }()
		return y.Do(effects.Wait(effects.Any()))
	}))
	task.RequestCancel()
	task.RequestCancel()

	assert.True(t, cleaned)
	assert.Equal(t, effects.StatusCancelled, task.Status())
}

func TestScheduler_CancellationSkipsErrorHandling(t *testing.T) {
	s, _ := newScheduler(t)
	var handled []error
	cleaned := false

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		defer func() { cleaned = true }()
		if _, err := y.Do(effects.Wait(effects.Type("X"))); err != nil {
			handled = append(handled, err)
			return nil, err
		}
		return nil, nil
	}))
	task.RequestCancel()

	assert.Equal(t, effects.StatusCancelled, task.Status())
	assert.Empty(t, handled)
	assert.True(t, cleaned)
	assert.NoError(t, s.Err())
}

func TestScheduler_CancelSelf(t *testing.T) {
	s, _ := newScheduler(t)
	after := false

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		_, err := y.Do(effects.CancelSelf())
		after = err == nil
		return nil, err
	}))

	assert.Equal(t, effects.StatusCancelled, task.Status())
	assert.False(t, after)
}

func TestScheduler_AwaitChild(t *testing.T) {
	s, b := newScheduler(t)

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		child, err := y.Do(effects.Spawn(saga(func(y *effects.Yielder) (any, error) {
			got, err := y.Do(effects.Wait(effects.Type("X")))
			return ev{Type: "reply", N: len(got.(string))}, err
		})))
		if err != nil {
			return nil, err
		}
		return y.Do(effects.AwaitChild(child.(effects.Handle)))
	}))

	require.NoError(t, b.Publish("X"))

	got, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, ev{Type: "reply", N: 1}, got)
}

func TestScheduler_AwaitCancelledChildResumesWithMarker(t *testing.T) {
	s, _ := newScheduler(t)

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		child, err := effects.DoAs[effects.Handle](y, effects.Spawn(saga(func(y *effects.Yielder) (any, error) {
			return y.Do(effects.Wait(effects.Any()))
		})))
		if err != nil {
			return nil, err
		}
		return y.Do(effects.All(
			effects.AwaitChild(child),
			effects.Cancel(child),
		))
	}))

	got, err := wait(t, task)
	require.NoError(t, err)
	results := got.([]any)
	assert.True(t, effects.IsCancelled(results[0]))
	assert.Nil(t, results[1])
}

func TestScheduler_AwaitSelfReturnsError(t *testing.T) {
	s, b := newScheduler(t)
	var self *scheduler.Task
	var joinErr error

	self = s.Run(saga(func(y *effects.Yielder) (any, error) {
		if _, err := y.Do(effects.Wait(effects.Type("go"))); err != nil {
			return nil, err
		}
		_, joinErr = y.Do(effects.AwaitChild(self))
		return nil, nil
	}))
	require.NoError(t, b.Publish("go"))

	_, err := wait(t, self)
	require.NoError(t, err)
	assert.ErrorIs(t, joinErr, effects.ErrSelfJoin)
}

func TestScheduler_AwaitForeignTaskFails(t *testing.T) {
	s, _ := newScheduler(t)
	other, _ := newScheduler(t)
	foreign := other.Run(saga(func(y *effects.Yielder) (any, error) {
		return y.Do(effects.Wait(effects.Any()))
	}))

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		return y.Do(effects.AwaitChild(foreign))
	}))

	_, err := wait(t, task)
	assert.ErrorIs(t, err, effects.ErrForeignTask)
}

func TestScheduler_UnawaitedChildFailureAbortsParent(t *testing.T) {
	var reported []error
	s, b := newScheduler(t, scheduler.WithOnError(func(err error) {
		reported = append(reported, err)
	}))
	boom := errors.New("boom")
	var sibling effects.Handle

	parent := s.Run(saga(func(y *effects.Yielder) (any, error) {
		if _, err := y.Do(effects.Spawn(saga(func(y *effects.Yielder) (any, error) {
			if _, err := y.Do(effects.Wait(effects.Type("X"))); err != nil {
				return nil, err
			}
			return nil, boom
		}))); err != nil {
			return nil, err
		}
		var err error
		sibling, err = effects.DoAs[effects.Handle](y, effects.Spawn(saga(func(y *effects.Yielder) (any, error) {
			return y.Do(effects.Wait(effects.Type("Y")))
		})))
		if err != nil {
			return nil, err
		}
		return y.Do(effects.Wait(effects.Type("Z")))
	}))

	require.NoError(t, b.Publish("X"))

	_, err := wait(t, parent)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, effects.StatusErrored, parent.Status())
	assert.Equal(t, effects.StatusCancelled, sibling.Status())
	assert.Equal(t, 0, s.Watching())

	require.Len(t, reported, 1)
	var taskErr *effects.TaskError
	require.ErrorAs(t, reported[0], &taskErr)
	assert.Equal(t, parent.ID(), taskErr.TaskID)
	assert.ErrorIs(t, s.Err(), boom)
}

func TestScheduler_AwaitedChildFailureIsHandledByParent(t *testing.T) {
	var reported []error
	s, _ := newScheduler(t, scheduler.WithOnError(func(err error) {
		reported = append(reported, err)
	}))
	boom := errors.New("boom")

	parent := s.Run(saga(func(y *effects.Yielder) (any, error) {
		child, err := effects.DoAs[effects.Handle](y, effects.Spawn(saga(func(y *effects.Yielder) (any, error) {
			if _, err := y.Do(effects.Delay(time.Millisecond)); err != nil {
				return nil, err
			}
			return nil, boom
		})))
		if err != nil {
			return nil, err
		}
		if _, err := y.Do(effects.AwaitChild(child)); errors.Is(err, boom) {
			return "recovered", nil
		}
		return nil, errors.New("child failure not delivered")
	}))

	got, err := wait(t, parent)
	require.NoError(t, err)
	assert.Equal(t, "recovered", got)
	assert.Empty(t, reported)
	assert.NoError(t, s.Err())
}

func TestScheduler_ParentCompletesAfterChildren(t *testing.T) {
	s, b := newScheduler(t)

	var child effects.Handle
	parent := s.Run(saga(func(y *effects.Yielder) (any, error) {
		var err error
		child, err = effects.DoAs[effects.Handle](y, effects.Spawn(saga(func(y *effects.Yielder) (any, error) {
			return y.Do(effects.Wait(effects.Type("X")))
		})))
		return "parent", err
	}))

	assert.Equal(t, effects.StatusSuspended, parent.Status())
	assert.Equal(t, effects.StatusSuspended, child.Status())

	require.NoError(t, b.Publish("X"))

	got, err := wait(t, parent)
	require.NoError(t, err)
	assert.Equal(t, "parent", got)
	assert.Equal(t, effects.StatusDone, child.Status())
}

func TestScheduler_DetachedTaskOutlivesParent(t *testing.T) {
	s, b := newScheduler(t)

	var detached effects.Handle
	parent := s.Run(saga(func(y *effects.Yielder) (any, error) {
		var err error
		detached, err = effects.DoAs[effects.Handle](y, effects.Detach(saga(func(y *effects.Yielder) (any, error) {
			return y.Do(effects.Wait(effects.Type("X")))
		})))
		if err != nil {
			return nil, err
		}
		return y.Do(effects.Wait(effects.Type("never")))
	}))

	parent.RequestCancel()
	assert.Equal(t, effects.StatusSuspended, detached.Status())

	require.NoError(t, b.Publish("X"))

	got, err := detached.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "X", got)
}

func TestScheduler_Invoke(t *testing.T) {
	s, _ := newScheduler(t)
	boom := errors.New("boom")

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		sum, err := effects.DoAs[int](y, effects.Invoke(func(_ context.Context, args ...any) (any, error) {
			return args[0].(int) + args[1].(int), nil
		}, 1, 2))
		if err != nil {
			return nil, err
		}
		_, failed := y.Do(effects.Invoke(func(context.Context, ...any) (any, error) { return nil, boom }))
		_, panicked := y.Do(effects.Invoke(func(context.Context, ...any) (any, error) { panic("oops") }))
		return []any{sum, failed, panicked}, nil
	}))

	got, err := wait(t, task)
	require.NoError(t, err)
	results := got.([]any)
	assert.Equal(t, 3, results[0])
	assert.ErrorIs(t, results[1].(error), boom)
	assert.ErrorIs(t, results[2].(error), effects.ErrBodyPanic)
}

func TestScheduler_InvokeFuture(t *testing.T) {
	s, _ := newScheduler(t)

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		return y.Do(effects.Invoke(func(context.Context, ...any) (any, error) {
			return effects.Async(func(ctx context.Context) (any, error) {
				return "async", nil
			}), nil
		}))
	}))

	got, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, "async", got)
}

func TestScheduler_InvokeBodyRunsAsAwaitedChild(t *testing.T) {
	s, b := newScheduler(t)

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		return y.Do(effects.Invoke(func(context.Context, ...any) (any, error) {
			return effects.Go(func(y *effects.Yielder) (any, error) {
				got, err := y.Do(effects.Wait(effects.Type("X")))
				return "child saw " + got.(string), err
			}), nil
		}))
	}))

	require.NoError(t, b.Publish("X"))

	got, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, "child saw X", got)
}

func TestScheduler_RaceCancelsLosingInvokedBody(t *testing.T) {
	s, b := newScheduler(t)

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		return y.Do(effects.Race(map[string]effects.Effect{
			"timeout": effects.Wait(effects.Type("T")),
			"work": effects.Invoke(func(context.Context, ...any) (any, error) {
				return effects.Go(func(y *effects.Yielder) (any, error) {
					return y.Do(effects.Wait(effects.Type("done")))
				}), nil
			}),
		}))
	}))
	require.Equal(t, 2, s.Watching())

	require.NoError(t, b.Publish("T"))

	got, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"timeout": "T"}, got)
	assert.Equal(t, 0, s.Watching())
}

func TestScheduler_EmitOnClosedBusFails(t *testing.T) {
	s, b := newScheduler(t)
	b.Close()

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		return y.Do(effects.Emit("X"))
	}))

	_, err := wait(t, task)
	assert.ErrorIs(t, err, effects.ErrAdapterFailure)
}

func TestScheduler_Select(t *testing.T) {
	store := bus.NewStore(func(n int, _ any) int { return n + 1 }, 0)
	s := scheduler.New(store, scheduler.WithLogger(zaptest.NewLogger(t)))
	defer s.Close()

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		if _, err := y.Do(effects.Emit("a")); err != nil {
			return nil, err
		}
		return y.Do(effects.Select(func(state any, args ...any) any {
			return state.(int) * args[0].(int)
		}, 10))
	}))

	got, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, 10, got)
}

func TestScheduler_SelectWithoutStateFails(t *testing.T) {
	s, _ := newScheduler(t)

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		return y.Do(effects.Select(nil))
	}))

	_, err := wait(t, task)
	assert.ErrorIs(t, err, effects.ErrNoState)
}

func TestScheduler_ContextBindings(t *testing.T) {
	s, _ := newScheduler(t, scheduler.WithContext(map[string]any{"region": "eu"}))

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		if _, err := y.Do(effects.SetContext(map[string]any{"user": "ann"})); err != nil {
			return nil, err
		}
		child, err := effects.DoAs[effects.Handle](y, effects.Spawn(saga(func(y *effects.Yielder) (any, error) {
			user, err := y.Do(effects.GetContext("user"))
			if err != nil {
				return nil, err
			}
			region, err := y.Do(effects.GetContext("region"))
			if err != nil {
				return nil, err
			}
			_, missing := y.Do(effects.GetContext("missing"))
			return []any{user, region, missing}, nil
		})))
		if err != nil {
			return nil, err
		}
		return y.Do(effects.AwaitChild(child))
	}))

	got, err := wait(t, task)
	require.NoError(t, err)
	results := got.([]any)
	assert.Equal(t, "ann", results[0])
	assert.Equal(t, "eu", results[1])
	assert.ErrorIs(t, results[2].(error), effects.ErrNoBinding)
}

func TestScheduler_ActionChannelBuffersWhileBusy(t *testing.T) {
	s, b := newScheduler(t)
	var ch effects.Channel

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		var err error
		ch, err = effects.DoAs[effects.Channel](y, effects.ActionChannel(effects.Type("job"), nil))
		if err != nil {
			return nil, err
		}
		if _, err := y.Do(effects.Wait(effects.Type("start"))); err != nil {
			return nil, err
		}
		first, err := y.Do(effects.TakeFrom(ch))
		if err != nil {
			return nil, err
		}
		rest, err := y.Do(effects.Flush(ch))
		return []any{first, rest}, err
	}))

	require.NoError(t, b.Publish(ev{Type: "job", N: 1}))
	require.NoError(t, b.Publish(ev{Type: "job", N: 2}))
	require.NoError(t, b.Publish(ev{Type: "job", N: 3}))
	require.NoError(t, b.Publish("start"))

	got, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, []any{ev{"job", 1}, []any{ev{"job", 2}, ev{"job", 3}}}, got)
	assert.True(t, ch.Closed())
	assert.Equal(t, 0, s.Watching())
}

func TestScheduler_TakeFromWaitsForNextEvent(t *testing.T) {
	s, b := newScheduler(t)

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		ch, err := effects.DoAs[effects.Channel](y, effects.ActionChannel(effects.Any(), nil))
		if err != nil {
			return nil, err
		}
		var got []any
		for range 2 {
			v, err := y.Do(effects.TakeFrom(ch))
			if err != nil {
				return nil, err
			}
			got = append(got, v)
		}
		return got, nil
	}))

	require.NoError(t, b.Publish("a"))
	assert.Equal(t, effects.StatusSuspended, task.Status())
	require.NoError(t, b.Publish("b"))

	got, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, got)
}

func TestScheduler_StepFuncBody(t *testing.T) {
	s, b := newScheduler(t)

	counter := func(...any) effects.Body {
		seen := 0
		return effects.StepFunc(func(in effects.Outcome) effects.Step {
			if in.Value != nil {
				seen++
			}
			if seen == 2 {
				return effects.Return(seen)
			}
			return effects.Perform(effects.Wait(effects.Type("tick")))
		})
	}
	task := s.Run(counter)

	require.NoError(t, b.Publish("tick"))
	require.NoError(t, b.Publish("tick"))

	got, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, 2, got)
}

func TestScheduler_PanickingBodyFails(t *testing.T) {
	s, _ := newScheduler(t, scheduler.WithOnError(func(error) {}))

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		panic("broken")
	}))

	_, err := wait(t, task)
	assert.ErrorIs(t, err, effects.ErrBodyPanic)
	assert.Equal(t, effects.StatusErrored, task.Status())
}

func TestScheduler_CloseCancelsRoots(t *testing.T) {
	b := bus.New()
	s := scheduler.New(b, scheduler.WithLogger(zaptest.NewLogger(t)))

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		return y.Do(effects.Wait(effects.Any()))
	}))

	require.NoError(t, s.Close())
	assert.Equal(t, effects.StatusCancelled, task.Status())
	assert.Equal(t, 0, b.Len())

	late := s.Run(saga(func(y *effects.Yielder) (any, error) { return nil, nil }))
	_, err := wait(t, late)
	assert.ErrorIs(t, err, scheduler.ErrClosed)
}

func TestScheduler_CloseOnBusyLoopCancelsOnceLoopIsFree(t *testing.T) {
	s, _ := newScheduler(t)

	task := s.Run(saga(func(y *effects.Yielder) (any, error) {
		return y.Do(effects.Wait(effects.Any()))
	}))

	s.Batch(func() {
		require.NoError(t, s.Close())
		assert.Equal(t, effects.StatusSuspended, task.Status())
	})

	assert.Equal(t, effects.StatusCancelled, task.Status())
	select {
	case <-task.Done():
	default:
		t.Fatal("task not done after the loop released")
	}
}

type recordingMonitor struct {
	started, terminated, triggered, resolved, cancelled int
}

func (m *recordingMonitor) TaskStarted(scheduler.TaskInfo)                 { m.started++ }
func (m *recordingMonitor) TaskTerminated(scheduler.TaskInfo)              { m.terminated++ }
func (m *recordingMonitor) EffectTriggered(string, uint64, effects.Effect) { m.triggered++ }
func (m *recordingMonitor) EffectResolved(string, uint64, effects.Outcome) { m.resolved++ }
func (m *recordingMonitor) EffectCancelled(string, uint64)                 { m.cancelled++ }

func TestScheduler_Monitor(t *testing.T) {
	m := &recordingMonitor{}
	s, b := newScheduler(t, scheduler.WithMonitor(m))

	done := s.Run(saga(func(y *effects.Yielder) (any, error) {
		return y.Do(effects.Wait(effects.Type("X")))
	}))
	cancelled := s.Run(saga(func(y *effects.Yielder) (any, error) {
		return y.Do(effects.Wait(effects.Type("Y")))
	}))

	require.NoError(t, b.Publish("X"))
	cancelled.RequestCancel()

	_, err := wait(t, done)
	require.NoError(t, err)
	assert.Equal(t, &recordingMonitor{
		started:    2,
		terminated: 2,
		triggered:  2,
		resolved:   1,
		cancelled:  1,
	}, m)
}

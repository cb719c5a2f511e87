package scheduler

import (
	"fmt"
	"maps"

	"github.com/on-the-ground/effect_ive_saga/effects"
	"go.uber.org/zap"
)

// runEffect starts eff on behalf of t and settles r with its result.
// Composite effects run their members through runEffect with their own
// resolvers.
func (t *Task) runEffect(eff effects.Effect, r *resolver) {
	s := t.sched
	if eff == nil {
		r.resolve(effects.Outcome{})
		return
	}

	switch e := eff.(type) {
	case effects.WaitEffect:
		id := s.watchers.Add(e.Pattern, func(event any) {
			r.resolve(effects.Outcome{Value: event})
		})
		r.cancelWith(func() { s.watchers.Remove(id) })

	case effects.EmitEffect:
		t.runEmit(e, r)

	case effects.InvokeEffect:
		t.runInvoke(e, r)

	case effects.SpawnEffect:
		child := s.newTask(t, e.Saga, e.Args)
		child.start()
		r.resolve(effects.Outcome{Value: child})

	case effects.DetachEffect:
		root := s.newTask(nil, e.Saga, e.Args)
		root.bindings = t.visibleBindings()
		if s.closed.Load() {
			root.reject(ErrClosed)
		} else {
			s.addRoot(root)
			root.start()
		}
		r.resolve(effects.Outcome{Value: root})

	case effects.AwaitChildEffect:
		target, err := t.ownTask(e.Task)
		if err != nil {
			r.resolve(effects.Outcome{Err: err})
			return
		}
		if target == t {
			r.resolve(effects.Outcome{Err: fmt.Errorf("%w: %s", effects.ErrSelfJoin, t.id)})
			return
		}
		r.cancelWith(t.join(target, r))

	case effects.RaceEffect:
		t.runRace(e, r)

	case effects.AllEffect:
		t.runAll(e.Members, r)

	case effects.Effects:
		t.runAll(e, r)

	case effects.CancelEffect:
		if e.Self {
			t.cancelTask()
			return
		}
		target, err := t.ownTask(e.Task)
		if err != nil {
			r.resolve(effects.Outcome{Err: err})
			return
		}
		target.cancelTask()
		r.resolve(effects.Outcome{})

	case effects.SelectEffect:
		t.runSelect(e, r)

	case effects.GetContextEffect:
		r.resolve(effects.OutcomeOf(t.lookup(e.Key)))

	case effects.SetContextEffect:
		maps.Copy(t.bindings, e.Bindings)
		r.resolve(effects.Outcome{})

	case effects.ActionChannelEffect:
		ch := newActionChannel(t, e.Pattern, e.Buffer)
		t.channels = append(t.channels, ch)
		r.resolve(effects.Outcome{Value: ch})

	case effects.TakeFromEffect:
		if e.Channel == nil {
			r.resolve(effects.Outcome{Err: effects.ErrChannelClosed})
			return
		}
		r.cancelWith(e.Channel.Take(func(out effects.Outcome) {
			r.resolve(out)
		}))

	case effects.FlushEffect:
		if e.Channel == nil {
			r.resolve(effects.Outcome{Value: []any{}})
			return
		}
		r.resolve(effects.Outcome{Value: e.Channel.Flush()})

	default:
		panic(fmt.Sprintf("exhaustive match: unknown effect %T", eff))
	}
}

// runEmit publishes on a later unit of work and resumes the emitter within
// that unit. The bus hands the event to dispatch through the loop while it
// publishes, so the dispatch runs after the emitter's reaction settles, ahead
// of anything published later. An emit that was performed is published even
// if the emitter is cancelled first.
func (t *Task) runEmit(e effects.EmitEffect, r *resolver) {
	s := t.sched
	s.loop.Asap(func() {
		if err := s.publish(e.Event); err != nil {
			if !r.resolve(effects.Outcome{Err: err}) {
				s.logger.Warn("emit failed after the emitter terminated",
					zap.String("task", t.id),
					zap.Any("event", e.Event),
					zap.Error(err),
				)
			}
			return
		}
		r.resolve(effects.Outcome{Value: e.Event})
	})
}

func (t *Task) runInvoke(e effects.InvokeEffect, r *resolver) {
	s := t.sched
	v, err := t.invoke(e)
	if err != nil {
		r.resolve(effects.Outcome{Err: err})
		return
	}

	switch res := v.(type) {
	case effects.Future:
		r.cancelWith(res.Await(func(v any, err error) {
			s.loop.Asap(func() {
				r.resolve(effects.OutcomeOf(v, err))
			})
		}))

	case effects.Body:
		child := s.newTask(t, nil, nil)
		withdraw := t.join(child, r)
		child.startWith(res)
		r.cancelWith(func() {
			withdraw()
			child.cancelTask()
		})

	default:
		r.resolve(effects.Outcome{Value: v})
	}
}

func (t *Task) invoke(e effects.InvokeEffect) (v any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = effects.PanicError(rec)
		}
	}()
	if e.Fn == nil {
		return nil, nil
	}
	return e.Fn(t.ctx, e.Args...)
}

// runRace starts the branches in name order and stops starting them once one
// has won. Losers are cancelled before the race resolves.
func (t *Task) runRace(e effects.RaceEffect, r *resolver) {
	names := e.Names()
	if len(names) == 0 {
		r.resolve(effects.Outcome{Value: map[string]any{}})
		return
	}

	subs := make([]*resolver, 0, len(names))
	cancelAll := func() {
		for _, sub := range subs {
			sub.cancel()
		}
	}

	for _, name := range names {
		if r.settled {
			break
		}
		sub := newResolver(func(out effects.Outcome) {
			cancelAll()
			if out.Err != nil {
				r.resolve(out)
				return
			}
			r.resolve(effects.Outcome{Value: map[string]any{name: out.Value}})
		})
		subs = append(subs, sub)
		t.runEffect(e.Branches[name], sub)
	}
	r.cancelWith(cancelAll)
}

// runAll starts every member in order. The first failure cancels the members
// still pending and fails the whole effect.
func (t *Task) runAll(members []effects.Effect, r *resolver) {
	if len(members) == 0 {
		r.resolve(effects.Outcome{Value: []any{}})
		return
	}

	results := make([]any, len(members))
	remaining := len(members)
	subs := make([]*resolver, 0, len(members))
	cancelAll := func() {
		for _, sub := range subs {
			sub.cancel()
		}
	}

	for i, member := range members {
		if r.settled {
			break
		}
		sub := newResolver(func(out effects.Outcome) {
			if out.Err != nil {
				cancelAll()
				r.resolve(out)
				return
			}
			results[i] = out.Value
			if remaining--; remaining == 0 {
				r.resolve(effects.Outcome{Value: results})
			}
		})
		subs = append(subs, sub)
		t.runEffect(member, sub)
	}
	r.cancelWith(cancelAll)
}

func (t *Task) runSelect(e effects.SelectEffect, r *resolver) {
	reader, ok := t.sched.bus.(StateReader)
	if !ok {
		r.resolve(effects.Outcome{Err: effects.ErrNoState})
		return
	}
	v, err := func() (v any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = effects.PanicError(rec)
			}
		}()
		return e.Selector(reader.State(), e.Args...), nil
	}()
	r.resolve(effects.OutcomeOf(v, err))
}

// ownTask resolves h to a task of this scheduler.
func (t *Task) ownTask(h effects.Handle) (*Task, error) {
	target, ok := h.(*Task)
	if !ok || target == nil || target.sched != t.sched {
		t.sched.logger.Debug("foreign task handle", zap.String("task", t.id), zap.String("handle", fmt.Sprintf("%T", h)))
		return nil, fmt.Errorf("%w: %T", effects.ErrForeignTask, h)
	}
	return target, nil
}

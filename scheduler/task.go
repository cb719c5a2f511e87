package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/on-the-ground/effect_ive_saga/effects"
	"go.uber.org/zap"
)

// Task is one running saga body. It is the effects.Handle the scheduler hands
// out; Spawn and Detach resume with one.
//
// Everything except the Handle methods is owned by the run loop.
type Task struct {
	id     string
	sched  *Scheduler
	parent *Task
	saga   effects.Saga
	args   []any
	body   effects.Body

	status atomic.Int32

	children []*Task
	pending  *resolver
	awaiting map[*Task]int
	joiners  []*resolver
	bindings map[string]any
	channels []*actionChannel

	bodyDone bool
	value    any
	err      error

	stepping bool
	syncIn   *effects.Outcome

	ctx       context.Context
	cancelCtx context.CancelFunc
	done      chan struct{}
}

var _ effects.Handle = (*Task)(nil)

func (s *Scheduler) newTask(parent *Task, saga effects.Saga, args []any) *Task {
	base := s.opts.ctx
	if parent != nil {
		base = parent.ctx
	}
	ctx, cancel := context.WithCancel(base)
	t := &Task{
		id:        uuid.New().String(),
		sched:     s,
		parent:    parent,
		saga:      saga,
		args:      args,
		awaiting:  make(map[*Task]int),
		bindings:  make(map[string]any),
		ctx:       ctx,
		cancelCtx: cancel,
		done:      make(chan struct{}),
	}
	t.status.Store(int32(effects.StatusRunning))
	if parent != nil {
		parent.children = append(parent.children, t)
	}
	return t
}

// ID returns the task's unique id.
func (t *Task) ID() string {
	return t.id
}

// Status returns the current lifecycle state.
func (t *Task) Status() effects.Status {
	return effects.Status(t.status.Load())
}

// Done is closed once the task is terminal.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Result returns the task's value and error once Done is closed.
// A cancelled task reports effects.ErrTaskCancelled. Before that it returns
// nil, nil.
func (t *Task) Result() (any, error) {
	select {
	case <-t.done:
	default:
		return nil, nil
	}
	switch t.Status() {
	case effects.StatusCancelled:
		return nil, effects.ErrTaskCancelled
	case effects.StatusErrored:
		return nil, t.err
	default:
		return t.value, nil
	}
}

// Wait blocks until the task is terminal or ctx ends.
// Waiting from inside a task body deadlocks; bodies use AwaitChild.
func (t *Task) Wait(ctx context.Context) (any, error) {
	select {
	case <-t.done:
		return t.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RequestCancel cancels the task and its subtree as soon as the loop is free.
func (t *Task) RequestCancel() {
	t.sched.loop.Asap(t.cancelTask)
}

func (t *Task) String() string {
	return fmt.Sprintf("task(%s, %s)", t.id, t.Status())
}

func (t *Task) terminal() bool {
	return t.Status().Terminal()
}

func (t *Task) setStatus(st effects.Status) {
	t.status.Store(int32(st))
}

func (t *Task) info() TaskInfo {
	info := TaskInfo{ID: t.id, Status: t.Status(), Err: t.err}
	if t.parent != nil {
		info.ParentID = t.parent.id
	}
	return info
}

func (t *Task) start() {
	t.startWith(nil)
}

// startWith runs the body up to its first suspending effect.
// A nil body is built from the task's saga.
func (t *Task) startWith(body effects.Body) {
	if t.terminal() {
		return
	}
	t.sched.monitor.TaskStarted(t.info())

	if body == nil {
		var err error
		if body, err = t.makeBody(); err != nil {
			t.bodyDone = true
			t.abort(err)
			return
		}
	}
	t.body = body
	t.resume(effects.Outcome{})
}

func (t *Task) makeBody() (body effects.Body, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = effects.PanicError(r)
		}
	}()
	if t.saga == nil {
		return nil, fmt.Errorf("%w: nil saga", effects.ErrBodyPanic)
	}
	if body = t.saga(t.args...); body == nil {
		return nil, fmt.Errorf("%w: saga returned no body", effects.ErrBodyPanic)
	}
	return body, nil
}

// resume feeds in to the body and keeps stepping for as long as the effects it
// yields resolve synchronously. A resolution arriving while the task is already
// stepping is picked up by the running loop instead of recursing.
func (t *Task) resume(in effects.Outcome) {
	if t.stepping {
		t.syncIn = &in
		return
	}
	t.stepping = true
	defer func() { t.stepping = false }()

	for !t.terminal() {
		t.setStatus(effects.StatusRunning)
		step, err := t.step(in)
		if err != nil {
			t.bodyDone = true
			t.abort(err)
			return
		}
		if step.Done {
			t.finish(step)
			return
		}

		t.perform(step.Effect)
		if t.terminal() {
			return
		}
		if t.syncIn == nil {
			t.setStatus(effects.StatusSuspended)
			return
		}
		in, t.syncIn = *t.syncIn, nil
	}
}

func (t *Task) step(in effects.Outcome) (step effects.Step, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = effects.PanicError(r)
		}
	}()
	return t.body.Next(in), nil
}

// perform hands eff to the interpreter as the task's pending effect.
func (t *Task) perform(eff effects.Effect) {
	s := t.sched
	id := s.nextEffectID()
	s.monitor.EffectTriggered(t.id, id, eff)

	var r *resolver
	r = newResolver(func(out effects.Outcome) {
		if t.pending == r {
			t.pending = nil
		}
		s.monitor.EffectResolved(t.id, id, out)
		t.resume(out)
	})
	r.id = id
	t.pending = r
	t.runEffect(eff, r)
}

// finish handles a body that returned. The task completes once its attached
// children are all terminal.
func (t *Task) finish(step effects.Step) {
	t.bodyDone = true
	if step.Err != nil {
		t.abort(step.Err)
		return
	}
	t.value = step.Value
	if len(t.children) > 0 {
		t.setStatus(effects.StatusSuspended)
		return
	}
	t.terminate(effects.StatusDone)
}

// abort fails the task with err: the pending effect and every child are
// cancelled and the body is stopped.
func (t *Task) abort(err error) {
	if t.terminal() {
		return
	}
	t.setStatus(effects.StatusErrored)
	t.err = err
	t.cancelPending()
	t.cancelChildren()
	t.stopBody()
	t.terminate(effects.StatusErrored)
}

// cancelTask cancels the task and its subtree depth first. Cancelling a
// terminal task does nothing.
func (t *Task) cancelTask() {
	if t.terminal() {
		return
	}
	t.setStatus(effects.StatusCancelled)
	t.cancelPending()
	t.cancelChildren()
	t.stopBody()
	t.terminate(effects.StatusCancelled)
}

func (t *Task) cancelPending() {
	p := t.pending
	if p == nil {
		return
	}
	t.pending = nil
	if p.cancel() {
		t.sched.monitor.EffectCancelled(t.id, p.id)
	}
}

func (t *Task) cancelChildren() {
	for _, child := range slices.Clone(t.children) {
		child.cancelTask()
	}
}

func (t *Task) stopBody() {
	body := t.body
	t.body = nil
	if body == nil || t.bodyDone {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.sched.logger.Warn("task body panicked while stopping",
				zap.String("task", t.id),
				zap.Error(effects.PanicError(r)),
			)
		}
	}()
	body.Stop()
}

// outcome is what tasks awaiting t resume with.
func (t *Task) outcome() effects.Outcome {
	switch t.Status() {
	case effects.StatusCancelled:
		return effects.Outcome{Value: effects.TaskCancelled}
	case effects.StatusErrored:
		return effects.Outcome{Err: t.err}
	default:
		return effects.Outcome{Value: t.value}
	}
}

func (t *Task) terminate(st effects.Status) {
	t.setStatus(st)
	t.cancelCtx()
	for _, ch := range t.channels {
		ch.Close()
	}
	t.channels = nil

	parent := t.parent
	handled := len(t.joiners) > 0
	if parent != nil {
		handled = parent.awaiting[t] > 0
	}
	joiners := t.joiners
	t.joiners = nil

	t.sched.monitor.TaskTerminated(t.info())
	close(t.done)

	out := t.outcome()
	for _, j := range joiners {
		j.resolve(out)
	}
	if parent != nil {
		parent.childTerminated(t, handled)
	} else {
		t.sched.rootTerminated(t, handled)
	}
}

// childTerminated drops child from the task. A child failure nobody awaited
// fails the task.
func (t *Task) childTerminated(child *Task, handled bool) {
	t.children = slices.DeleteFunc(t.children, func(c *Task) bool { return c == child })
	if t.terminal() {
		return
	}
	if child.Status() == effects.StatusErrored && !handled {
		t.abort(child.err)
		return
	}
	if t.bodyDone && len(t.children) == 0 {
		t.terminate(effects.StatusDone)
	}
}

// join resolves r with target's outcome once target is terminal and returns
// the func withdrawing the request.
func (t *Task) join(target *Task, r *resolver) func() {
	if target.terminal() {
		r.resolve(target.outcome())
		return func() {}
	}

	t.awaiting[target]++
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		if t.awaiting[target]--; t.awaiting[target] <= 0 {
			delete(t.awaiting, target)
		}
	}

	j := newResolver(func(out effects.Outcome) {
		release()
		r.resolve(out)
	})
	target.joiners = append(target.joiners, j)

	return func() {
		release()
		j.cancel()
		target.joiners = slices.DeleteFunc(target.joiners, func(o *resolver) bool { return o == j })
	}
}

// lookup finds key in the task's bindings, then its ancestors', then the
// scheduler's.
func (t *Task) lookup(key string) (any, error) {
	for cur := t; cur != nil; cur = cur.parent {
		if v, ok := cur.bindings[key]; ok {
			return v, nil
		}
	}
	if v, ok := t.sched.opts.bindings[key]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: %q", effects.ErrNoBinding, key)
}

// visibleBindings flattens the bindings lookup would see, nearest first.
func (t *Task) visibleBindings() map[string]any {
	out := make(map[string]any)
	for cur := t; cur != nil; cur = cur.parent {
		for k, v := range cur.bindings {
			if _, ok := out[k]; !ok {
				out[k] = v
			}
		}
	}
	return out
}

// reject terminates a task that never started.
func (t *Task) reject(err error) {
	t.err = err
	t.setStatus(effects.StatusErrored)
	t.cancelCtx()
	close(t.done)
}

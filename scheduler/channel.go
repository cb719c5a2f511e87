package scheduler

import (
	"slices"

	"github.com/on-the-ground/effect_ive_saga/effects"
	"github.com/on-the-ground/effect_ive_saga/effects/buffers"
	"github.com/on-the-ground/effect_ive_saga/internal/watchers"
	"go.uber.org/zap"
)

type taker struct {
	cb func(effects.Outcome)
}

// actionChannel buffers the events matching a pattern for the task that
// created it, from creation until that task terminates. Events go straight to
// a pending taker when there is one.
type actionChannel struct {
	owner  *Task
	sub    watchers.ID
	buf    buffers.Buffer[any]
	takers []*taker
	closed bool
}

var _ effects.Channel = (*actionChannel)(nil)

func newActionChannel(owner *Task, p effects.Pattern, buf buffers.Buffer[any]) *actionChannel {
	if buf == nil {
		buf = buffers.Expanding[any](10)
	}
	if p == nil {
		p = effects.Any()
	}
	c := &actionChannel{owner: owner, buf: buf}
	c.sub = owner.sched.watchers.Subscribe(p, c.put)
	return c
}

func (c *actionChannel) put(event any) {
	if c.closed {
		return
	}
	if len(c.takers) > 0 {
		tk := c.takers[0]
		c.takers = c.takers[1:]
		tk.cb(effects.Outcome{Value: event})
		return
	}
	if err := c.buf.Put(event); err != nil {
		c.owner.sched.logger.Warn("action channel dropped an event",
			zap.String("task", c.owner.id),
			zap.Any("event", event),
			zap.Error(err),
		)
	}
}

// Take must be called from the run loop; TakeFrom does so.
func (c *actionChannel) Take(cb func(effects.Outcome)) func() {
	if v, ok := c.buf.Take(); ok {
		cb(effects.Outcome{Value: v})
		return func() {}
	}
	if c.closed {
		cb(effects.Outcome{Err: effects.ErrChannelClosed})
		return func() {}
	}
	tk := &taker{cb: cb}
	c.takers = append(c.takers, tk)
	return func() {
		c.takers = slices.DeleteFunc(c.takers, func(o *taker) bool { return o == tk })
	}
}

func (c *actionChannel) Flush() []any {
	out := c.buf.Flush()
	if out == nil {
		out = []any{}
	}
	return out
}

// Close stops buffering. Events already buffered can still be taken; pending
// takers fail with effects.ErrChannelClosed on the next unit of work.
func (c *actionChannel) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.owner.sched.watchers.Remove(c.sub)

	takers := c.takers
	c.takers = nil
	if len(takers) == 0 {
		return
	}
	c.owner.sched.loop.Asap(func() {
		for _, tk := range takers {
			tk.cb(effects.Outcome{Err: effects.ErrChannelClosed})
		}
	})
}

func (c *actionChannel) Closed() bool {
	return c.closed
}

package scheduler

import (
	"context"

	"github.com/on-the-ground/effect_ive_saga/effects"
	"go.uber.org/zap"
)

// TaskInfo describes a task to a Monitor.
type TaskInfo struct {
	ID       string
	ParentID string
	Status   effects.Status
	Err      error
}

// Monitor observes task and effect lifecycles. Calls happen on the run loop,
// one at a time.
type Monitor interface {
	TaskStarted(task TaskInfo)
	TaskTerminated(task TaskInfo)
	EffectTriggered(taskID string, effectID uint64, eff effects.Effect)
	EffectResolved(taskID string, effectID uint64, out effects.Outcome)
	EffectCancelled(taskID string, effectID uint64)
}

type nopMonitor struct{}

func (nopMonitor) TaskStarted(TaskInfo)                           {}
func (nopMonitor) TaskTerminated(TaskInfo)                        {}
func (nopMonitor) EffectTriggered(string, uint64, effects.Effect) {}
func (nopMonitor) EffectResolved(string, uint64, effects.Outcome) {}
func (nopMonitor) EffectCancelled(string, uint64)                 {}

// Option configures a Scheduler.
type Option func(*options)

type options struct {
	ctx      context.Context
	logger   *zap.Logger
	monitor  Monitor
	onError  func(error)
	bindings map[string]any
}

// WithLogger sets the logger used for scheduler diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMonitor installs a Monitor.
func WithMonitor(m Monitor) Option {
	return func(o *options) {
		o.monitor = m
	}
}

// WithOnError sets the handler for failures of root and detached tasks that no
// other task awaited. The default logs them at error level.
func WithOnError(fn func(error)) Option {
	return func(o *options) {
		o.onError = fn
	}
}

// WithContext sets bindings visible to every task through GetContext.
func WithContext(bindings map[string]any) Option {
	return func(o *options) {
		for k, v := range bindings {
			o.bindings[k] = v
		}
	}
}

// WithBaseContext sets the parent of every task's context.
// Cancelling it does not cancel tasks; it only cancels what Invoke started.
func WithBaseContext(ctx context.Context) Option {
	return func(o *options) {
		o.ctx = ctx
	}
}

func newOptions(opts []Option) options {
	o := options{
		ctx:      context.Background(),
		bindings: make(map[string]any),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			logger = zap.NewNop()
		}
		o.logger = logger
	}
	if o.monitor == nil {
		o.monitor = nopMonitor{}
	}
	if o.ctx == nil {
		o.ctx = context.Background()
	}
	if o.onError == nil {
		logger := o.logger
		o.onError = func(err error) {
			logger.Error("unhandled task failure", zap.Error(err))
		}
	}
	return o
}

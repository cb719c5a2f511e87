package log

import (
	"sync"
	"time"

	"github.com/on-the-ground/effect_ive_saga/effects"
	"github.com/on-the-ground/effect_ive_saga/scheduler"
	"github.com/rickb777/date/v2/timespan"
	"go.uber.org/zap"
)

// Monitor logs task and effect lifecycles. Effect resolutions carry the time
// span the effect was pending.
type Monitor struct {
	logger *zap.Logger
	level  LogLevel
	now    func() time.Time

	mu      sync.Mutex
	pending map[uint64]time.Time
}

var _ scheduler.Monitor = (*Monitor)(nil)

// NewMonitor logs lifecycle events at level. Task failures are always logged
// at warn level or above.
func NewMonitor(logger *zap.Logger, level LogLevel) *Monitor {
	return &Monitor{
		logger:  logger,
		level:   level,
		now:     time.Now,
		pending: make(map[uint64]time.Time),
	}
}

func (m *Monitor) log(msg string, fields ...zap.Field) {
	if ce := m.logger.Check(m.level.zapLevel(), msg); ce != nil {
		ce.Write(fields...)
	}
}

func (m *Monitor) TaskStarted(task scheduler.TaskInfo) {
	m.log("task started",
		zap.String("task", task.ID),
		zap.String("parent", task.ParentID),
	)
}

func (m *Monitor) TaskTerminated(task scheduler.TaskInfo) {
	fields := []zap.Field{
		zap.String("task", task.ID),
		zap.Stringer("status", task.Status),
	}
	if task.Status == effects.StatusErrored {
		m.logger.Warn("task failed", append(fields, zap.Error(task.Err))...)
		return
	}
	m.log("task terminated", fields...)
}

func (m *Monitor) EffectTriggered(taskID string, effectID uint64, eff effects.Effect) {
	m.mu.Lock()
	m.pending[effectID] = m.now()
	m.mu.Unlock()

	m.log("effect triggered",
		zap.String("task", taskID),
		zap.Uint64("effect", effectID),
		zap.String("description", effects.Describe(eff)),
	)
}

func (m *Monitor) EffectResolved(taskID string, effectID uint64, out effects.Outcome) {
	span := m.settle(effectID)
	fields := []zap.Field{
		zap.String("task", taskID),
		zap.Uint64("effect", effectID),
		zap.Time("triggered", span.Start()),
		zap.Duration("pending", span.Duration()),
	}
	if out.Err != nil {
		fields = append(fields, zap.Error(out.Err))
	}
	m.log("effect resolved", fields...)
}

func (m *Monitor) EffectCancelled(taskID string, effectID uint64) {
	span := m.settle(effectID)
	m.log("effect cancelled",
		zap.String("task", taskID),
		zap.Uint64("effect", effectID),
		zap.Duration("pending", span.Duration()),
	)
}

// Pending returns the number of effects triggered but not yet settled.
func (m *Monitor) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Monitor) settle(effectID uint64) timespan.TimeSpan {
	now := m.now()

	m.mu.Lock()
	started, ok := m.pending[effectID]
	delete(m.pending, effectID)
	m.mu.Unlock()

	if !ok {
		started = now
	}
	return timespan.BetweenTimes(started, now)
}

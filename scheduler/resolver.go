package scheduler

import (
	"github.com/on-the-ground/effect_ive_saga/effects"
)

// resolver settles one effect exactly once, either by resolving it or by
// cancelling it.
type resolver struct {
	id       uint64
	settled  bool
	fn       func(effects.Outcome)
	onCancel func()
}

func newResolver(fn func(effects.Outcome)) *resolver {
	return &resolver{fn: fn}
}

// resolve delivers out unless the effect is already settled.
func (r *resolver) resolve(out effects.Outcome) bool {
	if r.settled {
		return false
	}
	r.settled = true
	r.onCancel = nil
	r.fn(out)
	return true
}

// cancelWith sets the cleanup run when the effect is cancelled.
func (r *resolver) cancelWith(fn func()) {
	if r.settled {
		return
	}
	r.onCancel = fn
}

// cancel settles the effect without a result and runs its cleanup.
func (r *resolver) cancel() bool {
	if r.settled {
		return false
	}
	r.settled = true
	fn := r.onCancel
	r.onCancel = nil
	if fn != nil {
		fn()
	}
	return true
}

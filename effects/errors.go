package effects

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskCancelled is returned by Wait and Result on a cancelled task.
	ErrTaskCancelled = errors.New("task cancelled")

	// ErrBodyPanic wraps a panic recovered from a task body or an invoked function.
	ErrBodyPanic = errors.New("task body panicked")

	// ErrAdapterFailure marks unrecoverable faults reported by the event bus.
	ErrAdapterFailure = errors.New("event bus adapter failure")

	ErrSelfJoin      = errors.New("task cannot await itself")
	ErrForeignTask   = errors.New("task handle belongs to another scheduler")
	ErrNoState       = errors.New("event bus does not expose state")
	ErrNoBinding     = errors.New("no context binding for key")
	ErrChannelClosed = errors.New("channel closed")
)

// TaskError reports the failure of a task nobody could observe but the host.
type TaskError struct {
	TaskID string
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.TaskID, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// PanicError converts a recovered panic into an error wrapping ErrBodyPanic.
func PanicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("%w: %w", ErrBodyPanic, err)
	}
	return fmt.Errorf("%w: %v", ErrBodyPanic, r)
}

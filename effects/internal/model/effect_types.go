package effectmodel

// Kind tags an effect descriptor. The interpreter switches exhaustively over it.
type Kind string

const (
	KindWait          Kind = "wait"
	KindEmit          Kind = "emit"
	KindInvoke        Kind = "invoke"
	KindSpawn         Kind = "spawn"
	KindDetach        Kind = "detach"
	KindAwaitChild    Kind = "await_child"
	KindRace          Kind = "race"
	KindAll           Kind = "all"
	KindCancel        Kind = "cancel"
	KindSelect        Kind = "select"
	KindGetContext    Kind = "get_context"
	KindSetContext    Kind = "set_context"
	KindActionChannel Kind = "action_channel"
	KindTakeFrom      Kind = "take_from"
	KindFlush         Kind = "flush"
)

// Status is the lifecycle state of a task.
type Status int32

const (
	StatusRunning Status = iota
	StatusSuspended
	StatusDone
	StatusCancelled
	StatusErrored
)

// Terminal reports whether s is absorbing.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusCancelled || s == StatusErrored
}

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusSuspended:
		return "suspended"
	case StatusDone:
		return "done"
	case StatusCancelled:
		return "cancelled"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

package effects

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/on-the-ground/effect_ive_saga/effects/buffers"
	effectmodel "github.com/on-the-ground/effect_ive_saga/effects/internal/model"
)

// Kind tags an effect descriptor.
type Kind = effectmodel.Kind

const (
	KindWait          = effectmodel.KindWait
	KindEmit          = effectmodel.KindEmit
	KindInvoke        = effectmodel.KindInvoke
	KindSpawn         = effectmodel.KindSpawn
	KindDetach        = effectmodel.KindDetach
	KindAwaitChild    = effectmodel.KindAwaitChild
	KindRace          = effectmodel.KindRace
	KindAll           = effectmodel.KindAll
	KindCancel        = effectmodel.KindCancel
	KindSelect        = effectmodel.KindSelect
	KindGetContext    = effectmodel.KindGetContext
	KindSetContext    = effectmodel.KindSetContext
	KindActionChannel = effectmodel.KindActionChannel
	KindTakeFrom      = effectmodel.KindTakeFrom
	KindFlush         = effectmodel.KindFlush
)

// Effect is a sealed, data-only description of one unit of scheduler-mediated work.
// Only the descriptor types of this package implement it.
// Yielding an Effect has no side effect by itself; the scheduler executes it.
type Effect interface {
	Kind() Kind
	sealedEffect()
}

// InvokeFunc is the function run by an Invoke effect.
//
// The returned value decides how the invoking task resumes:
//   - a Future suspends the task until it settles,
//   - a Body runs as an attached child task and is awaited,
//   - anything else resumes the task synchronously.
//
// ctx is cancelled when the invoking task terminates.
type InvokeFunc func(ctx context.Context, args ...any) (any, error)

// SelectorFunc reads from the bus state for a Select effect.
type SelectorFunc func(state any, args ...any) any

var (
	_ Effect = WaitEffect{}
	_ Effect = EmitEffect{}
	_ Effect = InvokeEffect{}
	_ Effect = SpawnEffect{}
	_ Effect = DetachEffect{}
	_ Effect = AwaitChildEffect{}
	_ Effect = RaceEffect{}
	_ Effect = AllEffect{}
	_ Effect = Effects{}
	_ Effect = CancelEffect{}
	_ Effect = SelectEffect{}
	_ Effect = GetContextEffect{}
	_ Effect = SetContextEffect{}
	_ Effect = ActionChannelEffect{}
	_ Effect = TakeFromEffect{}
	_ Effect = FlushEffect{}
)

// WaitEffect suspends the task until an event matching Pattern is dispatched.
type WaitEffect struct {
	Pattern Pattern
}

func (WaitEffect) Kind() Kind    { return KindWait }
func (WaitEffect) sealedEffect() {}

// Wait builds a WaitEffect.
func Wait(p Pattern) WaitEffect {
	if p == nil {
		p = Any()
	}
	return WaitEffect{Pattern: p}
}

// EmitEffect publishes Event on the bus through the run loop.
type EmitEffect struct {
	Event any
}

func (EmitEffect) Kind() Kind    { return KindEmit }
func (EmitEffect) sealedEffect() {}

// Emit builds an EmitEffect.
func Emit(event any) EmitEffect {
	return EmitEffect{Event: event}
}

// InvokeEffect calls Fn with Args.
type InvokeEffect struct {
	Fn   InvokeFunc
	Args []any
}

func (InvokeEffect) Kind() Kind    { return KindInvoke }
func (InvokeEffect) sealedEffect() {}

// Invoke builds an InvokeEffect.
func Invoke(fn InvokeFunc, args ...any) InvokeEffect {
	return InvokeEffect{Fn: fn, Args: args}
}

// Delay suspends the task for d.
func Delay(d time.Duration) InvokeEffect {
	return Invoke(func(ctx context.Context, _ ...any) (any, error) {
		return After(d), nil
	})
}

// SpawnEffect starts Saga as an attached child task.
type SpawnEffect struct {
	Saga Saga
	Args []any
}

func (SpawnEffect) Kind() Kind    { return KindSpawn }
func (SpawnEffect) sealedEffect() {}

// Spawn builds a SpawnEffect.
func Spawn(saga Saga, args ...any) SpawnEffect {
	return SpawnEffect{Saga: saga, Args: args}
}

// DetachEffect starts Saga as a task with no parent.
// Its failures are reported like a root task's.
type DetachEffect struct {
	Saga Saga
	Args []any
}

func (DetachEffect) Kind() Kind    { return KindDetach }
func (DetachEffect) sealedEffect() {}

// Detach builds a DetachEffect.
func Detach(saga Saga, args ...any) DetachEffect {
	return DetachEffect{Saga: saga, Args: args}
}

// AwaitChildEffect suspends until Task is terminal.
type AwaitChildEffect struct {
	Task Handle
}

func (AwaitChildEffect) Kind() Kind    { return KindAwaitChild }
func (AwaitChildEffect) sealedEffect() {}

// AwaitChild builds an AwaitChildEffect.
func AwaitChild(task Handle) AwaitChildEffect {
	return AwaitChildEffect{Task: task}
}

// RaceEffect resolves with the first of Branches to settle.
type RaceEffect struct {
	Branches map[string]Effect
}

func (RaceEffect) Kind() Kind    { return KindRace }
func (RaceEffect) sealedEffect() {}

// Names returns the branch names in the order the scheduler starts them.
func (r RaceEffect) Names() []string {
	names := make([]string, 0, len(r.Branches))
	for name := range r.Branches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Race builds a RaceEffect.
func Race(branches map[string]Effect) RaceEffect {
	return RaceEffect{Branches: branches}
}

// AllEffect resolves once every member resolved, with results in input order.
type AllEffect struct {
	Members []Effect
}

func (AllEffect) Kind() Kind    { return KindAll }
func (AllEffect) sealedEffect() {}

// All builds an AllEffect.
func All(members ...Effect) AllEffect {
	return AllEffect{Members: members}
}

// Effects is an ordered collection of effects; yielding it is equivalent to All.
type Effects []Effect

func (Effects) Kind() Kind    { return KindAll }
func (Effects) sealedEffect() {}

// CancelEffect cancels Task, or the issuing task itself when Self is set.
type CancelEffect struct {
	Task Handle
	Self bool
}

func (CancelEffect) Kind() Kind    { return KindCancel }
func (CancelEffect) sealedEffect() {}

// Cancel builds a CancelEffect for task.
func Cancel(task Handle) CancelEffect {
	return CancelEffect{Task: task}
}

// CancelSelf builds a CancelEffect that cancels the issuing task.
func CancelSelf() CancelEffect {
	return CancelEffect{Self: true}
}

// SelectEffect resolves with Selector applied to the bus state.
type SelectEffect struct {
	Selector SelectorFunc
	Args     []any
}

func (SelectEffect) Kind() Kind    { return KindSelect }
func (SelectEffect) sealedEffect() {}

// Select builds a SelectEffect. A nil selector resolves with the whole state.
func Select(selector SelectorFunc, args ...any) SelectEffect {
	if selector == nil {
		selector = func(state any, _ ...any) any { return state }
	}
	return SelectEffect{Selector: selector, Args: args}
}

// GetContextEffect resolves with the binding for Key visible to the task.
type GetContextEffect struct {
	Key string
}

func (GetContextEffect) Kind() Kind    { return KindGetContext }
func (GetContextEffect) sealedEffect() {}

// GetContext builds a GetContextEffect.
func GetContext(key string) GetContextEffect {
	return GetContextEffect{Key: key}
}

// SetContextEffect merges Bindings into the task's own bindings.
type SetContextEffect struct {
	Bindings map[string]any
}

func (SetContextEffect) Kind() Kind    { return KindSetContext }
func (SetContextEffect) sealedEffect() {}

// SetContext builds a SetContextEffect.
func SetContext(bindings map[string]any) SetContextEffect {
	return SetContextEffect{Bindings: bindings}
}

// ActionChannelEffect resolves with a Channel buffering events matching Pattern.
type ActionChannelEffect struct {
	Pattern Pattern
	Buffer  buffers.Buffer[any]
}

func (ActionChannelEffect) Kind() Kind    { return KindActionChannel }
func (ActionChannelEffect) sealedEffect() {}

// ActionChannel builds an ActionChannelEffect. A nil buffer means buffers.Expanding.
func ActionChannel(p Pattern, buf buffers.Buffer[any]) ActionChannelEffect {
	if p == nil {
		p = Any()
	}
	return ActionChannelEffect{Pattern: p, Buffer: buf}
}

// TakeFromEffect resolves with the next event buffered in Channel.
type TakeFromEffect struct {
	Channel Channel
}

func (TakeFromEffect) Kind() Kind    { return KindTakeFrom }
func (TakeFromEffect) sealedEffect() {}

// TakeFrom builds a TakeFromEffect.
func TakeFrom(ch Channel) TakeFromEffect {
	return TakeFromEffect{Channel: ch}
}

// FlushEffect resolves with every event buffered in Channel.
type FlushEffect struct {
	Channel Channel
}

func (FlushEffect) Kind() Kind    { return KindFlush }
func (FlushEffect) sealedEffect() {}

// Flush builds a FlushEffect.
func Flush(ch Channel) FlushEffect {
	return FlushEffect{Channel: ch}
}

// Describe renders an effect for logs.
func Describe(e Effect) string {
	switch e := e.(type) {
	case nil:
		return "nil"
	case WaitEffect:
		return fmt.Sprintf("wait(%v)", e.Pattern)
	case EmitEffect:
		return fmt.Sprintf("emit(%v)", e.Event)
	case RaceEffect:
		return fmt.Sprintf("race(%v)", e.Names())
	case AllEffect:
		return fmt.Sprintf("all(%d)", len(e.Members))
	case Effects:
		return fmt.Sprintf("all(%d)", len(e))
	case GetContextEffect:
		return fmt.Sprintf("getContext(%s)", e.Key)
	default:
		return string(e.Kind())
	}
}

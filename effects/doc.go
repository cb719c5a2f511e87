// Package effects describes the work a saga asks its scheduler to do.
//
// A saga body never touches the event bus, the clock or other tasks directly.
// It yields effects, plain data values such as Wait, Emit, Invoke or Race,
// and the scheduler executes them and resumes the body with the outcome.
//
// # Effects
//
//   - Wait(pattern): suspend until a matching event is dispatched
//   - Emit(event): publish an event on the bus
//   - Invoke(fn, args...): call a function; Futures and Bodies suspend the task
//   - Spawn(saga, args...), Detach(saga, args...): start child or root tasks
//   - AwaitChild(handle), Cancel(handle), CancelSelf(): join and cancel
//   - Race(map), All(list...) and Effects{...}: compose effects
//   - Select, GetContext, SetContext, ActionChannel, TakeFrom, Flush
//
// # Bodies
//
// A Body is a resumable continuation. StepFunc writes one as an explicit
// state machine; Go writes one as a plain function on top of an iter.Pull
// coroutine, which still never runs in parallel with the scheduler.
//
// Example:
//
//	saga := effects.GoSaga(func(y *effects.Yielder, _ ...any) (any, error) {
//	    ev, err := y.Do(effects.Wait(effects.Type("LOGIN")))
//	    if err != nil {
//	        return nil, err
//	    }
//	    return y.Do(effects.Emit(Welcome{User: ev.(Login).User}))
//	})
package effects

package bus

import (
	"sync"
)

// Reducer folds an event into the state.
type Reducer[S any] func(state S, event any) S

// Store is a Bus that keeps a state reduced from every published event.
// The reducer runs before listeners see the event, so a listener reading State
// observes the event already applied.
type Store[S any] struct {
	*Bus
	mu      sync.RWMutex
	state   S
	reducer Reducer[S]
}

// NewStore creates a store holding initial.
func NewStore[S any](reducer Reducer[S], initial S) *Store[S] {
	return &Store[S]{
		Bus:     New(),
		state:   initial,
		reducer: reducer,
	}
}

// Publish reduces event into the state, then delivers it to listeners.
func (s *Store[S]) Publish(event any) error {
	s.Bus.mu.RLock()
	closed := s.Bus.closed
	s.Bus.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	s.mu.Lock()
	s.state = s.reducer(s.state, event)
	s.mu.Unlock()

	return s.Bus.Publish(event)
}

// State returns the current state. It satisfies scheduler.StateReader.
func (s *Store[S]) State() any {
	return s.Current()
}

// Current returns the current state with its static type.
func (s *Store[S]) Current() S {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

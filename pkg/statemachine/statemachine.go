package statemachine

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidTransition is returned when a transition is not in the table.
var ErrInvalidTransition = errors.New("invalid state transition")

// TransitionFn is called after every successful transition.
type TransitionFn[S comparable] func(from, to S)

// StateMachine is a thread-safe state holder whose transitions are checked
// against a fixed table.
type StateMachine[S comparable] struct {
	mutex        sync.RWMutex
	state        S
	allowed      map[S]map[S]struct{}
	fromAny      map[S]struct{}
	onTransition TransitionFn[S]
}

// NewStateMachine creates a machine in initial that accepts the transitions
// listed in table (from -> allowed targets).
func NewStateMachine[S comparable](initial S, table map[S][]S) *StateMachine[S] {
	sm := &StateMachine[S]{
		state:   initial,
		allowed: make(map[S]map[S]struct{}, len(table)),
		fromAny: make(map[S]struct{}),
	}
	for from, tos := range table {
		set := make(map[S]struct{}, len(tos))
		for _, to := range tos {
			set[to] = struct{}{}
		}
		sm.allowed[from] = set
	}
	return sm
}

// AllowFromAny makes the given states reachable from every state.
func (sm *StateMachine[S]) AllowFromAny(states ...S) {
	sm.mutex.Lock()
	for _, s := range states {
		sm.fromAny[s] = struct{}{}
	}
	sm.mutex.Unlock()
}

// OnTransition sets the hook run after each transition. The hook runs
// without the machine's lock held.
func (sm *StateMachine[S]) OnTransition(fn TransitionFn[S]) {
	sm.mutex.Lock()
	sm.onTransition = fn
	sm.mutex.Unlock()
}

// Current returns the current state.
func (sm *StateMachine[S]) Current() S {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.state
}

// Is reports whether the current state is one of states.
func (sm *StateMachine[S]) Is(states ...S) bool {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	for _, s := range states {
		if sm.state == s {
			return true
		}
	}
	return false
}

func (sm *StateMachine[S]) canLocked(to S) bool {
	if _, ok := sm.fromAny[to]; ok {
		return true
	}
	_, ok := sm.allowed[sm.state][to]
	return ok
}

// Can reports whether moving to `to` is allowed from the current state.
func (sm *StateMachine[S]) Can(to S) bool {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.canLocked(to)
}

// Transition moves to `to` if the table allows it.
func (sm *StateMachine[S]) Transition(to S) error {
	sm.mutex.Lock()
	if !sm.canLocked(to) {
		from := sm.state
		sm.mutex.Unlock()
		return fmt.Errorf("%w: %v -> %v", ErrInvalidTransition, from, to)
	}
	from := sm.state
	sm.state = to
	fn := sm.onTransition
	sm.mutex.Unlock()

	if fn != nil {
		fn(from, to)
	}
	return nil
}

// SetState sets the state without checking the table or running the hook.
func (sm *StateMachine[S]) SetState(s S) {
	sm.mutex.Lock()
	sm.state = s
	sm.mutex.Unlock()
}

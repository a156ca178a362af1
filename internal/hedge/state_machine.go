package hedge

import "sync"

// StateMachine guards the forward-only cycle lifecycle. Unknown transitions
// leave the state unchanged; FAILED is never left.
type StateMachine struct {
	mu    sync.Mutex
	state CycleState
}

func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateOpening}
}

func (s *StateMachine) Current() CycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *StateMachine) Apply(event CycleEvent) CycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nextState(s.state, event)
	return s.state
}

func nextState(current CycleState, event CycleEvent) CycleState {
	switch current {
	case StateOpening:
		if event == EventOpened {
			return StateHolding
		}
		if event == EventOpenFailed {
			return StateFailed
		}
	case StateHolding:
		if event == EventCloseStart {
			return StateClosing
		}
	case StateClosing:
		if event == EventClosed {
			return StateCompleted
		}
		if event == EventCloseFailed {
			return StateFailed
		}
	}
	return current
}

package engine

import "fmt"

// State is the engine lifecycle state.
type State int32

const (
	// StateStopped is the initial and final state.
	StateStopped State = iota
	// StateRunning means the crawl loops are pulling requests.
	StateRunning
	// StatePaused means the crawl loops wait before pulling the next
	// request.
	StatePaused
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StatePaused:
		return "pause"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// transition moves the engine to "to" when the current state is one of
// from. It reports whether the move happened.
func (e *Engine) transition(to State, from ...State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, f := range from {
		if e.state != f {
			continue
		}
		e.state = to
		switch {
		case to == StatePaused:
			e.resume = make(chan struct{})
		case f == StatePaused:
			close(e.resume)
		}
		return true
	}
	return false
}

func (e *Engine) mustTransition(to State, from ...State) {
	if e.transition(to, from...) {
		return
	}
	panic(fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, e.State(), to, e.Name()))
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

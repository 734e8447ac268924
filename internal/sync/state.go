package sync

import (
	"fmt"
	"slices"
	"sync"
)

// State is a worker's position in its per-conversation lifecycle.
type State string

const (
	Idle      State = "IDLE"
	Fetching  State = "FETCHING"
	Merging   State = "MERGING"
	Advancing State = "ADVANCING"
	Done      State = "DONE"
	Failed    State = "FAILED"
)

// validTransitions defines allowed state transitions. Advancing loops back to
// Fetching while the window has more pages.
var validTransitions = map[State][]State{
	Idle:      {Fetching, Failed},
	Fetching:  {Merging, Done, Failed},
	Merging:   {Advancing, Failed},
	Advancing: {Fetching, Done, Failed},
	Done:      {},
	Failed:    {},
}

// Machine tracks one worker's state and rejects invalid transitions.
type Machine struct {
	mu      sync.Mutex
	current State
}

// NewMachine creates a machine in the Idle state.
func NewMachine() *Machine {
	return &Machine{current: Idle}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	m.current = to
	return nil
}

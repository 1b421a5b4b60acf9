package calls

import "sync"

// SessionState is the in-process state of one call attempt. It is the
// authoritative contract for what each side may do next; the persisted
// CallStatus trails it.
type SessionState string

const (
	// StateRinging is the initial state for both sides: the caller enters it
	// on Initiate, the callee on receiving the invitation.
	StateRinging SessionState = "ringing"
	// StateConnecting begins when the callee accepts and negotiation starts.
	StateConnecting SessionState = "connecting"
	// StateConnected is entered once the transport reports connectivity.
	StateConnected SessionState = "connected"

	StateEnded    SessionState = "ended"
	StateDeclined SessionState = "declined"
	StateMissed   SessionState = "missed"
)

func (s SessionState) Terminal() bool {
	switch s {
	case StateEnded, StateDeclined, StateMissed:
		return true
	default:
		return false
	}
}

// transitions is the authoritative table. Declined is reachable only from
// ringing; missed and ended absorb from any live state.
var transitions = map[SessionState]map[SessionState]bool{
	StateRinging: {
		StateConnecting: true,
		StateDeclined:   true,
		StateMissed:     true,
		StateEnded:      true,
	},
	StateConnecting: {
		StateConnected: true,
		StateMissed:    true,
		StateEnded:     true,
	},
	StateConnected: {
		StateMissed: true,
		StateEnded:  true,
	},
}

// Machine guards the per-call state and rejects invalid transitions.
// Safe for concurrent use: inbound signals race with local commands.
type Machine struct {
	mu     sync.Mutex
	callID string
	state  SessionState
}

func NewMachine(callID string) *Machine {
	return &Machine{callID: callID, state: StateRinging}
}

func (m *Machine) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to next, or fails with StaleCallError leaving the state
// untouched. Transitioning to the current state is a no-op (signals can be
// delivered more than once).
func (m *Machine) Transition(op string, next SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == next {
		return nil
	}
	if !transitions[m.state][next] {
		return &StaleCallError{CallID: m.callID, State: m.state, Op: op}
	}
	m.state = next
	return nil
}

// Terminal reports whether the call has reached an absorbing state.
// All further signals for the call must be ignored once this is true.
func (m *Machine) Terminal() bool {
	return m.State().Terminal()
}

package calls

import (
	"errors"
	"testing"
)

func TestMachineHappyPath(t *testing.T) {
	m := NewMachine("c1")
	if m.State() != StateRinging {
		t.Fatalf("initial state = %v, want ringing", m.State())
	}
	for _, next := range []SessionState{StateConnecting, StateConnected, StateEnded} {
		if err := m.Transition("test", next); err != nil {
			t.Fatalf("transition to %v: %v", next, err)
		}
	}
	if !m.Terminal() {
		t.Fatalf("expected terminal after ended")
	}
}

func TestMachineRejectsSkippingConnecting(t *testing.T) {
	m := NewMachine("c1")
	err := m.Transition("test", StateConnected)
	if err == nil {
		t.Fatalf("expected error for ringing -> connected")
	}
	var stale *StaleCallError
	if !errors.As(err, &stale) {
		t.Fatalf("expected StaleCallError, got %T", err)
	}
	if stale.State != StateRinging {
		t.Fatalf("stale state = %v, want ringing", stale.State)
	}
	if m.State() != StateRinging {
		t.Fatalf("state changed on rejected transition")
	}
}

func TestMachineDeclineOnlyFromRinging(t *testing.T) {
	m := NewMachine("c1")
	if err := m.Transition("test", StateDeclined); err != nil {
		t.Fatalf("ringing -> declined: %v", err)
	}

	m = NewMachine("c2")
	if err := m.Transition("test", StateConnecting); err != nil {
		t.Fatalf("ringing -> connecting: %v", err)
	}
	if err := m.Transition("test", StateDeclined); err == nil {
		t.Fatalf("expected error for connecting -> declined")
	}
}

func TestMachineTerminalAbsorbs(t *testing.T) {
	m := NewMachine("c1")
	if err := m.Transition("test", StateEnded); err != nil {
		t.Fatalf("ringing -> ended: %v", err)
	}
	for _, next := range []SessionState{StateConnecting, StateConnected, StateRinging, StateMissed} {
		if err := m.Transition("test", next); err == nil {
			t.Fatalf("expected error for ended -> %v", next)
		}
	}
	if m.State() != StateEnded {
		t.Fatalf("state left ended")
	}
}

func TestMachineSameStateIsNoop(t *testing.T) {
	m := NewMachine("c1")
	if err := m.Transition("test", StateConnecting); err != nil {
		t.Fatalf("ringing -> connecting: %v", err)
	}
	// Duplicate delivery of the same signal must not fail.
	if err := m.Transition("test", StateConnecting); err != nil {
		t.Fatalf("connecting -> connecting: %v", err)
	}
}

func TestMachineMissedFromAnyLiveState(t *testing.T) {
	for _, setup := range [][]SessionState{
		{},
		{StateConnecting},
		{StateConnecting, StateConnected},
	} {
		m := NewMachine("c1")
		for _, st := range setup {
			if err := m.Transition("setup", st); err != nil {
				t.Fatalf("setup transition to %v: %v", st, err)
			}
		}
		if err := m.Transition("test", StateMissed); err != nil {
			t.Fatalf("missed from %v: %v", m.State(), err)
		}
	}
}

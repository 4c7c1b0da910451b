package turn

import (
	"errors"
	"testing"
)

func TestMachine_InitialPhase(t *testing.T) {
	m := NewMachine(nil)

	if m.Phase() != PhaseIdle {
		t.Errorf("expected PhaseIdle, got %v", m.Phase())
	}
	if m.Phase().IsTerminal() {
		t.Error("expected IDLE to be non-terminal")
	}
}

func TestMachine_FullTurn(t *testing.T) {
	m := NewMachine(nil)

	for _, p := range []Phase{PhaseListening, PhaseProcessing, PhaseResponding, PhaseListening} {
		if err := m.Transition(p); err != nil {
			t.Fatalf("transition to %v: unexpected error: %v", p, err)
		}
	}
	if !m.Is(PhaseListening) {
		t.Errorf("expected LISTENING, got %v", m.Phase())
	}
}

func TestMachine_EndingFlow(t *testing.T) {
	m := NewMachine(nil)
	for _, p := range []Phase{PhaseListening, PhaseProcessing, PhaseResponding, PhaseEnding, PhaseEnded} {
		if err := m.Transition(p); err != nil {
			t.Fatalf("transition to %v: %v", p, err)
		}
	}

	if err := m.Transition(PhaseListening); !errors.Is(err, ErrConversationEnded) {
		t.Errorf("expected ErrConversationEnded, got %v", err)
	}

	m.Reset()
	if m.Phase() != PhaseIdle {
		t.Errorf("expected IDLE after reset, got %v", m.Phase())
	}
}

func TestMachine_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []Phase
		next Phase
	}{
		{"idle to responding", nil, PhaseResponding},
		{"idle to ended", nil, PhaseEnded},
		{"listening to ending", []Phase{PhaseListening}, PhaseEnding},
		{"processing to ended", []Phase{PhaseListening, PhaseProcessing}, PhaseEnded},
		{"ending to listening", []Phase{PhaseListening, PhaseProcessing, PhaseResponding, PhaseEnding}, PhaseListening},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(nil)
			for _, p := range tt.path {
				if err := m.Transition(p); err != nil {
					t.Fatalf("setup transition to %v: %v", p, err)
				}
			}
			before := m.Phase()
			if err := m.Transition(tt.next); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
			if m.Phase() != before {
				t.Errorf("phase changed on rejected transition: %v", m.Phase())
			}
		})
	}
}

func TestMachine_SamePhaseIsNoOp(t *testing.T) {
	calls := 0
	m := NewMachine(func(from, to Phase) { calls++ })

	m.Transition(PhaseListening)
	m.Transition(PhaseListening)

	if calls != 1 {
		t.Errorf("expected 1 change notification, got %d", calls)
	}
}

func TestMachine_OnChange(t *testing.T) {
	var got [][2]Phase
	m := NewMachine(func(from, to Phase) { got = append(got, [2]Phase{from, to}) })

	m.Transition(PhaseListening)
	m.Reset()
	m.Reset()

	want := [][2]Phase{{PhaseIdle, PhaseListening}, {PhaseListening, PhaseIdle}}
	if len(got) != len(want) {
		t.Fatalf("expected %d notifications, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPhase_String(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{PhaseIdle, "IDLE"},
		{PhaseListening, "LISTENING"},
		{PhaseProcessing, "PROCESSING"},
		{PhaseResponding, "RESPONDING"},
		{PhaseEnding, "ENDING"},
		{PhaseEnded, "ENDED"},
		{Phase(42), "UNKNOWN(42)"},
	}

	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.want {
			t.Errorf("Phase(%d).String() = %q, want %q", tt.phase, got, tt.want)
		}
	}
}

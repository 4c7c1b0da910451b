// Package turn provides the conversation phase machine.
package turn

import (
	"errors"
	"fmt"
	"sync"
)

// Phase represents where a conversation is in its turn loop.
type Phase int

const (
	// PhaseIdle - No conversation is running.
	PhaseIdle Phase = iota
	// PhaseListening - Waiting for the user to finish an utterance.
	PhaseListening
	// PhaseProcessing - Waiting for the chat reply.
	PhaseProcessing
	// PhaseResponding - Revealing and speaking the reply.
	PhaseResponding
	// PhaseEnding - Generating the interview summary.
	PhaseEnding
	// PhaseEnded - The interview is over. Terminal.
	PhaseEnded
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseListening:
		return "LISTENING"
	case PhaseProcessing:
		return "PROCESSING"
	case PhaseResponding:
		return "RESPONDING"
	case PhaseEnding:
		return "ENDING"
	case PhaseEnded:
		return "ENDED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", p)
	}
}

// IsTerminal returns true for ENDED.
func (p Phase) IsTerminal() bool {
	return p == PhaseEnded
}

// Errors for invalid phase transitions.
var (
	ErrInvalidTransition = errors.New("invalid phase transition")
	ErrConversationEnded = errors.New("conversation has ended")
)

// allowed lists the legal targets for each phase. Any phase may return to
// IDLE when the conversation is stopped or a summary fails.
//
//	IDLE → LISTENING → PROCESSING → RESPONDING → LISTENING
//	                        │            │
//	                        │            └──→ ENDING → ENDED
//	                        └──→ LISTENING (error)
//
// A typed message may start PROCESSING straight from RESPONDING while the
// resume cooldown is still pending.
var allowed = map[Phase][]Phase{
	PhaseIdle:       {PhaseListening, PhaseProcessing},
	PhaseListening:  {PhaseProcessing, PhaseIdle},
	PhaseProcessing: {PhaseResponding, PhaseListening, PhaseIdle},
	PhaseResponding: {PhaseListening, PhaseProcessing, PhaseEnding, PhaseIdle},
	PhaseEnding:     {PhaseEnded, PhaseIdle},
}

// Machine manages the phase of one conversation.
// Thread-safe for concurrent access.
type Machine struct {
	mu       sync.RWMutex
	phase    Phase
	onChange func(from, to Phase)
}

// NewMachine creates a machine in IDLE. onChange may be nil; it is called
// after every effective transition with the machine unlocked.
func NewMachine(onChange func(from, to Phase)) *Machine {
	return &Machine{phase: PhaseIdle, onChange: onChange}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// Is reports whether the current phase is p.
func (m *Machine) Is(p Phase) bool {
	return m.Phase() == p
}

// Transition moves to next. Transitioning to the current phase is a no-op.
func (m *Machine) Transition(next Phase) error {
	m.mu.Lock()
	from := m.phase
	if from == next {
		m.mu.Unlock()
		return nil
	}
	if from.IsTerminal() {
		m.mu.Unlock()
		return ErrConversationEnded
	}
	if !canTransition(from, next) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, next)
	}
	m.phase = next
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(from, next)
	}
	return nil
}

// Reset returns to IDLE from any phase, including ENDED.
func (m *Machine) Reset() {
	m.mu.Lock()
	from := m.phase
	m.phase = PhaseIdle
	m.mu.Unlock()

	if from != PhaseIdle && m.onChange != nil {
		m.onChange(from, PhaseIdle)
	}
}

func canTransition(from, to Phase) bool {
	for _, p := range allowed[from] {
		if p == to {
			return true
		}
	}
	return false
}

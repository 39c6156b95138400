package domain

import (
	"fmt"
	"strings"
)

// State is a position in a transfer's lifecycle.
type State string

const (
	// StateRequested means recorded but not yet handed to the external processor.
	StateRequested State = "Requested"
	// StateSubmitted means claimed by exactly one worker and being processed.
	StateSubmitted State = "Submitted"
	// StateConfirmed means the external leg settled. Terminal.
	StateConfirmed State = "Confirmed"
	// StateFailed means the external processor rejected the transfer or the
	// attempt budget ran out. Terminal.
	StateFailed State = "Failed"
)

// IsTerminal reports whether no further transition is permitted.
func (s State) IsTerminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// machine maps each reachable state to its single required predecessor.
type machine map[State]State

// Withdrawals mirror deposits: both pass through Submitted so the single
// in-flight slot applies to either kind.
var machines = map[Kind]machine{
	KindDeposit: {
		StateSubmitted: StateRequested,
		StateConfirmed: StateSubmitted,
		StateFailed:    StateSubmitted,
	},
	KindWithdrawal: {
		StateSubmitted: StateRequested,
		StateConfirmed: StateSubmitted,
		StateFailed:    StateSubmitted,
	},
}

// States returns every state of the kind's machine, initial state first.
func (k Kind) States() []State {
	if _, ok := machines[k]; !ok {
		return nil
	}
	return []State{StateRequested, StateSubmitted, StateConfirmed, StateFailed}
}

// InitialState is the state every new transfer is recorded in.
func (k Kind) InitialState() State {
	return StateRequested
}

// ParseState validates that value names a state of the kind's machine.
func ParseState(kind Kind, value string) (State, error) {
	for _, state := range kind.States() {
		if value == string(state) {
			return state, nil
		}
	}
	return "", fmt.Errorf("%w: %q is not a %s state", ErrInvalidStateValue, value, strings.ToLower(string(kind)))
}

// Predecessor returns the state a transfer must be in to move to target.
func Predecessor(kind Kind, target State) (State, bool) {
	m, ok := machines[kind]
	if !ok {
		return "", false
	}
	prev, ok := m[target]
	return prev, ok
}

// CheckTransition decides whether current may move to target.
// A write to the current state is an idempotent no-op; anything other than
// the machine's single forward edge into target is illegal.
func CheckTransition(kind Kind, current, target State) (noop bool, err error) {
	if _, err := ParseState(kind, string(target)); err != nil {
		return false, err
	}
	if current == target {
		return true, nil
	}
	if current.IsTerminal() {
		return false, fmt.Errorf("%w: %s is terminal", ErrIllegalTransition, current)
	}
	prev, ok := Predecessor(kind, target)
	if !ok || prev != current {
		return false, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, target)
	}
	return false, nil
}

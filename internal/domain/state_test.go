package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckTransitionForwardEdges(t *testing.T) {
	for _, kind := range Kinds() {
		noop, err := CheckTransition(kind, StateRequested, StateSubmitted)
		require.NoError(t, err)
		assert.False(t, noop)

		noop, err = CheckTransition(kind, StateSubmitted, StateConfirmed)
		require.NoError(t, err)
		assert.False(t, noop)

		noop, err = CheckTransition(kind, StateSubmitted, StateFailed)
		require.NoError(t, err)
		assert.False(t, noop)
	}
}

func TestCheckTransitionSameStateIsNoop(t *testing.T) {
	for _, state := range KindDeposit.States() {
		noop, err := CheckTransition(KindDeposit, state, state)
		require.NoError(t, err)
		assert.True(t, noop, "state %s", state)
	}
}

func TestCheckTransitionRejectsSkipsAndBackwardMoves(t *testing.T) {
	cases := []struct {
		name    string
		current State
		target  State
	}{
		{"skip submitted", StateRequested, StateConfirmed},
		{"skip to failed", StateRequested, StateFailed},
		{"backward", StateSubmitted, StateRequested},
		{"out of confirmed", StateConfirmed, StateSubmitted},
		{"confirmed to failed", StateConfirmed, StateFailed},
		{"out of failed", StateFailed, StateRequested},
	}

	for _, kind := range Kinds() {
		for _, tc := range cases {
			t.Run(string(kind)+"/"+tc.name, func(t *testing.T) {
				_, err := CheckTransition(kind, tc.current, tc.target)
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrIllegalTransition))
			})
		}
	}
}

func TestCheckTransitionUnknownTarget(t *testing.T) {
	_, err := CheckTransition(KindDeposit, StateRequested, State("Bogus"))
	require.ErrorIs(t, err, ErrInvalidStateValue)
}

func TestParseState(t *testing.T) {
	state, err := ParseState(KindWithdrawal, "Submitted")
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, state)

	_, err = ParseState(KindDeposit, "submitted")
	assert.ErrorIs(t, err, ErrInvalidStateValue)

	_, err = ParseState(Kind("Refund"), "Requested")
	assert.ErrorIs(t, err, ErrInvalidStateValue)
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, StateRequested.IsTerminal())
	assert.False(t, StateSubmitted.IsTerminal())
	assert.True(t, StateConfirmed.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
}

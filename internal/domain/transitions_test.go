package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to RunStatus
		want     bool
	}{
		{RunStatusCreated, RunStatusRunning, true},
		{RunStatusCreated, RunStatusCancelled, true},
		{RunStatusCreated, RunStatusError, true},
		{RunStatusCreated, RunStatusCompleted, false},
		{RunStatusRunning, RunStatusCompleted, true},
		{RunStatusRunning, RunStatusCreated, false},
		{RunStatusCompleted, RunStatusRunning, false},
		{RunStatusCancelled, RunStatusError, false},
		{RunStatusError, RunStatusCompleted, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTransitionErrorUnwraps(t *testing.T) {
	err := error(&TransitionError{From: RunStatusCompleted, To: RunStatusRunning})
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Contains(t, err.Error(), "completed -> running")
}

func TestTerminalStatuses(t *testing.T) {
	assert.False(t, RunStatusCreated.IsTerminal())
	assert.False(t, RunStatusRunning.IsTerminal())
	assert.True(t, RunStatusCompleted.IsTerminal())
	assert.True(t, RunStatusError.IsTerminal())
	assert.True(t, RunStatusCancelled.IsTerminal())
	assert.False(t, RunStatus("paused").Valid())
}

package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunState_SuccessPath(t *testing.T) {
	path := []RunState{StateNotRunning, StateInitializing, StateRunning, StatePostSimulationCalculus, StateFinished}
	for i := 0; i+1 < len(path); i++ {
		assert.True(t, path[i].CanTransition(path[i+1]), "%s -> %s", path[i], path[i+1])
	}
	assert.False(t, StateNotRunning.CanTransition(StateRunning), "states cannot be skipped")
	assert.False(t, StateRunning.CanTransition(StateInitializing), "no backwards transitions")
}

func TestRunState_FailureReachableFromNonTerminal(t *testing.T) {
	for _, s := range []RunState{StateNotRunning, StateInitializing, StateRunning, StatePostSimulationCalculus} {
		assert.False(t, s.IsTerminal())
		assert.True(t, s.CanTransition(StateError), "%s -> ERROR", s)
		assert.True(t, s.CanTransition(StateCanceled), "%s -> CANCELED", s)
	}
}

func TestRunState_TerminalStatesAreFinal(t *testing.T) {
	for _, s := range []RunState{StateFinished, StateError, StateCanceled} {
		assert.True(t, s.IsTerminal())
		assert.False(t, s.CanTransition(StateError))
		assert.False(t, s.CanTransition(StateCanceled))
	}
}

func TestNewSimulationRun(t *testing.T) {
	a, b := NewSimulationRun("a"), NewSimulationRun("b")
	assert.Equal(t, StateNotRunning, a.State)
	assert.NotEqual(t, a.ID, b.ID)
}

package sim

import (
	"time"

	"github.com/google/uuid"
)

// RunState is the lifecycle state of a simulation run.
type RunState string

const (
	StateNotRunning             RunState = "NOT_RUNNING"
	StateInitializing           RunState = "INITIALIZING"
	StateRunning                RunState = "RUNNING"
	StatePostSimulationCalculus RunState = "POST_SIMULATION_CALCULATIONS"
	StateFinished               RunState = "FINISHED"
	StateError                  RunState = "ERROR"
	StateCanceled               RunState = "CANCELED"
)

// forward lists the single successor of each state on the success path.
var forward = map[RunState]RunState{
	StateNotRunning:             StateInitializing,
	StateInitializing:           StateRunning,
	StateRunning:                StatePostSimulationCalculus,
	StatePostSimulationCalculus: StateFinished,
}

// IsTerminal reports whether no further transition is possible.
func (s RunState) IsTerminal() bool {
	return s == StateFinished || s == StateError || s == StateCanceled
}

// CanTransition reports whether s may move to next. ERROR and CANCELED are
// reachable from every non-terminal state.
func (s RunState) CanTransition(next RunState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StateError || next == StateCanceled {
		return true
	}
	return forward[s] == next
}

// SimulationRun is the persisted record of one run.
type SimulationRun struct {
	ID             uuid.UUID `yaml:"id"`
	Name           string    `yaml:"name"`
	State          RunState  `yaml:"state"`
	StartTime      time.Time `yaml:"start_time,omitempty"`
	EndTime        time.Time `yaml:"end_time,omitempty"`
	Iterations     int       `yaml:"iterations"`
	PeriodCount    int       `yaml:"period_count"`
	ConfigSnapshot string    `yaml:"config_snapshot,omitempty"`
}

// NewSimulationRun creates a run record in NOT_RUNNING.
func NewSimulationRun(name string) *SimulationRun {
	return &SimulationRun{ID: uuid.New(), Name: name, State: StateNotRunning}
}

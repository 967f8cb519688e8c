package orchestrator

import (
	stderrors "errors"
	"time"

	"github.com/riskgrid/riskgrid/sim"
)

// Cancel marks the run canceled. In-flight worker computation is not
// interrupted; the run fails at the orchestrator's next checkpoint. A running
// post-aggregation is asked to stop. No-op once the run has ended.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.IsTerminal() {
		return
	}
	o.log.Info("simulation canceled")
	o.canceled = true
	if o.state == sim.StatePostSimulationCalculus && o.deps.PostAggregator != nil {
		o.deps.PostAggregator.Stop()
	}
	o.state = sim.StateCanceled
	if o.run != nil {
		o.run.State = sim.StateCanceled
	}
	o.broadcastLocked()
}

// Progress returns the run's completion percentage. While the jobs run it is
// the mean of the latest progress reported by every dispatched job, counting
// silent jobs as 0. During post-aggregation it is the post-aggregator's.
func (o *Orchestrator) Progress() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progressLocked()
}

func (o *Orchestrator) progressLocked() int {
	if o.state == sim.StatePostSimulationCalculus && o.deps.PostAggregator != nil {
		return o.deps.PostAggregator.Progress()
	}
	if len(o.progress) == 0 {
		return 0
	}
	if len(o.jobs) == 0 {
		panic("progress reported without dispatched jobs")
	}
	sum := 0
	for _, p := range o.progress {
		sum += p
	}
	return sum / len(o.jobs)
}

// EstimatedEnd extrapolates the run's end from the elapsed time and progress
// while running, or defers to the post-aggregator. Undefined at zero progress.
func (o *Orchestrator) EstimatedEnd() (time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case sim.StateRunning:
		progress := o.progressLocked()
		if progress <= 0 {
			return time.Time{}, false
		}
		now := time.Now()
		onePercent := now.Sub(o.startTime) / time.Duration(progress)
		return now.Add(onePercent * time.Duration(100-progress)), true
	case sim.StatePostSimulationCalculus:
		if o.deps.PostAggregator != nil {
			return o.deps.PostAggregator.EstimatedEnd()
		}
	}
	return time.Time{}, false
}

// State returns the current run state.
func (o *Orchestrator) State() sim.RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Errors returns every error recorded so far.
func (o *Orchestrator) Errors() []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]error(nil), o.errs...)
}

// Err joins the recorded errors; ErrCanceled is included when the run was
// canceled. Nil when nothing went wrong.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	errs := append([]error(nil), o.errs...)
	if o.canceled {
		errs = append([]error{ErrCanceled}, errs...)
	}
	return stderrors.Join(errs...)
}

// ReceivedMessages returns the number of messages ingested.
func (o *Orchestrator) ReceivedMessages() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.received
}

// Record returns a copy of the run record, or nil before Map.
func (o *Orchestrator) Record() *sim.SimulationRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == nil {
		return nil
	}
	r := *o.run
	return &r
}

// Jobs returns the dispatched jobs in creation order.
func (o *Orchestrator) Jobs() []*sim.SimulationJob {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*sim.SimulationJob(nil), o.jobs...)
}

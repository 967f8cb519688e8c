package orchestrator

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/riskgrid/riskgrid/sim"
	"github.com/riskgrid/riskgrid/sim/grid"
)

// Run executes a complete simulation: map, dispatch every job, gather the job
// summaries, reduce. It returns true when the run finished; otherwise the
// returned error joins everything that went wrong.
func (o *Orchestrator) Run(ctx context.Context, candidates []grid.Node, cfg *sim.Configuration) (bool, error) {
	if _, err := o.Map(ctx, candidates, cfg); err != nil {
		return false, err
	}

	var results []sim.JobResult
	if o.State() == sim.StateRunning {
		results = o.dispatch(ctx)
	}
	if !o.Reduce(ctx, results) {
		return false, o.Err()
	}
	return true, nil
}

// dispatch starts every job and waits for all of their summaries. A job that
// could not be started yields a summary carrying the error.
func (o *Orchestrator) dispatch(ctx context.Context) []sim.JobResult {
	jobs := o.Jobs()
	pending := make([]<-chan sim.JobResult, 0, len(jobs))
	var results []sim.JobResult
	for _, job := range jobs {
		ch, err := o.deps.Grid.Execute(ctx, job)
		if err != nil {
			now := time.Now()
			results = append(results, sim.JobResult{
				JobID: job.ID, NodeID: job.NodeID, StartTime: now, EndTime: now,
				Err: errors.WithMessage(err, "dispatching job"),
			})
			continue
		}
		pending = append(pending, ch)
	}
	o.log.Infof("dispatched %d jobs", len(pending))
	for _, ch := range pending {
		if r, ok := <-ch; ok {
			results = append(results, r)
		}
	}
	return results
}

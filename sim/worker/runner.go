// Package worker executes a job's blocks on one node and streams the results
// back to the coordinator.
package worker

import (
	"context"
	"maps"
	"time"

	"github.com/pkg/errors"
	"github.com/riskgrid/riskgrid/sim"
	"github.com/riskgrid/riskgrid/sim/dataflow"
	"github.com/riskgrid/riskgrid/sim/model"
	"github.com/sirupsen/logrus"
)

// Runner executes jobs. One Runner serves every job of a node; it is safe for
// concurrent use.
type Runner struct {
	pool  *GraphPool
	build GraphFactory
}

// NewRunner creates a Runner that builds graphs from the job's model.
func NewRunner() *Runner {
	return NewRunnerWithFactory(BuildGraph)
}

// NewRunnerWithFactory creates a Runner using build to construct graphs.
func NewRunnerWithFactory(build GraphFactory) *Runner {
	return &Runner{pool: NewGraphPool(), build: build}
}

// Pool exposes the runner's graph pool.
func (r *Runner) Pool() *GraphPool { return r.pool }

// BuildGraph builds the job's model with the run's parameters. Resource values
// are applied first in load order; explicit configuration parameters win.
func BuildGraph(job *sim.SimulationJob) (*dataflow.Graph, error) {
	return model.Build(&job.Configuration.Model, JobParameters(job))
}

// JobParameters merges the job's resources and configuration parameters.
func JobParameters(job *sim.SimulationJob) map[string]float64 {
	params := make(map[string]float64)
	for _, res := range job.Resources {
		if res != nil {
			maps.Copy(params, res.Values)
		}
	}
	maps.Copy(params, job.Configuration.Parameters)
	return params
}

// Run computes every block of job in order. After each block one message per
// aggregated path is sent. The job stops at the first calculation error or
// when ctx is canceled; both are reported in the result's Err.
func (r *Runner) Run(ctx context.Context, job *sim.SimulationJob, send func(sim.ResultTransferObject)) sim.JobResult {
	cfg := job.Configuration
	result := sim.JobResult{
		JobID:       job.ID,
		NodeID:      job.NodeID,
		StartTime:   time.Now(),
		PeriodCount: cfg.PeriodCount,
	}

	g, err := r.pool.Acquire(job, r.build)
	if err != nil {
		r.pool.Release(job, nil)
		result.Err = errors.WithMessagef(err, "job %s: building graph", job.ID)
		result.EndTime = time.Now()
		return result
	}

	streams := sim.NewStreamFamily(sim.NewSimulationKey(cfg.Seed))
	out := newEmitter(job.Aggregators)
	total := job.Iterations()

	result.Err = r.runBlocks(ctx, job, g, streams, out, total, send, &result)
	if result.Err != nil {
		r.pool.Release(job, nil)
		logrus.Warnf("job %s on %s stopped after %d/%d iterations: %v", job.ID, job.NodeID, result.CompletedIterations, total, result.Err)
	} else {
		r.pool.Release(job, g)
		logrus.Debugf("job %s on %s completed %d iterations, %d messages", job.ID, job.NodeID, result.CompletedIterations, result.TotalMessagesSent)
	}
	result.EndTime = time.Now()
	return result
}

func (r *Runner) runBlocks(ctx context.Context, job *sim.SimulationJob, g *dataflow.Graph, streams *sim.StreamFamily,
	out *emitter, total int, send func(sim.ResultTransferObject), result *sim.JobResult) error {
	periods := job.Configuration.PeriodCount
	for _, block := range job.Blocks {
		rng := streams.ForStream(block.StreamOffset)
		for it := block.IterationOffset; it < block.End(); it++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			out.beginIteration(it)
			for period := 0; period < periods; period++ {
				cycle := dataflow.CycleContext{Iteration: it, Period: period, Rand: rng, Emit: out.emit}
				if err := g.RunCycle(cycle); err != nil {
					return err
				}
			}
			out.endIteration()
			result.CompletedIterations++
		}
		progress := 100
		if total > 0 {
			progress = result.CompletedIterations * 100 / total
		}
		for _, msg := range out.flush(job.ID, progress) {
			send(msg)
			result.TotalMessagesSent++
		}
	}
	return nil
}

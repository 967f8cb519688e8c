package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/riskgrid/riskgrid/sim"
	"github.com/riskgrid/riskgrid/sim/trace"
)

// OnMessage ingests one streamed result. It may be called concurrently.
// Messages of jobs this run did not dispatch are dropped.
func (o *Orchestrator) OnMessage(msg sim.ResultTransferObject) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.jobIDs[msg.JobID] {
		o.log.Debugf("dropping message of unknown job %s", msg.JobID)
		return
	}
	if o.sinkClosed {
		o.log.Debugf("dropping late message of job %s", msg.JobID)
		return
	}
	o.received++
	d := msg.Descriptor
	resolved := sim.ResolvedResult{
		PathID:      o.deps.Mapping.LookupPath(d.Path),
		CollectorID: o.deps.Mapping.LookupCollector(d.Collector),
		FieldID:     o.deps.Mapping.LookupField(d.Field),
		Descriptor:  d,
		Values:      msg.Values,
	}
	if err := o.deps.Sink.WriteResult(resolved); err != nil {
		o.errs = append(o.errs, errors.WithMessagef(err, "writing result %s of job %s", d.Path, msg.JobID))
	}
	o.progress[msg.JobID] = msg.Progress
	o.broadcastLocked()
}

// broadcastLocked wakes every goroutine blocked in the reduce wait.
func (o *Orchestrator) broadcastLocked() {
	close(o.wake)
	o.wake = make(chan struct{})
}

// Reduce aggregates the job summaries, waits for every announced message and
// finalizes the run. It returns true only if the run reached FINISHED.
//
// Worker errors, a wait timeout, an interrupted wait, a sink failure and
// cancellation all delete the run record and return false. The state ends as
// ERROR, or CANCELED when the run was canceled.
func (o *Orchestrator) Reduce(ctx context.Context, results []sim.JobResult) bool {
	o.mu.Lock()
	mapped := o.run != nil
	o.mu.Unlock()
	if !mapped {
		panic("Reduce() called before Map()")
	}
	total, completed, periods := 0, 0, 1
	failed := false
	for _, r := range results {
		if r.PeriodCount > 0 {
			periods = r.PeriodCount
		}
		total += r.TotalMessagesSent
		completed += r.CompletedIterations
		o.log.Infof("job %s on %s executed in %s", r.JobID, r.NodeID, r.EndTime.Sub(r.StartTime))
		if r.Err != nil {
			o.log.Errorf("error in job %s on %s: %v", r.JobID, r.NodeID, r.Err)
			o.addError(fmt.Errorf("%w: job %s on %s: %w", ErrWorkerFailed, r.JobID, r.NodeID, r.Err))
			failed = true
		}
		o.opts.Trace.RecordCompletion(trace.CompletionRecord{
			JobID:      r.JobID.String(),
			NodeID:     string(r.NodeID),
			Iterations: r.CompletedIterations,
			Messages:   r.TotalMessagesSent,
			Duration:   r.EndTime.Sub(r.StartTime),
			Failed:     r.Err != nil,
		})
	}

	// A failed worker does not stop the others' messages from being ingested.
	if err := o.waitForMessages(ctx, total); err != nil {
		o.addError(err)
		failed = true
	}
	if err := o.closeSink(); err != nil {
		o.addError(errors.Wrap(err, "closing result sink"))
		failed = true
	}
	o.stopListeningOnce()

	o.mu.Lock()
	canceled := o.canceled
	failed = failed || len(o.errs) > 0
	received := o.received
	o.mu.Unlock()
	if failed || canceled {
		o.abort()
		return false
	}
	o.log.Infof("received %d messages, sent %d messages", received, total)

	if !o.postAggregate(ctx) {
		return false
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.canceled {
		o.deleteLocked()
		return false
	}
	o.run.EndTime = time.Now()
	o.run.Iterations = completed
	o.run.PeriodCount = periods
	o.run.State = sim.StateFinished
	if err := o.deps.Store.Save(o.run); err != nil {
		o.run.State = o.state
		o.errs = append(o.errs, errors.Wrap(err, "saving run"))
		o.deleteLocked()
		o.transitionLocked(sim.StateError)
		return false
	}
	o.transitionLocked(sim.StateFinished)
	o.log.Infof("simulation completed in %s", o.run.EndTime.Sub(o.startTime))
	return true
}

func (o *Orchestrator) postAggregate(ctx context.Context) bool {
	if !o.transition(sim.StatePostSimulationCalculus) {
		o.abort()
		return false
	}
	pa := o.deps.PostAggregator
	if pa == nil {
		return true
	}
	err := pa.Calculate(ctx)
	o.mu.Lock()
	canceled := o.canceled
	o.mu.Unlock()
	if canceled {
		o.abort()
		return false
	}
	if err != nil {
		o.addError(fmt.Errorf("%w: %w", ErrPostAggregation, err))
		o.abort()
		return false
	}
	return true
}

// waitForMessages blocks until total messages were received, the timeout
// elapses, the run is canceled or ctx ends.
func (o *Orchestrator) waitForMessages(ctx context.Context, total int) error {
	timeout := o.opts.WaitTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	start := time.Now()
	for {
		o.mu.Lock()
		if o.canceled {
			o.mu.Unlock()
			return ErrCanceled
		}
		received := o.received
		wake := o.wake
		o.mu.Unlock()
		if received >= total {
			return nil
		}
		o.log.Debugf("not all messages received yet (%d/%d), waiting", received, total)

		select {
		case <-wake:
			if o.opts.WaitPolicy == WaitPolicyProgress {
				timer.Reset(timeout)
			}
		case <-timer.C:
			return errors.Wrapf(ErrWaitTimeout, "received %d of %d messages after %s", received, total, time.Since(start).Round(time.Millisecond))
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
		}
	}
}

func (o *Orchestrator) closeSink() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sinkClosed {
		return nil
	}
	o.sinkClosed = true
	return o.deps.Sink.Close()
}

func (o *Orchestrator) deleteLocked() {
	if err := o.deps.Store.Delete(o.run); err != nil {
		o.errs = append(o.errs, errors.Wrap(err, "deleting run"))
	}
}

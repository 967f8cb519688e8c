// Package orchestrator coordinates one distributed simulation run: it
// partitions the iteration space into jobs, dispatches them across the grid,
// collects the streamed results and finalizes the run.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/riskgrid/riskgrid/sim"
	"github.com/riskgrid/riskgrid/sim/grid"
	"github.com/riskgrid/riskgrid/sim/model"
	"github.com/riskgrid/riskgrid/sim/trace"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Orchestrator drives one run through map, reduce and post-aggregation. The
// message callback and the reduce wait share one mutex guarding the message
// counter, the per-job progress and the run state.
type Orchestrator struct {
	deps Dependencies
	opts Options
	log  *logrus.Entry

	mu            sync.Mutex
	run           *sim.SimulationRun
	state         sim.RunState
	canceled      bool
	jobs          []*sim.SimulationJob
	jobIDs        map[uuid.UUID]bool
	progress      map[uuid.UUID]int
	received      int
	wake          chan struct{}
	sinkClosed    bool
	stopListening func()
	startTime     time.Time
	errs          []error
}

// New creates an Orchestrator. Panics if a required dependency is missing or
// opts is invalid.
func New(deps Dependencies, opts Options) *Orchestrator {
	if deps.Grid == nil || deps.Sink == nil || deps.Mapping == nil || deps.Store == nil {
		panic("orchestrator.New: Grid, Sink, Mapping and Store are required")
	}
	if err := opts.Validate(); err != nil {
		panic("orchestrator.New: " + err.Error())
	}
	if deps.Selection == nil {
		deps.Selection = grid.AllNodes{}
	}
	return &Orchestrator{
		deps:     deps,
		opts:     opts.withDefaults(),
		log:      logrus.WithField("component", "orchestrator"),
		state:    sim.StateNotRunning,
		jobIDs:   make(map[uuid.UUID]bool),
		progress: make(map[uuid.UUID]int),
		wake:     make(chan struct{}),
	}
}

// Map prepares the run and partitions it into jobs assigned to nodes.
//
// Usable nodes are chosen by the node selection. The configuration is cloned
// once per CPU slot across those nodes, blocks are dealt round-robin into the
// clones, and every non-empty clone becomes a job. Jobs are dealt round-robin
// onto the nodes and stamped with the number of jobs sharing their node.
//
// Any failure closes the result sink, deletes the run record, moves the run
// to ERROR (unless it was canceled) and is returned. Setup is never retried.
func (o *Orchestrator) Map(ctx context.Context, candidates []grid.Node, cfg *sim.Configuration) (assignment map[sim.NodeID][]*sim.SimulationJob, err error) {
	o.mu.Lock()
	if o.run != nil {
		o.mu.Unlock()
		panic("Map() called more than once")
	}
	o.run = sim.NewSimulationRun(cfg.Name)
	o.log = o.log.WithField("run", o.run.ID)
	o.mu.Unlock()

	defer func() {
		if err != nil {
			o.log.Errorf("error setting up simulation: %v", err)
			o.addError(err)
			o.stopListeningOnce()
			if cerr := o.closeSink(); cerr != nil {
				o.addError(errors.Wrap(cerr, "closing result sink"))
			}
			o.abort()
		}
	}()

	nodes := o.deps.Selection.Filter(candidates)
	if len(nodes) == 0 {
		return nil, errors.WithStack(ErrNoUsableNodes)
	}
	o.transition(sim.StateInitializing)
	start := time.Now()

	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid configuration")
	}
	if _, err := model.Build(&cfg.Model, cfg.Parameters); err != nil {
		return nil, errors.WithMessage(err, "importing model structure")
	}
	o.deps.Mapping.Prime(cfg.CollectedPaths())
	snapshot, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling configuration snapshot")
	}
	resources, err := o.loadResources(ctx, cfg.Resources)
	if err != nil {
		return nil, err
	}

	slotCount := o.deps.Selection.TotalCPUCount(nodes)
	if slotCount < 1 {
		slotCount = len(nodes)
	}
	blocks, err := sim.GenerateBlocks(cfg.BlockSize, cfg.Iterations)
	if err != nil {
		return nil, err
	}
	o.log.Infof("generated %d blocks for %d slots on %d nodes", len(blocks), slotCount, len(nodes))

	coordinator := o.deps.Grid.LocalNode().ID
	var jobs []*sim.SimulationJob
	for _, slot := range sim.AssignToSlots(blocks, slotCount) {
		if len(slot) == 0 {
			continue
		}
		clone := cfg.Clone()
		clone.Blocks = slot
		clone.LoadedResources = resources
		job := &sim.SimulationJob{
			ID:            uuid.New(),
			RunID:         o.run.ID,
			Coordinator:   coordinator,
			Blocks:        clone.Blocks,
			Configuration: clone,
			Resources:     resources,
			Aggregators:   cfg.Aggregators,
		}
		jobs = append(jobs, job)
		o.log.Debugf("created job %s with %d blocks", job.ID, len(slot))
	}

	stop := o.deps.Grid.Listen(coordinator, o.OnMessage)

	o.mu.Lock()
	o.stopListening = stop
	o.startTime = start
	o.run.StartTime = start
	o.run.ConfigSnapshot = string(snapshot)
	o.jobs = jobs
	for _, job := range jobs {
		o.jobIDs[job.ID] = true
	}
	o.mu.Unlock()
	o.transition(sim.StateRunning)

	assignment = make(map[sim.NodeID][]*sim.SimulationJob)
	for i, job := range jobs {
		node := nodes[i%len(nodes)]
		job.NodeID = node.ID
		assignment[node.ID] = append(assignment[node.ID], job)
	}
	for _, colocated := range assignment {
		for _, job := range colocated {
			job.ColocatedJobs = len(colocated)
		}
	}
	for _, job := range jobs {
		o.opts.Trace.RecordAssignment(trace.AssignmentRecord{
			JobID:         job.ID.String(),
			NodeID:        string(job.NodeID),
			Blocks:        len(job.Blocks),
			Iterations:    job.Iterations(),
			ColocatedJobs: job.ColocatedJobs,
		})
	}

	o.mu.Lock()
	err = o.deps.Store.Save(o.run)
	o.mu.Unlock()
	if err != nil {
		return nil, errors.Wrap(err, "saving run")
	}
	return assignment, nil
}

func (o *Orchestrator) loadResources(ctx context.Context, names []string) ([]*sim.Resource, error) {
	if len(names) == 0 {
		return nil, nil
	}
	if o.deps.Resources == nil {
		return nil, errors.Errorf("configuration uses resources %v but no resource loader is configured", names)
	}
	loaded, err := o.deps.Resources.Load(ctx, names)
	if err != nil {
		return nil, errors.WithMessage(err, "loading resources")
	}
	return loaded, nil
}

// transition moves the run to next. It is a no-op once the run is canceled or
// when the move is not allowed from the current state.
func (o *Orchestrator) transition(next sim.RunState) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transitionLocked(next)
}

func (o *Orchestrator) transitionLocked(next sim.RunState) bool {
	if o.canceled {
		return false
	}
	if !o.state.CanTransition(next) {
		o.log.Warnf("ignoring state change %s -> %s", o.state, next)
		return false
	}
	o.log.Debugf("state %s -> %s", o.state, next)
	o.state = next
	if o.run != nil {
		o.run.State = next
	}
	return true
}

// abort deletes the run record and moves the run to ERROR unless canceled.
func (o *Orchestrator) abort() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run != nil {
		if err := o.deps.Store.Delete(o.run); err != nil {
			o.errs = append(o.errs, errors.Wrap(err, "deleting run"))
		}
	}
	o.transitionLocked(sim.StateError)
}

func (o *Orchestrator) addError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, err)
}

func (o *Orchestrator) stopListeningOnce() {
	o.mu.Lock()
	stop := o.stopListening
	o.stopListening = nil
	o.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Package grid provides the node abstraction jobs are dispatched to, the
// strategies that pick usable nodes, and an in-process grid implementation.
package grid

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/riskgrid/riskgrid/sim"
	"github.com/sirupsen/logrus"
)

// Node is one member of the grid.
type Node struct {
	ID     sim.NodeID        `yaml:"id"`
	CPUs   int               `yaml:"cpus"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

// MessageHandler receives result messages addressed to a coordinator. It may
// be called concurrently.
type MessageHandler func(msg sim.ResultTransferObject)

// Runner executes one job on a node, streaming result messages through send.
type Runner interface {
	Run(ctx context.Context, job *sim.SimulationJob, send func(sim.ResultTransferObject)) sim.JobResult
}

// Grid is the handle the orchestrator dispatches through. It is constructed
// explicitly and injected.
type Grid interface {
	// LocalNode is the node the caller runs on; it acts as coordinator.
	LocalNode() Node
	Nodes() []Node
	// Execute starts job on job.NodeID. The returned channel yields exactly one
	// JobResult and is then closed.
	Execute(ctx context.Context, job *sim.SimulationJob) (<-chan sim.JobResult, error)
	// Listen routes messages addressed to coordinator to handler until stop is called.
	Listen(coordinator sim.NodeID, handler MessageHandler) (stop func())
}

// LocalGrid runs every node in-process. Each node executes at most CPUs jobs
// at a time.
type LocalGrid struct {
	local  Node
	nodes  []Node
	runner Runner
	slots  map[sim.NodeID]chan struct{}

	mu        sync.RWMutex
	listeners map[sim.NodeID]*listener
}

type listener struct {
	handler MessageHandler
}

// NewLocalGrid creates an in-process grid. The local node is added to nodes if
// it is not already among them. Panics if runner is nil.
func NewLocalGrid(local Node, nodes []Node, runner Runner) *LocalGrid {
	if runner == nil {
		panic("NewLocalGrid: runner must not be nil")
	}
	g := &LocalGrid{
		local:     local,
		runner:    runner,
		slots:     make(map[sim.NodeID]chan struct{}),
		listeners: make(map[sim.NodeID]*listener),
	}
	seen := false
	for _, n := range nodes {
		seen = seen || n.ID == local.ID
		g.addNode(n)
	}
	if !seen {
		g.addNode(local)
	}
	return g
}

func (g *LocalGrid) addNode(n Node) {
	g.nodes = append(g.nodes, n)
	g.slots[n.ID] = make(chan struct{}, max(n.CPUs, 1))
}

func (g *LocalGrid) LocalNode() Node { return g.local }

func (g *LocalGrid) Nodes() []Node {
	return append([]Node(nil), g.nodes...)
}

func (g *LocalGrid) Execute(ctx context.Context, job *sim.SimulationJob) (<-chan sim.JobResult, error) {
	slots, ok := g.slots[job.NodeID]
	if !ok {
		return nil, fmt.Errorf("job %s: unknown node %q", job.ID, job.NodeID)
	}
	results := make(chan sim.JobResult, 1)
	go func() {
		defer close(results)
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			now := time.Now()
			results <- sim.JobResult{JobID: job.ID, NodeID: job.NodeID, StartTime: now, EndTime: now, Err: ctx.Err()}
			return
		}
		defer func() { <-slots }()
		results <- g.run(ctx, job)
	}()
	return results, nil
}

func (g *LocalGrid) run(ctx context.Context, job *sim.SimulationJob) (result sim.JobResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("job %s on %s panicked: %v\n%s", job.ID, job.NodeID, r, debug.Stack())
			result = sim.JobResult{
				JobID:     job.ID,
				NodeID:    job.NodeID,
				StartTime: start,
				EndTime:   time.Now(),
				Err:       errors.Errorf("job %s panicked: %v", job.ID, r),
			}
		}
	}()
	send := func(msg sim.ResultTransferObject) { g.deliver(job.Coordinator, msg) }
	return g.runner.Run(ctx, job, send)
}

func (g *LocalGrid) deliver(coordinator sim.NodeID, msg sim.ResultTransferObject) {
	g.mu.RLock()
	l := g.listeners[coordinator]
	g.mu.RUnlock()
	if l == nil {
		logrus.Debugf("no listener on %s, dropping message for job %s", coordinator, msg.JobID)
		return
	}
	l.handler(msg)
}

func (g *LocalGrid) Listen(coordinator sim.NodeID, handler MessageHandler) func() {
	l := &listener{handler: handler}
	g.mu.Lock()
	g.listeners[coordinator] = l
	g.mu.Unlock()
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.listeners[coordinator] == l {
			delete(g.listeners, coordinator)
		}
	}
}

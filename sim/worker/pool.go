package worker

import (
	"sync"

	"github.com/google/uuid"
	"github.com/riskgrid/riskgrid/sim"
	"github.com/riskgrid/riskgrid/sim/dataflow"
	"github.com/sirupsen/logrus"
)

// GraphFactory builds the dataflow graph for a job.
type GraphFactory func(job *sim.SimulationJob) (*dataflow.Graph, error)

// GraphPool keeps built graphs for reuse by the co-located jobs of one run on
// one node. An entry holds at most ColocatedJobs idle graphs and is dropped
// once ColocatedJobs jobs of that run on that node have released their graph.
// Safe for concurrent use, so one pool may serve several nodes.
type GraphPool struct {
	mu      sync.Mutex
	entries map[poolKey]*poolEntry
}

type poolKey struct {
	run  uuid.UUID
	node sim.NodeID
}

type poolEntry struct {
	idle      []*dataflow.Graph
	remaining int // co-located jobs that have not released yet
}

// NewGraphPool creates an empty pool.
func NewGraphPool() *GraphPool {
	return &GraphPool{entries: make(map[poolKey]*poolEntry)}
}

func keyOf(job *sim.SimulationJob) poolKey {
	return poolKey{run: job.RunID, node: job.NodeID}
}

func (p *GraphPool) entry(job *sim.SimulationJob) *poolEntry {
	k := keyOf(job)
	e, ok := p.entries[k]
	if !ok {
		e = &poolEntry{remaining: max(job.ColocatedJobs, 1)}
		p.entries[k] = e
	}
	return e
}

// Acquire returns an idle graph of the job's run on its node, or builds a new one.
func (p *GraphPool) Acquire(job *sim.SimulationJob, build GraphFactory) (*dataflow.Graph, error) {
	p.mu.Lock()
	e := p.entry(job)
	if n := len(e.idle); n > 0 {
		g := e.idle[n-1]
		e.idle = e.idle[:n-1]
		p.mu.Unlock()
		logrus.Debugf("job %s reuses a pooled graph", job.ID)
		return g, nil
	}
	p.mu.Unlock()
	return build(job)
}

// Release returns g to the pool. A graph whose cycle failed is discarded
// rather than reused; pass nil for g in that case or when no graph was built.
func (p *GraphPool) Release(job *sim.SimulationJob, g *dataflow.Graph) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.entry(job)
	e.remaining--
	if e.remaining <= 0 {
		delete(p.entries, keyOf(job))
		return
	}
	if g != nil && len(e.idle) < max(job.ColocatedJobs, 1) {
		g.Reset()
		e.idle = append(e.idle, g)
	}
}

// Idle returns the number of pooled graphs held for runID across all nodes.
func (p *GraphPool) Idle(runID uuid.UUID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for k, e := range p.entries {
		if k.run == runID {
			n += len(e.idle)
		}
	}
	return n
}

// Runs returns the number of live (run, node) entries.
func (p *GraphPool) Runs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

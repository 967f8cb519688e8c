package sim

import (
	"time"

	"github.com/google/uuid"
)

// NodeID identifies a grid node.
type NodeID string

// SimulationJob is a bundle of blocks plus the full configuration, dispatched
// to one grid node. Resources and Aggregators are shared by reference with
// every other job of the run.
type SimulationJob struct {
	ID            uuid.UUID
	RunID         uuid.UUID
	NodeID        NodeID
	Coordinator   NodeID
	Blocks        []SimulationBlock
	Configuration *Configuration
	Resources     []*Resource
	Aggregators   map[string]AggregatorKind
	// ColocatedJobs is how many jobs of the same run landed on NodeID.
	ColocatedJobs int
}

// Iterations returns the number of iterations the job computes.
func (j *SimulationJob) Iterations() int {
	n := 0
	for _, b := range j.Blocks {
		n += b.BlockSize
	}
	return n
}

// ResultDescriptor names what a streamed result carries.
type ResultDescriptor struct {
	Path      string `yaml:"path"`      // "collector:channel"
	Collector string `yaml:"collector"` // collector component name
	Field     string `yaml:"field"`     // collector channel
}

// ResultValue is one aggregated value. Period is -1 for iteration aggregates.
type ResultValue struct {
	Iteration int     `yaml:"iteration"`
	Period    int     `yaml:"period"`
	Value     float64 `yaml:"value"`
}

// ResultTransferObject is a result message streamed from a worker to the
// coordinator while the job runs.
type ResultTransferObject struct {
	JobID      uuid.UUID
	Progress   int // percentage of the job completed, 0..100
	Descriptor ResultDescriptor
	Values     []ResultValue
}

// JobResult is the per-job summary a worker returns when its job ends.
type JobResult struct {
	JobID               uuid.UUID
	NodeID              NodeID
	StartTime           time.Time
	EndTime             time.Time
	TotalMessagesSent   int
	CompletedIterations int
	PeriodCount         int
	Err                 error
}

// ResolvedResult is a result message after path resolution, as handed to a
// ResultSink.
type ResolvedResult struct {
	PathID      int              `yaml:"path_id"`
	CollectorID int              `yaml:"collector_id"`
	FieldID     int              `yaml:"field_id"`
	Descriptor  ResultDescriptor `yaml:"descriptor"`
	Values      []ResultValue    `yaml:"values"`
}

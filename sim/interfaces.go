package sim

import (
	"context"
	"time"
)

// ResultSink persists resolved result messages. Calls are serialized by the
// coordinator.
type ResultSink interface {
	WriteResult(r ResolvedResult) error
	Close() error
}

// MappingCache assigns stable integer ids to result paths, collectors and
// fields for the lifetime of a run.
type MappingCache interface {
	Prime(paths []string)
	LookupPath(path string) int
	LookupCollector(collector string) int
	LookupField(field string) int
}

// PostAggregator turns the streamed raw results into final statistics once
// all messages have arrived.
type PostAggregator interface {
	Calculate(ctx context.Context) error
	// Progress returns a percentage in [0, 100].
	Progress() int
	EstimatedEnd() (time.Time, bool)
	// Stop asks a running Calculate to return at its next checkpoint.
	Stop()
}

// RunStore persists run records.
type RunStore interface {
	Save(run *SimulationRun) error
	Delete(run *SimulationRun) error
}

// ResourceLoader loads the named resources a run depends on.
type ResourceLoader interface {
	Load(ctx context.Context, names []string) ([]*Resource, error)
}

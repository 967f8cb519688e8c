package worker

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/riskgrid/riskgrid/sim"
	"github.com/riskgrid/riskgrid/sim/dataflow"
)

// emitter buffers collector output for one block, condensed per path by the
// path's aggregator. Paths without an aggregator are dropped.
type emitter struct {
	kinds     map[string]sim.AggregatorKind
	paths     []string
	iteration int
	sums      map[string]float64
	values    map[string][]sim.ResultValue
}

func newEmitter(kinds map[string]sim.AggregatorKind) *emitter {
	paths := make([]string, 0, len(kinds))
	for p := range kinds {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return &emitter{
		kinds:  kinds,
		paths:  paths,
		sums:   make(map[string]float64),
		values: make(map[string][]sim.ResultValue),
	}
}

func (e *emitter) beginIteration(iteration int) {
	e.iteration = iteration
	clear(e.sums)
}

func (e *emitter) emit(path string, p dataflow.Packet) {
	switch e.kinds[path] {
	case sim.AggregatePeriods:
		e.values[path] = append(e.values[path], sim.ResultValue{Iteration: e.iteration, Period: p.Period, Value: p.Value})
	case sim.AggregateIteration:
		e.sums[path] += p.Value
	}
}

// endIteration records one value per iteration-aggregated path, zero when the
// path saw no packets, so that every iteration is represented.
func (e *emitter) endIteration() {
	for _, path := range e.paths {
		if e.kinds[path] == sim.AggregateIteration {
			e.values[path] = append(e.values[path], sim.ResultValue{Iteration: e.iteration, Period: -1, Value: e.sums[path]})
		}
	}
}

// flush returns one message per path with buffered values, in path order, and
// empties the buffer.
func (e *emitter) flush(jobID uuid.UUID, progress int) []sim.ResultTransferObject {
	var msgs []sim.ResultTransferObject
	for _, path := range e.paths {
		values := e.values[path]
		if len(values) == 0 {
			continue
		}
		collector, field, _ := strings.Cut(path, ":")
		msgs = append(msgs, sim.ResultTransferObject{
			JobID:      jobID,
			Progress:   progress,
			Descriptor: sim.ResultDescriptor{Path: path, Collector: collector, Field: field},
			Values:     values,
		})
	}
	clear(e.values)
	return msgs
}

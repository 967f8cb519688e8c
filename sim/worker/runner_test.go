package worker

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/riskgrid/riskgrid/sim"
	"github.com/riskgrid/riskgrid/sim/dataflow"
	"github.com/riskgrid/riskgrid/sim/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(periods int) *sim.Configuration {
	return &sim.Configuration{
		Name:        "worker-test",
		Iterations:  20,
		BlockSize:   5,
		PeriodCount: periods,
		Seed:        11,
		Model: model.Spec{
			Components: []model.ComponentSpec{
				{Name: "fire", Type: model.TypeFrequencySeverity, Params: map[string]float64{"frequency": 2, "mu": 6, "sigma": 1}},
				{Name: "xl", Type: model.TypeExcessOfLoss, Params: map[string]float64{"retention": 300, "limit": 1000}},
				{Name: "out", Type: model.TypeCollector, Inputs: []string{"ceded", "net"}},
			},
			Wires: []model.WireSpec{
				{From: "fire.claims", To: "xl.claims"},
				{From: "xl.ceded", To: "out.ceded"},
				{From: "xl.net", To: "out.net"},
			},
		},
		Aggregators: map[string]sim.AggregatorKind{
			"out:ceded": sim.AggregateIteration,
			"out:net":   sim.AggregatePeriods,
		},
	}
}

func testJob(cfg *sim.Configuration, blocks []sim.SimulationBlock) *sim.SimulationJob {
	return &sim.SimulationJob{
		ID:            uuid.New(),
		RunID:         uuid.New(),
		NodeID:        "n1",
		Coordinator:   "coord",
		Blocks:        blocks,
		Configuration: cfg,
		Aggregators:   cfg.Aggregators,
		ColocatedJobs: 1,
	}
}

type collected struct {
	msgs []sim.ResultTransferObject
}

func (c *collected) send(m sim.ResultTransferObject) { c.msgs = append(c.msgs, m) }

func (c *collected) values(path string) []sim.ResultValue {
	var out []sim.ResultValue
	for _, m := range c.msgs {
		if m.Descriptor.Path == path {
			out = append(out, m.Values...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Iteration < out[j].Iteration })
	return out
}

func TestRunner_StreamsOneMessagePerBlockAndPath(t *testing.T) {
	// GIVEN a job of two blocks with one iteration-aggregated path
	cfg := testConfig(2)
	cfg.Aggregators = map[string]sim.AggregatorKind{"out:ceded": sim.AggregateIteration}
	blocks, err := sim.GenerateBlocks(5, 10)
	require.NoError(t, err)
	job := testJob(cfg, blocks)

	// WHEN it runs
	var out collected
	res := NewRunner().Run(context.Background(), job, out.send)

	// THEN one message per block arrives, each covering every iteration
	require.NoError(t, res.Err)
	assert.Equal(t, 10, res.CompletedIterations)
	assert.Equal(t, 2, res.PeriodCount)
	assert.Equal(t, 2, res.TotalMessagesSent)
	require.Len(t, out.msgs, 2)
	assert.Equal(t, []int{50, 100}, []int{out.msgs[0].Progress, out.msgs[1].Progress})
	for _, m := range out.msgs {
		assert.Equal(t, job.ID, m.JobID)
		assert.Equal(t, sim.ResultDescriptor{Path: "out:ceded", Collector: "out", Field: "ceded"}, m.Descriptor)
		assert.Len(t, m.Values, 5, "iteration aggregate keeps zero iterations")
		for _, v := range m.Values {
			assert.Equal(t, -1, v.Period)
		}
	}
	assert.False(t, res.EndTime.Before(res.StartTime))
}

func TestRunner_PeriodAggregateKeepsPeriods(t *testing.T) {
	cfg := testConfig(3)
	cfg.Model.Components[0].Params = map[string]float64{"frequency": 20, "severity": model.SeverityConstant, "value": 500}
	job := testJob(cfg, []sim.SimulationBlock{{IterationOffset: 0, BlockSize: 4}})

	var out collected
	res := NewRunner().Run(context.Background(), job, out.send)
	require.NoError(t, res.Err)

	net := out.values("out:net")
	require.NotEmpty(t, net)
	periods := map[int]bool{}
	for _, v := range net {
		assert.Equal(t, 300.0, v.Value)
		periods[v.Period] = true
	}
	assert.Equal(t, map[int]bool{0: true, 1: true, 2: true}, periods)
}

func TestRunner_ResultsIndependentOfBlockDistribution(t *testing.T) {
	// GIVEN the same four blocks run as one job or split across two jobs
	cfg := testConfig(2)
	blocks, err := sim.GenerateBlocks(5, 20)
	require.NoError(t, err)
	slots := sim.AssignToSlots(blocks, 2)

	var whole, split collected
	res := NewRunner().Run(context.Background(), testJob(cfg.Clone(), blocks), whole.send)
	require.NoError(t, res.Err)
	for _, slot := range slots {
		res := NewRunner().Run(context.Background(), testJob(cfg.Clone(), slot), split.send)
		require.NoError(t, res.Err)
	}

	// THEN every path yields identical values per iteration
	for path := range cfg.Aggregators {
		assert.Equal(t, whole.values(path), split.values(path), path)
	}
}

func TestRunner_ParametersOverrideResources(t *testing.T) {
	cfg := testConfig(1)
	cfg.Parameters = map[string]float64{"xl.limit": 5}
	job := testJob(cfg, nil)
	job.Resources = []*sim.Resource{
		{Name: "base", Values: map[string]float64{"xl.limit": 1, "xl.retention": 2}},
		{Name: "later", Values: map[string]float64{"xl.retention": 3}},
	}
	assert.Equal(t, map[string]float64{"xl.limit": 5, "xl.retention": 3}, JobParameters(job))
}

func TestRunner_CalculationErrorStopsJob(t *testing.T) {
	failing := func(job *sim.SimulationJob) (*dataflow.Graph, error) {
		g := dataflow.NewGraph()
		_, err := g.Add(dataflow.Declaration{
			Name:    "broken",
			Outputs: []string{"out"},
			Calculator: dataflow.CalculatorFunc(func(c *dataflow.Component) error {
				if c.Cycle().Iteration == 3 {
					return errors.New("negative exposure")
				}
				return nil
			}),
		})
		return g, err
	}
	cfg := testConfig(1)
	job := testJob(cfg, []sim.SimulationBlock{{IterationOffset: 0, BlockSize: 10}})
	var out collected
	res := NewRunnerWithFactory(failing).Run(context.Background(), job, out.send)

	require.Error(t, res.Err)
	var calcErr *dataflow.CalculationError
	require.ErrorAs(t, res.Err, &calcErr)
	assert.Equal(t, "broken", calcErr.Origin())
	assert.Equal(t, 3, res.CompletedIterations)
	assert.Zero(t, res.TotalMessagesSent)
	assert.Empty(t, out.msgs)
}

func TestRunner_BuildErrorReported(t *testing.T) {
	cfg := testConfig(1)
	cfg.Model.Components[1].Params = nil
	res := NewRunner().Run(context.Background(), testJob(cfg, []sim.SimulationBlock{{BlockSize: 1}}), func(sim.ResultTransferObject) {})
	assert.Error(t, res.Err)
	assert.Zero(t, res.CompletedIterations)
}

func TestRunner_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job := testJob(testConfig(1), []sim.SimulationBlock{{IterationOffset: 0, BlockSize: 10}})
	res := NewRunner().Run(ctx, job, func(sim.ResultTransferObject) {})
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Zero(t, res.CompletedIterations)
}

func TestGraphPool_ReusesGraphsAcrossColocatedJobs(t *testing.T) {
	// GIVEN two co-located jobs of the same run
	cfg := testConfig(1)
	runID := uuid.New()
	jobs := make([]*sim.SimulationJob, 2)
	for i := range jobs {
		jobs[i] = testJob(cfg, []sim.SimulationBlock{{IterationOffset: i * 5, BlockSize: 5, StreamOffset: i}})
		jobs[i].RunID = runID
		jobs[i].ColocatedJobs = 2
	}
	builds := 0
	r := NewRunnerWithFactory(func(job *sim.SimulationJob) (*dataflow.Graph, error) {
		builds++
		return BuildGraph(job)
	})

	// WHEN they run one after the other
	res := r.Run(context.Background(), jobs[0], func(sim.ResultTransferObject) {})
	require.NoError(t, res.Err)
	assert.Equal(t, 1, r.Pool().Idle(runID), "graph is pooled for the second job")
	res = r.Run(context.Background(), jobs[1], func(sim.ResultTransferObject) {})
	require.NoError(t, res.Err)

	// THEN the graph was built once and the run's pool entry is gone
	assert.Equal(t, 1, builds)
	assert.Zero(t, r.Pool().Runs())
}

func TestGraphPool_UnevenColocationAcrossNodes(t *testing.T) {
	// GIVEN one pool serving a run with two jobs on node A and one on node B
	runID := uuid.New()
	job := func(node sim.NodeID, colocated int) *sim.SimulationJob {
		return &sim.SimulationJob{ID: uuid.New(), RunID: runID, NodeID: node, ColocatedJobs: colocated}
	}
	a1, a2, b1 := job("A", 2), job("A", 2), job("B", 1)
	pool := NewGraphPool()
	build := func(*sim.SimulationJob) (*dataflow.Graph, error) { return dataflow.NewGraph(), nil }

	// WHEN the jobs finish in the order a1, b1, a2
	for _, j := range []*sim.SimulationJob{a1, b1, a2} {
		g, err := pool.Acquire(j, build)
		require.NoError(t, err)
		pool.Release(j, g)
	}

	// THEN nothing of the run is left behind
	assert.Zero(t, pool.Idle(runID))
	assert.Zero(t, pool.Runs())
}

func TestGraphPool_EntriesAreNodeLocal(t *testing.T) {
	runID := uuid.New()
	a1 := &sim.SimulationJob{ID: uuid.New(), RunID: runID, NodeID: "A", ColocatedJobs: 2}
	b1 := &sim.SimulationJob{ID: uuid.New(), RunID: runID, NodeID: "B", ColocatedJobs: 2}
	pool := NewGraphPool()
	builds := 0
	build := func(*sim.SimulationJob) (*dataflow.Graph, error) {
		builds++
		return dataflow.NewGraph(), nil
	}

	g, err := pool.Acquire(a1, build)
	require.NoError(t, err)
	pool.Release(a1, g)

	// a graph pooled on A is not handed to a job on B
	_, err = pool.Acquire(b1, build)
	require.NoError(t, err)
	assert.Equal(t, 2, builds)
	assert.Equal(t, 1, pool.Idle(runID))
	assert.Equal(t, 2, pool.Runs())
}

func TestEmitter_DropsUnaggregatedPaths(t *testing.T) {
	e := newEmitter(map[string]sim.AggregatorKind{"a:x": sim.AggregatePeriods})
	e.beginIteration(0)
	e.emit("a:x", dataflow.Packet{Period: 0, Value: 1})
	e.emit("b:y", dataflow.Packet{Period: 0, Value: 2})
	e.endIteration()
	msgs := e.flush(uuid.New(), 100)
	require.Len(t, msgs, 1)
	assert.Equal(t, "a:x", msgs[0].Descriptor.Path)
	assert.Empty(t, e.flush(uuid.New(), 100), "flush empties the buffer")
}

func ExampleJobParameters() {
	job := &sim.SimulationJob{
		Configuration: &sim.Configuration{Parameters: map[string]float64{"fire.frequency": 4}},
		Resources:     []*sim.Resource{{Name: "rates", Values: map[string]float64{"fire.frequency": 1, "fire.mu": 7}}},
	}
	params := JobParameters(job)
	fmt.Println(params["fire.frequency"], params["fire.mu"])
	// Output: 4 7
}

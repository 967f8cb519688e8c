package grid

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/riskgrid/riskgrid/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runnerFunc func(ctx context.Context, job *sim.SimulationJob, send func(sim.ResultTransferObject)) sim.JobResult

func (f runnerFunc) Run(ctx context.Context, job *sim.SimulationJob, send func(sim.ResultTransferObject)) sim.JobResult {
	return f(ctx, job, send)
}

func sendingRunner(n int) runnerFunc {
	return func(_ context.Context, job *sim.SimulationJob, send func(sim.ResultTransferObject)) sim.JobResult {
		for i := 0; i < n; i++ {
			send(sim.ResultTransferObject{JobID: job.ID, Progress: (i + 1) * 100 / n})
		}
		return sim.JobResult{JobID: job.ID, NodeID: job.NodeID, TotalMessagesSent: n}
	}
}

func TestLocalGrid_ExecuteDeliversMessagesAndResult(t *testing.T) {
	// GIVEN a grid with a listener on the coordinator
	local := Node{ID: "coord", CPUs: 2}
	g := NewLocalGrid(local, []Node{{ID: "w1", CPUs: 2}}, sendingRunner(5))
	var received atomic.Int32
	stop := g.Listen("coord", func(sim.ResultTransferObject) { received.Add(1) })
	defer stop()

	// WHEN a job runs on w1
	job := &sim.SimulationJob{ID: uuid.New(), NodeID: "w1", Coordinator: "coord"}
	ch, err := g.Execute(context.Background(), job)
	require.NoError(t, err)

	// THEN its messages reach the listener before the result is delivered
	res := <-ch
	assert.Equal(t, 5, res.TotalMessagesSent)
	assert.Equal(t, int32(5), received.Load())
	_, open := <-ch
	assert.False(t, open, "result channel is closed after one result")
	assert.Len(t, g.Nodes(), 2, "local node is added to the node list")
}

func TestLocalGrid_UnknownNode(t *testing.T) {
	g := NewLocalGrid(Node{ID: "coord", CPUs: 1}, nil, sendingRunner(0))
	_, err := g.Execute(context.Background(), &sim.SimulationJob{ID: uuid.New(), NodeID: "ghost"})
	assert.Error(t, err)
}

func TestLocalGrid_PanicBecomesJobError(t *testing.T) {
	g := NewLocalGrid(Node{ID: "coord", CPUs: 1}, nil, runnerFunc(func(context.Context, *sim.SimulationJob, func(sim.ResultTransferObject)) sim.JobResult {
		panic("boom")
	}))
	ch, err := g.Execute(context.Background(), &sim.SimulationJob{ID: uuid.New(), NodeID: "coord"})
	require.NoError(t, err)
	res := <-ch
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "boom")
}

func TestLocalGrid_CPUSlotsLimitConcurrency(t *testing.T) {
	// GIVEN a single node with two CPUs
	var running, peak atomic.Int32
	release := make(chan struct{})
	runner := runnerFunc(func(_ context.Context, job *sim.SimulationJob, _ func(sim.ResultTransferObject)) sim.JobResult {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return sim.JobResult{JobID: job.ID}
	})
	g := NewLocalGrid(Node{ID: "n", CPUs: 2}, nil, runner)

	// WHEN five jobs are started
	var chans []<-chan sim.JobResult
	for i := 0; i < 5; i++ {
		ch, err := g.Execute(context.Background(), &sim.SimulationJob{ID: uuid.New(), NodeID: "n"})
		require.NoError(t, err)
		chans = append(chans, ch)
	}
	require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, time.Millisecond)
	close(release)

	// THEN no more than two ran at once
	for _, ch := range chans {
		<-ch
	}
	assert.Equal(t, int32(2), peak.Load())
}

func TestLocalGrid_CanceledWhileQueued(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	runner := runnerFunc(func(_ context.Context, job *sim.SimulationJob, _ func(sim.ResultTransferObject)) sim.JobResult {
		started <- struct{}{}
		<-block
		return sim.JobResult{JobID: job.ID}
	})
	g := NewLocalGrid(Node{ID: "n", CPUs: 1}, nil, runner)
	first, err := g.Execute(context.Background(), &sim.SimulationJob{ID: uuid.New(), NodeID: "n"})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	second, err := g.Execute(ctx, &sim.SimulationJob{ID: uuid.New(), NodeID: "n"})
	require.NoError(t, err)
	cancel()

	res := <-second
	assert.ErrorIs(t, res.Err, context.Canceled)
	close(block)
	<-first
}

func TestLocalGrid_StopListening(t *testing.T) {
	g := NewLocalGrid(Node{ID: "coord", CPUs: 1}, nil, sendingRunner(3))
	var mu sync.Mutex
	count := 0
	stop := g.Listen("coord", func(sim.ResultTransferObject) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	stop()

	ch, err := g.Execute(context.Background(), &sim.SimulationJob{ID: uuid.New(), NodeID: "coord", Coordinator: "coord"})
	require.NoError(t, err)
	<-ch
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count, "messages after stop are dropped")
}

package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/riskgrid/riskgrid/sim"
	"github.com/riskgrid/riskgrid/sim/orchestrator"
	"github.com/riskgrid/riskgrid/sim/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestExecuteRun_WritesReportResultsAndRecord(t *testing.T) {
	// GIVEN a small run file with a result file and a run store
	dir := t.TempDir()
	resultsPath = filepath.Join(dir, "results.yaml")
	storeDir = filepath.Join(dir, "runs")
	t.Cleanup(func() { resultsPath, storeDir = "", "" })
	rf, err := loadRunFile(writeRunFile(t, smallRunFile))
	require.NoError(t, err)

	// WHEN the run executes
	outcome, err := executeRun(context.Background(), rf, nil)

	// THEN it finishes with statistics over every iteration
	require.NoError(t, err)
	require.Len(t, outcome.Statistics, 1)
	assert.Equal(t, "out:in", outcome.Statistics[0].Path)
	assert.Equal(t, 400, outcome.Statistics[0].Count)
	require.Len(t, outcome.Statistics[0].Quantiles, 1)
	assert.Equal(t, 99.0, outcome.Statistics[0].Quantiles[0].Level)
	assert.Equal(t, sim.StateFinished, outcome.Run.State)

	// AND the trace saw one job per CPU slot
	require.NotNil(t, outcome.Trace)
	assert.Equal(t, 3, outcome.Trace.TotalJobs)
	assert.Equal(t, 400, outcome.Trace.TotalIterations)

	// AND the results file holds one document per message
	data, err := os.ReadFile(resultsPath)
	require.NoError(t, err)
	dec := yaml.NewDecoder(bytes.NewReader(data))
	docs := 0
	for {
		var doc map[string]any
		if dec.Decode(&doc) != nil {
			break
		}
		docs++
	}
	assert.Equal(t, 4, docs)

	// AND the finished run was persisted
	fs, err := store.NewFileStore(storeDir)
	require.NoError(t, err)
	saved, err := fs.Load(outcome.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, sim.StateFinished, saved.State)
	assert.Equal(t, 400, saved.Iterations)
}

func TestExecuteRun_CanceledBeforeStart(t *testing.T) {
	// GIVEN a run canceled before mapping
	rf, err := loadRunFile(writeRunFile(t, smallRunFile))
	require.NoError(t, err)

	// WHEN executed
	_, err = executeRun(context.Background(), rf, func(o *orchestrator.Orchestrator) { o.Cancel() })

	// THEN it reports the cancellation
	assert.ErrorIs(t, err, orchestrator.ErrCanceled)
}

func TestWriteReport(t *testing.T) {
	var buf bytes.Buffer
	outcome := &runOutcome{Run: sim.NewSimulationRun("r")}

	require.NoError(t, writeReport(&buf, outcome))

	assert.Contains(t, buf.String(), "run:")
	assert.Contains(t, buf.String(), "statistics:")
	assert.NotContains(t, buf.String(), "trace:")
}

func TestPrintPartition(t *testing.T) {
	// GIVEN 4500 iterations in blocks of 1000 over two slots
	blocks, err := sim.GenerateBlocks(1000, 4500)
	require.NoError(t, err)

	var buf bytes.Buffer
	printPartition(&buf, blocks, sim.AssignToSlots(blocks, 2))

	out := buf.String()
	assert.Contains(t, out, "5 blocks")
	assert.Contains(t, out, "slot 0: 3 blocks, 2500 iterations")
	assert.Contains(t, out, "slot 1: 2 blocks, 2000 iterations")
}

func TestApplyOverrides_OnlyChangedFlags(t *testing.T) {
	// GIVEN a run file and a command where only --iterations was set
	rf, err := loadRunFile(writeRunFile(t, smallRunFile))
	require.NoError(t, err)
	t.Cleanup(func() { iterations, blockSize = 0, 0 })
	require.NoError(t, runCmd.Flags().Set("iterations", "800"))
	t.Cleanup(func() { runCmd.Flags().Lookup("iterations").Changed = false })

	applyOverrides(runCmd, rf)

	assert.Equal(t, 800, rf.Simulation.Iterations)
	assert.Equal(t, 100, rf.Simulation.BlockSize, "unset flags keep the run file value")
}

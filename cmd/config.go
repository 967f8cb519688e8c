package cmd

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/riskgrid/riskgrid/sim"
	"github.com/riskgrid/riskgrid/sim/grid"
	"github.com/riskgrid/riskgrid/sim/orchestrator"
	"github.com/riskgrid/riskgrid/sim/trace"
	"gopkg.in/yaml.v3"
)

// RunFile is the structure of a run file passed with --config.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type RunFile struct {
	Simulation sim.Configuration `yaml:"simulation"`
	Grid       GridConfig        `yaml:"grid"`
	Reduce     ReduceConfig      `yaml:"reduce"`
	Report     ReportConfig      `yaml:"report"`
}

// GridConfig describes the in-process grid the run executes on.
type GridConfig struct {
	Local          grid.Node   `yaml:"local"`
	Nodes          []grid.Node `yaml:"nodes"`
	Selection      string      `yaml:"selection"`
	SelectionParam int         `yaml:"selection_param"`
}

type ReduceConfig struct {
	WaitTimeout string `yaml:"wait_timeout"` // Go duration, e.g. "90s"
	WaitPolicy  string `yaml:"wait_policy"`
	Trace       string `yaml:"trace"`
}

type ReportConfig struct {
	Levels []float64 `yaml:"levels"`
}

// loadRunFile parses a run file with strict field checking.
func loadRunFile(path string) (*RunFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run file: %w", err)
	}
	var rf RunFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&rf); err != nil {
		return nil, fmt.Errorf("parsing run file %s: %w", path, err)
	}
	return &rf, nil
}

// Validate checks the grid and reduce sections. The simulation section is
// validated by the orchestrator when the run is mapped.
func (rf *RunFile) Validate() error {
	if rf.Grid.Local.ID == "" {
		return fmt.Errorf("grid.local.id must be set")
	}
	if rf.Grid.Local.CPUs < 1 {
		return fmt.Errorf("grid.local.cpus must be >= 1, got %d", rf.Grid.Local.CPUs)
	}
	seen := map[sim.NodeID]bool{rf.Grid.Local.ID: true}
	for i, n := range rf.Grid.Nodes {
		if n.ID == "" {
			return fmt.Errorf("grid.nodes[%d]: id must be set", i)
		}
		if seen[n.ID] {
			return fmt.Errorf("grid.nodes[%d]: duplicate node id %q", i, n.ID)
		}
		seen[n.ID] = true
		if n.CPUs < 0 {
			return fmt.Errorf("grid.nodes[%d]: cpus must be non-negative, got %d", i, n.CPUs)
		}
	}
	if !grid.IsValidNodeSelection(rf.Grid.Selection) {
		return fmt.Errorf("unknown node selection %q; valid: %s", rf.Grid.Selection, strings.Join(grid.ValidNodeSelectionNames(), ", "))
	}
	if _, err := rf.Options(); err != nil {
		return err
	}
	for _, l := range rf.Report.Levels {
		if l <= 0 || l >= 100 {
			return fmt.Errorf("report level must be in (0, 100), got %g", l)
		}
	}
	return nil
}

// Options converts the reduce section into orchestrator options. The trace is
// allocated here so the caller can summarize it after the run.
func (rf *RunFile) Options() (orchestrator.Options, error) {
	var opts orchestrator.Options
	if rf.Reduce.WaitTimeout != "" {
		d, err := time.ParseDuration(rf.Reduce.WaitTimeout)
		if err != nil {
			return opts, fmt.Errorf("reduce.wait_timeout: %w", err)
		}
		opts.WaitTimeout = d
	}
	opts.WaitPolicy = orchestrator.WaitPolicy(rf.Reduce.WaitPolicy)
	if !trace.IsValidTraceLevel(rf.Reduce.Trace) {
		return opts, fmt.Errorf("unknown trace level %q", rf.Reduce.Trace)
	}
	if rf.Reduce.Trace != "" && rf.Reduce.Trace != string(trace.TraceLevelNone) {
		opts.Trace = trace.NewDispatchTrace(trace.TraceConfig{Level: trace.TraceLevel(rf.Reduce.Trace)})
	}
	return opts, opts.Validate()
}

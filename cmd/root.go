package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/riskgrid/riskgrid/sim"
	"github.com/riskgrid/riskgrid/sim/grid"
	"github.com/riskgrid/riskgrid/sim/model"
	"github.com/riskgrid/riskgrid/sim/orchestrator"
	"github.com/riskgrid/riskgrid/sim/result"
	"github.com/riskgrid/riskgrid/sim/store"
	"github.com/riskgrid/riskgrid/sim/trace"
	"github.com/riskgrid/riskgrid/sim/worker"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	// CLI flags for the run file and its overrides
	configPath   string // Path to the YAML run file
	iterations   int    // Overrides simulation.iterations when set
	blockSize    int    // Overrides simulation.block_size when set
	seed         int64  // Overrides simulation.seed when set
	waitTimeout  string // Overrides reduce.wait_timeout when set
	waitPolicy   string // Overrides reduce.wait_policy when set
	selection    string // Overrides grid.selection when set
	traceLevel   string // Overrides reduce.trace when set
	logLevel     string // Log verbosity level
	reportPath   string // Statistics report output; stdout when empty
	resultsPath  string // Streams every received result to this YAML file
	storeDir     string // Persists run records here; in-memory when empty
	resourcesDir string // Directory of <name>.yaml resource files
	slots        int    // Slot count for the blocks command
	traceTopN    int    // Busiest nodes listed in the trace summary
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "riskgrid",
	Short: "Distributed Monte-Carlo risk simulation",
}

// runCmd executes a simulation run on an in-process grid
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation described by a run file",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		rf := mustLoadRunFile(cmd)

		out := io.Writer(os.Stdout)
		if reportPath != "" {
			f, err := os.Create(reportPath)
			if err != nil {
				logrus.Fatalf("Failed to create report file: %v", err)
			}
			defer f.Close()
			out = f
		}

		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(interrupt)

		outcome, err := executeRun(context.Background(), rf, func(o *orchestrator.Orchestrator) {
			go func() {
				if _, ok := <-interrupt; ok {
					logrus.Warn("Interrupt received, canceling simulation")
					o.Cancel()
				}
			}()
		})
		if err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		if err := writeReport(out, outcome); err != nil {
			logrus.Fatalf("Failed to write report: %v", err)
		}
		logrus.Info("Simulation complete.")
	},
}

// blocksCmd prints the partition of an iteration count into blocks and slots
var blocksCmd = &cobra.Command{
	Use:   "blocks",
	Short: "Show how iterations are partitioned into blocks and slots",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		blocks, err := sim.GenerateBlocks(blockSize, iterations)
		if err != nil {
			logrus.Fatalf("Invalid partition: %v", err)
		}
		if slots < 1 {
			logrus.Fatalf("--slots must be >= 1, got %d", slots)
		}
		printPartition(os.Stdout, blocks, sim.AssignToSlots(blocks, slots))
	},
}

// validateCmd checks a run file and builds its model graph once
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a run file and its model",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		rf := mustLoadRunFile(cmd)
		paths, err := validateSimulation(context.Background(), rf)
		if err != nil {
			logrus.Fatalf("Invalid simulation: %v", err)
		}
		fmt.Printf("Run file OK: %d components, %d collected paths\n", len(rf.Simulation.Model.Components), len(paths))
		for _, p := range paths {
			fmt.Printf("  %s (%s)\n", p, aggregatorFor(&rf.Simulation, p))
		}
	},
}

// runOutcome is what a completed run reports.
type runOutcome struct {
	Run        *sim.SimulationRun
	Statistics []result.PathStatistics
	Trace      *trace.TraceSummary // nil when tracing is off
}

// executeRun wires the grid, sinks, store and post-aggregator for rf and runs
// the simulation. onStart is called with the orchestrator before mapping.
func executeRun(ctx context.Context, rf *RunFile, onStart func(*orchestrator.Orchestrator)) (*runOutcome, error) {
	opts, err := rf.Options()
	if err != nil {
		return nil, err
	}
	g := grid.NewLocalGrid(rf.Grid.Local, rf.Grid.Nodes, worker.NewRunner())

	memory := result.NewMemorySink()
	var sink sim.ResultSink = memory
	if resultsPath != "" {
		fileSink, err := result.NewYAMLFileSink(resultsPath)
		if err != nil {
			return nil, err
		}
		sink = result.TeeSink{memory, fileSink}
	}
	stats := result.NewStatistics(memory, rf.Report.Levels)

	var runs sim.RunStore = store.NewMemoryStore()
	if storeDir != "" {
		fs, err := store.NewFileStore(storeDir)
		if err != nil {
			return nil, err
		}
		runs = fs
	}

	o := orchestrator.New(orchestrator.Dependencies{
		Grid:           g,
		Selection:      grid.NewNodeSelection(rf.Grid.Selection, rf.Grid.SelectionParam),
		Sink:           sink,
		Mapping:        result.NewMapping(),
		PostAggregator: stats,
		Store:          runs,
		Resources:      resourceLoader(),
	}, opts)
	if onStart != nil {
		onStart(o)
	}

	logrus.Infof("Starting simulation %q: %d iterations in blocks of %d", rf.Simulation.Name, rf.Simulation.Iterations, rf.Simulation.BlockSize)
	if ok, err := o.Run(ctx, g.Nodes(), &rf.Simulation); !ok {
		return nil, err
	}
	outcome := &runOutcome{Run: o.Record(), Statistics: stats.Report()}
	if opts.Trace.Enabled() {
		outcome.Trace = trace.Summarize(opts.Trace, traceTopN)
	}
	return outcome, nil
}

// validateSimulation checks the configuration, loads its resources and builds
// the model graph with them. Returns the collected result paths.
func validateSimulation(ctx context.Context, rf *RunFile) ([]string, error) {
	cfg := &rf.Simulation
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	resources, err := resourceLoader().Load(ctx, cfg.Resources)
	if err != nil {
		return nil, err
	}
	job := &sim.SimulationJob{Configuration: cfg, Resources: resources}
	if _, err := model.Build(&cfg.Model, worker.JobParameters(job)); err != nil {
		return nil, err
	}
	return cfg.CollectedPaths(), nil
}

func resourceLoader() sim.ResourceLoader {
	if resourcesDir != "" {
		return store.FileResourceLoader{Dir: resourcesDir}
	}
	return store.StaticResources{}
}

func aggregatorFor(cfg *sim.Configuration, path string) string {
	if kind, ok := cfg.Aggregators[path]; ok {
		return string(kind)
	}
	return "not sent"
}

func writeReport(w io.Writer, outcome *runOutcome) error {
	doc := struct {
		Run        *sim.SimulationRun      `yaml:"run"`
		Statistics []result.PathStatistics `yaml:"statistics"`
		Trace      *trace.TraceSummary     `yaml:"trace,omitempty"`
	}{outcome.Run, outcome.Statistics, outcome.Trace}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

func printPartition(w io.Writer, blocks []sim.SimulationBlock, assigned [][]sim.SimulationBlock) {
	fmt.Fprintf(w, "%d blocks\n", len(blocks))
	for _, b := range blocks {
		fmt.Fprintf(w, "  %s\n", b)
	}
	for i, slot := range assigned {
		n := 0
		for _, b := range slot {
			n += b.BlockSize
		}
		fmt.Fprintf(w, "slot %d: %d blocks, %d iterations\n", i, len(slot), n)
	}
}

func setLogLevel() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// mustLoadRunFile loads --config, applies the flags the user set and
// validates the result.
func mustLoadRunFile(cmd *cobra.Command) *RunFile {
	if configPath == "" {
		logrus.Fatalf("--config is required")
	}
	rf, err := loadRunFile(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load run file: %v", err)
	}
	applyOverrides(cmd, rf)
	if err := rf.Validate(); err != nil {
		logrus.Fatalf("Invalid run file: %v", err)
	}
	return rf
}

// applyOverrides copies the explicitly set flags over the run file values.
func applyOverrides(cmd *cobra.Command, rf *RunFile) {
	flags := cmd.Flags()
	if flags.Changed("iterations") {
		rf.Simulation.Iterations = iterations
	}
	if flags.Changed("block-size") {
		rf.Simulation.BlockSize = blockSize
	}
	if flags.Changed("seed") {
		rf.Simulation.Seed = seed
	}
	if flags.Changed("wait-timeout") {
		rf.Reduce.WaitTimeout = waitTimeout
	}
	if flags.Changed("wait-policy") {
		rf.Reduce.WaitPolicy = waitPolicy
	}
	if flags.Changed("selection") {
		rf.Grid.Selection = selection
	}
	if flags.Changed("trace") {
		rf.Reduce.Trace = traceLevel
	}
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	for _, c := range []*cobra.Command{runCmd, validateCmd} {
		c.Flags().StringVarP(&configPath, "config", "c", "", "Path to the YAML run file")
		c.Flags().StringVar(&resourcesDir, "resources", "", "Directory holding <name>.yaml resource files")
		c.Flags().IntVar(&iterations, "iterations", 0, "Override the number of iterations")
		c.Flags().IntVar(&blockSize, "block-size", 0, "Override the iterations per block")
		c.Flags().Int64Var(&seed, "seed", 0, "Override the master seed")
		c.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	}

	// Reduce and grid overrides
	runCmd.Flags().StringVar(&waitTimeout, "wait-timeout", "", "Override the reduce wait timeout (e.g. 90s)")
	runCmd.Flags().StringVar(&waitPolicy, "wait-policy", "", "Override the reduce wait policy (total, progress)")
	runCmd.Flags().StringVar(&selection, "selection", "", "Override the node selection (all, min-cpus, largest-first)")
	runCmd.Flags().StringVar(&traceLevel, "trace", "", "Dispatch trace level (none, jobs)")
	runCmd.Flags().IntVar(&traceTopN, "trace-top", 5, "Busiest nodes listed in the trace summary (0 = all)")

	// Outputs
	runCmd.Flags().StringVar(&reportPath, "report", "", "Write the statistics report to this file instead of stdout")
	runCmd.Flags().StringVar(&resultsPath, "results", "", "Stream every received result to this YAML file")
	runCmd.Flags().StringVar(&storeDir, "store", "", "Persist run records as YAML in this directory")

	blocksCmd.Flags().IntVar(&iterations, "iterations", 1000, "Number of iterations")
	blocksCmd.Flags().IntVar(&blockSize, "block-size", 100, "Iterations per block")
	blocksCmd.Flags().IntVar(&slots, "slots", 1, "Number of execution slots")
	blocksCmd.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(blocksCmd)
	rootCmd.AddCommand(validateCmd)
}

// Package sim holds the shared data model of the riskgrid Monte-Carlo engine.
//
// # Reading Guide
//
// Start with these files:
//   - block.go: how the iteration space is cut into blocks and how each block
//     gets its own random stream offset
//   - config.go: the run configuration and its per-slot Clone
//   - job.go: the job bundle shipped to a node and the messages it sends back
//   - run.go: the run record and its state machine
//
// # Architecture
//
// The sim package defines types and collaborator interfaces; behavior lives in
// sub-packages:
//   - sim/dataflow/: the per-worker push-driven component graph
//   - sim/model/: the component library and the graph builder
//   - sim/worker/: executes one job's blocks on a node
//   - sim/grid/: nodes, node selection and the in-process grid transport
//   - sim/orchestrator/: map phase, message collection, reduce phase
//   - sim/result/: mapping cache, result sinks, statistics post-aggregation
//   - sim/store/: run record persistence and resource loading
//   - sim/trace/: dispatch trace recording
//
// # Key Interfaces
//
//   - ResultSink: persists resolved result messages
//   - MappingCache: stable ids for result paths
//   - PostAggregator: final statistics after the reduce phase
//   - RunStore: persistence of SimulationRun records
//   - ResourceLoader: shared resources loaded before dispatch
package sim

// Package dataflow implements the per-worker execution model: components
// connected by transmitters exchange packets once per cycle.
//
// Execution is push based. The graph executes its source components; each
// component publishes its outputs through its output transmitters, and a
// receiving component executes as soon as the last of its distinct input
// transmitters has delivered. There is no scheduler loop: the graph drives
// itself by edge-completion counting. After executing, a component clears its
// channels and transmitter flags so the next cycle starts from a clean state.
//
// Wiring rules, checked once by Graph.Validate before the first cycle:
//   - an input channel has at most one sender
//   - an output channel has at most one receiver
//   - the graph is acyclic
package dataflow

package dataflow

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Graph holds the components of one worker and the transmitters wiring them.
// Wiring is fixed once the first cycle runs; Validate is performed once.
type Graph struct {
	components   []*Component
	byName       map[string]*Component
	transmitters []*Transmitter
	sources      []*Component
	validated    bool
	cycles       int
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{byName: make(map[string]*Component)}
}

// Add creates a component from decl and adds it to the graph.
func (g *Graph) Add(decl Declaration) (*Component, error) {
	c, err := NewComponent(decl)
	if err != nil {
		return nil, err
	}
	if err := g.AddComponent(c); err != nil {
		return nil, err
	}
	return c, nil
}

// AddComponent adds an already constructed component.
func (g *Graph) AddComponent(c *Component) error {
	if _, exists := g.byName[c.Name()]; exists {
		return errors.Errorf("duplicate component %q", c.Name())
	}
	g.byName[c.Name()] = c
	g.components = append(g.components, c)
	g.validated = false
	return nil
}

// Component returns the named component or nil.
func (g *Graph) Component(name string) *Component { return g.byName[name] }

// Components returns all components in the order they were added.
func (g *Graph) Components() []*Component { return g.components }

// Transmitters returns all transmitters in wiring order.
func (g *Graph) Transmitters() []*Transmitter { return g.transmitters }

// Cycles returns how many cycles completed successfully.
func (g *Graph) Cycles() int { return g.cycles }

// Connect wires the output channel out of from to the input channel in of to.
// Multiplicity is not checked here; see Validate.
func (g *Graph) Connect(from *Component, out string, to *Component, in string, opts ...TransmitterOption) (*Transmitter, error) {
	if g.byName[from.Name()] != from || g.byName[to.Name()] != to {
		return nil, errors.Errorf("cannot connect %s.%s -> %s.%s: component not in graph", from.Name(), out, to.Name(), in)
	}
	source := from.Out(out)
	if source == nil {
		return nil, errors.Errorf("component %s has no output channel %q", from.Name(), out)
	}
	target := to.In(in)
	if target == nil {
		return nil, errors.Errorf("component %s has no input channel %q", to.Name(), in)
	}
	if from == to {
		return nil, errors.Errorf("component %s cannot be wired to itself", from.Name())
	}
	for _, t := range to.inTransmitters {
		if t.source == source && t.target == target {
			return nil, errors.Errorf("duplicate transmitter %s -> %s", source, target)
		}
	}
	t := &Transmitter{source: source, target: target}
	for _, opt := range opts {
		opt(t)
	}
	from.outTransmitters = append(from.outTransmitters, t)
	to.inTransmitters = append(to.inTransmitters, t)
	g.transmitters = append(g.transmitters, t)
	g.validated = false
	return t, nil
}

// ConnectByName wires "component.channel" endpoints.
func (g *Graph) ConnectByName(from, to string, opts ...TransmitterOption) (*Transmitter, error) {
	fromComp, out, err := g.resolve(from)
	if err != nil {
		return nil, err
	}
	toComp, in, err := g.resolve(to)
	if err != nil {
		return nil, err
	}
	return g.Connect(fromComp, out, toComp, in, opts...)
}

func (g *Graph) resolve(endpoint string) (*Component, string, error) {
	name, channel, ok := strings.Cut(endpoint, ".")
	if !ok || name == "" || channel == "" {
		return nil, "", errors.Errorf("endpoint %q must have the form component.channel", endpoint)
	}
	c := g.byName[name]
	if c == nil {
		return nil, "", errors.Errorf("endpoint %q: unknown component %q", endpoint, name)
	}
	return c, channel, nil
}

// SenderCount returns the number of transmitters writing into ch.
func (g *Graph) SenderCount(ch *PacketChannel) int {
	n := 0
	for _, t := range g.transmitters {
		if t.target == ch {
			n++
		}
	}
	return n
}

// ReceiverCount returns the number of transmitters reading from ch.
func (g *Graph) ReceiverCount(ch *PacketChannel) int {
	n := 0
	for _, t := range g.transmitters {
		if t.source == ch {
			n++
		}
	}
	return n
}

// IsOneSenderWired reports whether at most one transmitter writes into ch.
func (g *Graph) IsOneSenderWired(ch *PacketChannel) bool {
	return g.SenderCount(ch) <= 1
}

// IsOneReceiverWired reports whether at most one transmitter reads from ch.
func (g *Graph) IsOneReceiverWired(ch *PacketChannel) bool {
	return g.ReceiverCount(ch) <= 1
}

// Validate checks the wiring: every input channel has at most one sender, every
// output channel at most one receiver, and the graph is acyclic. All
// violations are reported together. Unwired channels are allowed.
func (g *Graph) Validate() error {
	var problems []string
	for _, c := range g.components {
		for _, ch := range c.InputChannels() {
			if !g.IsOneSenderWired(ch) {
				problems = append(problems, fmt.Sprintf("input %s has %d senders", ch, g.SenderCount(ch)))
			}
		}
		for _, ch := range c.OutputChannels() {
			if !g.IsOneReceiverWired(ch) {
				problems = append(problems, fmt.Sprintf("output %s has %d receivers", ch, g.ReceiverCount(ch)))
			}
		}
	}
	if cyclic := g.cyclicComponents(); len(cyclic) > 0 {
		problems = append(problems, fmt.Sprintf("cycle through components %s", strings.Join(cyclic, ", ")))
	}
	if len(problems) > 0 {
		return errors.Errorf("invalid wiring: %s", strings.Join(problems, "; "))
	}
	g.sources = g.sources[:0]
	for _, c := range g.components {
		if c.IsSource() {
			g.sources = append(g.sources, c)
		}
	}
	g.validated = true
	return nil
}

// cyclicComponents returns the names of components that can never become
// ready because they sit on or behind a cycle (Kahn's algorithm).
func (g *Graph) cyclicComponents() []string {
	pending := make(map[*Component]int, len(g.components))
	var ready []*Component
	for _, c := range g.components {
		pending[c] = len(c.inTransmitters)
		if pending[c] == 0 {
			ready = append(ready, c)
		}
	}
	for len(ready) > 0 {
		c := ready[0]
		ready = ready[1:]
		for _, t := range c.outTransmitters {
			next := t.target.owner
			pending[next]--
			if pending[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	var names []string
	for _, c := range g.components {
		if pending[c] > 0 {
			names = append(names, c.Name())
		}
	}
	return names
}

// Sources returns the components without input transmitters, in the order
// they were added. Only meaningful after Validate.
func (g *Graph) Sources() []*Component { return g.sources }

// Reset resets every component. Calling it repeatedly is harmless.
func (g *Graph) Reset() {
	for _, c := range g.components {
		c.Reset()
	}
}

// RunCycle computes one cycle: it executes every source component in order and
// lets the transmitters drive the rest of the graph. Every component must
// have executed exactly once when the sources are done.
func (g *Graph) RunCycle(cycle CycleContext) error {
	if !g.validated {
		if err := g.Validate(); err != nil {
			return err
		}
	}
	g.Reset()
	before := make([]int, len(g.components))
	for i, c := range g.components {
		c.setCycle(&cycle)
		before[i] = c.executions
	}
	for _, src := range g.sources {
		if err := src.Execute(); err != nil {
			g.Reset()
			return err
		}
	}
	for i, c := range g.components {
		if fired := c.executions - before[i]; fired != 1 {
			received := c.transmittedInputs
			g.Reset()
			return errors.Errorf("component %s executed %d times in cycle (iteration %d, period %d; %d of %d inputs delivered)",
				c.Name(), fired, cycle.Iteration, cycle.Period, received, len(c.inTransmitters))
		}
	}
	g.cycles++
	return nil
}

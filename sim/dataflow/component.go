package dataflow

import (
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

// Tag is a capability marker attached to a component declaration.
type Tag string

const (
	// TagCollector marks components whose inputs surface as simulation results.
	TagCollector Tag = "collector"
	// TagSource marks components meant to start a cycle (no inputs).
	TagSource Tag = "source"
	// TagContainer marks components that own nested child components.
	TagContainer Tag = "container"
)

// Calculator is the calculation step of a component.
type Calculator interface {
	Calculate(c *Component) error
}

// CalculatorFunc adapts a function to Calculator.
type CalculatorFunc func(c *Component) error

// Calculate implements Calculator.
func (f CalculatorFunc) Calculate(c *Component) error { return f(c) }

// CycleContext describes the cycle currently being computed.
// Emit publishes a packet as a result under the given path; it may be nil.
type CycleContext struct {
	Iteration int
	Period    int
	Rand      *rand.Rand
	Emit      func(path string, p Packet)
}

// Declaration is the explicit, construction-time description of a component:
// its channels, parameters, capability tags and nested children.
type Declaration struct {
	Name       string
	Inputs     []string
	Outputs    []string
	Parameters map[string]float64
	Tags       []Tag
	Calculator Calculator

	// Children are nested components owned by a container.
	Children []*Component
	// ChildFactory creates additional children on demand. It is invoked at
	// most once per component.
	ChildFactory func() []*Component
}

// Component is a computational node of the dataflow graph.
//
// A component executes exactly once per cycle: source components (no input
// transmitters) are executed by the graph, every other component executes when
// the last of its input transmitters has delivered.
type Component struct {
	decl Declaration
	tags map[Tag]struct{}

	inputs     []*PacketChannel
	outputs    []*PacketChannel
	inByName   map[string]*PacketChannel
	outByName  map[string]*PacketChannel
	discovered bool

	inTransmitters    []*Transmitter
	outTransmitters   []*Transmitter
	transmittedInputs int

	dynamicChildren []*Component
	childrenBuilt   bool

	cycle      *CycleContext
	executions int
}

// NewComponent creates a component from its declaration.
func NewComponent(decl Declaration) (*Component, error) {
	if decl.Name == "" {
		return nil, errors.New("component name must not be empty")
	}
	if decl.Calculator == nil {
		return nil, errors.Errorf("component %s: calculator must not be nil", decl.Name)
	}
	seen := make(map[string]bool, len(decl.Inputs)+len(decl.Outputs))
	for _, name := range append(append([]string{}, decl.Inputs...), decl.Outputs...) {
		if name == "" {
			return nil, errors.Errorf("component %s: empty channel name", decl.Name)
		}
		if seen[name] {
			return nil, errors.Errorf("component %s: duplicate channel %q", decl.Name, name)
		}
		seen[name] = true
	}
	c := &Component{decl: decl, tags: make(map[Tag]struct{}, len(decl.Tags))}
	for _, t := range decl.Tags {
		c.tags[t] = struct{}{}
	}
	return c, nil
}

// Name returns the component name.
func (c *Component) Name() string { return c.decl.Name }

// discover builds the channel sets from the declaration. Channels are fixed for
// the lifetime of the component, so the result is cached.
func (c *Component) discover() {
	if c.discovered {
		return
	}
	c.inByName = make(map[string]*PacketChannel, len(c.decl.Inputs))
	c.outByName = make(map[string]*PacketChannel, len(c.decl.Outputs))
	for _, name := range c.decl.Inputs {
		ch := newPacketChannel(c, name, Input)
		c.inputs = append(c.inputs, ch)
		c.inByName[name] = ch
	}
	for _, name := range c.decl.Outputs {
		ch := newPacketChannel(c, name, Output)
		c.outputs = append(c.outputs, ch)
		c.outByName[name] = ch
	}
	c.discovered = true
}

// In returns the named input channel, or nil if it was not declared.
func (c *Component) In(name string) *PacketChannel {
	c.discover()
	return c.inByName[name]
}

// Out returns the named output channel, or nil if it was not declared.
func (c *Component) Out(name string) *PacketChannel {
	c.discover()
	return c.outByName[name]
}

// InputChannels returns the input channels in declaration order.
func (c *Component) InputChannels() []*PacketChannel {
	c.discover()
	return c.inputs
}

// OutputChannels returns the output channels in declaration order.
func (c *Component) OutputChannels() []*PacketChannel {
	c.discover()
	return c.outputs
}

// InputTransmitters returns the transmitters delivering into this component.
func (c *Component) InputTransmitters() []*Transmitter { return c.inTransmitters }

// OutputTransmitters returns the transmitters publishing this component's outputs.
func (c *Component) OutputTransmitters() []*Transmitter { return c.outTransmitters }

// TransmittedInputs returns how many input transmitters delivered in the current cycle.
func (c *Component) TransmittedInputs() int { return c.transmittedInputs }

// Executions returns how many times the component executed since creation.
func (c *Component) Executions() int { return c.executions }

// IsSource reports whether the component has no input transmitters and must be
// triggered externally.
func (c *Component) IsSource() bool { return len(c.inTransmitters) == 0 }

// Param returns a declared parameter value.
func (c *Component) Param(name string) (float64, bool) {
	v, ok := c.decl.Parameters[name]
	return v, ok
}

// ParamOr returns a declared parameter value or def when it is absent.
func (c *Component) ParamOr(name string, def float64) float64 {
	if v, ok := c.decl.Parameters[name]; ok {
		return v
	}
	return def
}

// ParameterNames returns the declared parameter names, sorted.
func (c *Component) ParameterNames() []string {
	names := make([]string, 0, len(c.decl.Parameters))
	for name := range c.decl.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasTag reports whether the component was declared with the tag.
func (c *Component) HasTag(t Tag) bool {
	_, ok := c.tags[t]
	return ok
}

// Tags returns the declared tags.
func (c *Component) Tags() []Tag {
	return append([]Tag(nil), c.decl.Tags...)
}

// Children returns the nested components, creating on-demand children on first use.
func (c *Component) Children() []*Component {
	if !c.childrenBuilt {
		if c.decl.ChildFactory != nil {
			c.dynamicChildren = c.decl.ChildFactory()
		}
		c.childrenBuilt = true
	}
	children := make([]*Component, 0, len(c.decl.Children)+len(c.dynamicChildren))
	children = append(children, c.decl.Children...)
	return append(children, c.dynamicChildren...)
}

// HasParameters reports whether the component or any of its nested children
// (including on-demand children) declares parameters.
func (c *Component) HasParameters() bool {
	if len(c.decl.Parameters) > 0 {
		return true
	}
	for _, child := range c.Children() {
		if child.HasParameters() {
			return true
		}
	}
	return false
}

// Cycle returns the context of the cycle being computed, or nil outside a cycle.
func (c *Component) Cycle() *CycleContext { return c.cycle }

func (c *Component) setCycle(cycle *CycleContext) {
	c.cycle = cycle
}

// Execute performs one calculation cycle: calculate, publish the outputs
// through every output transmitter, then reset.
func (c *Component) Execute() error {
	c.executions++
	if err := c.decl.Calculator.Calculate(c); err != nil {
		return annotate(c.Name(), err)
	}
	for _, t := range c.outTransmitters {
		if err := t.Transmit(); err != nil {
			return annotate(c.Name(), err)
		}
	}
	c.Reset()
	return nil
}

// NotifyTransmitted records the delivery of one input transmitter and executes
// the component once every input transmitter has delivered.
func (c *Component) NotifyTransmitted(t *Transmitter) error {
	c.transmittedInputs++
	if c.transmittedInputs == len(c.inTransmitters) {
		return c.Execute()
	}
	return nil
}

// Reset clears the input transmitter flags, the transmitted-input counter and
// every channel. Calling it repeatedly is harmless.
func (c *Component) Reset() {
	for _, t := range c.inTransmitters {
		t.Reset()
	}
	c.transmittedInputs = 0
	for _, ch := range c.InputChannels() {
		ch.Clear()
	}
	for _, ch := range c.OutputChannels() {
		ch.Clear()
	}
}

// CalculateNested runs the calculation of a nested child in the current cycle
// without publishing it. The caller reads the child's outputs and then resets it.
func (c *Component) CalculateNested(child *Component) error {
	child.setCycle(c.cycle)
	child.executions++
	if err := child.decl.Calculator.Calculate(child); err != nil {
		return annotate(child.Name(), err)
	}
	return nil
}

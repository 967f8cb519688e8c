package model

import (
	"fmt"
	"maps"
	"strings"

	"github.com/riskgrid/riskgrid/sim/dataflow"
	"github.com/sirupsen/logrus"
)

// Build instantiates the dataflow graph described by spec. Values in params
// override component parameters: "component.param" for top-level components,
// "component.child.param" for children of a container.
func Build(spec *Spec, params map[string]float64) (*dataflow.Graph, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	g := dataflow.NewGraph()
	for _, cs := range spec.Components {
		c, err := newComponent(cs, cs.Name, params)
		if err != nil {
			return nil, err
		}
		if err := g.AddComponent(c); err != nil {
			return nil, err
		}
	}
	for i, w := range spec.Wires {
		var opts []dataflow.TransmitterOption
		if w.MinValue != nil {
			threshold := *w.MinValue
			opts = append(opts, dataflow.WithFilter(func(p dataflow.Packet) bool { return p.Value >= threshold }))
		}
		if _, err := g.ConnectByName(w.From, w.To, opts...); err != nil {
			return nil, fmt.Errorf("wires[%d]: %w", i, err)
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	logrus.Debugf("built model graph: %d components, %d transmitters", len(g.Components()), len(g.Transmitters()))
	return g, nil
}

func newComponent(cs ComponentSpec, key string, overrides map[string]float64) (*dataflow.Component, error) {
	info := componentTypes[cs.Type]
	params := resolveParams(cs.Params, key, overrides)

	for _, name := range info.requiredParams {
		if _, ok := params[name]; !ok {
			return nil, fmt.Errorf("component %s (%s): missing parameter %q", key, cs.Type, name)
		}
	}
	calc, err := info.newCalculator(params)
	if err != nil {
		return nil, fmt.Errorf("component %s (%s): %w", key, cs.Type, err)
	}

	decl := dataflow.Declaration{
		Name:       cs.Name,
		Inputs:     channelsOr(cs.Inputs, info.inputs),
		Outputs:    channelsOr(cs.Outputs, info.outputs),
		Parameters: params,
		Tags:       info.tags,
		Calculator: calc,
	}

	var childErr error
	if len(cs.Children) > 0 {
		children := cs.Children
		decl.ChildFactory = func() []*dataflow.Component {
			built := make([]*dataflow.Component, 0, len(children))
			for _, childSpec := range children {
				child, err := newComponent(childSpec, key+"."+childSpec.Name, overrides)
				if err != nil {
					childErr = err
					return nil
				}
				built = append(built, child)
			}
			return built
		}
	}

	c, err := dataflow.NewComponent(decl)
	if err != nil {
		return nil, err
	}
	// A child that fails to build must fail the container.
	c.Children()
	if childErr != nil {
		return nil, childErr
	}
	if info.requiresParameters && !c.HasParameters() {
		return nil, fmt.Errorf("component %s (%s) has no parameters", key, cs.Type)
	}
	return c, nil
}

func resolveParams(declared map[string]float64, key string, overrides map[string]float64) paramSet {
	params := make(paramSet, len(declared))
	maps.Copy(params, declared)
	prefix := key + "."
	for k, v := range overrides {
		name, ok := strings.CutPrefix(k, prefix)
		if !ok || name == "" || strings.Contains(name, ".") {
			continue // another component, or a nested child of this one
		}
		params[name] = v
	}
	return params
}

package model

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Spec is the structural definition of a simulation model: its components
// and the wires connecting them. Loaded from YAML.
type Spec struct {
	Components []ComponentSpec `yaml:"components"`
	Wires      []WireSpec      `yaml:"wires"`
}

// ComponentSpec declares one component.
type ComponentSpec struct {
	Name     string             `yaml:"name"`
	Type     string             `yaml:"type"`
	Params   map[string]float64 `yaml:"params,omitempty"`
	Inputs   []string           `yaml:"inputs,omitempty"`  // overrides the type's default input channels
	Outputs  []string           `yaml:"outputs,omitempty"` // overrides the type's default output channels
	Children []ComponentSpec    `yaml:"children,omitempty"`
}

// WireSpec connects "component.channel" endpoints. MinValue, when set, filters
// out packets below the threshold.
type WireSpec struct {
	From     string   `yaml:"from"`
	To       string   `yaml:"to"`
	MinValue *float64 `yaml:"min_value,omitempty"`
}

// LoadSpec reads and parses a YAML model file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model spec: %w", err)
	}
	var spec Spec
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parsing model spec: %w", err)
	}
	return &spec, nil
}

// Validate checks names, types and wire endpoints. Channel existence is
// checked when the graph is built.
func (s *Spec) Validate() error {
	if len(s.Components) == 0 {
		return fmt.Errorf("model has no components")
	}
	names := make(map[string]bool, len(s.Components))
	for i := range s.Components {
		c := &s.Components[i]
		if err := validateComponent(c, fmt.Sprintf("components[%d]", i)); err != nil {
			return err
		}
		if names[c.Name] {
			return fmt.Errorf("duplicate component name %q", c.Name)
		}
		names[c.Name] = true
	}
	for i, w := range s.Wires {
		for _, endpoint := range []string{w.From, w.To} {
			name, channel, ok := strings.Cut(endpoint, ".")
			if !ok || name == "" || channel == "" {
				return fmt.Errorf("wires[%d]: endpoint %q must have the form component.channel", i, endpoint)
			}
			if !names[name] {
				return fmt.Errorf("wires[%d]: unknown component %q", i, name)
			}
		}
	}
	return nil
}

func validateComponent(c *ComponentSpec, prefix string) error {
	if c.Name == "" {
		return fmt.Errorf("%s: name must not be empty", prefix)
	}
	if strings.ContainsAny(c.Name, ".:") {
		return fmt.Errorf("%s: name %q must not contain '.' or ':'", prefix, c.Name)
	}
	info, ok := componentTypes[c.Type]
	if !ok {
		return fmt.Errorf("%s (%s): unknown type %q; valid: %s", prefix, c.Name, c.Type, strings.Join(ComponentTypes(), ", "))
	}
	if len(c.Inputs) > 0 && !info.configurableInputs {
		return fmt.Errorf("%s (%s): type %s has fixed inputs", prefix, c.Name, c.Type)
	}
	if len(c.Outputs) > 0 && !info.configurableOutputs {
		return fmt.Errorf("%s (%s): type %s has fixed outputs", prefix, c.Name, c.Type)
	}
	if len(c.Children) > 0 && info.childType == "" {
		return fmt.Errorf("%s (%s): type %s cannot have children", prefix, c.Name, c.Type)
	}
	childNames := make(map[string]bool, len(c.Children))
	for i := range c.Children {
		child := &c.Children[i]
		childPrefix := fmt.Sprintf("%s.children[%d]", prefix, i)
		if child.Type != info.childType {
			return fmt.Errorf("%s: children of %s must have type %s, got %q", childPrefix, c.Type, info.childType, child.Type)
		}
		if err := validateComponent(child, childPrefix); err != nil {
			return err
		}
		if childNames[child.Name] {
			return fmt.Errorf("%s: duplicate child name %q", childPrefix, child.Name)
		}
		childNames[child.Name] = true
	}
	return nil
}

// CollectedPaths returns the sorted result paths ("collector:channel") the
// model produces.
func (s *Spec) CollectedPaths() []string {
	var paths []string
	for _, c := range s.Components {
		info, ok := componentTypes[c.Type]
		if !ok || !info.collector {
			continue
		}
		for _, in := range channelsOr(c.Inputs, info.inputs) {
			paths = append(paths, ResultPath(c.Name, in))
		}
	}
	sort.Strings(paths)
	return paths
}

// Collectors returns the sorted names of collector components.
func (s *Spec) Collectors() []string {
	var names []string
	for _, c := range s.Components {
		if info, ok := componentTypes[c.Type]; ok && info.collector {
			names = append(names, c.Name)
		}
	}
	sort.Strings(names)
	return names
}

// ResultPath names the results a collector publishes for one input channel.
func ResultPath(component, channel string) string {
	return component + ":" + channel
}

func channelsOr(declared, defaults []string) []string {
	if len(declared) > 0 {
		return declared
	}
	return defaults
}

package sim

import (
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/riskgrid/riskgrid/sim/model"
)

// AggregatorKind selects how a worker condenses a result path before
// sending it to the coordinator.
type AggregatorKind string

const (
	// AggregatePeriods keeps one value per period packet.
	AggregatePeriods AggregatorKind = "periods"
	// AggregateIteration sums a path's packets over each iteration.
	AggregateIteration AggregatorKind = "iteration"
)

var validAggregatorKinds = map[AggregatorKind]bool{
	AggregatePeriods:   true,
	AggregateIteration: true,
}

// IsValidAggregatorKind returns true if kind names a known aggregator.
func IsValidAggregatorKind(kind AggregatorKind) bool {
	return validAggregatorKinds[kind]
}

// Resource is a named, pre-loaded table of parameter values shared by all
// jobs of a run. Values are read-only once loaded.
type Resource struct {
	Name   string             `yaml:"name"`
	Values map[string]float64 `yaml:"values"`
}

// Configuration is everything a worker needs to simulate its share of a run.
type Configuration struct {
	Name        string                    `yaml:"name"`
	Iterations  int                       `yaml:"iterations"`
	BlockSize   int                       `yaml:"block_size"`
	PeriodCount int                       `yaml:"period_count"`
	Seed        int64                     `yaml:"seed"`
	Parameters  map[string]float64        `yaml:"parameters,omitempty"`
	Model       model.Spec                `yaml:"model"`
	Resources   []string                  `yaml:"resources,omitempty"` // names handed to the ResourceLoader
	Aggregators map[string]AggregatorKind `yaml:"aggregators"`

	// Filled by the dispatcher; never read from YAML.
	Blocks          []SimulationBlock `yaml:"-"`
	LoadedResources []*Resource       `yaml:"-"`
}

// Clone returns a copy suitable for handing to one execution slot.
//
// Deep-copied: Blocks, Parameters, Resources, the LoadedResources slice.
// Shared: the Resource values behind LoadedResources, Aggregators and Model,
// all of which are read-only after dispatch.
func (c *Configuration) Clone() *Configuration {
	clone := *c
	clone.Blocks = append([]SimulationBlock(nil), c.Blocks...)
	clone.Parameters = maps.Clone(c.Parameters)
	clone.Resources = append([]string(nil), c.Resources...)
	clone.LoadedResources = append([]*Resource(nil), c.LoadedResources...)
	return &clone
}

// Validate checks the run-level settings and the model structure.
func (c *Configuration) Validate() error {
	if c.Iterations <= 0 {
		return fmt.Errorf("iterations must be positive, got %d", c.Iterations)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("block_size must be positive, got %d", c.BlockSize)
	}
	if c.PeriodCount < 1 {
		return fmt.Errorf("period_count must be >= 1, got %d", c.PeriodCount)
	}
	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	collected := make(map[string]bool)
	for _, p := range c.Model.CollectedPaths() {
		collected[p] = true
	}
	for _, path := range sortedKeys(c.Aggregators) {
		kind := c.Aggregators[path]
		if !IsValidAggregatorKind(kind) {
			return fmt.Errorf("aggregator for %q: unknown kind %q; valid: %s", path, kind, strings.Join(aggregatorKindNames(), ", "))
		}
		if !collected[path] {
			return fmt.Errorf("aggregator for %q: no collector produces this path", path)
		}
	}
	return nil
}

// CollectedPaths returns the sorted set of result paths the model produces.
func (c *Configuration) CollectedPaths() []string {
	return c.Model.CollectedPaths()
}

func aggregatorKindNames() []string {
	names := make([]string, 0, len(validAggregatorKinds))
	for k := range validAggregatorKinds {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return names
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

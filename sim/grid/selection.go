package grid

import (
	"fmt"
	"sort"
	"strings"

	"github.com/addrummond/heap"
)

// NodeSelection decides which candidate nodes take part in a run.
type NodeSelection interface {
	Filter(candidates []Node) []Node
	// TotalCPUCount is the number of parallel execution slots the nodes offer.
	TotalCPUCount(nodes []Node) int
}

// Node selection strategy names.
const (
	SelectAll          = "all"
	SelectMinCPUs      = "min-cpus"
	SelectLargestFirst = "largest-first"
)

var validNodeSelections = map[string]bool{
	"":                 true,
	SelectAll:          true,
	SelectMinCPUs:      true,
	SelectLargestFirst: true,
}

// IsValidNodeSelection returns true if name is a recognized strategy.
func IsValidNodeSelection(name string) bool {
	return validNodeSelections[name]
}

// ValidNodeSelectionNames returns sorted valid names, excluding the empty default.
func ValidNodeSelectionNames() []string {
	names := make([]string, 0, len(validNodeSelections))
	for n := range validNodeSelections {
		if n != "" {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// NewNodeSelection creates a strategy by name. An empty name defaults to "all".
// For min-cpus, param is the minimum CPU count; for largest-first, the number
// of nodes to keep. Panics on unrecognized names.
func NewNodeSelection(name string, param int) NodeSelection {
	if !IsValidNodeSelection(name) {
		panic(fmt.Sprintf("unknown node selection %q; valid: %s", name, strings.Join(ValidNodeSelectionNames(), ", ")))
	}
	switch name {
	case "", SelectAll:
		return AllNodes{}
	case SelectMinCPUs:
		return MinCPUs{Min: param}
	case SelectLargestFirst:
		return LargestFirst{Count: param}
	default:
		panic(fmt.Sprintf("unhandled node selection %q", name))
	}
}

// AllNodes keeps every node that has at least one CPU.
type AllNodes struct{}

func (AllNodes) Filter(candidates []Node) []Node {
	return MinCPUs{Min: 1}.Filter(candidates)
}

func (AllNodes) TotalCPUCount(nodes []Node) int { return totalCPUs(nodes) }

// MinCPUs keeps nodes offering at least Min CPUs.
type MinCPUs struct {
	Min int
}

func (s MinCPUs) Filter(candidates []Node) []Node {
	floor := max(s.Min, 1)
	var kept []Node
	for _, n := range candidates {
		if n.CPUs >= floor {
			kept = append(kept, n)
		}
	}
	return kept
}

func (MinCPUs) TotalCPUCount(nodes []Node) int { return totalCPUs(nodes) }

// LargestFirst keeps the Count nodes with the most CPUs, largest first. Ties
// are broken by node ID. Count <= 0 keeps all usable nodes.
type LargestFirst struct {
	Count int
}

type byCPUs Node

// Cmp orders nodes so that the min-heap yields the largest node first.
func (a *byCPUs) Cmp(b *byCPUs) int {
	if a.CPUs != b.CPUs {
		return b.CPUs - a.CPUs
	}
	return strings.Compare(string(a.ID), string(b.ID))
}

func (s LargestFirst) Filter(candidates []Node) []Node {
	var h heap.Heap[byCPUs, heap.Min]
	for _, n := range candidates {
		if n.CPUs > 0 {
			heap.PushOrderable(&h, byCPUs(n))
		}
	}
	var kept []Node
	for s.Count <= 0 || len(kept) < s.Count {
		n, ok := heap.PopOrderable(&h)
		if !ok {
			break
		}
		kept = append(kept, Node(n))
	}
	return kept
}

func (LargestFirst) TotalCPUCount(nodes []Node) int { return totalCPUs(nodes) }

func totalCPUs(nodes []Node) int {
	total := 0
	for _, n := range nodes {
		total += n.CPUs
	}
	return total
}

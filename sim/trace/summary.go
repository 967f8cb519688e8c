package trace

import (
	"strings"

	"github.com/addrummond/heap"
)

// NodeLoad is the work placed on one node.
type NodeLoad struct {
	NodeID     string
	Jobs       int
	Iterations int
}

// Cmp orders loads so that the min-heap yields the busiest node first.
func (a *NodeLoad) Cmp(b *NodeLoad) int {
	if a.Iterations != b.Iterations {
		return b.Iterations - a.Iterations
	}
	return strings.Compare(a.NodeID, b.NodeID)
}

// TraceSummary aggregates statistics from a DispatchTrace.
type TraceSummary struct {
	TotalJobs             int
	TotalIterations       int
	UniqueNodes           int
	JobDistribution       map[string]int // node ID → jobs assigned
	IterationDistribution map[string]int // node ID → iterations assigned
	BusiestNodes          []NodeLoad     // busiest first, at most topN entries
	ImbalanceRatio        float64        // most / least loaded node iterations; 0 when undefined
	CompletedJobs         int
	FailedJobs            int
	MessagesSent          int
}

// Summarize computes aggregate statistics from a DispatchTrace, keeping the
// topN busiest nodes (all nodes when topN <= 0).
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(dt *DispatchTrace, topN int) *TraceSummary {
	summary := &TraceSummary{
		JobDistribution:       make(map[string]int),
		IterationDistribution: make(map[string]int),
	}
	if dt == nil {
		return summary
	}
	dt.mu.Lock()
	defer dt.mu.Unlock()

	summary.TotalJobs = len(dt.Assignments)
	for _, a := range dt.Assignments {
		summary.JobDistribution[a.NodeID]++
		summary.IterationDistribution[a.NodeID] += a.Iterations
		summary.TotalIterations += a.Iterations
	}
	summary.UniqueNodes = len(summary.JobDistribution)

	for _, c := range dt.Completions {
		if c.Failed {
			summary.FailedJobs++
		} else {
			summary.CompletedJobs++
		}
		summary.MessagesSent += c.Messages
	}

	var loads heap.Heap[NodeLoad, heap.Min]
	for node, jobs := range summary.JobDistribution {
		heap.PushOrderable(&loads, NodeLoad{NodeID: node, Jobs: jobs, Iterations: summary.IterationDistribution[node]})
	}
	least := -1
	for {
		load, ok := heap.PopOrderable(&loads)
		if !ok {
			break
		}
		if topN <= 0 || len(summary.BusiestNodes) < topN {
			summary.BusiestNodes = append(summary.BusiestNodes, load)
		}
		least = load.Iterations
	}
	if len(summary.BusiestNodes) > 0 && least > 0 {
		summary.ImbalanceRatio = float64(summary.BusiestNodes[0].Iterations) / float64(least)
	}

	return summary
}

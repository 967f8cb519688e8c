package orchestrator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/riskgrid/riskgrid/sim"
	"github.com/riskgrid/riskgrid/sim/grid"
	"github.com/riskgrid/riskgrid/sim/trace"
)

type constError string

func (e constError) Error() string {
	return string(e)
}

const (
	ErrNoUsableNodes   = constError("no usable grid nodes")
	ErrCanceled        = constError("simulation canceled")
	ErrWaitTimeout     = constError("not all messages received: timeout reached")
	ErrInterrupted     = constError("wait for messages interrupted")
	ErrWorkerFailed    = constError("worker reported an error")
	ErrPostAggregation = constError("post-aggregation failed")
)

// WaitPolicy selects how the reduce phase bounds its wait for messages.
type WaitPolicy string

const (
	// WaitPolicyTotal fails once the total time since the reduce phase began
	// exceeds the timeout.
	WaitPolicyTotal WaitPolicy = "total"
	// WaitPolicyProgress fails once no message arrived for a full timeout.
	WaitPolicyProgress WaitPolicy = "progress"
)

var validWaitPolicies = map[WaitPolicy]bool{
	"":                 true, // empty defaults to total
	WaitPolicyTotal:    true,
	WaitPolicyProgress: true,
}

// IsValidWaitPolicy returns true if policy names a known wait policy.
func IsValidWaitPolicy(policy string) bool {
	return validWaitPolicies[WaitPolicy(policy)]
}

// ValidWaitPolicyNames returns sorted valid names, excluding the empty default.
func ValidWaitPolicyNames() []string {
	var names []string
	for p := range validWaitPolicies {
		if p != "" {
			names = append(names, string(p))
		}
	}
	sort.Strings(names)
	return names
}

// DefaultWaitTimeout bounds the reduce-phase wait when Options leaves it unset.
const DefaultWaitTimeout = 2 * time.Minute

// Options tunes an Orchestrator.
type Options struct {
	WaitTimeout time.Duration
	WaitPolicy  WaitPolicy
	// Trace, when enabled, records job assignments and completions.
	Trace *trace.DispatchTrace
}

// Validate checks the wait settings.
func (o Options) Validate() error {
	if o.WaitTimeout < 0 {
		return fmt.Errorf("wait timeout must be non-negative, got %s", o.WaitTimeout)
	}
	if !IsValidWaitPolicy(string(o.WaitPolicy)) {
		return fmt.Errorf("unknown wait policy %q; valid: %s", o.WaitPolicy, strings.Join(ValidWaitPolicyNames(), ", "))
	}
	return nil
}

func (o Options) withDefaults() Options {
	if o.WaitTimeout == 0 {
		o.WaitTimeout = DefaultWaitTimeout
	}
	if o.WaitPolicy == "" {
		o.WaitPolicy = WaitPolicyTotal
	}
	return o
}

// Dependencies are the collaborators an Orchestrator drives. Selection
// defaults to grid.AllNodes; PostAggregator and Resources are optional.
type Dependencies struct {
	Grid           grid.Grid
	Selection      grid.NodeSelection
	Sink           sim.ResultSink
	Mapping        sim.MappingCache
	PostAggregator sim.PostAggregator
	Store          sim.RunStore
	Resources      sim.ResourceLoader
}

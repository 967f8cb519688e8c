package model

import (
	"fmt"
	"sort"

	"github.com/riskgrid/riskgrid/sim/dataflow"
)

// Component type names.
const (
	TypeFrequencySeverity = "frequency-severity"
	TypeSum               = "sum"
	TypeQuotaShare        = "quota-share"
	TypeExcessOfLoss      = "excess-of-loss"
	TypeCollector         = "collector"
	TypePortfolio         = "portfolio"
)

type componentType struct {
	inputs              []string
	outputs             []string
	configurableInputs  bool
	configurableOutputs bool
	requiresParameters  bool
	requiredParams      []string
	collector           bool
	childType           string
	tags                []dataflow.Tag
	newCalculator       func(params paramSet) (dataflow.Calculator, error)
}

var componentTypes = map[string]componentType{
	TypeFrequencySeverity: {
		outputs:             []string{"claims"},
		configurableOutputs: true,
		requiresParameters:  true,
		requiredParams:      []string{"frequency"},
		tags:                []dataflow.Tag{dataflow.TagSource},
		newCalculator:       newFrequencySeverity,
	},
	TypeSum: {
		inputs:              []string{"in"},
		outputs:             []string{"total"},
		configurableInputs:  true,
		configurableOutputs: true,
		newCalculator:       func(paramSet) (dataflow.Calculator, error) { return dataflow.CalculatorFunc(calculateSum), nil },
	},
	TypeQuotaShare: {
		inputs:             []string{"claims"},
		outputs:            []string{"ceded", "net"},
		requiresParameters: true,
		requiredParams:     []string{"share"},
		newCalculator:      newQuotaShare,
	},
	TypeExcessOfLoss: {
		inputs:             []string{"claims"},
		outputs:            []string{"ceded", "net"},
		requiresParameters: true,
		requiredParams:     []string{"retention", "limit"},
		newCalculator:      newExcessOfLoss,
	},
	TypeCollector: {
		inputs:             []string{"in"},
		configurableInputs: true,
		collector:          true,
		tags:               []dataflow.Tag{dataflow.TagCollector},
		newCalculator:      func(paramSet) (dataflow.Calculator, error) { return dataflow.CalculatorFunc(calculateCollector), nil },
	},
	TypePortfolio: {
		outputs:             []string{"claims"},
		configurableOutputs: true,
		requiresParameters:  true,
		childType:           TypeFrequencySeverity,
		tags:                []dataflow.Tag{dataflow.TagSource, dataflow.TagContainer},
		newCalculator:       func(paramSet) (dataflow.Calculator, error) { return dataflow.CalculatorFunc(calculatePortfolio), nil },
	},
}

type paramSet map[string]float64

func (p paramSet) get(name string) (float64, bool) {
	v, ok := p[name]
	return v, ok
}

// ComponentTypes returns the registered type names, sorted.
func ComponentTypes() []string {
	names := make([]string, 0, len(componentTypes))
	for name := range componentTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsValidComponentType reports whether name is a registered component type.
func IsValidComponentType(name string) bool {
	_, ok := componentTypes[name]
	return ok
}

// frequencySeverity draws a Poisson number of claims per period and writes each
// claim to every output channel.
type frequencySeverity struct {
	frequency float64
	severity  SeveritySampler
}

func newFrequencySeverity(params paramSet) (dataflow.Calculator, error) {
	frequency, _ := params.get("frequency")
	if frequency < 0 {
		return nil, fmt.Errorf("frequency must be non-negative, got %f", frequency)
	}
	sampler, err := NewSeveritySampler(params.get)
	if err != nil {
		return nil, err
	}
	return &frequencySeverity{frequency: frequency, severity: sampler}, nil
}

func (f *frequencySeverity) Calculate(c *dataflow.Component) error {
	cycle := c.Cycle()
	if cycle == nil || cycle.Rand == nil {
		return fmt.Errorf("no random stream for cycle")
	}
	n := SamplePoisson(cycle.Rand, f.frequency)
	for i := 0; i < n; i++ {
		p := dataflow.Packet{Period: cycle.Period, Value: f.severity.Sample(cycle.Rand)}
		for _, out := range c.OutputChannels() {
			out.Add(p)
		}
	}
	return nil
}

func calculateSum(c *dataflow.Component) error {
	total := 0.0
	for _, in := range c.InputChannels() {
		total += in.Sum()
	}
	p := dataflow.Packet{Period: c.Cycle().Period, Value: total}
	for _, out := range c.OutputChannels() {
		out.Add(p)
	}
	return nil
}

type quotaShare struct {
	share float64
}

func newQuotaShare(params paramSet) (dataflow.Calculator, error) {
	share, _ := params.get("share")
	if share < 0 || share > 1 {
		return nil, fmt.Errorf("share must be in [0,1], got %f", share)
	}
	return &quotaShare{share: share}, nil
}

func (q *quotaShare) Calculate(c *dataflow.Component) error {
	claims, ceded, net := c.In("claims"), c.Out("ceded"), c.Out("net")
	for i := 0; i < claims.Len(); i++ {
		p := claims.At(i)
		part := p.Value * q.share
		ceded.Add(dataflow.Packet{Period: p.Period, Value: part})
		net.Add(dataflow.Packet{Period: p.Period, Value: p.Value - part})
	}
	return nil
}

type excessOfLoss struct {
	retention, limit float64
}

func newExcessOfLoss(params paramSet) (dataflow.Calculator, error) {
	retention, _ := params.get("retention")
	limit, _ := params.get("limit")
	if retention < 0 || limit < 0 {
		return nil, fmt.Errorf("retention and limit must be non-negative, got retention=%f limit=%f", retention, limit)
	}
	return &excessOfLoss{retention: retention, limit: limit}, nil
}

// Calculate cedes the layer (retention, retention+limit] of every claim.
func (x *excessOfLoss) Calculate(c *dataflow.Component) error {
	claims, ceded, net := c.In("claims"), c.Out("ceded"), c.Out("net")
	for i := 0; i < claims.Len(); i++ {
		p := claims.At(i)
		part := min(max(p.Value-x.retention, 0), x.limit)
		ceded.Add(dataflow.Packet{Period: p.Period, Value: part})
		net.Add(dataflow.Packet{Period: p.Period, Value: p.Value - part})
	}
	return nil
}

func calculateCollector(c *dataflow.Component) error {
	cycle := c.Cycle()
	if cycle == nil || cycle.Emit == nil {
		return nil
	}
	for _, in := range c.InputChannels() {
		path := ResultPath(c.Name(), in.Name())
		for i := 0; i < in.Len(); i++ {
			cycle.Emit(path, in.At(i))
		}
	}
	return nil
}

// calculatePortfolio runs every child source in the current cycle and merges
// their claims into the portfolio outputs.
func calculatePortfolio(c *dataflow.Component) error {
	for _, child := range c.Children() {
		if err := c.CalculateNested(child); err != nil {
			return err
		}
		for _, childOut := range child.OutputChannels() {
			for _, out := range c.OutputChannels() {
				out.AddAll(childOut.Packets())
			}
		}
		child.Reset()
	}
	return nil
}

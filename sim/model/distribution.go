package model

import (
	"fmt"
	"math"
	"math/rand"
)

// SeveritySampler draws one claim amount.
type SeveritySampler interface {
	// Sample returns a non-negative, finite amount.
	Sample(rng *rand.Rand) float64
}

// LogNormalSampler draws exp(mu + sigma*Z).
type LogNormalSampler struct {
	mu, sigma float64
}

func (s *LogNormalSampler) Sample(rng *rand.Rand) float64 {
	return finiteOrZero(math.Exp(s.mu + s.sigma*rng.NormFloat64()))
}

// ParetoSampler draws xm / U^(1/alpha).
type ParetoSampler struct {
	alpha, xm float64
}

func (s *ParetoSampler) Sample(rng *rand.Rand) float64 {
	u := rng.Float64()
	if u == 0 {
		u = math.SmallestNonzeroFloat64 // prevent division by zero → +Inf
	}
	return finiteOrZero(s.xm / math.Pow(u, 1.0/s.alpha))
}

// ParetoLogNormalSampler is a mixture of Pareto and LogNormal distributions.
// With probability mixWeight, draw from Pareto(alpha, xm); otherwise LogNormal(mu, sigma).
type ParetoLogNormalSampler struct {
	pareto    ParetoSampler
	lognormal LogNormalSampler
	mixWeight float64
}

func (s *ParetoLogNormalSampler) Sample(rng *rand.Rand) float64 {
	if rng.Float64() < s.mixWeight {
		return s.pareto.Sample(rng)
	}
	return s.lognormal.Sample(rng)
}

// ExponentialSampler draws exponentially distributed amounts.
type ExponentialSampler struct {
	mean float64
}

func (s *ExponentialSampler) Sample(rng *rand.Rand) float64 {
	return finiteOrZero(rng.ExpFloat64() * s.mean)
}

// ConstantSampler always returns the same amount.
type ConstantSampler struct {
	value float64
}

func (s *ConstantSampler) Sample(_ *rand.Rand) float64 {
	return s.value
}

func finiteOrZero(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

// Severity distribution codes, selected with the "severity" parameter.
const (
	SeverityLogNormal       = 0
	SeverityPareto          = 1
	SeverityParetoLogNormal = 2
	SeverityExponential     = 3
	SeverityConstant        = 4
)

// NewSeveritySampler builds a sampler from component parameters.
//
//	severity=0 lognormal:   mu, sigma
//	severity=1 pareto:      alpha, xm
//	severity=2 mixture:     alpha, xm, mu, sigma, mix_weight
//	severity=3 exponential: mean
//	severity=4 constant:    value
func NewSeveritySampler(params func(string) (float64, bool)) (SeveritySampler, error) {
	get := func(name string, def float64) float64 {
		if v, ok := params(name); ok {
			return v
		}
		return def
	}
	switch int(get("severity", SeverityLogNormal)) {
	case SeverityLogNormal:
		sigma := get("sigma", 1)
		if sigma < 0 {
			return nil, fmt.Errorf("sigma must be non-negative, got %f", sigma)
		}
		return &LogNormalSampler{mu: get("mu", 0), sigma: sigma}, nil
	case SeverityPareto:
		p, err := newPareto(get("alpha", 2), get("xm", 1))
		if err != nil {
			return nil, err
		}
		return p, nil
	case SeverityParetoLogNormal:
		p, err := newPareto(get("alpha", 2), get("xm", 1))
		if err != nil {
			return nil, err
		}
		w := get("mix_weight", 0.5)
		if w < 0 || w > 1 {
			return nil, fmt.Errorf("mix_weight must be in [0,1], got %f", w)
		}
		return &ParetoLogNormalSampler{
			pareto:    *p,
			lognormal: LogNormalSampler{mu: get("mu", 0), sigma: get("sigma", 1)},
			mixWeight: w,
		}, nil
	case SeverityExponential:
		mean := get("mean", 1)
		if mean <= 0 {
			return nil, fmt.Errorf("mean must be positive, got %f", mean)
		}
		return &ExponentialSampler{mean: mean}, nil
	case SeverityConstant:
		return &ConstantSampler{value: get("value", 0)}, nil
	default:
		return nil, fmt.Errorf("unknown severity distribution %v", get("severity", 0))
	}
}

func newPareto(alpha, xm float64) (*ParetoSampler, error) {
	if alpha <= 0 || xm <= 0 {
		return nil, fmt.Errorf("pareto alpha and xm must be positive, got alpha=%f xm=%f", alpha, xm)
	}
	return &ParetoSampler{alpha: alpha, xm: xm}, nil
}

// SamplePoisson draws a Poisson-distributed claim count. Knuth's method is used
// for small means, a rounded normal approximation above 30.
func SamplePoisson(rng *rand.Rand, lambda float64) int {
	if lambda <= 0 {
		return 0
	}
	if lambda > 30 {
		n := int(math.Round(lambda + math.Sqrt(lambda)*rng.NormFloat64()))
		if n < 0 {
			return 0
		}
		return n
	}
	limit := math.Exp(-lambda)
	n := 0
	p := rng.Float64()
	for p > limit {
		n++
		p *= rng.Float64()
	}
	return n
}

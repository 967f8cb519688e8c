package result

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/riskgrid/riskgrid/sim"
	"github.com/sirupsen/logrus"
)

// ValueSource supplies the raw values to condense.
type ValueSource interface {
	Paths() []string
	Values(path string) []sim.ResultValue
}

// DefaultLevels are the VaR/TVaR confidence levels, in percent.
var DefaultLevels = []float64{90, 95, 99, 99.5}

// Quantile holds the tail measures at one confidence level.
type Quantile struct {
	Level float64 `yaml:"level"`
	VaR   float64 `yaml:"var"`
	TVaR  float64 `yaml:"tvar"`
}

// PathStatistics summarizes the values of one result path.
type PathStatistics struct {
	Path      string     `yaml:"path"`
	Count     int        `yaml:"count"`
	Mean      float64    `yaml:"mean"`
	StdDev    float64    `yaml:"stddev"`
	Min       float64    `yaml:"min"`
	Max       float64    `yaml:"max"`
	Quantiles []Quantile `yaml:"quantiles"`
}

// Statistics is the post-aggregator computing per-path summary statistics.
// Results are deterministic: paths are processed in sorted order and values
// are sorted before the tail measures are taken.
type Statistics struct {
	source ValueSource
	levels []float64

	stopped atomic.Bool

	mu        sync.Mutex
	started   time.Time
	total     int
	processed int
	report    []PathStatistics
}

// NewStatistics creates a post-aggregator over source. Nil levels selects
// DefaultLevels.
func NewStatistics(source ValueSource, levels []float64) *Statistics {
	if levels == nil {
		levels = DefaultLevels
	}
	return &Statistics{source: source, levels: append([]float64(nil), levels...)}
}

// Calculate condenses every path. It returns ErrStopped if Stop is called and
// ctx.Err() if ctx ends; both are checked between paths.
func (s *Statistics) Calculate(ctx context.Context) error {
	paths := s.source.Paths()
	sort.Strings(paths)
	s.mu.Lock()
	s.started = time.Now()
	s.total = len(paths)
	s.processed = 0
	s.report = nil
	s.mu.Unlock()

	for _, path := range paths {
		if s.stopped.Load() {
			return ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		stats := Summarize(path, s.source.Values(path), s.levels)
		s.mu.Lock()
		s.report = append(s.report, stats)
		s.processed++
		s.mu.Unlock()
	}
	logrus.Debugf("post-aggregation condensed %d paths", len(paths))
	return nil
}

// Progress returns the percentage of paths processed.
func (s *Statistics) Progress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.total == 0 {
		return 0
	}
	return s.processed * 100 / s.total
}

// EstimatedEnd extrapolates the time per path processed so far. Undefined
// before the first path is done.
func (s *Statistics) EstimatedEnd() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processed == 0 {
		return time.Time{}, false
	}
	now := time.Now()
	perPath := now.Sub(s.started) / time.Duration(s.processed)
	return now.Add(perPath * time.Duration(s.total-s.processed)), true
}

func (s *Statistics) Stop() { s.stopped.Store(true) }

// Report returns the statistics computed so far, ordered by path.
func (s *Statistics) Report() []PathStatistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PathStatistics(nil), s.report...)
}

// Summarize computes the statistics of one path's values.
func Summarize(path string, values []sim.ResultValue, levels []float64) PathStatistics {
	stats := PathStatistics{Path: path, Count: len(values)}
	if len(values) == 0 {
		return stats
	}
	data := make([]float64, len(values))
	for i, v := range values {
		data[i] = v.Value
	}
	sort.Float64s(data)

	stats.Min, stats.Max = data[0], data[len(data)-1]
	stats.Mean = mean(data)
	if len(data) > 1 {
		sq := 0.0
		for _, x := range data {
			sq += (x - stats.Mean) * (x - stats.Mean)
		}
		stats.StdDev = math.Sqrt(sq / float64(len(data)-1))
	}
	for _, level := range levels {
		v := Percentile(data, level)
		stats.Quantiles = append(stats.Quantiles, Quantile{Level: level, VaR: v, TVaR: tailMean(data, v)})
	}
	return stats
}

// Percentile returns the p-th percentile (0..100) of sorted data using linear
// interpolation between closest ranks. Returns 0 for empty data.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := p / 100.0 * float64(n-1)
	lowerIdx := int(math.Floor(rank))
	upperIdx := int(math.Ceil(rank))
	if upperIdx >= n {
		return sorted[n-1]
	}
	if lowerIdx == upperIdx {
		return sorted[lowerIdx]
	}
	return sorted[lowerIdx] + (sorted[upperIdx]-sorted[lowerIdx])*(rank-float64(lowerIdx))
}

// tailMean is the mean of the values at or above threshold.
func tailMean(sorted []float64, threshold float64) float64 {
	i := sort.SearchFloat64s(sorted, threshold)
	if i == len(sorted) {
		return threshold
	}
	return mean(sorted[i:])
}

func mean(data []float64) float64 {
	sum := 0.0
	for _, x := range data {
		sum += x
	}
	return sum / float64(len(data))
}

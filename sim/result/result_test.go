package result

import (
	"bytes"
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/riskgrid/riskgrid/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func resolved(path string, values ...float64) sim.ResolvedResult {
	collector, field, _ := strings.Cut(path, ":")
	r := sim.ResolvedResult{Descriptor: sim.ResultDescriptor{Path: path, Collector: collector, Field: field}}
	for i, v := range values {
		r.Values = append(r.Values, sim.ResultValue{Iteration: i, Period: -1, Value: v})
	}
	return r
}

func TestMapping_StableIDsInSortedPrimingOrder(t *testing.T) {
	m := NewMapping()
	m.Prime([]string{"out:net", "out:ceded", "gross:in"})

	assert.Equal(t, 0, m.LookupPath("gross:in"))
	assert.Equal(t, 1, m.LookupPath("out:ceded"))
	assert.Equal(t, 2, m.LookupPath("out:net"))
	assert.Equal(t, 0, m.LookupCollector("gross"))
	assert.Equal(t, 1, m.LookupCollector("out"))
	assert.Equal(t, 3, m.LookupPath("late:path"), "unseen paths get the next id")
	assert.Equal(t, 3, m.LookupPath("late:path"))
	assert.Equal(t, []string{"gross:in", "out:ceded", "out:net", "late:path"}, m.Paths())
}

func TestMapping_ConcurrentLookups(t *testing.T) {
	m := NewMapping()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.LookupPath("a:b")
			m.LookupField("b")
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, m.LookupPath("a:b"))
	assert.Len(t, m.Paths(), 1)
}

func TestMemorySink_GroupsByPathAndRejectsAfterClose(t *testing.T) {
	s := NewMemorySink()
	require.NoError(t, s.WriteResult(resolved("out:b", 1, 2)))
	require.NoError(t, s.WriteResult(resolved("out:a", 3)))
	require.NoError(t, s.WriteResult(resolved("out:b", 4)))

	assert.Equal(t, []string{"out:a", "out:b"}, s.Paths())
	assert.Len(t, s.Values("out:b"), 3)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.WriteResult(resolved("out:a", 1)), ErrSinkClosed)
}

func TestYAMLSink_OneDocumentPerResult(t *testing.T) {
	var buf bytes.Buffer
	s := NewYAMLSink(&buf)
	require.NoError(t, s.WriteResult(resolved("out:a", 1)))
	require.NoError(t, s.WriteResult(resolved("out:b", 2, 3)))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "second close is a no-op")

	dec := yaml.NewDecoder(&buf)
	var docs []sim.ResolvedResult
	for {
		var r sim.ResolvedResult
		if err := dec.Decode(&r); err != nil {
			break
		}
		docs = append(docs, r)
	}
	require.Len(t, docs, 2)
	assert.Equal(t, "out:b", docs[1].Descriptor.Path)
	assert.Len(t, docs[1].Values, 2)
	assert.ErrorIs(t, s.WriteResult(resolved("out:a", 1)), ErrSinkClosed)
}

func TestTeeSink_WritesEverywhere(t *testing.T) {
	a, b := NewMemorySink(), NewMemorySink()
	tee := TeeSink{a, b}
	require.NoError(t, tee.WriteResult(resolved("x:y", 1)))
	require.NoError(t, tee.Close())
	assert.Len(t, a.Values("x:y"), 1)
	assert.Len(t, b.Values("x:y"), 1)
	assert.Error(t, tee.WriteResult(resolved("x:y", 1)))
}

func TestPercentile(t *testing.T) {
	data := []float64{10, 20, 30, 40, 50}
	assert.Equal(t, 10.0, Percentile(data, 0))
	assert.Equal(t, 30.0, Percentile(data, 50))
	assert.Equal(t, 50.0, Percentile(data, 100))
	assert.InDelta(t, 46.0, Percentile(data, 90), 1e-9)
	assert.Zero(t, Percentile(nil, 50))
}

func TestSummarize(t *testing.T) {
	var values []sim.ResultValue
	for i := 1; i <= 100; i++ {
		values = append(values, sim.ResultValue{Iteration: i, Period: -1, Value: float64(i)})
	}
	stats := Summarize("p", values, []float64{95})

	assert.Equal(t, 100, stats.Count)
	assert.InDelta(t, 50.5, stats.Mean, 1e-9)
	assert.InDelta(t, math.Sqrt(841.6666666666666), stats.StdDev, 1e-9)
	assert.Equal(t, 1.0, stats.Min)
	assert.Equal(t, 100.0, stats.Max)
	require.Len(t, stats.Quantiles, 1)
	q := stats.Quantiles[0]
	assert.InDelta(t, 95.05, q.VaR, 1e-9)
	assert.InDelta(t, 98.0, q.TVaR, 1e-9, "mean of 96..100")

	empty := Summarize("e", nil, []float64{95})
	assert.Zero(t, empty.Count)
	assert.Empty(t, empty.Quantiles)
}

func TestStatistics_CalculateProgressAndReport(t *testing.T) {
	// GIVEN a sink with three paths
	sink := NewMemorySink()
	for _, p := range []string{"c:z", "a:x", "b:y"} {
		require.NoError(t, sink.WriteResult(resolved(p, 1, 2, 3)))
	}
	stats := NewStatistics(sink, nil)
	_, ok := stats.EstimatedEnd()
	assert.False(t, ok, "no estimate before any progress")

	// WHEN statistics are calculated
	require.NoError(t, stats.Calculate(context.Background()))

	// THEN every path is reported in order and progress is complete
	report := stats.Report()
	require.Len(t, report, 3)
	assert.Equal(t, []string{"a:x", "b:y", "c:z"}, []string{report[0].Path, report[1].Path, report[2].Path})
	assert.Len(t, report[0].Quantiles, len(DefaultLevels))
	assert.Equal(t, 100, stats.Progress())
	end, ok := stats.EstimatedEnd()
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now(), end, time.Second)
}

func TestStatistics_StopAndContext(t *testing.T) {
	sink := NewMemorySink()
	require.NoError(t, sink.WriteResult(resolved("a:x", 1)))

	stopped := NewStatistics(sink, nil)
	stopped.Stop()
	assert.ErrorIs(t, stopped.Calculate(context.Background()), ErrStopped)
	assert.Zero(t, stopped.Progress())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewStatistics(sink, nil).Calculate(ctx), context.Canceled)
}

package result

import (
	"io"
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/riskgrid/riskgrid/sim"
	"gopkg.in/yaml.v3"
)

type constError string

func (e constError) Error() string {
	return string(e)
}

// ErrSinkClosed is returned when writing to a closed sink.
const ErrSinkClosed = constError("result sink closed")

// ErrStopped is returned by Statistics.Calculate when Stop was called.
const ErrStopped = constError("post-aggregation stopped")

// MemorySink keeps every value in memory, grouped by path. It is the value
// source of the Statistics post-aggregator.
type MemorySink struct {
	mu     sync.Mutex
	values map[string][]sim.ResultValue
	closed bool
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{values: make(map[string][]sim.ResultValue)}
}

func (s *MemorySink) WriteResult(r sim.ResolvedResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.values[r.Descriptor.Path] = append(s.values[r.Descriptor.Path], r.Values...)
	return nil
}

func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Paths returns the paths with at least one value, sorted.
func (s *MemorySink) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.values))
	for p := range s.values {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Values returns a copy of the values written for path.
func (s *MemorySink) Values(path string) []sim.ResultValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sim.ResultValue(nil), s.values[path]...)
}

// YAMLSink writes each result as one YAML document.
type YAMLSink struct {
	mu      sync.Mutex
	encoder *yaml.Encoder
	closer  io.Closer
	closed  bool
}

// NewYAMLSink writes to w. If w is an io.Closer it is closed by Close.
func NewYAMLSink(w io.Writer) *YAMLSink {
	s := &YAMLSink{encoder: yaml.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// NewYAMLFileSink creates (or truncates) path and writes results to it.
func NewYAMLFileSink(path string) (*YAMLSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "creating result file")
	}
	return NewYAMLSink(f), nil
}

func (s *YAMLSink) WriteResult(r sim.ResolvedResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	return errors.Wrapf(s.encoder.Encode(r), "writing result for %s", r.Descriptor.Path)
}

func (s *YAMLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.encoder.Close()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// TeeSink forwards every call to all of its sinks.
type TeeSink []sim.ResultSink

func (t TeeSink) WriteResult(r sim.ResolvedResult) error {
	for _, s := range t {
		if err := s.WriteResult(r); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and returns the first error.
func (t TeeSink) Close() error {
	var first error
	for _, s := range t {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

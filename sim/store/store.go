// Package store persists run records and loads shared resources.
package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/riskgrid/riskgrid/sim"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// MemoryStore keeps run records in memory. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	runs    map[uuid.UUID]sim.SimulationRun
	deleted map[uuid.UUID]bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[uuid.UUID]sim.SimulationRun), deleted: make(map[uuid.UUID]bool)}
}

// Save stores a copy of run.
func (s *MemoryStore) Save(run *sim.SimulationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = *run
	delete(s.deleted, run.ID)
	return nil
}

func (s *MemoryStore) Delete(run *sim.SimulationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, run.ID)
	s.deleted[run.ID] = true
	return nil
}

// Get returns the stored copy of a run.
func (s *MemoryStore) Get(id uuid.UUID) (sim.SimulationRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	return r, ok
}

// WasDeleted reports whether the run was deleted and not saved since.
func (s *MemoryStore) WasDeleted(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted[id]
}

// FileStore keeps one YAML file per run in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id uuid.UUID) string {
	return filepath.Join(s.dir, id.String()+".yaml")
}

func (s *FileStore) Save(run *sim.SimulationRun) error {
	data, err := yaml.Marshal(run)
	if err != nil {
		return errors.Wrapf(err, "marshalling run %s", run.ID)
	}
	tmp := s.path(run.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing run %s: %w", run.ID, err)
	}
	return os.Rename(tmp, s.path(run.ID))
}

// Delete removes the run's file. Deleting a run that was never saved is not
// an error.
func (s *FileStore) Delete(run *sim.SimulationRun) error {
	err := os.Remove(s.path(run.ID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting run %s: %w", run.ID, err)
	}
	return nil
}

// Load reads a stored run.
func (s *FileStore) Load(id uuid.UUID) (*sim.SimulationRun, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", id, err)
	}
	var run sim.SimulationRun
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&run); err != nil {
		return nil, fmt.Errorf("parsing run %s: %w", id, err)
	}
	return &run, nil
}

// StaticResources serves resources from memory.
type StaticResources map[string]*sim.Resource

func (r StaticResources) Load(_ context.Context, names []string) ([]*sim.Resource, error) {
	out := make([]*sim.Resource, 0, len(names))
	for _, name := range names {
		res, ok := r[name]
		if !ok {
			return nil, fmt.Errorf("unknown resource %q; available: %v", name, r.names())
		}
		out = append(out, res)
	}
	return out, nil
}

func (r StaticResources) names() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// FileResourceLoader reads resource "<name>.yaml" from a directory. Each file
// is a flat map of parameter name to value.
type FileResourceLoader struct {
	Dir string
}

func (l FileResourceLoader) Load(ctx context.Context, names []string) ([]*sim.Resource, error) {
	out := make([]*sim.Resource, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(l.Dir, name+".yaml"))
		if err != nil {
			return nil, fmt.Errorf("loading resource %q: %w", name, err)
		}
		values := make(map[string]float64)
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&values); err != nil {
			return nil, fmt.Errorf("parsing resource %q: %w", name, err)
		}
		logrus.Debugf("loaded resource %s: %d values", name, len(values))
		out = append(out, &sim.Resource{Name: name, Values: values})
	}
	return out, nil
}

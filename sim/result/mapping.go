// Package result resolves, stores and condenses the result messages of a run.
package result

import (
	"sort"
	"strings"
	"sync"
)

// Mapping assigns stable integer ids to result paths, collectors and fields.
// Ids are assigned in priming order; names seen later get the next free id.
// Safe for concurrent use.
type Mapping struct {
	mu         sync.Mutex
	paths      map[string]int
	collectors map[string]int
	fields     map[string]int
}

// NewMapping creates an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{
		paths:      make(map[string]int),
		collectors: make(map[string]int),
		fields:     make(map[string]int),
	}
}

// Prime registers paths in sorted order, with their collector and field.
func (m *Mapping) Prime(paths []string) {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range sorted {
		m.lookupPath(p)
	}
}

func (m *Mapping) LookupPath(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookupPath(path)
}

func (m *Mapping) lookupPath(path string) int {
	if collector, field, ok := strings.Cut(path, ":"); ok {
		lookup(m.collectors, collector)
		lookup(m.fields, field)
	}
	return lookup(m.paths, path)
}

func (m *Mapping) LookupCollector(collector string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lookup(m.collectors, collector)
}

func (m *Mapping) LookupField(field string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lookup(m.fields, field)
}

// Paths returns the known paths ordered by id.
func (m *Mapping) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.paths))
	for p, id := range m.paths {
		out[id] = p
	}
	return out
}

func lookup(ids map[string]int, name string) int {
	if id, ok := ids[name]; ok {
		return id
	}
	id := len(ids)
	ids[name] = id
	return id
}

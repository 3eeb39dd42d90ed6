package catalog

import (
	"context"
	"fmt"
	"slices"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// Memory is a mutable in-process catalog. It is safe for concurrent use.
type Memory struct {
	mu        sync.RWMutex
	version   string
	libraries map[string]map[int]Tool
}

// NewMemory creates an empty catalog for the given toolkit version.
func NewMemory(version string) *Memory {
	return &Memory{
		version:   version,
		libraries: make(map[string]map[int]Tool),
	}
}

// Version returns the toolkit version the catalog describes.
func (m *Memory) Version() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// AddLibrary makes library available, even if it has no tools.
func (m *Memory) AddLibrary(library string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.libraries[library]; !ok {
		m.libraries[library] = make(map[int]Tool)
	}
}

// RemoveLibrary makes library unavailable.
func (m *Memory) RemoveLibrary(library string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.libraries, library)
}

// AddTool adds or replaces a tool, creating its library if needed.
func (m *Memory) AddTool(t Tool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tools, ok := m.libraries[t.Library]
	if !ok {
		tools = make(map[int]Tool)
		m.libraries[t.Library] = tools
	}
	tools[t.Index] = cloneTool(t)
}

// RemoveTool removes one tool; its library stays available.
func (m *Memory) RemoveTool(library string, index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tools, ok := m.libraries[library]; ok {
		delete(tools, index)
	}
}

// Libraries returns available library identifiers in sorted order.
func (m *Memory) Libraries() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.libraries))
	for name := range m.libraries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Tools returns the tools of library ordered by index.
func (m *Memory) Tools(library string) []Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tools := m.libraries[library]
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, cloneTool(t))
	}
	slices.SortFunc(out, func(a, b Tool) int { return a.Index - b.Index })
	return out
}

// Enumerate implements Catalog.
func (m *Memory) Enumerate(ctx context.Context, library string) (mapset.Set[int], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	tools, ok := m.libraries[library]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLibraryUnavailable, library)
	}
	set := mapset.NewSet[int]()
	for index := range tools {
		set.Add(index)
	}
	return set, nil
}

// FetchMetadata implements Catalog.
func (m *Memory) FetchMetadata(ctx context.Context, library string, index int) (Tool, error) {
	if err := ctx.Err(); err != nil {
		return Tool{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	tools, ok := m.libraries[library]
	if !ok {
		return Tool{}, fmt.Errorf("%w: %s", ErrLibraryUnavailable, library)
	}
	t, ok := tools[index]
	if !ok {
		return Tool{}, fmt.Errorf("%w: %s/%d", ErrToolMissing, library, index)
	}
	return cloneTool(t), nil
}

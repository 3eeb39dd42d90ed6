package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/toolreg/loader"
)

// Snapshot is the on-disk description of one toolkit version's catalog.
type Snapshot struct {
	Version   string            `json:"version" yaml:"version"`
	Libraries []LibrarySnapshot `json:"libraries" yaml:"libraries"`
}

// LibrarySnapshot lists the tools of one library.
type LibrarySnapshot struct {
	Name  string         `json:"name" yaml:"name"`
	Tools []ToolSnapshot `json:"tools" yaml:"tools"`
}

// ToolSnapshot is one tool inside a LibrarySnapshot.
type ToolSnapshot struct {
	Index       int               `json:"index" yaml:"index"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Validate checks that library names and tool indices are unique.
func (s Snapshot) Validate() error {
	var errs []error
	libs := make(map[string]struct{}, len(s.Libraries))
	for _, lib := range s.Libraries {
		name := strings.TrimSpace(lib.Name)
		if name == "" {
			errs = append(errs, errors.New("library with empty name"))
			continue
		}
		if _, dup := libs[name]; dup {
			errs = append(errs, fmt.Errorf("library %q listed twice", name))
			continue
		}
		libs[name] = struct{}{}

		indices := make(map[int]struct{}, len(lib.Tools))
		for _, t := range lib.Tools {
			if t.Index < 0 {
				errs = append(errs, fmt.Errorf("library %q: negative tool index %d", name, t.Index))
				continue
			}
			if _, dup := indices[t.Index]; dup {
				errs = append(errs, fmt.Errorf("library %q: tool index %d listed twice", name, t.Index))
				continue
			}
			indices[t.Index] = struct{}{}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("catalog: invalid snapshot %q: %w", s.Version, errors.Join(errs...))
	}
	return nil
}

// Memory builds an in-memory catalog from the snapshot.
func (s Snapshot) Memory() *Memory {
	m := NewMemory(s.Version)
	for _, lib := range s.Libraries {
		m.AddLibrary(lib.Name)
		for _, t := range lib.Tools {
			m.AddTool(Tool{
				Library:     lib.Name,
				Index:       t.Index,
				Name:        t.Name,
				Description: t.Description,
				Attributes:  t.Attributes,
			})
		}
	}
	return m
}

// SnapshotOf captures the current contents of m in deterministic order.
func SnapshotOf(m *Memory) Snapshot {
	s := Snapshot{Version: m.Version()}
	for _, name := range m.Libraries() {
		lib := LibrarySnapshot{Name: name, Tools: []ToolSnapshot{}}
		for _, t := range m.Tools(name) {
			lib.Tools = append(lib.Tools, ToolSnapshot{
				Index:       t.Index,
				Name:        t.Name,
				Description: t.Description,
				Attributes:  t.Attributes,
			})
		}
		s.Libraries = append(s.Libraries, lib)
	}
	return s
}

// DecodeSnapshot parses and validates a snapshot document. name selects
// JSON or YAML by extension.
func DecodeSnapshot(data []byte, name string) (Snapshot, error) {
	var s Snapshot
	if err := loader.Decode(data, name, &s); err != nil {
		return Snapshot{}, fmt.Errorf("catalog: %s: %w", name, err)
	}
	if err := s.Validate(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

// LoadSnapshotFile reads and validates the snapshot at path.
func LoadSnapshotFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return Snapshot{}, fmt.Errorf("catalog: reading %s: %w", path, err)
	}
	return DecodeSnapshot(data, path)
}

// WriteSnapshotFile writes s to path as YAML or JSON, by extension.
func WriteSnapshotFile(path string, s Snapshot) error {
	var (
		data []byte
		err  error
	)
	if loader.DetectFormat(path) == loader.FormatYAML {
		data, err = yaml.Marshal(s)
	} else {
		data, err = json.MarshalIndent(s, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("catalog: encoding snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("catalog: create snapshot dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("catalog: write snapshot: %w", err)
	}
	return nil
}

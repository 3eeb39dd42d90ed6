// Package registry holds the curated, append-only list of tools that get a
// generated calling wrapper. Each row names a library, a numeric tool index
// within that library, and a display name. Rows are assigned a fixed ordinal
// at load time; ordinals drive the output order of everything downstream.
package registry

import "fmt"

// Key identifies a tool within the toolkit.
type Key struct {
	Library string `json:"library"`
	Index   int    `json:"index"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Library, k.Index)
}

// Entry is one loaded registry row.
type Entry struct {
	Library string `json:"library"`
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Ordinal int    `json:"ordinal"`
}

// Key returns the (library, index) pair of the entry.
func (e Entry) Key() Key {
	return Key{Library: e.Library, Index: e.Index}
}

// Group is the set of entries sharing one library, in ordinal order.
type Group struct {
	Library string
	Entries []Entry
}

// Registry is an immutable, validated sequence of entries.
type Registry struct {
	entries   []Entry
	index     map[Key]int
	libraries []string
	groups    map[string][]int
}

// Load validates records and builds a Registry. Ordinals 0..N-1 are assigned
// in source order. The first integrity violation is returned as a
// *ConfigError and no registry is produced.
func Load(records []Record) (*Registry, error) {
	for _, d := range Check(records) {
		if d.Severity == SeverityError {
			return nil, d.Err()
		}
	}

	r := &Registry{
		entries: make([]Entry, len(records)),
		index:   make(map[Key]int, len(records)),
		groups:  make(map[string][]int),
	}
	for i, rec := range records {
		e := Entry{
			Library: rec.Library,
			Index:   rec.Index,
			Name:    rec.Name,
			Ordinal: i,
		}
		r.entries[i] = e
		r.index[e.Key()] = i
		if _, seen := r.groups[e.Library]; !seen {
			r.libraries = append(r.libraries, e.Library)
		}
		r.groups[e.Library] = append(r.groups[e.Library], i)
	}
	return r, nil
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Entries returns a copy of all entries in ordinal order.
func (r *Registry) Entries() []Entry {
	if r == nil {
		return nil
	}
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Entry returns the entry with the given ordinal.
func (r *Registry) Entry(ordinal int) (Entry, bool) {
	if r == nil || ordinal < 0 || ordinal >= len(r.entries) {
		return Entry{}, false
	}
	return r.entries[ordinal], true
}

// Lookup returns the entry registered for (library, index).
func (r *Registry) Lookup(library string, index int) (Entry, bool) {
	if r == nil {
		return Entry{}, false
	}
	i, ok := r.index[Key{Library: library, Index: index}]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// Has reports whether (library, index) is registered.
func (r *Registry) Has(library string, index int) bool {
	_, ok := r.Lookup(library, index)
	return ok
}

// Libraries returns library identifiers in first-seen (minimum ordinal) order.
func (r *Registry) Libraries() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.libraries))
	copy(out, r.libraries)
	return out
}

// Groups returns entries grouped by library. Groups are ordered by the
// smallest ordinal they contain and entries within a group by ordinal.
func (r *Registry) Groups() []Group {
	if r == nil {
		return nil
	}
	groups := make([]Group, 0, len(r.libraries))
	for _, lib := range r.libraries {
		ordinals := r.groups[lib]
		g := Group{Library: lib, Entries: make([]Entry, 0, len(ordinals))}
		for _, i := range ordinals {
			g.Entries = append(g.Entries, r.entries[i])
		}
		groups = append(groups, g)
	}
	return groups
}

// Records returns the registry contents in source form, suitable for
// re-encoding or for building an edited registry with Load.
func (r *Registry) Records() []Record {
	if r == nil {
		return nil
	}
	out := make([]Record, len(r.entries))
	for i, e := range r.entries {
		out[i] = Record{Library: e.Library, Index: e.Index, Name: e.Name}
	}
	return out
}

// Rename returns a copy of the registry with the display name of
// (library, index) replaced. The entry keeps its ordinal.
func (r *Registry) Rename(library string, index int, name string) (*Registry, error) {
	entry, ok := r.Lookup(library, index)
	if !ok {
		return nil, fmt.Errorf("registry: rename %s: not registered", Key{Library: library, Index: index})
	}
	records := r.Records()
	records[entry.Ordinal].Name = name
	return Load(records)
}

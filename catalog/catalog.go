// Package catalog defines the contract between the resolver and the
// version-specific toolkit catalog, plus in-memory, snapshot and SQLite
// backed implementations.
//
// A catalog answers two questions: which tool indices a library currently
// exposes, and what metadata a single tool carries. Implementations must
// honor context cancellation so a slow library can be abandoned.
package catalog

import (
	"context"
	"errors"

	mapset "github.com/deckarep/golang-set/v2"
)

var (
	// ErrLibraryUnavailable is returned when a library does not exist or
	// cannot be loaded by the catalog.
	ErrLibraryUnavailable = errors.New("catalog: library unavailable")
	// ErrToolMissing is returned when a tool index is not present in a library.
	ErrToolMissing = errors.New("catalog: tool missing")
)

// Tool is the metadata a catalog returns for one tool. The resolver treats it
// as opaque and hands it to the generator unchanged.
type Tool struct {
	Library     string            `json:"library"`
	Index       int               `json:"index"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Catalog enumerates libraries and fetches per-tool metadata.
type Catalog interface {
	// Enumerate returns the tool indices available in library, or an error
	// wrapping ErrLibraryUnavailable.
	Enumerate(ctx context.Context, library string) (mapset.Set[int], error)
	// FetchMetadata returns one tool, or an error wrapping ErrToolMissing.
	FetchMetadata(ctx context.Context, library string, index int) (Tool, error)
}

func cloneTool(t Tool) Tool {
	if t.Attributes != nil {
		attrs := make(map[string]string, len(t.Attributes))
		for k, v := range t.Attributes {
			attrs[k] = v
		}
		t.Attributes = attrs
	}
	return t
}

// VersionOf returns the toolkit version a catalog serves, or "" when the
// catalog does not report one.
func VersionOf(c Catalog) string {
	if v, ok := c.(interface{ Version() string }); ok {
		return v.Version()
	}
	return ""
}

package catalog

import (
	"context"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// Counting records how many queries reach the wrapped catalog.
type Counting struct {
	inner Catalog

	mu           sync.Mutex
	enumerations map[string]int
	fetches      map[string]int
}

// NewCounting wraps inner with query counters.
func NewCounting(inner Catalog) *Counting {
	return &Counting{
		inner:        inner,
		enumerations: make(map[string]int),
		fetches:      make(map[string]int),
	}
}

// Acquire forwards to the wrapped catalog when it is a Locker.
func (c *Counting) Acquire(ctx context.Context, library string) (func(), error) {
	if locker, ok := c.inner.(Locker); ok {
		return locker.Acquire(ctx, library)
	}
	return func() {}, nil
}

// Enumerate implements Catalog.
func (c *Counting) Enumerate(ctx context.Context, library string) (mapset.Set[int], error) {
	c.mu.Lock()
	c.enumerations[library]++
	c.mu.Unlock()
	return c.inner.Enumerate(ctx, library)
}

// FetchMetadata implements Catalog.
func (c *Counting) FetchMetadata(ctx context.Context, library string, index int) (Tool, error) {
	c.mu.Lock()
	c.fetches[library]++
	c.mu.Unlock()
	return c.inner.FetchMetadata(ctx, library, index)
}

// Enumerations returns the number of Enumerate calls for library, or for
// all libraries when library is empty.
func (c *Counting) Enumerations(library string) int {
	return c.count(c.enumerations, library)
}

// Fetches returns the number of FetchMetadata calls for library, or for
// all libraries when library is empty.
func (c *Counting) Fetches(library string) int {
	return c.count(c.fetches, library)
}

// QueryCounts totals the calls that reached a catalog.
type QueryCounts struct {
	Enumerations int `json:"enumerations"`
	Fetches      int `json:"fetches"`
}

// Counts returns the totals across all libraries.
func (c *Counting) Counts() QueryCounts {
	return QueryCounts{Enumerations: c.Enumerations(""), Fetches: c.Fetches("")}
}

// Queries returns the total number of catalog calls.
func (c *Counting) Queries() int {
	return c.Enumerations("") + c.Fetches("")
}

func (c *Counting) count(m map[string]int, library string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if library != "" {
		return m[library]
	}
	total := 0
	for _, n := range m {
		total += n
	}
	return total
}

// Version reports the wrapped catalog's version, if it has one.
func (c *Counting) Version() string {
	return VersionOf(c.inner)
}

package catalog

import (
	"context"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// Locker is implemented by catalogs whose libraries must not be used by two
// callers at once. Acquire blocks until library is free or ctx is done; the
// returned release func must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, library string) (release func(), err error)
}

// Serialized wraps a catalog whose library loading is not reentrant. Holding
// the lock from Acquire spans a whole enumerate-and-fetch sequence for one
// library, so a library is never loaded twice concurrently or queried while
// another caller is done with it and unloading.
type Serialized struct {
	inner Catalog

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewSerialized wraps inner with per-library locking.
func NewSerialized(inner Catalog) *Serialized {
	return &Serialized{
		inner: inner,
		locks: make(map[string]chan struct{}),
	}
}

func (s *Serialized) lockFor(library string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.locks[library]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[library] = ch
	}
	return ch
}

// Acquire implements Locker.
func (s *Serialized) Acquire(ctx context.Context, library string) (func(), error) {
	ch := s.lockFor(library)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}

// Enumerate forwards to the wrapped catalog. Callers are expected to hold
// the library lock.
func (s *Serialized) Enumerate(ctx context.Context, library string) (mapset.Set[int], error) {
	return s.inner.Enumerate(ctx, library)
}

// FetchMetadata forwards to the wrapped catalog. Callers are expected to
// hold the library lock.
func (s *Serialized) FetchMetadata(ctx context.Context, library string, index int) (Tool, error) {
	return s.inner.FetchMetadata(ctx, library, index)
}

// Version reports the wrapped catalog's version, if it has one.
func (s *Serialized) Version() string {
	return VersionOf(s.inner)
}

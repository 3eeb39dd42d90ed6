package history

import (
	"context"
	"sync"
)

// MemStore is a thread-safe in-memory run store.
type MemStore struct {
	mu   sync.RWMutex
	runs []Run // oldest first
}

// NewMemStore creates a new in-memory run store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

func (s *MemStore) Append(_ context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.runs {
		if s.runs[i].RunID == run.RunID {
			s.runs = append(s.runs[:i], s.runs[i+1:]...)
			break
		}
	}
	s.runs = append(s.runs, run)
	return nil
}

func (s *MemStore) Get(_ context.Context, runID string) (Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.runs {
		if r.RunID == runID {
			return r, true, nil
		}
	}
	return Run{}, false, nil
}

func (s *MemStore) Latest(_ context.Context) (Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.runs) == 0 {
		return Run{}, false, nil
	}
	return s.runs[len(s.runs)-1], true, nil
}

func (s *MemStore) List(_ context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Run
	for i := len(s.runs) - 1; i >= 0; i-- {
		r := s.runs[i]
		r.Result = nil
		result = append(result, r)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

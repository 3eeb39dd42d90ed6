// Package history records resolution runs so a later run, or a restarted
// watcher, can be compared against the last one.
package history

import (
	"context"
	"time"

	"github.com/petal-labs/toolreg/resolve"
)

// Run is one recorded resolution run.
type Run struct {
	RunID      string          `json:"run_id"`
	Catalog    string          `json:"catalog"`
	RecordedAt time.Time       `json:"recorded_at"`
	Resolved   int             `json:"resolved"`
	Skipped    int             `json:"skipped"`
	Result     *resolve.Result `json:"result,omitempty"`
}

// NewRun builds a Run for result against the named catalog.
func NewRun(catalogVersion string, result *resolve.Result, now time.Time) Run {
	run := Run{
		Catalog:    catalogVersion,
		RecordedAt: now.UTC(),
		Result:     result,
	}
	if result != nil {
		run.RunID = result.RunID
		run.Resolved = len(result.Resolved)
		run.Skipped = len(result.Skipped)
	}
	return run
}

// Store persists runs.
type Store interface {
	// Append stores a run. Appending an existing run ID replaces it.
	Append(ctx context.Context, run Run) error

	// Get returns one run including its result.
	Get(ctx context.Context, runID string) (Run, bool, error)

	// Latest returns the most recently recorded run including its result.
	Latest(ctx context.Context) (Run, bool, error)

	// List returns runs newest first without their results.
	// limit: max runs to return (0 means no limit)
	List(ctx context.Context, limit int) ([]Run, error)
}

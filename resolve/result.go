package resolve

import (
	"github.com/petal-labs/toolreg/catalog"
	"github.com/petal-labs/toolreg/registry"
)

// Reason explains why an entry was skipped.
type Reason string

const (
	ReasonToolMissing        Reason = "tool_missing"
	ReasonLibraryUnavailable Reason = "library_unavailable"
)

// ResolvedEntry is a registry entry bound to a live catalog tool.
type ResolvedEntry struct {
	registry.Entry
	Tool catalog.Tool `json:"tool"`
}

// SkipDiagnostic records a registry entry that could not be resolved.
// Skips are informational and never fail a run.
type SkipDiagnostic struct {
	registry.Entry
	Reason Reason `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// Result is the output of one resolution run. Both sequences are in
// registry ordinal order.
type Result struct {
	RunID    string           `json:"run_id"`
	Resolved []ResolvedEntry  `json:"resolved"`
	Skipped  []SkipDiagnostic `json:"skipped"`
}

// Outcome is the classification of one entry.
type Outcome struct {
	Entry    registry.Entry
	Resolved bool
	Reason   Reason
	Tool     catalog.Tool
}

// Outcomes merges resolved and skipped entries back into ordinal order.
func (r *Result) Outcomes() []Outcome {
	if r == nil {
		return nil
	}
	out := make([]Outcome, 0, len(r.Resolved)+len(r.Skipped))
	i, j := 0, 0
	for i < len(r.Resolved) || j < len(r.Skipped) {
		switch {
		case j >= len(r.Skipped) || (i < len(r.Resolved) && r.Resolved[i].Ordinal < r.Skipped[j].Ordinal):
			out = append(out, Outcome{Entry: r.Resolved[i].Entry, Resolved: true, Tool: r.Resolved[i].Tool})
			i++
		default:
			out = append(out, Outcome{Entry: r.Skipped[j].Entry, Reason: r.Skipped[j].Reason})
			j++
		}
	}
	return out
}

// LibrarySummary counts outcomes for one library.
type LibrarySummary struct {
	Library  string `json:"library"`
	Resolved int    `json:"resolved"`
	Skipped  int    `json:"skipped"`
	// Unavailable is set when the whole library was skipped.
	Unavailable bool `json:"unavailable"`
}

// Summary is the informational report printed after a run.
type Summary struct {
	Total     int              `json:"total"`
	Resolved  int              `json:"resolved"`
	Skipped   int              `json:"skipped"`
	ByReason  map[Reason]int   `json:"by_reason"`
	Libraries []LibrarySummary `json:"libraries"`
}

// Summary counts outcomes per reason and per library. Libraries appear in
// first-seen ordinal order.
func (r *Result) Summary() Summary {
	s := Summary{ByReason: map[Reason]int{}}
	if r == nil {
		return s
	}
	libs := map[string]int{}
	for _, o := range r.Outcomes() {
		idx, ok := libs[o.Entry.Library]
		if !ok {
			idx = len(s.Libraries)
			libs[o.Entry.Library] = idx
			s.Libraries = append(s.Libraries, LibrarySummary{Library: o.Entry.Library, Unavailable: true})
		}
		lib := &s.Libraries[idx]
		s.Total++
		if o.Resolved {
			s.Resolved++
			lib.Resolved++
			lib.Unavailable = false
			continue
		}
		s.Skipped++
		lib.Skipped++
		s.ByReason[o.Reason]++
		if o.Reason != ReasonLibraryUnavailable {
			lib.Unavailable = false
		}
	}
	return s
}

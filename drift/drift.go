// Package drift compares resolution results, typically from two toolkit
// versions, and reports entries whose classification changed. It never
// edits the registry; renames found here are for a curator to apply.
package drift

import (
	"fmt"

	"github.com/petal-labs/toolreg/registry"
	"github.com/petal-labs/toolreg/resolve"
)

// ChangeKind classifies a difference between two results.
type ChangeKind string

const (
	ChangeAdded         ChangeKind = "added"
	ChangeRemoved       ChangeKind = "removed"
	ChangeNewlyResolved ChangeKind = "newly_resolved"
	ChangeNewlySkipped  ChangeKind = "newly_skipped"
	ChangeReasonChanged ChangeKind = "reason_changed"
	ChangeToolRenamed   ChangeKind = "tool_renamed"
	// ChangeNameMismatch is reported by NameMismatches, not Compare.
	ChangeNameMismatch ChangeKind = "name_mismatch"
)

// Change is one reported difference.
type Change struct {
	Entry  registry.Entry `json:"entry"`
	Kind   ChangeKind     `json:"kind"`
	Before string         `json:"before,omitempty"`
	After  string         `json:"after,omitempty"`
}

func (c Change) String() string {
	return fmt.Sprintf("#%d %s %s: %s -> %s", c.Entry.Ordinal, c.Entry.Key(), c.Kind, c.Before, c.After)
}

// Report is the outcome of comparing two runs.
type Report struct {
	PreviousRunID string   `json:"previous_run_id"`
	RunID         string   `json:"run_id"`
	Changes       []Change `json:"changes"`
}

// HasChanges reports whether anything differs.
func (r Report) HasChanges() bool {
	return len(r.Changes) > 0
}

func describe(o resolve.Outcome) string {
	if o.Resolved {
		return "resolved"
	}
	return string(o.Reason)
}

// Compare lists differences from prev to next. Entries are matched by
// (library, index). Changes follow next's ordinal order; entries that only
// exist in prev are appended in prev's ordinal order.
func Compare(prev, next *resolve.Result) Report {
	report := Report{Changes: []Change{}}
	if prev != nil {
		report.PreviousRunID = prev.RunID
	}
	if next != nil {
		report.RunID = next.RunID
	}

	before := map[registry.Key]resolve.Outcome{}
	for _, o := range prev.Outcomes() {
		before[o.Entry.Key()] = o
	}

	seen := map[registry.Key]struct{}{}
	for _, o := range next.Outcomes() {
		key := o.Entry.Key()
		seen[key] = struct{}{}
		old, ok := before[key]
		switch {
		case !ok:
			report.Changes = append(report.Changes, Change{Entry: o.Entry, Kind: ChangeAdded, After: describe(o)})
		case old.Resolved && !o.Resolved:
			report.Changes = append(report.Changes, Change{Entry: o.Entry, Kind: ChangeNewlySkipped, Before: describe(old), After: describe(o)})
		case !old.Resolved && o.Resolved:
			report.Changes = append(report.Changes, Change{Entry: o.Entry, Kind: ChangeNewlyResolved, Before: describe(old), After: describe(o)})
		case !old.Resolved && old.Reason != o.Reason:
			report.Changes = append(report.Changes, Change{Entry: o.Entry, Kind: ChangeReasonChanged, Before: describe(old), After: describe(o)})
		case old.Resolved && old.Tool.Name != o.Tool.Name:
			report.Changes = append(report.Changes, Change{Entry: o.Entry, Kind: ChangeToolRenamed, Before: old.Tool.Name, After: o.Tool.Name})
		}
	}

	for _, o := range prev.Outcomes() {
		if _, ok := seen[o.Entry.Key()]; ok {
			continue
		}
		report.Changes = append(report.Changes, Change{Entry: o.Entry, Kind: ChangeRemoved, Before: describe(o)})
	}
	return report
}

// NameMismatches lists resolved entries whose catalog tool name differs
// from the registry display name. These are candidates for a manual
// in-place rename.
func NameMismatches(r *resolve.Result) []Change {
	var out []Change
	if r == nil {
		return out
	}
	for _, e := range r.Resolved {
		if e.Tool.Name == "" || e.Tool.Name == e.Name {
			continue
		}
		out = append(out, Change{Entry: e.Entry, Kind: ChangeNameMismatch, Before: e.Name, After: e.Tool.Name})
	}
	return out
}

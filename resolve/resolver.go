// Package resolve matches a loaded registry against a live catalog.
//
// Entries are grouped by library so each library is enumerated once;
// groups run concurrently while calls within a group stay sequential.
// Grouping never leaks into the output: resolved entries and skips are
// always reported in registry ordinal order.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/petal-labs/toolreg/catalog"
	"github.com/petal-labs/toolreg/registry"
)

const (
	defaultMaxConcurrency = 4
	defaultLibraryTimeout = 30 * time.Second
)

// Options configures a Resolver. Zero values select defaults.
type Options struct {
	// MaxConcurrency bounds how many library groups are queried at once.
	MaxConcurrency int
	// LibraryTimeout bounds one library group. A group that exceeds it is
	// skipped as library_unavailable in full.
	LibraryTimeout time.Duration
	Logger         *slog.Logger
	Observer       Observer
	NewRunID       func() string
	Now            func() time.Time
}

// Resolver resolves registries against catalogs. It holds no per-run state
// and may be reused.
type Resolver struct {
	maxConcurrency int
	libraryTimeout time.Duration
	logger         *slog.Logger
	observer       Observer
	newRunID       func() string
	now            func() time.Time
}

// New creates a Resolver.
func New(opts Options) *Resolver {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = defaultMaxConcurrency
	}
	if opts.LibraryTimeout <= 0 {
		opts.LibraryTimeout = defaultLibraryTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	if opts.NewRunID == nil {
		opts.NewRunID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Resolver{
		maxConcurrency: opts.MaxConcurrency,
		libraryTimeout: opts.LibraryTimeout,
		logger:         opts.Logger,
		observer:       opts.Observer,
		newRunID:       opts.NewRunID,
		now:            opts.Now,
	}
}

// Resolve resolves reg against cat with default options.
func Resolve(ctx context.Context, reg *registry.Registry, cat catalog.Catalog) (*Result, error) {
	return New(Options{}).Resolve(ctx, reg, cat)
}

type entryOutcome struct {
	entry    registry.Entry
	resolved bool
	tool     catalog.Tool
	reason   Reason
	detail   string
}

// Resolve matches every registry entry against cat. Catalog failures never
// produce an error; they become skip diagnostics. An error is returned only
// for missing inputs or when ctx is cancelled, in which case no partial
// result is returned.
func (r *Resolver) Resolve(ctx context.Context, reg *registry.Registry, cat catalog.Catalog) (*Result, error) {
	if reg == nil {
		return nil, errors.New("resolve: registry is nil")
	}
	if cat == nil {
		return nil, errors.New("resolve: catalog is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runID := r.newRunID()
	started := r.now()
	groups := reg.Groups()
	outcomes := make([]entryOutcome, reg.Len())

	var g errgroup.Group
	g.SetLimit(r.maxConcurrency)
	for _, group := range groups {
		g.Go(func() error {
			// Each group owns a disjoint set of ordinals.
			for _, o := range r.resolveLibrary(ctx, runID, group, cat) {
				outcomes[o.entry.Ordinal] = o
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		r.observer.ObserveRun(RunObservation{
			RunID:     runID,
			Libraries: len(groups),
			Entries:   len(outcomes),
			Cancelled: true,
			Started:   started,
			Duration:  r.now().Sub(started),
		})
		return nil, fmt.Errorf("resolve: run %s cancelled: %w", runID, err)
	}

	result := &Result{
		RunID:    runID,
		Resolved: make([]ResolvedEntry, 0, len(outcomes)),
		Skipped:  make([]SkipDiagnostic, 0),
	}
	byReason := map[Reason]int{}
	for _, o := range outcomes {
		if o.resolved {
			result.Resolved = append(result.Resolved, ResolvedEntry{Entry: o.entry, Tool: o.tool})
			continue
		}
		result.Skipped = append(result.Skipped, SkipDiagnostic{Entry: o.entry, Reason: o.reason, Detail: o.detail})
		byReason[o.reason]++
	}

	elapsed := r.now().Sub(started)
	r.observer.ObserveRun(RunObservation{
		RunID:     runID,
		Libraries: len(groups),
		Entries:   len(outcomes),
		Resolved:  len(result.Resolved),
		Skipped:   len(result.Skipped),
		ByReason:  byReason,
		Started:   started,
		Duration:  elapsed,
	})
	r.logger.Info("resolution finished",
		"run_id", runID,
		"libraries", len(groups),
		"entries", len(outcomes),
		"resolved", len(result.Resolved),
		"skipped", len(result.Skipped),
		"tool_missing", byReason[ReasonToolMissing],
		"library_unavailable", byReason[ReasonLibraryUnavailable],
		"duration", elapsed,
	)
	return result, nil
}

// resolveLibrary runs one library group under the per-library timeout.
// The group's catalog calls happen on a separate goroutine so a catalog
// that ignores its context cannot stall the run.
func (r *Resolver) resolveLibrary(ctx context.Context, runID string, group registry.Group, cat catalog.Catalog) []entryOutcome {
	started := r.now()
	libCtx, cancel := context.WithTimeout(ctx, r.libraryTimeout)
	defer cancel()

	done := make(chan []entryOutcome, 1)
	go func() {
		done <- queryLibrary(libCtx, group, cat)
	}()

	var outcomes []entryOutcome
	select {
	case outcomes = <-done:
	case <-libCtx.Done():
	}

	timedOut := errors.Is(libCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	if timedOut || outcomes == nil {
		detail := fmt.Sprintf("library %s did not answer within %s", group.Library, r.libraryTimeout)
		if !timedOut {
			detail = "resolution cancelled"
		}
		outcomes = demote(group, detail)
		r.logger.Warn("library demoted", "run_id", runID, "library", group.Library, "entries", len(group.Entries), "reason", detail)
	}

	obs := LibraryObservation{
		RunID:     runID,
		Library:   group.Library,
		Entries:   len(group.Entries),
		Available: true,
		TimedOut:  timedOut,
		Started:   started,
		Duration:  r.now().Sub(started),
	}
	for _, o := range outcomes {
		if o.resolved {
			obs.Resolved++
			continue
		}
		obs.Skipped++
		if o.reason == ReasonLibraryUnavailable {
			obs.Available = false
		}
	}
	r.observer.ObserveLibrary(obs)
	r.logger.Debug("library resolved",
		"run_id", runID,
		"library", group.Library,
		"entries", obs.Entries,
		"resolved", obs.Resolved,
		"skipped", obs.Skipped,
		"available", obs.Available,
		"duration", obs.Duration,
	)
	return outcomes
}

// queryLibrary issues exactly one Enumerate for the group, then fetches
// metadata for each member entry in ordinal order.
func queryLibrary(ctx context.Context, group registry.Group, cat catalog.Catalog) []entryOutcome {
	if locker, ok := cat.(catalog.Locker); ok {
		release, err := locker.Acquire(ctx, group.Library)
		if err != nil {
			return demote(group, fmt.Sprintf("acquire library: %v", err))
		}
		defer release()
	}

	available, err := cat.Enumerate(ctx, group.Library)
	if err != nil {
		return demote(group, err.Error())
	}

	outcomes := make([]entryOutcome, 0, len(group.Entries))
	for _, e := range group.Entries {
		if err := ctx.Err(); err != nil {
			return demote(group, err.Error())
		}
		if available == nil || !available.Contains(e.Index) {
			outcomes = append(outcomes, entryOutcome{
				entry:  e,
				reason: ReasonToolMissing,
				detail: fmt.Sprintf("%s not in catalog", e.Key()),
			})
			continue
		}

		tool, err := cat.FetchMetadata(ctx, group.Library, e.Index)
		if err != nil {
			if ctx.Err() != nil {
				return demote(group, err.Error())
			}
			outcomes = append(outcomes, entryOutcome{
				entry:  e,
				reason: ReasonToolMissing,
				detail: err.Error(),
			})
			continue
		}
		outcomes = append(outcomes, entryOutcome{entry: e, resolved: true, tool: tool})
	}
	return outcomes
}

func demote(group registry.Group, detail string) []entryOutcome {
	outcomes := make([]entryOutcome, len(group.Entries))
	for i, e := range group.Entries {
		outcomes[i] = entryOutcome{
			entry:  e,
			reason: ReasonLibraryUnavailable,
			detail: detail,
		}
	}
	return outcomes
}

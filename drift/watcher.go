package drift

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/petal-labs/toolreg/catalog"
	"github.com/petal-labs/toolreg/history"
	"github.com/petal-labs/toolreg/registry"
	"github.com/petal-labs/toolreg/resolve"
)

// CatalogSource opens the catalog to resolve against. It is called once
// per pass so a watcher picks up snapshot files or store versions that
// changed since the previous pass.
type CatalogSource func(ctx context.Context) (catalog.Catalog, error)

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Schedule string
	Registry *registry.Registry
	Source   CatalogSource
	Resolver *resolve.Resolver
	Logger   *slog.Logger
	Now      func() time.Time
	// History, when set, records every pass. The first pass compares
	// against the latest recorded run instead of reporting every entry as
	// added.
	History history.Store
	// OnReport is called after every pass, including the first, whose
	// report lists every entry as added unless History had a previous run.
	OnReport func(Report)
}

// Watcher re-resolves a registry on a cron schedule and reports drift
// between consecutive passes.
type Watcher struct {
	schedule cron.Schedule
	registry *registry.Registry
	source   CatalogSource
	resolver *resolve.Resolver
	history  history.Store
	logger   *slog.Logger
	now      func() time.Time
	onReport func(Report)

	mu     sync.Mutex
	last   *resolve.Result
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher validates cfg and creates a watcher.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Registry == nil {
		return nil, errors.New("drift: watcher registry is nil")
	}
	if cfg.Source == nil {
		return nil, errors.New("drift: watcher catalog source is nil")
	}
	schedule, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("drift: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = resolve.New(resolve.Options{Logger: cfg.Logger})
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.OnReport == nil {
		cfg.OnReport = func(Report) {}
	}

	return &Watcher{
		schedule: schedule,
		registry: cfg.Registry,
		source:   cfg.Source,
		resolver: cfg.Resolver,
		logger:   cfg.Logger,
		now:      cfg.Now,
		history:  cfg.History,
		onReport: cfg.OnReport,
	}, nil
}

// Start runs one pass immediately, then one per schedule tick, until Stop.
func (w *Watcher) Start(ctx context.Context) error {
	if w == nil {
		return errors.New("drift: watcher is nil")
	}

	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()

	go func() {
		defer close(done)
		w.runLogged(loopCtx)
		for {
			wait := nextRunUTC(w.schedule, w.now()).Sub(w.now())
			if wait < 0 {
				wait = 0
			}
			timer := time.NewTimer(wait)
			select {
			case <-loopCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
				w.runLogged(loopCtx)
			}
		}
	}()
	return nil
}

// Stop terminates the background loop and waits for an in-flight pass.
func (w *Watcher) Stop(ctx context.Context) error {
	if w == nil {
		return nil
	}

	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.cancel = nil
	w.done = nil
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Watcher) runLogged(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
		w.logger.Error("drift pass failed", "error", err)
	}
}

// RunOnce resolves the registry against a freshly opened catalog and
// compares the result with the previous pass.
func (w *Watcher) RunOnce(ctx context.Context) (Report, error) {
	if w == nil {
		return Report{}, errors.New("drift: watcher is nil")
	}

	cat, err := w.source(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("drift: open catalog: %w", err)
	}
	result, err := w.resolver.Resolve(ctx, w.registry, cat)
	if err != nil {
		return Report{}, err
	}

	w.mu.Lock()
	prev := w.last
	w.last = result
	w.mu.Unlock()

	if w.history != nil {
		if prev == nil {
			prev = w.recordedRun(ctx)
		}
		run := history.NewRun(catalog.VersionOf(cat), result, w.now())
		if err := w.history.Append(ctx, run); err != nil {
			w.logger.Warn("recording run failed", "run_id", result.RunID, "error", err)
		}
	}

	report := Compare(prev, result)
	if prev != nil && report.HasChanges() {
		for _, c := range report.Changes {
			w.logger.Info("drift detected",
				"run_id", result.RunID,
				"ordinal", c.Entry.Ordinal,
				"tool", c.Entry.Key().String(),
				"kind", string(c.Kind),
				"before", c.Before,
				"after", c.After,
			)
		}
	}
	w.onReport(report)
	return report, nil
}

func (w *Watcher) recordedRun(ctx context.Context) *resolve.Result {
	run, ok, err := w.history.Latest(ctx)
	if err != nil {
		w.logger.Warn("reading run history failed", "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	return run.Result
}

// Last returns the most recent result, or nil before the first pass.
func (w *Watcher) Last() *resolve.Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Package otel provides OpenTelemetry integration for registry resolution runs.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/toolreg/resolve"
)

const (
	outcomeResolved = "resolved"
)

// ResolveObserver records resolver events as OpenTelemetry metrics and spans.
// It implements resolve.Observer. Library spans are held until their run
// finishes and are then emitted as children of the resolve.run span.
type ResolveObserver struct {
	tracer trace.Tracer

	mu      sync.Mutex
	pending map[string][]resolve.LibraryObservation

	runs            metric.Int64Counter
	entries         metric.Int64Counter
	timeouts        metric.Int64Counter
	libraryDuration metric.Float64Histogram
	runDuration     metric.Float64Histogram
}

var _ resolve.Observer = (*ResolveObserver)(nil)

// NewResolveObserver creates an observer bound to the provided meter/tracer.
// tracer may be nil to record metrics only.
func NewResolveObserver(meter metric.Meter, tracer trace.Tracer) (*ResolveObserver, error) {
	runs, err := meter.Int64Counter(
		"toolreg.resolve.runs",
		metric.WithDescription("Number of resolution runs"),
	)
	if err != nil {
		return nil, err
	}
	entries, err := meter.Int64Counter(
		"toolreg.resolve.entries",
		metric.WithDescription("Number of registry entries classified, by outcome"),
	)
	if err != nil {
		return nil, err
	}
	timeouts, err := meter.Int64Counter(
		"toolreg.resolve.library.timeouts",
		metric.WithDescription("Number of library groups demoted after exceeding their timeout"),
	)
	if err != nil {
		return nil, err
	}
	libDur, err := meter.Float64Histogram(
		"toolreg.resolve.library.duration",
		metric.WithDescription("Duration of one library group in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	runDur, err := meter.Float64Histogram(
		"toolreg.resolve.run.duration",
		metric.WithDescription("Duration of a resolution run in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &ResolveObserver{
		tracer:          tracer,
		pending:         make(map[string][]resolve.LibraryObservation),
		runs:            runs,
		entries:         entries,
		timeouts:        timeouts,
		libraryDuration: libDur,
		runDuration:     runDur,
	}, nil
}

// ObserveLibrary records one library group.
func (o *ResolveObserver) ObserveLibrary(obs resolve.LibraryObservation) {
	if o == nil {
		return
	}

	ctx := context.Background()
	libAttr := attribute.String("library", obs.Library)

	skipOutcome := string(resolve.ReasonToolMissing)
	if !obs.Available {
		skipOutcome = string(resolve.ReasonLibraryUnavailable)
	}
	if obs.Resolved > 0 {
		o.entries.Add(ctx, int64(obs.Resolved), metric.WithAttributes(libAttr, attribute.String("outcome", outcomeResolved)))
	}
	if obs.Skipped > 0 {
		o.entries.Add(ctx, int64(obs.Skipped), metric.WithAttributes(libAttr, attribute.String("outcome", skipOutcome)))
	}
	if obs.TimedOut {
		o.timeouts.Add(ctx, 1, metric.WithAttributes(libAttr))
	}
	o.libraryDuration.Record(ctx, obs.Duration.Seconds(), metric.WithAttributes(
		libAttr,
		attribute.Bool("available", obs.Available),
	))

	if o.tracer == nil {
		return
	}
	o.mu.Lock()
	o.pending[obs.RunID] = append(o.pending[obs.RunID], obs)
	o.mu.Unlock()
}

func (o *ResolveObserver) emitLibrarySpan(ctx context.Context, obs resolve.LibraryObservation) {
	_, span := o.tracer.Start(ctx, "resolve.library",
		trace.WithTimestamp(obs.Started),
		trace.WithAttributes(
			attribute.String("toolreg.run_id", obs.RunID),
			attribute.String("library", obs.Library),
			attribute.Int("entries", obs.Entries),
			attribute.Int("resolved", obs.Resolved),
			attribute.Int("skipped", obs.Skipped),
			attribute.Bool("timed_out", obs.TimedOut),
		),
	)
	if !obs.Available {
		span.SetStatus(codes.Error, string(resolve.ReasonLibraryUnavailable))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(obs.Started.Add(obs.Duration)))
}

// ObserveRun records one finished run and flushes its library spans. Skips
// never mark the span as an error; a run with skips is still a successful
// run. Only cancellation does.
func (o *ResolveObserver) ObserveRun(obs resolve.RunObservation) {
	if o == nil {
		return
	}

	ctx := context.Background()
	cancelled := attribute.Bool("cancelled", obs.Cancelled)
	o.runs.Add(ctx, 1, metric.WithAttributes(cancelled))
	o.runDuration.Record(ctx, obs.Duration.Seconds(), metric.WithAttributes(cancelled))

	if o.tracer == nil {
		return
	}
	o.mu.Lock()
	libraries := o.pending[obs.RunID]
	delete(o.pending, obs.RunID)
	o.mu.Unlock()

	runCtx, span := o.tracer.Start(ctx, "resolve.run",
		trace.WithTimestamp(obs.Started),
		trace.WithAttributes(
			attribute.String("toolreg.run_id", obs.RunID),
			attribute.Int("libraries", obs.Libraries),
			attribute.Int("entries", obs.Entries),
			attribute.Int("resolved", obs.Resolved),
			attribute.Int("skipped", obs.Skipped),
			attribute.Int("tool_missing", obs.ByReason[resolve.ReasonToolMissing]),
			attribute.Int("library_unavailable", obs.ByReason[resolve.ReasonLibraryUnavailable]),
			cancelled,
		),
	)
	for _, lib := range libraries {
		o.emitLibrarySpan(runCtx, lib)
	}
	if obs.Cancelled {
		span.SetStatus(codes.Error, "cancelled")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(obs.Started.Add(obs.Duration)))
}

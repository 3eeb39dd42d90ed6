package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/petal-labs/toolreg/catalog"
	"github.com/petal-labs/toolreg/registry"
)

func quietOptions() Options {
	return Options{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		NewRunID: func() string { return "run-test" },
	}
}

func mustLoad(t *testing.T, records ...registry.Record) *registry.Registry {
	t.Helper()
	reg, err := registry.Load(records)
	if err != nil {
		t.Fatalf("registry.Load() error = %v", err)
	}
	return reg
}

func rec(lib string, index int, name string) registry.Record {
	return registry.Record{Library: lib, Index: index, Name: name}
}

// exampleCatalog: library A exposes tool 0 only, library B is absent.
func exampleCatalog() *catalog.Memory {
	m := catalog.NewMemory("test")
	m.AddTool(catalog.Tool{Library: "A", Index: 0, Name: "X"})
	return m
}

type flat struct {
	Library  string
	Index    int
	Ordinal  int
	Resolved bool
	Reason   Reason
}

func flatten(r *Result) []flat {
	var out []flat
	for _, o := range r.Outcomes() {
		out = append(out, flat{o.Entry.Library, o.Entry.Index, o.Entry.Ordinal, o.Resolved, o.Reason})
	}
	return out
}

func TestResolveWorkedExample(t *testing.T) {
	reg := mustLoad(t, rec("A", 0, "X"), rec("A", 1, "Y"), rec("B", 0, "Z"))
	cat := catalog.NewCounting(exampleCatalog())

	result, err := New(quietOptions()).Resolve(context.Background(), reg, cat)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if len(result.Resolved) != 1 {
		t.Fatalf("resolved = %+v", result.Resolved)
	}
	got := result.Resolved[0]
	if got.Library != "A" || got.Index != 0 || got.Name != "X" || got.Ordinal != 0 || got.Tool.Name != "X" {
		t.Errorf("resolved[0] = %+v", got)
	}

	if len(result.Skipped) != 2 {
		t.Fatalf("skipped = %+v", result.Skipped)
	}
	if s := result.Skipped[0]; s.Library != "A" || s.Index != 1 || s.Reason != ReasonToolMissing || s.Ordinal != 1 {
		t.Errorf("skipped[0] = %+v", s)
	}
	if s := result.Skipped[1]; s.Library != "B" || s.Index != 0 || s.Reason != ReasonLibraryUnavailable || s.Ordinal != 2 {
		t.Errorf("skipped[1] = %+v", s)
	}

	if cat.Enumerations("A") != 1 || cat.Enumerations("B") != 1 {
		t.Errorf("enumerations A=%d B=%d, want 1 each", cat.Enumerations("A"), cat.Enumerations("B"))
	}
	if cat.Fetches("A") != 1 || cat.Fetches("B") != 0 {
		t.Errorf("fetches A=%d B=%d, want 1 and 0", cat.Fetches("A"), cat.Fetches("B"))
	}
	if result.RunID != "run-test" {
		t.Errorf("RunID = %q", result.RunID)
	}
}

func TestResolveEmptyRegistryIssuesNoQueries(t *testing.T) {
	reg := mustLoad(t)
	cat := catalog.NewCounting(exampleCatalog())

	result, err := New(quietOptions()).Resolve(context.Background(), reg, cat)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(result.Resolved) != 0 || len(result.Skipped) != 0 {
		t.Errorf("result = %+v, want empty", result)
	}
	if cat.Queries() != 0 {
		t.Errorf("queries = %d, want 0", cat.Queries())
	}
}

func TestDuplicateKeyFailsBeforeAnyQuery(t *testing.T) {
	cat := catalog.NewCounting(exampleCatalog())
	reg, err := registry.Load([]registry.Record{rec("A", 0, "X"), rec("A", 0, "X2")})
	if !errors.Is(err, registry.ErrDuplicateKey) {
		t.Fatalf("Load() error = %v, want ErrDuplicateKey", err)
	}
	if _, err := New(quietOptions()).Resolve(context.Background(), reg, cat); err == nil {
		t.Error("Resolve(nil registry) should fail")
	}
	if cat.Queries() != 0 {
		t.Errorf("queries = %d, want 0", cat.Queries())
	}
}

func largeFixture() ([]registry.Record, *catalog.Memory) {
	var records []registry.Record
	m := catalog.NewMemory("large")
	for lib := 0; lib < 12; lib++ {
		name := fmt.Sprintf("lib_%02d", lib)
		if lib%5 != 4 {
			m.AddLibrary(name)
		}
		for idx := 0; idx < 6; idx++ {
			records = append(records, rec(name, idx, fmt.Sprintf("Tool %d.%d", lib, idx)))
			if lib%5 != 4 && idx%3 != 2 {
				m.AddTool(catalog.Tool{Library: name, Index: idx, Name: fmt.Sprintf("Tool %d.%d", lib, idx)})
			}
		}
	}
	// Interleave libraries so ordinal order differs from grouping order.
	interleaved := make([]registry.Record, 0, len(records))
	for idx := 0; idx < 6; idx++ {
		for lib := 0; lib < 12; lib++ {
			interleaved = append(interleaved, records[lib*6+idx])
		}
	}
	return interleaved, m
}

func TestResolveIsDeterministicAndOrdinalOrdered(t *testing.T) {
	records, cat := largeFixture()
	reg := mustLoad(t, records...)
	opts := quietOptions()
	opts.MaxConcurrency = 8

	first, err := New(opts).Resolve(context.Background(), reg, cat)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := New(opts).Resolve(context.Background(), reg, cat)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs from first run", i)
		}
	}

	for i := 1; i < len(first.Resolved); i++ {
		if first.Resolved[i-1].Ordinal >= first.Resolved[i].Ordinal {
			t.Fatalf("resolved not in ordinal order at %d", i)
		}
	}
	for i := 1; i < len(first.Skipped); i++ {
		if first.Skipped[i-1].Ordinal >= first.Skipped[i].Ordinal {
			t.Fatalf("skipped not in ordinal order at %d", i)
		}
	}
	if n := len(first.Resolved) + len(first.Skipped); n != reg.Len() {
		t.Errorf("classified %d entries, registry has %d", n, reg.Len())
	}
}

func TestResolveAppendPreservesExistingOutcomes(t *testing.T) {
	records, cat := largeFixture()
	base := mustLoad(t, records...)

	before, err := New(quietOptions()).Resolve(context.Background(), base, cat)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	for _, extra := range []registry.Record{
		rec("lib_00", 99, "New tool in known library"),
		rec("lib_00", 2, "Hmm"),
		rec("brand_new", 0, "New library"),
	} {
		if base.Has(extra.Library, extra.Index) {
			continue
		}
		extended := mustLoad(t, append(append([]registry.Record{}, records...), extra)...)
		after, err := New(quietOptions()).Resolve(context.Background(), extended, cat)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		got := flatten(after)
		want := flatten(before)
		if !reflect.DeepEqual(got[:len(want)], want) {
			t.Errorf("appending %+v changed existing outcomes", extra)
		}
		if last := got[len(got)-1]; last.Ordinal != len(records) {
			t.Errorf("appended entry ordinal = %d, want %d", last.Ordinal, len(records))
		}
	}
}

func TestResolveRenamePreservesOrdinalAndOutcome(t *testing.T) {
	reg := mustLoad(t, rec("A", 0, "X"), rec("A", 1, "Y"), rec("B", 0, "Z"))
	renamed, err := reg.Rename("A", 0, "X (new name)")
	if err != nil {
		t.Fatalf("Rename() error = %v", err)
	}

	before, err := New(quietOptions()).Resolve(context.Background(), reg, exampleCatalog())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	after, err := New(quietOptions()).Resolve(context.Background(), renamed, exampleCatalog())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !reflect.DeepEqual(flatten(before), flatten(after)) {
		t.Errorf("rename changed outcomes:\n%+v\n%+v", flatten(before), flatten(after))
	}
	if after.Resolved[0].Name != "X (new name)" || after.Resolved[0].Ordinal != 0 {
		t.Errorf("renamed entry = %+v", after.Resolved[0])
	}
}

// scriptedCatalog lets tests inject failures and delays per library.
type scriptedCatalog struct {
	inner      catalog.Catalog
	enumErr    map[string]error
	fetchErr   map[string]error
	block      map[string]bool
	ignoreCtx  bool
	release    chan struct{}
	mu         sync.Mutex
	active     map[string]int
	reentrance bool
}

func newScripted(inner catalog.Catalog) *scriptedCatalog {
	return &scriptedCatalog{
		inner:    inner,
		enumErr:  map[string]error{},
		fetchErr: map[string]error{},
		block:    map[string]bool{},
		release:  make(chan struct{}),
		active:   map[string]int{},
	}
}

func (s *scriptedCatalog) enter(library string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[library]++
	if s.active[library] > 1 {
		s.reentrance = true
	}
}

func (s *scriptedCatalog) leave(library string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[library]--
}

func (s *scriptedCatalog) Enumerate(ctx context.Context, library string) (mapset.Set[int], error) {
	s.enter(library)
	defer s.leave(library)
	if s.block[library] {
		if s.ignoreCtx {
			<-s.release
		} else {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-s.release:
			}
		}
	}
	if err := s.enumErr[library]; err != nil {
		return nil, err
	}
	return s.inner.Enumerate(ctx, library)
}

func (s *scriptedCatalog) FetchMetadata(ctx context.Context, library string, index int) (catalog.Tool, error) {
	s.enter(library)
	defer s.leave(library)
	time.Sleep(100 * time.Microsecond)
	if err := s.fetchErr[library]; err != nil {
		return catalog.Tool{}, err
	}
	return s.inner.FetchMetadata(ctx, library, index)
}

func TestResolveEnumerateFailureDemotesLibrary(t *testing.T) {
	m := catalog.NewMemory("v")
	m.AddTool(catalog.Tool{Library: "A", Index: 0, Name: "X"})
	m.AddTool(catalog.Tool{Library: "B", Index: 0, Name: "Z"})
	cat := newScripted(m)
	cat.enumErr["A"] = errors.New("plugin failed to load")

	reg := mustLoad(t, rec("A", 0, "X"), rec("B", 0, "Z"), rec("A", 1, "Y"))
	result, err := New(quietOptions()).Resolve(context.Background(), reg, cat)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(result.Resolved) != 1 || result.Resolved[0].Library != "B" {
		t.Fatalf("resolved = %+v", result.Resolved)
	}
	for _, s := range result.Skipped {
		if s.Library != "A" || s.Reason != ReasonLibraryUnavailable {
			t.Errorf("skip = %+v", s)
		}
		if s.Detail != "plugin failed to load" {
			t.Errorf("detail = %q", s.Detail)
		}
	}
}

func TestResolveFetchFailureSkipsOnlyThatEntry(t *testing.T) {
	m := catalog.NewMemory("v")
	m.AddTool(catalog.Tool{Library: "A", Index: 0, Name: "X"})
	m.AddTool(catalog.Tool{Library: "A", Index: 1, Name: "Y"})
	cat := newScripted(m)
	cat.fetchErr["A"] = fmt.Errorf("%w: vanished", catalog.ErrToolMissing)

	reg := mustLoad(t, rec("A", 0, "X"), rec("A", 1, "Y"))
	result, err := New(quietOptions()).Resolve(context.Background(), reg, cat)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(result.Skipped) != 2 {
		t.Fatalf("skipped = %+v", result.Skipped)
	}
	for _, s := range result.Skipped {
		if s.Reason != ReasonToolMissing {
			t.Errorf("skip reason = %q, want tool_missing", s.Reason)
		}
	}
}

func TestResolveLibraryTimeoutDemotesGroup(t *testing.T) {
	for _, ignoreCtx := range []bool{false, true} {
		t.Run(fmt.Sprintf("ignoreCtx=%v", ignoreCtx), func(t *testing.T) {
			cat := newScripted(exampleCatalog())
			cat.block["A"] = true
			cat.ignoreCtx = ignoreCtx
			defer close(cat.release)

			m := exampleCatalog()
			m.AddTool(catalog.Tool{Library: "C", Index: 0, Name: "W"})
			cat.inner = m

			reg := mustLoad(t, rec("A", 0, "X"), rec("C", 0, "W"), rec("A", 1, "Y"))
			opts := quietOptions()
			opts.LibraryTimeout = 20 * time.Millisecond

			start := time.Now()
			result, err := New(opts).Resolve(context.Background(), reg, cat)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if time.Since(start) > 5*time.Second {
				t.Fatalf("resolution stalled for %v", time.Since(start))
			}

			if len(result.Resolved) != 1 || result.Resolved[0].Library != "C" {
				t.Fatalf("resolved = %+v", result.Resolved)
			}
			if len(result.Skipped) != 2 {
				t.Fatalf("skipped = %+v", result.Skipped)
			}
			for _, s := range result.Skipped {
				if s.Library != "A" || s.Reason != ReasonLibraryUnavailable {
					t.Errorf("skip = %+v", s)
				}
			}
		})
	}
}

func TestResolveNeverQueriesOneLibraryConcurrently(t *testing.T) {
	records, m := largeFixture()
	reg := mustLoad(t, records...)
	scripted := newScripted(m)
	cat := catalog.NewSerialized(scripted)
	opts := quietOptions()
	opts.MaxConcurrency = 16

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := New(opts).Resolve(context.Background(), reg, cat); err != nil {
				t.Errorf("Resolve() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if scripted.reentrance {
		t.Error("a library was queried by two callers at once")
	}
}

// peakCatalog records the highest number of libraries enumerated at once.
// Each Enumerate waits until a second one is in flight (or a short grace
// period passes) so overlap is observable.
type peakCatalog struct {
	catalog.Catalog

	mu       sync.Mutex
	inFlight int
	peak     int
	overlap  chan struct{}
	once     sync.Once
}

func (p *peakCatalog) Enumerate(ctx context.Context, library string) (mapset.Set[int], error) {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.peak {
		p.peak = p.inFlight
	}
	if p.inFlight > 1 {
		p.once.Do(func() { close(p.overlap) })
	}
	p.mu.Unlock()

	select {
	case <-p.overlap:
		time.Sleep(2 * time.Millisecond)
	case <-time.After(time.Second):
	}

	p.mu.Lock()
	p.inFlight--
	p.mu.Unlock()
	return p.Catalog.Enumerate(ctx, library)
}

func TestResolveBoundsConcurrentLibraries(t *testing.T) {
	m := catalog.NewMemory("v")
	var records []registry.Record
	for i := 0; i < 10; i++ {
		lib := fmt.Sprintf("lib_%02d", i)
		m.AddTool(catalog.Tool{Library: lib, Index: 0, Name: "T"})
		records = append(records, rec(lib, 0, "T"))
	}
	reg := mustLoad(t, records...)
	cat := &peakCatalog{Catalog: m, overlap: make(chan struct{})}

	opts := quietOptions()
	opts.MaxConcurrency = 2
	result, err := New(opts).Resolve(context.Background(), reg, cat)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(result.Resolved) != 10 {
		t.Fatalf("resolved = %d, want 10", len(result.Resolved))
	}

	cat.mu.Lock()
	peak := cat.peak
	cat.mu.Unlock()
	if peak > 2 {
		t.Errorf("peak concurrent libraries = %d, want at most 2", peak)
	}
	if peak < 2 {
		t.Errorf("peak concurrent libraries = %d, want libraries queried in parallel", peak)
	}
}

func TestResolveCancelledContextReturnsNoResult(t *testing.T) {
	reg := mustLoad(t, rec("A", 0, "X"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := New(quietOptions()).Resolve(ctx, reg, exampleCatalog())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Resolve() error = %v, want context.Canceled", err)
	}
	if result != nil {
		t.Errorf("result = %+v, want nil", result)
	}
}

func TestResolveRejectsNilInputs(t *testing.T) {
	reg := mustLoad(t)
	if _, err := Resolve(context.Background(), nil, exampleCatalog()); err == nil {
		t.Error("nil registry should fail")
	}
	if _, err := Resolve(context.Background(), reg, nil); err == nil {
		t.Error("nil catalog should fail")
	}
}

type recordingObserver struct {
	mu        sync.Mutex
	libraries []LibraryObservation
	runs      []RunObservation
}

func (o *recordingObserver) ObserveLibrary(obs LibraryObservation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.libraries = append(o.libraries, obs)
}

func (o *recordingObserver) ObserveRun(obs RunObservation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs = append(o.runs, obs)
}

func TestResolveNotifiesObserver(t *testing.T) {
	reg := mustLoad(t, rec("A", 0, "X"), rec("A", 1, "Y"), rec("B", 0, "Z"))
	obs := &recordingObserver{}
	opts := quietOptions()
	opts.Observer = obs

	if _, err := New(opts).Resolve(context.Background(), reg, exampleCatalog()); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(obs.runs) != 1 {
		t.Fatalf("runs observed = %d", len(obs.runs))
	}
	run := obs.runs[0]
	if run.Entries != 3 || run.Resolved != 1 || run.Skipped != 2 || run.Libraries != 2 {
		t.Errorf("run observation = %+v", run)
	}
	if run.ByReason[ReasonToolMissing] != 1 || run.ByReason[ReasonLibraryUnavailable] != 1 {
		t.Errorf("by reason = %v", run.ByReason)
	}
	if len(obs.libraries) != 2 {
		t.Fatalf("libraries observed = %d", len(obs.libraries))
	}
	for _, lib := range obs.libraries {
		switch lib.Library {
		case "A":
			if !lib.Available || lib.Resolved != 1 || lib.Skipped != 1 {
				t.Errorf("A observation = %+v", lib)
			}
		case "B":
			if lib.Available || lib.Skipped != 1 {
				t.Errorf("B observation = %+v", lib)
			}
		}
	}
}

func TestResolveReportsCancelledRunToObserver(t *testing.T) {
	cat := newScripted(exampleCatalog())
	cat.block["A"] = true
	defer close(cat.release)

	obs := &recordingObserver{}
	opts := quietOptions()
	opts.Observer = obs

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	reg := mustLoad(t, rec("A", 0, "X"))
	if _, err := New(opts).Resolve(ctx, reg, cat); !errors.Is(err, context.Canceled) {
		t.Fatalf("Resolve() error = %v, want context.Canceled", err)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.runs) != 1 || !obs.runs[0].Cancelled || obs.runs[0].RunID != "run-test" {
		t.Fatalf("runs observed = %+v, want one cancelled run", obs.runs)
	}
	if len(obs.libraries) != 1 {
		t.Errorf("libraries observed = %d, want 1", len(obs.libraries))
	}
}

package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/petal-labs/toolreg/catalog"
	"github.com/petal-labs/toolreg/history"
	toolotel "github.com/petal-labs/toolreg/otel"
	"github.com/petal-labs/toolreg/registry"
	"github.com/petal-labs/toolreg/resolve"
)

const instrumentationName = "github.com/petal-labs/toolreg"

// RegisterGlobalFlags adds the persistent flags shared by every command.
func RegisterGlobalFlags(root *cobra.Command) {
	root.PersistentFlags().String("config", "", "Path to config file (default: ./toolreg.yaml, then ~/.toolreg/config.yaml)")
	root.PersistentFlags().Bool("verbose", false, "Enable verbose/debug logging")
	root.PersistentFlags().Bool("quiet", false, "Suppress all output except errors")
}

// settings is the merged view of the config file and command-line flags.
type settings struct {
	registry     string
	snapshot     string
	store        string
	version      string
	concurrency  int
	timeout      time.Duration
	otlpEndpoint string
	otlpInsecure bool
	schedule     string
	history      string
}

func addRegistryFlag(cmd *cobra.Command) {
	cmd.Flags().String("registry", "", "Registry source file, YAML or JSON (default: built-in registry)")
}

func addCatalogFlags(cmd *cobra.Command) {
	cmd.Flags().String("catalog", "", "Catalog snapshot file, YAML or JSON")
	cmd.Flags().String("store", "", "Path to SQLite catalog store (default: ~/.toolreg/catalog.db)")
	cmd.Flags().String("version", "", "Toolkit version in the catalog store (default: highest stored version)")
}

func addHistoryFlag(cmd *cobra.Command) {
	cmd.Flags().String("history", "", "Path to SQLite run history (default: ~/.toolreg/history.db)")
}

func addResolveFlags(cmd *cobra.Command) {
	cmd.Flags().Int("concurrency", 0, "Maximum number of libraries queried at once (default 4)")
	cmd.Flags().Duration("timeout", 0, "Per-library timeout (default 30s)")
	cmd.Flags().String("otlp-endpoint", "", "Export resolution traces to this OTLP/HTTP collector (host:port)")
	cmd.Flags().Bool("otlp-insecure", false, "Use plain HTTP for OTLP export")
}

// loadSettings discovers and reads the config file, then applies any flag
// the user set explicitly.
func loadSettings(cmd *cobra.Command) (settings, error) {
	explicit, _ := cmd.Flags().GetString("config")
	path, found, err := DiscoverConfigPath(explicit)
	if err != nil {
		return settings{}, exitError(exitValidation, "%v", err)
	}
	var cfg Config
	if found {
		cfg, err = LoadConfig(path)
		if err != nil {
			return settings{}, exitError(exitValidation, "loading config: %v", err)
		}
	}

	s := settings{
		registry:     cfg.Registry,
		snapshot:     cfg.Catalog.Snapshot,
		store:        cfg.Catalog.Store,
		version:      cfg.Catalog.Version,
		concurrency:  cfg.Concurrency,
		otlpEndpoint: cfg.OTLPEndpoint,
		otlpInsecure: cfg.OTLPInsecure,
		schedule:     cfg.Schedule,
		history:      cfg.History,
	}
	if cfg.LibraryTimeout != "" {
		// Already validated by LoadConfig.
		s.timeout, _ = time.ParseDuration(cfg.LibraryTimeout)
	}

	flags := cmd.Flags()
	if flags.Changed("registry") {
		s.registry, _ = flags.GetString("registry")
	}
	storeChosen := flags.Changed("store") || flags.Changed("version")
	if flags.Changed("catalog") {
		s.snapshot, _ = flags.GetString("catalog")
	} else if storeChosen {
		s.snapshot = ""
	}
	if flags.Changed("store") {
		s.store, _ = flags.GetString("store")
	}
	if flags.Changed("version") {
		s.version, _ = flags.GetString("version")
	}
	if flags.Changed("concurrency") {
		s.concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("timeout") {
		s.timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("otlp-endpoint") {
		s.otlpEndpoint, _ = flags.GetString("otlp-endpoint")
	}
	if flags.Changed("otlp-insecure") {
		s.otlpInsecure, _ = flags.GetBool("otlp-insecure")
	}
	if flags.Changed("schedule") {
		s.schedule, _ = flags.GetString("schedule")
	}
	if flags.Changed("history") {
		s.history, _ = flags.GetString("history")
	}

	if s.concurrency < 0 {
		return settings{}, exitError(exitValidation, "concurrency must be >= 0")
	}
	if s.timeout < 0 {
		return settings{}, exitError(exitValidation, "timeout must be >= 0")
	}
	return s, nil
}

// commandLogger builds the slog logger for a command from --verbose/--quiet.
// Log output goes to stderr so stdout stays machine-readable.
func commandLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func readRecords(s settings) ([]registry.Record, string, error) {
	if s.registry == "" {
		records, err := registry.DefaultRecords()
		if err != nil {
			return nil, "", exitError(exitRuntime, "loading built-in registry: %v", err)
		}
		return records, registry.DefaultSourceName, nil
	}
	records, err := registry.ReadFile(s.registry)
	if err != nil {
		return nil, "", registryError(s.registry, err)
	}
	return records, s.registry, nil
}

func openRegistry(s settings) (*registry.Registry, error) {
	records, source, err := readRecords(s)
	if err != nil {
		return nil, err
	}
	reg, err := registry.Load(records)
	if err != nil {
		return nil, exitError(exitValidation, "%s: %v", source, err)
	}
	return reg, nil
}

func registryError(path string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return exitError(exitRuntime, "registry file not found: %s", path)
	}
	return exitError(exitValidation, "%v", err)
}

func openHistory(s settings) (*history.SQLiteStore, error) {
	path := s.history
	if path == "" {
		var err error
		if path, err = history.DefaultSQLitePath(); err != nil {
			return nil, exitError(exitRuntime, "%v", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, exitError(exitRuntime, "creating history dir: %v", err)
		}
	}
	store, err := history.NewSQLiteStore(history.SQLiteStoreConfig{DSN: path})
	if err != nil {
		return nil, exitError(exitRuntime, "opening run history: %v", err)
	}
	return store, nil
}

// newResolver builds a resolver from settings. When an OTLP endpoint is
// configured the returned shutdown func flushes pending spans.
func newResolver(ctx context.Context, s settings, logger *slog.Logger) (*resolve.Resolver, func(context.Context) error, error) {
	opts := resolve.Options{
		MaxConcurrency: s.concurrency,
		LibraryTimeout: s.timeout,
		Logger:         logger,
	}
	shutdown := func(context.Context) error { return nil }

	if strings.TrimSpace(s.otlpEndpoint) != "" {
		tp, err := toolotel.NewTracerProvider(ctx, toolotel.TracingConfig{
			Endpoint: s.otlpEndpoint,
			Insecure: s.otlpInsecure,
		})
		if err != nil {
			return nil, nil, exitError(exitValidation, "configuring tracing: %v", err)
		}
		otel.SetTracerProvider(tp)
		obs, err := toolotel.NewResolveObserver(
			otel.GetMeterProvider().Meter(instrumentationName),
			tp.Tracer(instrumentationName),
		)
		if err != nil {
			_ = tp.Shutdown(ctx)
			return nil, nil, exitError(exitRuntime, "creating resolve observer: %v", err)
		}
		opts.Observer = obs
		shutdown = tp.Shutdown
	}
	return resolve.New(opts), shutdown, nil
}

// catalogOpener opens catalogs named by settings or by a command argument.
// A SQLite store is opened at most once and shared until close.
type catalogOpener struct {
	settings settings
	store    *catalog.SQLiteStore
}

func (o *catalogOpener) openStore() (*catalog.SQLiteStore, error) {
	if o.store != nil {
		return o.store, nil
	}
	var (
		store *catalog.SQLiteStore
		err   error
	)
	if o.settings.store == "" {
		store, err = catalog.NewDefaultSQLiteStore()
	} else {
		store, err = catalog.NewSQLiteStore(catalog.SQLiteStoreConfig{DSN: o.settings.store})
	}
	if err != nil {
		return nil, exitError(exitRuntime, "opening catalog store: %v", err)
	}
	o.store = store
	return store, nil
}

func (o *catalogOpener) close() {
	if o.store != nil {
		_ = o.store.Close()
		o.store = nil
	}
}

// open returns the catalog selected by settings and a label naming it.
// Every catalog is wrapped so a library is never queried concurrently.
func (o *catalogOpener) open(ctx context.Context) (catalog.Catalog, string, error) {
	if o.settings.snapshot != "" {
		return openSnapshot(o.settings.snapshot)
	}
	return o.openVersion(ctx, o.settings.version)
}

// openRef treats ref as a snapshot file when one exists at that path and as
// a stored version otherwise.
func (o *catalogOpener) openRef(ctx context.Context, ref string) (catalog.Catalog, string, error) {
	if info, err := os.Stat(ref); err == nil && !info.IsDir() {
		return openSnapshot(ref)
	}
	return o.openVersion(ctx, ref)
}

func (o *catalogOpener) openVersion(ctx context.Context, version string) (catalog.Catalog, string, error) {
	store, err := o.openStore()
	if err != nil {
		return nil, "", err
	}
	version, err = pickVersion(ctx, store, version)
	if err != nil {
		return nil, "", err
	}
	return catalog.NewSerialized(store.Catalog(version)), version, nil
}

func openSnapshot(path string) (catalog.Catalog, string, error) {
	snap, err := catalog.LoadSnapshotFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", exitError(exitRuntime, "catalog snapshot not found: %s", path)
		}
		return nil, "", exitError(exitValidation, "%v", err)
	}
	return catalog.NewSerialized(snap.Memory()), snap.Version, nil
}

// pickVersion checks that version is stored. An empty version selects the
// highest stored version by catalog.CompareVersions.
func pickVersion(ctx context.Context, store *catalog.SQLiteStore, version string) (string, error) {
	versions, err := store.Versions(ctx)
	if err != nil {
		return "", exitError(exitRuntime, "listing catalog versions: %v", err)
	}
	if len(versions) == 0 {
		return "", exitError(exitValidation, "catalog store is empty; run 'toolreg catalog import <snapshot>' first")
	}
	version = strings.TrimSpace(version)
	if version == "" {
		return versions[len(versions)-1].Version, nil
	}
	for _, v := range versions {
		if v.Version == version {
			return version, nil
		}
	}
	return "", exitError(exitValidation, "catalog version %q not found", version)
}

func formatError(format string) error {
	switch format {
	case "text", "json":
		return nil
	default:
		return exitError(exitValidation, "unknown format %q (want text or json)", format)
	}
}

func pluralize(word string, n int) string {
	switch {
	case n == 1:
		return word
	case strings.HasSuffix(word, "ch"), strings.HasSuffix(word, "s"):
		return word + "es"
	case strings.HasSuffix(word, "y"):
		return strings.TrimSuffix(word, "y") + "ies"
	default:
		return word + "s"
	}
}

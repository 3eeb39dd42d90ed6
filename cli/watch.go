package cli

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolreg/catalog"
	"github.com/petal-labs/toolreg/drift"
	"github.com/petal-labs/toolreg/history"
)

const defaultWatchSchedule = "@hourly"

// NewWatchCmd creates the "watch" subcommand.
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-resolve the registry on a schedule and report drift",
		Long: "Resolve the registry on a cron schedule (5-field expression or descriptor such as " +
			"@hourly or @every 10m) and print entries whose classification changed since the " +
			"previous pass. The catalog is reopened on every pass.",
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
	addRegistryFlag(cmd)
	addCatalogFlags(cmd)
	addResolveFlags(cmd)
	cmd.Flags().String("schedule", defaultWatchSchedule, "Cron schedule for resolution passes")
	cmd.Flags().Bool("once", false, "Run a single pass and exit")
	cmd.Flags().Bool("record", false, "Record passes in the run history and compare the first pass against it")
	addHistoryFlag(cmd)
	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if s.schedule == "" {
		s.schedule = defaultWatchSchedule
	}
	reg, err := openRegistry(s)
	if err != nil {
		return err
	}

	logger := commandLogger(cmd)
	resolver, shutdown, err := newResolver(cmd.Context(), s, logger)
	if err != nil {
		return err
	}
	defer flushTracing(shutdown)

	opener := &catalogOpener{settings: s}
	defer opener.close()

	var runs history.Store
	if record, _ := cmd.Flags().GetBool("record"); record {
		store, err := openHistory(s)
		if err != nil {
			return err
		}
		defer store.Close()
		runs = store
	}

	out := cmd.OutOrStdout()
	var outMu sync.Mutex
	watcher, err := drift.NewWatcher(drift.WatcherConfig{
		Schedule: s.schedule,
		Registry: reg,
		Resolver: resolver,
		History:  runs,
		Logger:   logger,
		Source: func(ctx context.Context) (catalog.Catalog, error) {
			cat, _, err := opener.open(ctx)
			return cat, err
		},
		OnReport: func(report drift.Report) {
			outMu.Lock()
			defer outMu.Unlock()
			writeWatchReport(out, report)
		},
	})
	if err != nil {
		return exitError(exitValidation, "%v", err)
	}

	if once, _ := cmd.Flags().GetBool("once"); once {
		if _, err := watcher.RunOnce(cmd.Context()); err != nil {
			return exitError(exitRuntime, "%v", err)
		}
		return nil
	}

	if err := watcher.Start(cmd.Context()); err != nil {
		return exitError(exitRuntime, "starting watcher: %v", err)
	}
	<-cmd.Context().Done()
	return watcher.Stop(context.Background())
}

// writeWatchReport prints one pass. The first pass reports every entry as
// added, so only its totals are printed.
func writeWatchReport(w io.Writer, report drift.Report) {
	if report.PreviousRunID == "" {
		counts := map[string]int{}
		for _, c := range report.Changes {
			counts[c.After]++
		}
		fmt.Fprintf(w, "run %s: %d resolved, %d tool_missing, %d library_unavailable\n",
			report.RunID, counts["resolved"], counts["tool_missing"], counts["library_unavailable"])
		return
	}
	if !report.HasChanges() {
		fmt.Fprintf(w, "run %s: no drift\n", report.RunID)
		return
	}
	fmt.Fprintf(w, "run %s: %d %s\n", report.RunID, len(report.Changes), pluralize("change", len(report.Changes)))
	for _, c := range report.Changes {
		fmt.Fprintf(w, "  %s\n", c)
	}
}

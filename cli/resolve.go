package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolreg/catalog"
	"github.com/petal-labs/toolreg/history"
	"github.com/petal-labs/toolreg/resolve"
)

const shutdownTimeout = 5 * time.Second

// NewResolveCmd creates the "resolve" subcommand.
func NewResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the registry against a catalog",
		Long: "Resolve every registry entry against a toolkit catalog. Entries whose tool or " +
			"library is missing are reported as skips; skips never fail the command.",
		Args: cobra.NoArgs,
		RunE: runResolve,
	}
	addRegistryFlag(cmd)
	addCatalogFlags(cmd)
	addResolveFlags(cmd)
	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Bool("skipped", false, "List only skipped entries")
	cmd.Flags().Bool("record", false, "Record the run in the run history")
	addHistoryFlag(cmd)
	return cmd
}

// resolveOutput is the JSON document written by "resolve --format json".
type resolveOutput struct {
	RunID    string                   `json:"run_id"`
	Catalog  string                   `json:"catalog"`
	Summary  resolve.Summary          `json:"summary"`
	Queries  *catalog.QueryCounts     `json:"queries,omitempty"`
	Resolved []resolve.ResolvedEntry  `json:"resolved"`
	Skipped  []resolve.SkipDiagnostic `json:"skipped"`
}

func runResolve(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	skippedOnly, _ := cmd.Flags().GetBool("skipped")
	if err := formatError(format); err != nil {
		return err
	}
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	reg, err := openRegistry(s)
	if err != nil {
		return err
	}

	opener := &catalogOpener{settings: s}
	defer opener.close()
	cat, label, err := opener.open(cmd.Context())
	if err != nil {
		return err
	}

	logger := commandLogger(cmd)
	resolver, shutdown, err := newResolver(cmd.Context(), s, logger)
	if err != nil {
		return err
	}
	defer flushTracing(shutdown)

	counted := catalog.NewCounting(cat)
	result, err := resolver.Resolve(cmd.Context(), reg, counted)
	if err != nil {
		return exitError(exitRuntime, "resolving registry: %v", err)
	}
	queries := counted.Counts()
	logger.Debug("catalog queries",
		"run_id", result.RunID,
		"enumerations", queries.Enumerations,
		"fetches", queries.Fetches,
	)
	if record, _ := cmd.Flags().GetBool("record"); record {
		if err := recordRun(cmd.Context(), s, label, result); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		return writeResolveJSON(out, label, result, &queries)
	}
	return writeResolveText(out, label, result, skippedOnly)
}

func recordRun(ctx context.Context, s settings, label string, result *resolve.Result) error {
	store, err := openHistory(s)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Append(ctx, history.NewRun(label, result, time.Now())); err != nil {
		return exitError(exitRuntime, "recording run: %v", err)
	}
	return nil
}

func flushTracing(shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = shutdown(ctx)
}

func writeResolveJSON(w io.Writer, label string, result *resolve.Result, queries *catalog.QueryCounts) error {
	doc := resolveOutput{
		RunID:    result.RunID,
		Catalog:  label,
		Summary:  result.Summary(),
		Queries:  queries,
		Resolved: result.Resolved,
		Skipped:  result.Skipped,
	}
	if doc.Resolved == nil {
		doc.Resolved = []resolve.ResolvedEntry{}
	}
	if doc.Skipped == nil {
		doc.Skipped = []resolve.SkipDiagnostic{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return exitError(exitRuntime, "writing output: %v", err)
	}
	return nil
}

func writeResolveText(w io.Writer, label string, result *resolve.Result, skippedOnly bool) error {
	writer := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "ORDINAL\tLIBRARY\tINDEX\tNAME\tSTATUS")
	for _, o := range result.Outcomes() {
		if skippedOnly && o.Resolved {
			continue
		}
		status := "resolved"
		if !o.Resolved {
			status = string(o.Reason)
		}
		fmt.Fprintf(writer, "%d\t%s\t%d\t%s\t%s\n", o.Entry.Ordinal, o.Entry.Library, o.Entry.Index, o.Entry.Name, status)
	}
	if err := writer.Flush(); err != nil {
		return exitError(exitRuntime, "writing output: %v", err)
	}
	writeSummary(w, label, result.Summary())
	return nil
}

func writeSummary(w io.Writer, label string, sum resolve.Summary) {
	fmt.Fprintf(w, "\n%d resolved, %d skipped (%s %d, %s %d) against catalog %s\n",
		sum.Resolved, sum.Skipped,
		resolve.ReasonToolMissing, sum.ByReason[resolve.ReasonToolMissing],
		resolve.ReasonLibraryUnavailable, sum.ByReason[resolve.ReasonLibraryUnavailable],
		label,
	)
}

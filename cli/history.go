package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolreg/drift"
	"github.com/petal-labs/toolreg/history"
)

// NewHistoryCmd creates the "history" command group.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded resolution runs",
	}
	cmd.PersistentFlags().String("history", "", "Path to SQLite run history (default: ~/.toolreg/history.db)")

	cmd.AddCommand(newHistoryListCmd())
	cmd.AddCommand(newHistoryShowCmd())
	cmd.AddCommand(newHistoryDiffCmd())
	return cmd
}

func newHistoryListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE:  runHistoryList,
	}
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list (0 = all)")
	return cmd
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	store, err := openCommandHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(cmd.Context(), limit)
	if err != nil {
		return exitError(exitRuntime, "listing runs: %v", err)
	}
	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "RUN\tCATALOG\tRECORDED\tRESOLVED\tSKIPPED")
	for _, r := range runs {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%d\n", r.RunID, r.Catalog, r.RecordedAt.Format(time.RFC3339), r.Resolved, r.Skipped)
	}
	return writer.Flush()
}

func newHistoryShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistoryShow,
	}
	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Bool("skipped", false, "List only skipped entries")
	return cmd
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	skippedOnly, _ := cmd.Flags().GetBool("skipped")
	if err := formatError(format); err != nil {
		return err
	}
	run, err := loadRecordedRun(cmd, args[0])
	if err != nil {
		return err
	}
	if format == "json" {
		return writeResolveJSON(cmd.OutOrStdout(), run.Catalog, run.Result, nil)
	}
	return writeResolveText(cmd.OutOrStdout(), run.Catalog, run.Result, skippedOnly)
}

func newHistoryDiffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <from-run> <to-run>",
		Short: "Report entries whose classification changed between two recorded runs",
		Args:  cobra.ExactArgs(2),
		RunE:  runHistoryDiff,
	}
	cmd.Flags().String("format", "text", "Output format: text | json")
	return cmd
}

func runHistoryDiff(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if err := formatError(format); err != nil {
		return err
	}
	from, err := loadRecordedRun(cmd, args[0])
	if err != nil {
		return err
	}
	to, err := loadRecordedRun(cmd, args[1])
	if err != nil {
		return err
	}

	doc := diffOutput{
		From:    fmt.Sprintf("%s (%s)", from.RunID, from.Catalog),
		To:      fmt.Sprintf("%s (%s)", to.RunID, to.Catalog),
		Changes: drift.Compare(from.Result, to.Result).Changes,
	}
	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}
	writeDiffText(cmd.OutOrStdout(), doc, false)
	return nil
}

func loadRecordedRun(cmd *cobra.Command, runID string) (history.Run, error) {
	store, err := openCommandHistory(cmd)
	if err != nil {
		return history.Run{}, err
	}
	defer store.Close()

	run, ok, err := store.Get(cmd.Context(), runID)
	if err != nil {
		return history.Run{}, exitError(exitRuntime, "reading run %s: %v", runID, err)
	}
	if !ok {
		return history.Run{}, exitError(exitValidation, "run %q not found", runID)
	}
	return run, nil
}

func openCommandHistory(cmd *cobra.Command) (*history.SQLiteStore, error) {
	s, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}
	return openHistory(s)
}

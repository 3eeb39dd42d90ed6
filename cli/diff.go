package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolreg/drift"
)

// NewDiffCmd creates the "diff" subcommand.
func NewDiffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <from> <to>",
		Short: "Report registry entries whose resolution differs between two catalogs",
		Long: "Resolve the registry against two catalogs and list entries whose classification " +
			"changed. Each argument is a snapshot file or a version in the catalog store.",
		Args: cobra.ExactArgs(2),
		RunE: runDiff,
	}
	addRegistryFlag(cmd)
	cmd.Flags().String("store", "", "Path to SQLite catalog store (default: ~/.toolreg/catalog.db)")
	addResolveFlags(cmd)
	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Bool("names", false, "Also list resolved entries whose catalog name differs from the registry name")
	return cmd
}

// diffOutput is the JSON document written by "diff --format json".
type diffOutput struct {
	From           string         `json:"from"`
	To             string         `json:"to"`
	Changes        []drift.Change `json:"changes"`
	NameMismatches []drift.Change `json:"name_mismatches,omitempty"`
}

func runDiff(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	names, _ := cmd.Flags().GetBool("names")
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
	fromCat, fromLabel, err := opener.openRef(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	toCat, toLabel, err := opener.openRef(cmd.Context(), args[1])
	if err != nil {
		return err
	}

	resolver, shutdown, err := newResolver(cmd.Context(), s, commandLogger(cmd))
	if err != nil {
		return err
	}
	defer flushTracing(shutdown)

	before, err := resolver.Resolve(cmd.Context(), reg, fromCat)
	if err != nil {
		return exitError(exitRuntime, "resolving against %s: %v", fromLabel, err)
	}
	after, err := resolver.Resolve(cmd.Context(), reg, toCat)
	if err != nil {
		return exitError(exitRuntime, "resolving against %s: %v", toLabel, err)
	}

	doc := diffOutput{
		From:    fromLabel,
		To:      toLabel,
		Changes: drift.Compare(before, after).Changes,
	}
	if names {
		doc.NameMismatches = drift.NameMismatches(after)
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return exitError(exitRuntime, "writing output: %v", err)
		}
		return nil
	}
	writeDiffText(out, doc, names)
	return nil
}

func writeDiffText(w io.Writer, doc diffOutput, names bool) {
	if len(doc.Changes) == 0 {
		fmt.Fprintf(w, "No drift between %s and %s.\n", doc.From, doc.To)
	} else {
		fmt.Fprintf(w, "%d %s between %s and %s:\n", len(doc.Changes), pluralize("change", len(doc.Changes)), doc.From, doc.To)
		for _, c := range doc.Changes {
			fmt.Fprintf(w, "  %s\n", c)
		}
	}
	if !names {
		return
	}
	if len(doc.NameMismatches) == 0 {
		fmt.Fprintln(w, "No name mismatches.")
		return
	}
	fmt.Fprintf(w, "%d %s (registry name -> catalog name):\n", len(doc.NameMismatches), pluralize("name mismatch", len(doc.NameMismatches)))
	for _, c := range doc.NameMismatches {
		fmt.Fprintf(w, "  %s\n", c)
	}
}

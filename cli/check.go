package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/spf13/cobra"

	"github.com/petal-labs/toolreg/registry"
)

// NewCheckCmd creates the "check" subcommand.
func NewCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check registry integrity without querying a catalog",
		Args:  cobra.NoArgs,
		RunE:  runCheck,
	}
	addRegistryFlag(cmd)
	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Bool("strict", false, "Treat warnings as errors")
	return cmd
}

func runCheck(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	strict, _ := cmd.Flags().GetBool("strict")
	if err := formatError(format); err != nil {
		return err
	}
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	records, _, err := readRecords(s)
	if err != nil {
		return err
	}

	diags := registry.Check(records)
	out := cmd.OutOrStdout()
	if format == "json" {
		printCheckJSON(out, diags)
	} else {
		printCheckText(out, records, diags)
	}

	hasWarns := len(diags) > 0 && !registry.HasErrors(diags)
	if registry.HasErrors(diags) || (strict && hasWarns) {
		return exitError(exitValidation, "registry check failed")
	}
	return nil
}

func printCheckText(w io.Writer, records []registry.Record, diags []registry.Diagnostic) {
	var errs, warns int
	for _, d := range diags {
		if d.Severity == registry.SeverityError {
			errs++
		} else {
			warns++
		}
		fmt.Fprintf(w, "%s [%s]: row %d %s/%d: %s\n",
			strings.ToUpper(string(d.Severity)), d.Code, d.Ordinal, d.Library, d.Index, d.Message)
	}

	libraries := mapset.NewSet[string]()
	for _, r := range records {
		libraries.Add(r.Library)
	}
	switch {
	case errs == 0 && warns == 0:
		fmt.Fprintf(w, "Valid! %d %s across %d %s\n",
			len(records), pluralize("entry", len(records)),
			libraries.Cardinality(), pluralize("library", libraries.Cardinality()))
	case errs == 0:
		fmt.Fprintf(w, "\nValid! (%d %s)\n", warns, pluralize("warning", warns))
	default:
		fmt.Fprintf(w, "\n%d %s, %d %s\n", errs, pluralize("error", errs), warns, pluralize("warning", warns))
	}
}

func printCheckJSON(w io.Writer, diags []registry.Diagnostic) {
	if diags == nil {
		diags = []registry.Diagnostic{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(diags)
}

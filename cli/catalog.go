package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolreg/catalog"
)

// NewCatalogCmd creates the "catalog" command group.
func NewCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage stored toolkit catalog snapshots",
	}
	cmd.PersistentFlags().String("store", "", "Path to SQLite catalog store (default: ~/.toolreg/catalog.db)")

	cmd.AddCommand(newCatalogImportCmd())
	cmd.AddCommand(newCatalogVersionsCmd())
	cmd.AddCommand(newCatalogListCmd())
	cmd.AddCommand(newCatalogExportCmd())
	cmd.AddCommand(newCatalogDeleteCmd())
	return cmd
}

func newCatalogImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <snapshot>",
		Short: "Import a catalog snapshot file into the store",
		Args:  cobra.ExactArgs(1),
		RunE:  runCatalogImport,
	}
	cmd.Flags().String("as", "", "Store the snapshot under this version instead of its own")
	return cmd
}

func runCatalogImport(cmd *cobra.Command, args []string) error {
	snap, err := catalog.LoadSnapshotFile(args[0])
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return exitError(exitRuntime, "snapshot not found: %s", args[0])
		}
		return exitError(exitValidation, "%v", err)
	}
	if as, _ := cmd.Flags().GetString("as"); as != "" {
		snap.Version = as
	}
	if snap.Version == "" {
		return exitError(exitValidation, "snapshot %s has no version; pass --as", args[0])
	}

	store, closeStore, err := openCommandStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.Import(cmd.Context(), snap); err != nil {
		return exitError(exitRuntime, "importing snapshot: %v", err)
	}
	tools := 0
	for _, lib := range snap.Libraries {
		tools += len(lib.Tools)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported version %s (%d %s, %d %s)\n",
		snap.Version,
		len(snap.Libraries), pluralize("library", len(snap.Libraries)),
		tools, pluralize("tool", tools))
	return nil
}

func newCatalogVersionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List stored toolkit versions",
		Args:  cobra.NoArgs,
		RunE:  runCatalogVersions,
	}
	cmd.Flags().String("format", "text", "Output format: text | json")
	return cmd
}

func runCatalogVersions(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if err := formatError(format); err != nil {
		return err
	}
	store, closeStore, err := openCommandStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	versions, err := store.Versions(cmd.Context())
	if err != nil {
		return exitError(exitRuntime, "listing versions: %v", err)
	}

	if format == "json" {
		if versions == nil {
			versions = []catalog.VersionInfo{}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(versions)
	}
	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "VERSION\tIMPORTED\tLIBRARIES\tTOOLS")
	for _, v := range versions {
		fmt.Fprintf(writer, "%s\t%s\t%d\t%d\n", v.Version, v.ImportedAt.Format(time.RFC3339), v.Libraries, v.Tools)
	}
	return writer.Flush()
}

func newCatalogListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [library]",
		Short: "List the libraries of a stored version, or the tools of one library",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCatalogList,
	}
	cmd.Flags().String("version", "", "Toolkit version (default: highest stored version)")
	return cmd
}

func runCatalogList(cmd *cobra.Command, args []string) error {
	store, closeStore, err := openCommandStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	version, _ := cmd.Flags().GetString("version")
	version, err = pickVersion(cmd.Context(), store, version)
	if err != nil {
		return err
	}
	snap, _, err := store.Snapshot(cmd.Context(), version)
	if err != nil {
		return exitError(exitRuntime, "reading version %s: %v", version, err)
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	if len(args) == 0 {
		fmt.Fprintln(writer, "LIBRARY\tTOOLS")
		for _, lib := range snap.Libraries {
			fmt.Fprintf(writer, "%s\t%d\n", lib.Name, len(lib.Tools))
		}
		return writer.Flush()
	}

	for _, lib := range snap.Libraries {
		if lib.Name != args[0] {
			continue
		}
		fmt.Fprintln(writer, "INDEX\tNAME\tDESCRIPTION")
		for _, t := range lib.Tools {
			fmt.Fprintf(writer, "%d\t%s\t%s\n", t.Index, t.Name, t.Description)
		}
		return writer.Flush()
	}
	return exitError(exitValidation, "library %q not found in version %s", args[0], version)
}

func newCatalogExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <version> <file>",
		Short: "Write a stored version to a snapshot file (YAML or JSON by extension)",
		Args:  cobra.ExactArgs(2),
		RunE:  runCatalogExport,
	}
}

func runCatalogExport(cmd *cobra.Command, args []string) error {
	store, closeStore, err := openCommandStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	snap, ok, err := store.Snapshot(cmd.Context(), args[0])
	if err != nil {
		return exitError(exitRuntime, "reading version %s: %v", args[0], err)
	}
	if !ok {
		return exitError(exitValidation, "catalog version %q not found", args[0])
	}
	if err := catalog.WriteSnapshotFile(args[1], snap); err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported version %s to %s\n", args[0], args[1])
	return nil
}

func newCatalogDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <version>",
		Short: "Remove a stored version",
		Args:  cobra.ExactArgs(1),
		RunE:  runCatalogDelete,
	}
}

func runCatalogDelete(cmd *cobra.Command, args []string) error {
	store, closeStore, err := openCommandStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.Delete(cmd.Context(), args[0]); err != nil {
		return exitError(exitRuntime, "deleting version %s: %v", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted version %s\n", args[0])
	return nil
}

// openCommandStore opens the store named by --store or the config file.
func openCommandStore(cmd *cobra.Command) (*catalog.SQLiteStore, func(), error) {
	s, err := loadSettings(cmd)
	if err != nil {
		return nil, nil, err
	}
	opener := &catalogOpener{settings: s}
	store, err := opener.openStore()
	if err != nil {
		return nil, nil, err
	}
	return store, opener.close, nil
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anthropics/pyreport/internal/store"
)

// mergeCmd represents the merge command
var mergeCmd = &cobra.Command{
	Use:   "merge <database> <other>...",
	Short: "Merge report databases together",
	Long: `Merge one or more report databases into the first one.

Source files and contexts shared between reports are deduplicated by
their content-addressed IDs. Uploads and their measurements are always
distinct, so every upload from every input survives the merge.

Examples:
  pyreport merge coverage.db unit.db
  pyreport merge coverage.db unit.db integration.db`,
	Args: cobra.MinimumNArgs(2),
	RunE: runMerge,
}

func init() {
	rootCmd.AddCommand(mergeCmd)
}

func runMerge(cmd *cobra.Command, args []string) error {
	st, err := store.Open(args[0])
	if err != nil {
		return fmt.Errorf("open report: %w", err)
	}
	defer st.Close()

	for _, other := range args[1:] {
		if err := st.Merge(other); err != nil {
			return fmt.Errorf("merge %s: %w", other, err)
		}
		if verbose {
			fmt.Fprintf(cmd.OutOrStdout(), "merged %s\n", other)
		}
	}
	return nil
}

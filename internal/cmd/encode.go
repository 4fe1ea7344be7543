package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/anthropics/pyreport/internal/pyreport"
	"github.com/anthropics/pyreport/internal/store"
)

// encodeCmd represents the encode command
var encodeCmd = &cobra.Command{
	Use:   "encode <database>",
	Short: "Encode a report database back to the pyreport format",
	Long: `Encode a report database into a report JSON file and a chunks file.

The output matches what the original uploader-facing pipeline emits:
compact JSON with per-file and per-session totals, and a chunks file
with one record per populated line.

Examples:
  pyreport encode coverage.db
  pyreport encode coverage.db -o out/`,
	Args: cobra.ExactArgs(1),
	RunE: runEncode,
}

var encodeOutputDir string

func init() {
	rootCmd.AddCommand(encodeCmd)

	encodeCmd.Flags().StringVarP(&encodeOutputDir, "output", "o", ".", "Directory for report.json and chunks.txt")
}

func runEncode(cmd *cobra.Command, args []string) error {
	st, err := store.Open(args[0])
	if err != nil {
		return fmt.Errorf("open report: %w", err)
	}
	defer st.Close()

	if err := os.MkdirAll(encodeOutputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	reportPath := filepath.Join(encodeOutputDir, "report.json")
	chunksPath := filepath.Join(encodeOutputDir, "chunks.txt")

	reportJSON, err := os.Create(reportPath)
	if err != nil {
		return fmt.Errorf("create report JSON: %w", err)
	}
	defer reportJSON.Close()

	chunks, err := os.Create(chunksPath)
	if err != nil {
		return fmt.Errorf("create chunks: %w", err)
	}
	defer chunks.Close()

	if err := pyreport.Encode(st, reportJSON, chunks); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	if verbose {
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\n", reportPath, chunksPath)
	}
	return nil
}

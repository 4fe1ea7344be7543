package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anthropics/pyreport/internal/pyreport"
	"github.com/anthropics/pyreport/internal/store"
)

// parseCmd represents the parse command
var parseCmd = &cobra.Command{
	Use:   "parse <report-json> <chunks>",
	Short: "Parse a pyreport into a report database",
	Long: `Parse a pyreport's report JSON and chunks files into a SQLite report
database.

The report JSON names the source files and upload sessions; the chunks
file carries the per-line measurements. Both are streamed, so reports
much larger than memory parse fine.

Examples:
  pyreport parse report.json chunks.txt
  pyreport parse report.json chunks.txt -o coverage.db`,
	Args: cobra.ExactArgs(2),
	RunE: runParse,
}

var parseOutput string

func init() {
	rootCmd.AddCommand(parseCmd)

	parseCmd.Flags().StringVarP(&parseOutput, "output", "o", "", "Output database path (default from config)")
}

func runParse(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	outPath := parseOutput
	if outPath == "" {
		outPath = cfg.Database.Path
	}

	reportJSON, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open report JSON: %w", err)
	}
	defer reportJSON.Close()

	chunks, err := os.Open(args[1])
	if err != nil {
		return fmt.Errorf("open chunks: %w", err)
	}
	defer chunks.Close()

	builder, err := store.NewBuilder(outPath)
	if err != nil {
		return fmt.Errorf("create report database: %w", err)
	}

	opts := pyreport.ParseOptions{MaxLineBytes: cfg.Parse.MaxLineMB * 1024 * 1024}
	if err := pyreport.ParseWithOptions(reportJSON, chunks, builder, opts); err != nil {
		builder.Close()
		return fmt.Errorf("parse report: %w", err)
	}

	st, err := builder.Build()
	if err != nil {
		return fmt.Errorf("finalize report database: %w", err)
	}
	defer st.Close()

	if verbose {
		totals, err := st.Totals()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "parsed %d files, %d uploads into %s\n",
			totals.Files, totals.Uploads, outPath)
	}
	return nil
}

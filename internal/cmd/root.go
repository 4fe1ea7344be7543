// Package cmd contains all CLI commands for pyreport.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anthropics/pyreport/internal/config"
)

var (
	// Version is the current version of pyreport
	Version = "0.1.0"

	// Global flags
	verbose    bool
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pyreport",
	Short: "Coverage report codec and query tool",
	Long: `pyreport parses, inspects, and writes coverage reports in the pyreport
format: a report JSON file describing source files and upload sessions,
plus a chunks file holding line-by-line measurements.

Parsed reports are stored in a SQLite database so they can be queried,
merged, and re-encoded without holding the whole report in memory.

Main capabilities:
  - Parse a report JSON + chunks pair into a report database
  - Encode a report database back to the pyreport format
  - Merge multiple report databases
  - Summarize coverage totals
  - Run ad hoc SQL against a report database
  - Serve report queries to AI agents over MCP

Examples:
  pyreport parse report.json chunks.txt -o coverage.db
  pyreport totals coverage.db
  pyreport merge coverage.db other.db
  pyreport encode coverage.db -o out/
  pyreport sql coverage.db "SELECT COUNT(*) FROM coverage_sample"
  pyreport serve --db coverage.db

See 'pyreport <command> --help' for command-specific options.`,
	Version: Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: .pyreport/config.yaml)")
}

// loadConfig loads configuration from --config or the working directory.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load(".")
}

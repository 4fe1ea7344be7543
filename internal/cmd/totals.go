package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/anthropics/pyreport/internal/store"
)

// totalsCmd represents the totals command
var totalsCmd = &cobra.Command{
	Use:   "totals <database>",
	Short: "Summarize a report database",
	Long: `Summarize a report database: file, upload, and test-case counts plus
aggregate line, branch, method, and complexity coverage.

Examples:
  pyreport totals coverage.db
  pyreport totals coverage.db --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runTotals,
}

var totalsFormat string

func init() {
	rootCmd.AddCommand(totalsCmd)

	totalsCmd.Flags().StringVar(&totalsFormat, "format", "yaml", "Output format: yaml|json")
}

// totalsReport is the serializable shape of the totals output
type totalsReport struct {
	Files     uint64 `yaml:"files" json:"files"`
	Uploads   uint64 `yaml:"uploads" json:"uploads"`
	TestCases uint64 `yaml:"test_cases" json:"test_cases"`
	Coverage  struct {
		HitLines           uint64 `yaml:"hit_lines" json:"hit_lines"`
		TotalLines         uint64 `yaml:"total_lines" json:"total_lines"`
		HitBranches        uint64 `yaml:"hit_branches" json:"hit_branches"`
		TotalBranches      uint64 `yaml:"total_branches" json:"total_branches"`
		TotalBranchRoots   uint64 `yaml:"total_branch_roots" json:"total_branch_roots"`
		HitMethods         uint64 `yaml:"hit_methods" json:"hit_methods"`
		TotalMethods       uint64 `yaml:"total_methods" json:"total_methods"`
		HitComplexityPaths uint64 `yaml:"hit_complexity_paths" json:"hit_complexity_paths"`
		TotalComplexity    uint64 `yaml:"total_complexity" json:"total_complexity"`
	} `yaml:"coverage" json:"coverage"`
}

func runTotals(cmd *cobra.Command, args []string) error {
	st, err := store.Open(args[0])
	if err != nil {
		return fmt.Errorf("open report: %w", err)
	}
	defer st.Close()

	totals, err := st.Totals()
	if err != nil {
		return fmt.Errorf("compute totals: %w", err)
	}

	var out totalsReport
	out.Files = totals.Files
	out.Uploads = totals.Uploads
	out.TestCases = totals.TestCases
	out.Coverage.HitLines = totals.Coverage.HitLines
	out.Coverage.TotalLines = totals.Coverage.TotalLines
	out.Coverage.HitBranches = totals.Coverage.HitBranches
	out.Coverage.TotalBranches = totals.Coverage.TotalBranches
	out.Coverage.TotalBranchRoots = totals.Coverage.TotalBranchRoots
	out.Coverage.HitMethods = totals.Coverage.HitMethods
	out.Coverage.TotalMethods = totals.Coverage.TotalMethods
	out.Coverage.HitComplexityPaths = totals.Coverage.HitComplexityPaths
	out.Coverage.TotalComplexity = totals.Coverage.TotalComplexity

	switch totalsFormat {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		defer enc.Close()
		return enc.Encode(out)
	default:
		return fmt.Errorf("unknown format: %s", totalsFormat)
	}
}

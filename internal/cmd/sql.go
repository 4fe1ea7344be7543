package cmd

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/anthropics/pyreport/internal/store"
)

// sqlCmd represents the sql command
var sqlCmd = &cobra.Command{
	Use:   "sql <database> <query>",
	Short: "Execute SQL directly against a report database",
	Long: `Execute arbitrary SQL queries against a report database.

Useful for queries the built-in commands do not cover.

Report tables:
  source_file       Source files, keyed by content hash of the path
  context           Measurement contexts (test cases)
  raw_upload        Upload sessions and their metadata
  coverage_sample   Per-line coverage measurements
  branches_data     Individual branches under a sample
  method_data       Method measurements and complexity
  span_data         Sub-line partial coverage spans
  context_assoc     Context-to-measurement associations

Output formats:
  table   ASCII table format (default)
  yaml    YAML format
  json    JSON format

Examples:
  pyreport sql coverage.db "SELECT * FROM source_file LIMIT 5"
  pyreport sql coverage.db "SELECT COUNT(*) FROM coverage_sample"
  pyreport sql coverage.db "SELECT path FROM source_file ORDER BY path" --format json`,
	Args: cobra.ExactArgs(2),
	RunE: runSQL,
}

var sqlOutputFormat string

func init() {
	rootCmd.AddCommand(sqlCmd)

	sqlCmd.Flags().StringVar(&sqlOutputFormat, "format", "table", "Output format: table|yaml|json")
}

// SQLResult represents the output of a SQL query
type SQLResult struct {
	Columns []string                 `yaml:"columns" json:"columns"`
	Rows    []map[string]interface{} `yaml:"rows" json:"rows"`
	Count   int                      `yaml:"count" json:"count"`
}

func runSQL(cmd *cobra.Command, args []string) error {
	query := args[1]

	st, err := store.Open(args[0])
	if err != nil {
		return fmt.Errorf("open report: %w", err)
	}
	defer st.Close()

	db := st.DB()

	trimmedQuery := strings.TrimSpace(strings.ToUpper(query))
	isQuery := strings.HasPrefix(trimmedQuery, "SELECT") ||
		strings.HasPrefix(trimmedQuery, "WITH") ||
		strings.HasPrefix(trimmedQuery, "EXPLAIN") ||
		strings.HasPrefix(trimmedQuery, "PRAGMA")

	if isQuery {
		return runSQLQuery(cmd, db, query)
	}
	return runSQLExec(cmd, db, query)
}

func runSQLQuery(cmd *cobra.Command, db *sql.DB, query string) error {
	rows, err := db.Query(query)
	if err != nil {
		return fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	result := SQLResult{
		Columns: columns,
		Rows:    make([]map[string]interface{}, 0),
	}

	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(valuePtrs...); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			val := values[i]
			// Convert byte slices to strings for readability
			if b, ok := val.([]byte); ok {
				val = string(b)
			}
			row[col] = val
		}
		result.Rows = append(result.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate rows: %w", err)
	}

	result.Count = len(result.Rows)

	switch sqlOutputFormat {
	case "yaml":
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		defer enc.Close()
		return enc.Encode(result)
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	default:
		return outputTable(cmd, result)
	}
}

func runSQLExec(cmd *cobra.Command, db *sql.DB, query string) error {
	result, err := db.Exec(query)
	if err != nil {
		return fmt.Errorf("exec error: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	fmt.Fprintf(cmd.OutOrStdout(), "%d rows affected\n", rowsAffected)
	return nil
}

func outputTable(cmd *cobra.Command, result SQLResult) error {
	out := cmd.OutOrStdout()

	if len(result.Rows) == 0 {
		fmt.Fprintln(out, "Empty set")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, strings.Join(result.Columns, "\t"))

	seps := make([]string, len(result.Columns))
	for i, col := range result.Columns {
		seps[i] = strings.Repeat("-", len(col))
	}
	fmt.Fprintln(w, strings.Join(seps, "\t"))

	for _, row := range result.Rows {
		cells := make([]string, len(result.Columns))
		for i, col := range result.Columns {
			cells[i] = fmt.Sprintf("%v", row[col])
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}

	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%d rows\n", result.Count)
	return nil
}

package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/anthropics/pyreport/internal/mcp"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start MCP server for AI agent integration",
	Long: `Start an MCP (Model Context Protocol) server over a report database.

This allows AI agents like Claude Code to query coverage data through MCP
tools instead of spawning CLI commands.

Available Tools:
  report_totals    Aggregate coverage totals
  report_files     Source files in the report
  report_sessions  Upload sessions and their metadata
  report_samples   Per-line measurements for one file

Examples:
  pyreport serve --db coverage.db
  pyreport serve --db coverage.db --tools report_totals,report_files
  pyreport serve --list-tools`,
	RunE: runServe,
}

var (
	serveDB        string
	serveTools     string
	serveListTools bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveDB, "db", "", "Report database path (default from config)")
	serveCmd.Flags().StringVar(&serveTools, "tools", "", "Comma-separated list of tools to expose (default: all)")
	serveCmd.Flags().BoolVar(&serveListTools, "list-tools", false, "List available tools")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveListTools {
		fmt.Fprintln(cmd.OutOrStdout(), "Available MCP tools:")
		fmt.Fprintln(cmd.OutOrStdout())
		fmt.Fprintln(cmd.OutOrStdout(), "  report_totals    Aggregate coverage totals")
		fmt.Fprintln(cmd.OutOrStdout(), "  report_files     Source files in the report")
		fmt.Fprintln(cmd.OutOrStdout(), "  report_sessions  Upload sessions and their metadata")
		fmt.Fprintln(cmd.OutOrStdout(), "  report_samples   Per-line measurements for one file")
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dbPath := serveDB
	if dbPath == "" {
		dbPath = cfg.Database.Path
	}

	tools := cfg.Serve.Tools
	if serveTools != "" {
		tools = strings.Split(serveTools, ",")
		for i := range tools {
			tools[i] = strings.TrimSpace(tools[i])
		}
	}

	srv, err := mcp.New(mcp.Config{
		DatabasePath: dbPath,
		Tools:        tools,
	})
	if err != nil {
		return fmt.Errorf("start MCP server: %w", err)
	}
	defer srv.Close()

	if verbose {
		registered := srv.ListTools()
		sort.Strings(registered)
		fmt.Fprintf(cmd.ErrOrStderr(), "serving %s with tools: %s\n",
			dbPath, strings.Join(registered, ", "))
	}

	return srv.ServeStdio()
}

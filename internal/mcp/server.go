// Package mcp provides an MCP (Model Context Protocol) server for pyreport.
// This allows AI agents to query a coverage report database through MCP
// tools instead of CLI commands.
package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/anthropics/pyreport/internal/model"
	"github.com/anthropics/pyreport/internal/store"
)

// Server wraps the MCP server with pyreport-specific functionality
type Server struct {
	mcpServer *server.MCPServer
	store     *store.Store
	tools     map[string]bool
}

// Config holds server configuration
type Config struct {
	DatabasePath string   // Path to the coverage database
	Tools        []string // Which tools to expose (empty = all)
}

// AllTools lists all available tools
var AllTools = []string{"report_totals", "report_files", "report_sessions", "report_samples"}

// New creates a new MCP server over a coverage database
func New(cfg Config) (*Server, error) {
	storeDB, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open report: %w", err)
	}

	mcpServer := server.NewMCPServer(
		"pyreport",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s := &Server{
		mcpServer: mcpServer,
		store:     storeDB,
		tools:     make(map[string]bool),
	}

	toolsToRegister := cfg.Tools
	if len(toolsToRegister) == 0 {
		toolsToRegister = AllTools
	}

	for _, toolName := range toolsToRegister {
		if err := s.registerTool(toolName); err != nil {
			storeDB.Close()
			return nil, fmt.Errorf("failed to register tool %s: %w", toolName, err)
		}
		s.tools[toolName] = true
	}

	return s, nil
}

// registerTool registers a single tool with the MCP server
func (s *Server) registerTool(name string) error {
	switch name {
	case "report_totals":
		return s.registerTotalsTool()
	case "report_files":
		return s.registerFilesTool()
	case "report_sessions":
		return s.registerSessionsTool()
	case "report_samples":
		return s.registerSamplesTool()
	default:
		return fmt.Errorf("unknown tool: %s", name)
	}
}

// ServeStdio starts the server using stdio transport
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// Close closes the server and its resources
func (s *Server) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// ListTools returns the list of registered tools
func (s *Server) ListTools() []string {
	tools := make([]string, 0, len(s.tools))
	for t := range s.tools {
		tools = append(tools, t)
	}
	return tools
}

// ToolSchema describes a tool's name, description, and parameters.
type ToolSchema struct {
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description" yaml:"description"`
	Parameters  []ParameterSchema `json:"parameters" yaml:"parameters"`
}

// ParameterSchema describes a single tool parameter.
type ParameterSchema struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description" yaml:"description"`
	Required    bool   `json:"required" yaml:"required"`
}

// toolSchemaRegistry holds the schema definitions for all tools.
// These mirror the mcp.NewTool() definitions in the register*Tool() functions.
var toolSchemaRegistry = map[string]ToolSchema{
	"report_totals": {
		Name:        "report_totals",
		Description: "Summarize a coverage report: file, upload, and test-case counts plus line, branch, and method coverage totals.",
	},
	"report_files": {
		Name:        "report_files",
		Description: "List the source files in a coverage report.",
		Parameters: []ParameterSchema{
			{Name: "contains", Type: "string", Description: "Only list paths containing this substring"},
		},
	},
	"report_sessions": {
		Name:        "report_sessions",
		Description: "List the upload sessions in a coverage report with their metadata.",
	},
	"report_samples": {
		Name:        "report_samples",
		Description: "Show per-line coverage measurements for one source file.",
		Parameters: []ParameterSchema{
			{Name: "path", Type: "string", Description: "Source file path, exactly as recorded in the report", Required: true},
		},
	},
}

// GetToolSchemas returns schemas for all registered tools.
func (s *Server) GetToolSchemas() []ToolSchema {
	schemas := make([]ToolSchema, 0, len(s.tools))
	for name := range s.tools {
		if schema, ok := toolSchemaRegistry[name]; ok {
			schemas = append(schemas, schema)
		}
	}
	return schemas
}

// registerTotalsTool registers the report_totals tool
func (s *Server) registerTotalsTool() error {
	tool := mcp.NewTool("report_totals",
		mcp.WithDescription("Summarize a coverage report: file, upload, and test-case counts plus line, branch, and method coverage totals."),
	)

	s.mcpServer.AddTool(tool, s.handleTotals)
	return nil
}

// registerFilesTool registers the report_files tool
func (s *Server) registerFilesTool() error {
	tool := mcp.NewTool("report_files",
		mcp.WithDescription("List the source files in a coverage report."),
		mcp.WithString("contains",
			mcp.Description("Only list paths containing this substring"),
		),
	)

	s.mcpServer.AddTool(tool, s.handleFiles)
	return nil
}

// registerSessionsTool registers the report_sessions tool
func (s *Server) registerSessionsTool() error {
	tool := mcp.NewTool("report_sessions",
		mcp.WithDescription("List the upload sessions in a coverage report with their metadata."),
	)

	s.mcpServer.AddTool(tool, s.handleSessions)
	return nil
}

// registerSamplesTool registers the report_samples tool
func (s *Server) registerSamplesTool() error {
	tool := mcp.NewTool("report_samples",
		mcp.WithDescription("Show per-line coverage measurements for one source file."),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Source file path, exactly as recorded in the report"),
		),
	)

	s.mcpServer.AddTool(tool, s.handleSamples)
	return nil
}

func (s *Server) handleTotals(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	totals, err := s.store.Totals()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "files: %d\nuploads: %d\ntest cases: %d\n",
		totals.Files, totals.Uploads, totals.TestCases)
	fmt.Fprintf(&b, "lines: %d/%d hit\n", totals.Coverage.HitLines, totals.Coverage.TotalLines)
	fmt.Fprintf(&b, "branches: %d/%d hit across %d branch lines\n",
		totals.Coverage.HitBranches, totals.Coverage.TotalBranches, totals.Coverage.TotalBranchRoots)
	fmt.Fprintf(&b, "methods: %d/%d hit\n", totals.Coverage.HitMethods, totals.Coverage.TotalMethods)
	fmt.Fprintf(&b, "complexity: %d/%d paths\n",
		totals.Coverage.HitComplexityPaths, totals.Coverage.TotalComplexity)

	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleFiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	contains, _ := args["contains"].(string)

	files, err := s.store.ListFiles()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	matched := 0
	for _, f := range files {
		if contains != "" && !strings.Contains(f.Path, contains) {
			continue
		}
		fmt.Fprintf(&b, "%s\n", f.Path)
		matched++
	}
	fmt.Fprintf(&b, "\n%d of %d files\n", matched, len(files))

	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := s.store.SessionSummaries()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	for _, session := range sessions {
		fmt.Fprintf(&b, "session %d:", session.SessionIndex)
		if session.Upload.JobName != nil {
			fmt.Fprintf(&b, " job %q", *session.Upload.JobName)
		}
		if len(session.Upload.Flags) > 0 {
			fmt.Fprintf(&b, " flags %v", session.Upload.Flags)
		}
		fmt.Fprintf(&b, "\n  %d files, %d lines, %d hit, %d missed, %d partial\n",
			session.FileCount, session.Lines, session.Hits, session.Misses, session.Partials)
	}
	if len(sessions) == 0 {
		b.WriteString("no sessions\n")
	}

	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleSamples(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return mcp.NewToolResultError("path parameter is required"), nil
	}

	file := model.SourceFile{ID: model.ContentID(path), Path: path}
	samples, err := s.store.SamplesForFile(file)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(samples) == 0 {
		return mcp.NewToolResultError(fmt.Sprintf("no samples for %q", path)), nil
	}

	var b strings.Builder
	for _, sample := range samples {
		fmt.Fprintf(&b, "line %d [%s]", sample.LineNo, sample.CoverageType)
		switch {
		case sample.Hits != nil:
			fmt.Fprintf(&b, " hits=%d", *sample.Hits)
		case sample.HitBranches != nil && sample.TotalBranches != nil:
			fmt.Fprintf(&b, " branches=%d/%d", *sample.HitBranches, *sample.TotalBranches)
		}
		b.WriteByte('\n')
	}

	return mcp.NewToolResultText(b.String()), nil
}

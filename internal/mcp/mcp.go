// Package mcp provides the conductor MCP server, exposing pipeline
// status, latest results, and run history as tools.
package mcp

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/conductor"
	"github.com/deixis/conductor/internal/cluster"
	"github.com/deixis/conductor/internal/report"
)

//go:embed instructions.md
var Instructions string

// StatusChecker reports the cluster's service states.
// Implemented by *cluster.Checker.
type StatusChecker interface {
	Status(ctx context.Context) ([]cluster.ServiceStatus, error)
}

// handler holds shared dependencies for all tool handlers.
type handler struct {
	cluster   StatusChecker
	store     report.Store
	outputDir string
}

// NewServer creates an MCP server with all conductor tools registered.
func NewServer(checker StatusChecker, store report.Store, outputDir string) *mcp.Server {
	h := &handler{
		cluster:   checker,
		store:     store,
		outputDir: outputDir,
	}

	opts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "conductor", Version: conductor.Version}, opts)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "pipeline_status",
		Description: "Report which cluster services (kafka, zookeeper, mysql, spark) are running.",
	}, h.statusHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "pipeline_results",
		Description: `Render the latest comparison results summary.

Reads the newest summary artifact written by the comparison analyzer and
reports accuracy and latency metrics against the fixed 95% targets.`,
	}, h.resultsHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "pipeline_history",
		Description: "List recent pipeline runs with their step outcomes, newest first.",
	}, h.historyHandler)

	return s
}

type statusParams struct{}

func (h *handler) statusHandler(ctx context.Context, req *mcp.CallToolRequest, params statusParams) (*mcp.CallToolResult, any, error) {
	statuses, err := h.cluster.Status(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to query cluster: %v", err))
	}

	var b strings.Builder
	allUp := true
	for _, s := range statuses {
		state := "running"
		if !s.Running {
			state = "stopped"
			allUp = false
		}
		fmt.Fprintf(&b, "%-14s %s\n", s.Name, state)
	}
	if allUp {
		fmt.Fprintf(&b, "\nAll services are running.\n")
	} else {
		fmt.Fprintf(&b, "\nSome services are stopped; run `conductor demo` or `docker-compose up -d`.\n")
	}
	return textResult(b.String())
}

type resultsParams struct{}

func (h *handler) resultsHandler(ctx context.Context, req *mcp.CallToolRequest, params resultsParams) (*mcp.CallToolResult, any, error) {
	res, err := report.Collect(h.outputDir)
	if err != nil {
		return errorResult(fmt.Sprintf("No results available: %v", err))
	}
	return textResult(report.Render(res))
}

type historyParams struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of runs to return (default 10)"`
}

func (h *handler) historyHandler(ctx context.Context, req *mcp.CallToolRequest, params historyParams) (*mcp.CallToolResult, any, error) {
	records, err := h.store.List()
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to list runs: %v", err))
	}
	if len(records) == 0 {
		return textResult("No pipeline runs recorded yet.")
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}
	if len(records) > limit {
		records = records[:limit]
	}

	var b strings.Builder
	for _, r := range records {
		fmt.Fprintln(&b, r.String())
	}
	return textResult(b.String())
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}

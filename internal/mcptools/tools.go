// Package mcptools exposes the note query pipeline as MCP tools.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/pbaille/notes/internal/domain"
	"github.com/pbaille/notes/internal/retrieval"
)

const instructions = "Tools for answering questions about the user's NotePlan notes. " +
	"Use query_notes for a full answer with sources, search_notes to list candidate files."

// QueryRunner answers note queries
type QueryRunner interface {
	Run(ctx context.Context, query string) (domain.Response, domain.GenerationMetadata)
}

// NewServer creates an MCP server with both tools registered. searcher may be nil.
func NewServer(runner QueryRunner, searcher retrieval.Searcher, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"notes",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	queryTool := NewQueryTool(runner)
	s.AddTool(queryTool.Definition(), queryTool.Handle)

	if searcher != nil {
		searchTool := NewSearchTool(searcher)
		s.AddTool(searchTool.Definition(), searchTool.Handle)
	}

	return s
}

// QueryTool handles the query_notes MCP tool.
type QueryTool struct {
	runner QueryRunner
}

// NewQueryTool creates a QueryTool.
func NewQueryTool(runner QueryRunner) *QueryTool {
	return &QueryTool{runner: runner}
}

// Definition returns the MCP tool definition for query_notes.
func (t *QueryTool) Definition() mcp.Tool {
	return mcp.NewTool("query_notes",
		mcp.WithDescription(
			"Answer a question about the user's notes. The answer is checked against the notes "+
				"and comes with the relevant files and NotePlan links.",
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Question about the notes"),
		),
	)
}

// Handle processes the query_notes tool call.
func (t *QueryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")

	resp, _ := t.runner.Run(ctx, query)

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// SearchTool handles the search_notes MCP tool.
type SearchTool struct {
	searcher retrieval.Searcher
}

// NewSearchTool creates a SearchTool.
func NewSearchTool(searcher retrieval.Searcher) *SearchTool {
	return &SearchTool{searcher: searcher}
}

// Definition returns the MCP tool definition for search_notes.
func (t *SearchTool) Definition() mcp.Tool {
	return mcp.NewTool("search_notes",
		mcp.WithDescription("Find the note files most similar to a query, without generating an answer."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max results (default: 5, max: 20)"),
		),
	)
}

// Handle processes the search_notes tool call.
func (t *SearchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}

	limit := intArg(req, "limit", 5)
	if limit < 1 {
		limit = 5
	}
	if limit > 20 {
		limit = 20
	}

	results, err := t.searcher.Search(ctx, query, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	if len(results) == 0 {
		return mcp.NewToolResultText("No matching note files found."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d note files:\n\n", len(results))
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s (%s) similarity %.3f\n", i+1, r.FileName, r.FilePath, r.SimilarityScore)
	}

	return mcp.NewToolResultText(b.String()), nil
}

// intArg extracts an integer argument, returning defaultVal if missing
// (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

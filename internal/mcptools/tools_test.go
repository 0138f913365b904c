package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pbaille/notes/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	query string
}

func (f *fakeRunner) Run(_ context.Context, query string) (domain.Response, domain.GenerationMetadata) {
	f.query = query
	return domain.Response{
		RequestID:         "req-1",
		Answer:            "Your ideas are in ideas.md.",
		RelevantFiles:     []domain.RetrievedFile{{FilePath: "Notes/ideas.md", FileName: "ideas.md"}},
		OriginalQuery:     query,
		QueryAnswered:     true,
		GuardrailsTripped: []string{},
	}, domain.UnknownMetadata()
}

type fakeSearcher struct {
	files []domain.RetrievedFile
	err   error
	limit int
}

func (s *fakeSearcher) Search(_ context.Context, _ string, limit int) ([]domain.RetrievedFile, error) {
	s.limit = limit
	return s.files, s.err
}

func makeReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(r *mcp.CallToolResult) string {
	if r == nil {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestQueryToolDefinition(t *testing.T) {
	def := NewQueryTool(&fakeRunner{}).Definition()

	assert.Equal(t, "query_notes", def.Name)
	assert.Contains(t, def.InputSchema.Properties, "query")
	assert.Contains(t, def.InputSchema.Required, "query")
}

func TestQueryToolHandle(t *testing.T) {
	runner := &fakeRunner{}
	res, err := NewQueryTool(runner).Handle(context.Background(), makeReq(map[string]any{"query": "What ideas do I have?"}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	assert.Equal(t, "What ideas do I have?", runner.query)

	var resp domain.Response
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &resp))
	assert.Equal(t, "req-1", resp.RequestID)
	assert.True(t, resp.QueryAnswered)
}

func TestQueryToolEmptyQueryStillAnswers(t *testing.T) {
	runner := &fakeRunner{}
	res, err := NewQueryTool(runner).Handle(context.Background(), makeReq(map[string]any{}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "", runner.query)
}

func TestSearchToolHandle(t *testing.T) {
	searcher := &fakeSearcher{files: []domain.RetrievedFile{
		{FilePath: "Notes/ideas.md", FileName: "ideas.md", SimilarityScore: 0.812},
	}}
	res, err := NewSearchTool(searcher).Handle(context.Background(), makeReq(map[string]any{"query": "ideas", "limit": float64(50)}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	assert.Equal(t, 20, searcher.limit)
	text := resultText(res)
	assert.Contains(t, text, "Found 1 note files")
	assert.Contains(t, text, "ideas.md (Notes/ideas.md) similarity 0.812")
}

func TestSearchToolErrors(t *testing.T) {
	tool := NewSearchTool(&fakeSearcher{err: errors.New("qdrant down")})

	res, err := tool.Handle(context.Background(), makeReq(map[string]any{"query": "  "}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = tool.Handle(context.Background(), makeReq(map[string]any{"query": "ideas"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "qdrant down")
}

func TestSearchToolNoResults(t *testing.T) {
	searcher := &fakeSearcher{files: []domain.RetrievedFile{}}
	res, err := NewSearchTool(searcher).Handle(context.Background(), makeReq(map[string]any{"query": "boats"}))
	require.NoError(t, err)
	assert.Equal(t, "No matching note files found.", resultText(res))
	assert.Equal(t, 5, searcher.limit)
}

func TestNewServer(t *testing.T) {
	assert.NotNil(t, NewServer(&fakeRunner{}, &fakeSearcher{}, "test"))
	assert.NotNil(t, NewServer(&fakeRunner{}, nil, "test"))
}

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, url string, api API) *Client {
	t.Helper()
	c, err := New(Options{BaseURL: url, APIKey: "secret", Model: "test-model", API: api})
	require.NoError(t, err)
	c.initDelay = time.Millisecond
	return c
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{Model: "m"})
	assert.Error(t, err)

	_, err = New(Options{BaseURL: "http://x"})
	assert.Error(t, err)

	_, err = New(Options{BaseURL: "http://x", Model: "m", API: "grpc"})
	assert.Error(t, err)

	c, err := New(Options{BaseURL: "http://x/", Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, APIChatCompletions, c.API())
	assert.Equal(t, "http://x", c.BaseURL())
	assert.Equal(t, "ChatCompletionsClient", c.Class())
}

func TestChatCompletion(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Write([]byte(`{
			"model": "served-model",
			"choices": [{"message": {"content": "{\"reasoning\":\"ok\"}", "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "lookup", "arguments": "{\"file_path\":\"a.md\"}"}}
			]}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, APIChatCompletions)
	comp, err := c.Complete(context.Background(), Request{
		Instructions: "be brief",
		Messages:     []Message{{Role: RoleUser, Content: "hi"}},
		Tools:        []Tool{{Name: "lookup", Parameters: map[string]any{"type": "object"}}},
		Schema:       &Schema{Name: "answer", Schema: map[string]any{"type": "object"}},
		Temperature:  0.1,
		MaxTokens:    100,
		IncludeUsage: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "served-model", comp.Model)
	assert.Equal(t, APIChatCompletions, comp.API)
	assert.Equal(t, `{"reasoning":"ok"}`, comp.Text)
	require.Len(t, comp.ToolCalls, 1)
	assert.Equal(t, "call_1", comp.ToolCalls[0].ID)
	assert.Equal(t, "lookup", comp.ToolCalls[0].Name)
	require.NotNil(t, comp.Usage)
	assert.Equal(t, 12, *comp.Usage.InputTokens)
	assert.Equal(t, 15, *comp.Usage.TotalTokens)

	messages := got["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "json_schema", got["response_format"].(map[string]any)["type"])
	assert.Len(t, got["tools"], 1)
}

func TestChatToolRoundTripEncoding(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"choices": [{"message": {"content": "done"}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, APIChatCompletions)
	_, err := c.Complete(context.Background(), Request{Messages: []Message{
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "lookup", Arguments: "{}"}}},
		{Role: RoleTool, ToolCallID: "c1", Content: "noteplan://x"},
	}})
	require.NoError(t, err)

	require.Len(t, got.Messages, 3)
	assert.Nil(t, got.Messages[1].Content)
	require.Len(t, got.Messages[1].ToolCalls, 1)
	assert.Equal(t, "function", got.Messages[1].ToolCalls[0].Type)
	assert.Equal(t, "c1", got.Messages[2].ToolCallID)
}

func TestUsageDroppedWhenNotRequested(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": [{"message": {"content": "x"}}], "usage": {"total_tokens": 4}}`))
	}))
	defer srv.Close()

	comp, err := newTestClient(t, srv.URL, APIChatCompletions).Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Nil(t, comp.Usage)
	assert.Equal(t, "test-model", comp.Model)
}

func TestResponsesCompletion(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/responses", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Write([]byte(`{
			"model": "gpt-oss",
			"output": [
				{"type": "reasoning", "summary": [{"text": "thinking"}]},
				{"type": "message", "content": [{"type": "output_text", "text": "part one "}, {"type": "output_text", "text": "part two"}]},
				{"type": "function_call", "call_id": "fc_1", "name": "lookup", "arguments": "{}"}
			],
			"usage": {"input_tokens": 7, "output_tokens": 2, "input_tokens_details": null}
		}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, APIResponses)
	comp, err := c.Complete(context.Background(), Request{
		Instructions: "sys",
		Messages: []Message{
			{Role: RoleUser, Content: "q"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "fc_0", Name: "lookup", Arguments: "{}"}}},
			{Role: RoleTool, ToolCallID: "fc_0", Content: "link"},
		},
		Schema:       &Schema{Name: "answer", Schema: map[string]any{}},
		IncludeUsage: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "part one part two", comp.Text)
	assert.Equal(t, []string{"thinking"}, comp.Reasoning)
	assert.Empty(t, comp.Parts)
	require.Len(t, comp.ToolCalls, 1)
	assert.Equal(t, "fc_1", comp.ToolCalls[0].ID)
	require.NotNil(t, comp.Usage)
	assert.Equal(t, 9, *comp.Usage.TotalTokens)
	assert.Equal(t, "ResponsesClient", c.Class())

	assert.Equal(t, "sys", got["instructions"])
	input := got["input"].([]any)
	require.Len(t, input, 3)
	assert.Equal(t, "function_call", input[1].(map[string]any)["type"])
	assert.Equal(t, "function_call_output", input[2].(map[string]any)["type"])
	format := got["text"].(map[string]any)["format"].(map[string]any)
	assert.Equal(t, "json_schema", format["type"])
}

func TestResponsesEmptyOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"output": []}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, APIResponses).Complete(context.Background(), Request{})
	assert.Error(t, err)
}

func TestRetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error": {"message": "slow down"}}`))
			return
		}
		w.Write([]byte(`{"choices": [{"message": {"content": "finally"}}]}`))
	}))
	defer srv.Close()

	comp, err := newTestClient(t, srv.URL, APIChatCompletions).Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "finally", comp.Text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRateLimitExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "slow down"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, APIChatCompletions).Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, KindRateLimit, KindOf(err))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "slow down", apiErr.Message)
}

func TestAuthErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("bad key"))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, APIChatCompletions).Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, KindAuth, KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestWithAPIKey(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte(`{"choices": [{"message": {"content": "x"}}]}`))
	}))
	defer srv.Close()

	base := newTestClient(t, srv.URL, APIChatCompletions)
	_, err := base.WithAPIKey("per-request").Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer per-request", auth)
	assert.Equal(t, "secret", base.apiKey)
}

func TestConnectionErrorKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t, url, APIChatCompletions).Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, KindConnection, KindOf(err))
}

func TestTimeoutKind(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, APIChatCompletions).Complete(ctx, Request{})
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
}

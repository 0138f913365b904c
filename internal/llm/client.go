// Package llm talks to an OpenAI-compatible proxy through either the chat
// completions or the responses API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/pbaille/notes/internal/domain"
)

// API is the wire variant used to reach the model
type API string

const (
	APIChatCompletions API = "chat_completions"
	APIResponses       API = "responses"
)

// Role of a conversation message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one conversation turn
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall // assistant turns only
	ToolCallID string     // tool turns only
}

// ToolCall is a function call requested by the model
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Tool describes a function the model may call
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Schema is a JSON schema the output must follow
type Schema struct {
	Name   string
	Schema map[string]any
}

// Request is a single model invocation
type Request struct {
	Instructions string
	Messages     []Message
	Tools        []Tool
	Schema       *Schema
	Temperature  float64
	MaxTokens    int
	IncludeUsage bool
}

// Completion is what the model returned. Text is the primary output location;
// OutputText and Parts are alternate locations some proxies fill instead.
// Reasoning is the model's hidden reasoning; it is never answer text.
type Completion struct {
	Model      string
	API        API
	Text       string
	OutputText string
	Parts      []string
	Reasoning  []string
	ToolCalls  []ToolCall
	Usage      *domain.Usage
}

// Completer is anything that can run a Request
type Completer interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// Options configures a Client
type Options struct {
	BaseURL    string
	APIKey     string
	Model      string
	API        API
	Timeout    time.Duration
	HTTPClient *http.Client
}

const (
	defaultMaxRetries = 3
	defaultInitDelay  = 500 * time.Millisecond
)

// Client calls the proxy over HTTP
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	api        API
	http       *http.Client
	maxRetries int
	initDelay  time.Duration
}

// New creates a Client
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("llm base url not set")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("llm model not set")
	}

	api := opts.API
	if api == "" {
		api = APIChatCompletions
	}
	if api != APIChatCompletions && api != APIResponses {
		return nil, fmt.Errorf("unknown api variant: %s", api)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		model:      opts.Model,
		api:        api,
		http:       httpClient,
		maxRetries: defaultMaxRetries,
		initDelay:  defaultInitDelay,
	}, nil
}

// WithAPIKey returns a copy of the client using key
func (c *Client) WithAPIKey(key string) *Client {
	cp := *c
	cp.apiKey = key
	return &cp
}

// Model returns the configured model name
func (c *Client) Model() string { return c.model }

// API returns the wire variant
func (c *Client) API() API { return c.api }

// BaseURL returns the proxy URL
func (c *Client) BaseURL() string { return c.baseURL }

// Class names the concrete client for observability headers
func (c *Client) Class() string {
	if c.api == APIResponses {
		return "ResponsesClient"
	}
	return "ChatCompletionsClient"
}

// Complete runs req against the proxy
func (c *Client) Complete(ctx context.Context, req Request) (*Completion, error) {
	var (
		path string
		body any
	)
	if c.api == APIResponses {
		path, body = "/v1/responses", c.responsesBody(req)
	} else {
		path, body = "/v1/chat/completions", c.chatBody(req)
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := c.post(ctx, path, jsonBody)
	if err != nil {
		return nil, err
	}

	var comp *Completion
	if c.api == APIResponses {
		comp, err = parseResponses(respBody)
	} else {
		comp, err = parseChat(respBody)
	}
	if err != nil {
		return nil, err
	}

	comp.API = c.api
	if comp.Model == "" {
		comp.Model = c.model
	}
	if !req.IncludeUsage {
		comp.Usage = nil
	}
	return comp, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * c.initDelay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("wait for retry: %w", ctx.Err())
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("http request: %w", ctx.Err())
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = &APIError{
				Kind:       kindForStatus(resp.StatusCode),
				StatusCode: resp.StatusCode,
				Message:    errorMessage(respBody),
			}
			if retryable(resp.StatusCode) {
				continue
			}
			return nil, lastErr
		}

		return respBody, nil
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

// errorMessage pulls error.message out of an error body, falling back to the raw body
func errorMessage(body []byte) string {
	var env struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return strings.TrimSpace(string(body))
}

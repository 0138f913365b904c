// Package links turns note file paths into shareable NotePlan x-callback URLs
// by calling the link tool service.
package links

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const derivePath = "/tools/derive_xcallback_url_from_noteplan_file"

// Client calls the link tool service
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// New creates a link Client
func New(baseURL string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("link service url not set")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

type deriveRequest struct {
	FilePath string `json:"file_path"`
	Heading  string `json:"heading,omitempty"`
}

type deriveResponse struct {
	Success      bool   `json:"success"`
	XCallbackURL string `json:"x_callback_url"`
	Error        string `json:"error"`
}

// ErrService is returned when the service answers but reports a failure
var ErrService = errors.New("link service error")

// Resolve returns the link for filePath or an error
func (c *Client) Resolve(ctx context.Context, filePath string) (string, error) {
	return c.call(ctx, filePath, "")
}

// Derive is the tool form of Resolve: failures come back as "Error..."
// strings so they can be handed to the model as a tool result.
func (c *Client) Derive(ctx context.Context, filePath, heading string) string {
	link, err := c.call(ctx, filePath, heading)
	if err == nil {
		return link
	}

	c.logger.Warn("link generation failed", zap.String("file_path", filePath), zap.Error(err))
	if errors.Is(err, ErrService) {
		return "Error generating link: " + strings.TrimPrefix(err.Error(), ErrService.Error()+": ")
	}
	return "Error: Failed to call tidy-mcp service: " + err.Error()
}

func (c *Client) call(ctx context.Context, filePath, heading string) (string, error) {
	jsonBody, err := json.Marshal(deriveRequest{FilePath: filePath, Heading: heading})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+derivePath, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out deriveResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if !out.Success || out.XCallbackURL == "" {
		msg := out.Error
		if msg == "" {
			msg = "Unknown error"
		}
		return "", fmt.Errorf("%w: %s", ErrService, msg)
	}

	return out.XCallbackURL, nil
}

package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

type responsesRequest struct {
	Model           string          `json:"model"`
	Instructions    string          `json:"instructions,omitempty"`
	Input           []any           `json:"input"`
	Tools           []responsesTool `json:"tools,omitempty"`
	Text            *responsesText  `json:"text,omitempty"`
	Temperature     float64         `json:"temperature"`
	MaxOutputTokens int             `json:"max_output_tokens,omitempty"`
}

type responsesMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesFunctionCall struct {
	Type      string `json:"type"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type responsesFunctionOutput struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

type responsesTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type responsesText struct {
	Format responsesFormat `json:"format"`
}

type responsesFormat struct {
	Type   string         `json:"type"`
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
}

type responsesResponse struct {
	Model      string  `json:"model"`
	OutputText *string `json:"output_text"`
	Output     []struct {
		Type      string `json:"type"`
		CallID    string `json:"call_id"`
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
		Content   []struct {
			Type    string `json:"type"`
			Text    string `json:"text"`
			Refusal string `json:"refusal"`
		} `json:"content"`
		Summary []struct {
			Text string `json:"text"`
		} `json:"summary"`
	} `json:"output"`
	Usage json.RawMessage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) responsesBody(req Request) responsesRequest {
	body := responsesRequest{
		Model:           c.model,
		Instructions:    req.Instructions,
		Input:           []any{},
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxTokens,
	}

	for _, m := range req.Messages {
		switch {
		case m.Role == RoleTool:
			body.Input = append(body.Input, responsesFunctionOutput{
				Type: "function_call_output", CallID: m.ToolCallID, Output: m.Content,
			})
		case len(m.ToolCalls) > 0:
			if m.Content != "" {
				body.Input = append(body.Input, responsesMessage{Role: string(m.Role), Content: m.Content})
			}
			for _, tc := range m.ToolCalls {
				body.Input = append(body.Input, responsesFunctionCall{
					Type: "function_call", CallID: tc.ID, Name: tc.Name, Arguments: tc.Arguments,
				})
			}
		default:
			body.Input = append(body.Input, responsesMessage{Role: string(m.Role), Content: m.Content})
		}
	}

	for _, t := range req.Tools {
		body.Tools = append(body.Tools, responsesTool{
			Type: "function", Name: t.Name, Description: t.Description, Parameters: t.Parameters,
		})
	}

	if req.Schema != nil {
		body.Text = &responsesText{Format: responsesFormat{
			Type: "json_schema", Name: req.Schema.Name, Schema: req.Schema.Schema,
		}}
	}

	return body
}

func parseResponses(body []byte) (*Completion, error) {
	var resp responsesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if resp.Error != nil && resp.Error.Message != "" {
		return nil, fmt.Errorf("api error: %s", resp.Error.Message)
	}

	comp := &Completion{
		Model:      resp.Model,
		OutputText: deref(resp.OutputText),
		Usage:      ParseUsage(resp.Usage),
	}

	var text strings.Builder
	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			for _, part := range item.Content {
				switch part.Type {
				case "output_text", "text":
					text.WriteString(part.Text)
				case "refusal":
					if t := strings.TrimSpace(part.Refusal); t != "" {
						comp.Parts = append(comp.Parts, t)
					}
				}
			}
		case "function_call":
			comp.ToolCalls = append(comp.ToolCalls, ToolCall{
				ID: item.CallID, Name: item.Name, Arguments: item.Arguments,
			})
		case "reasoning":
			for _, s := range item.Summary {
				if t := strings.TrimSpace(s.Text); t != "" {
					comp.Reasoning = append(comp.Reasoning, t)
				}
			}
		}
	}
	comp.Text = text.String()

	if comp.Text == "" && comp.OutputText == "" && len(comp.ToolCalls) == 0 && len(comp.Parts) == 0 && len(comp.Reasoning) == 0 {
		return nil, fmt.Errorf("empty response")
	}

	return comp, nil
}

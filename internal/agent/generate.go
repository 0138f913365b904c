package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pbaille/notes/internal/domain"
	"github.com/pbaille/notes/internal/extract"
	"github.com/pbaille/notes/internal/llm"
	"github.com/pbaille/notes/internal/prompt"
	"go.uber.org/zap"
)

const agentName = "NoteQueryAgent"

// LinkDeriver is the link tool offered to the generation model
type LinkDeriver interface {
	Derive(ctx context.Context, filePath, heading string) string
}

// GeneratorOptions tunes the generation calls
type GeneratorOptions struct {
	MaxTurns     int
	Temperature  float64
	MaxTokens    int
	IncludeUsage bool
}

// Generator runs the generation agent: one model call per turn until the
// model stops asking for tools.
type Generator struct {
	llm    llm.Completer
	links  LinkDeriver
	opts   GeneratorOptions
	logger *zap.Logger
}

// NewGenerator creates a Generator. links may be nil, in which case no tool is offered.
func NewGenerator(completer llm.Completer, links LinkDeriver, opts GeneratorOptions, logger *zap.Logger) *Generator {
	if opts.MaxTurns < 1 {
		opts.MaxTurns = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{llm: completer, links: links, opts: opts, logger: logger}
}

// WithCompleter returns a copy of the generator using c
func (g *Generator) WithCompleter(c llm.Completer) *Generator {
	cp := *g
	cp.llm = c
	return &cp
}

// Generation is the raw outcome of a run
type Generation struct {
	Raw   extract.RawResult
	Model string
	Turns int
	Usage *domain.Usage
}

var answerSchema = llm.Schema{
	Name: "note_query_answer",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reasoning":            map[string]any{"type": "string"},
			"relevant_note_files":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"relevant_daily_files": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"noteplan_links":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required":             []string{"reasoning", "relevant_note_files", "relevant_daily_files", "noteplan_links"},
		"additionalProperties": false,
	},
}

var linkTool = llm.Tool{
	Name:        prompt.LinkToolName,
	Description: "Derive a NotePlan x-callback-url that opens a note file, optionally at a heading.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{"type": "string", "description": "Path of the note file"},
			"heading":   map[string]any{"type": "string", "description": "Optional heading to open"},
		},
		"required": []string{"file_path"},
	},
}

type linkArgs struct {
	FilePath string `json:"file_path"`
	Heading  string `json:"heading"`
}

// Generate answers query under instructions
func (g *Generator) Generate(ctx context.Context, instructions, query string) (*Generation, error) {
	if g.llm == nil {
		return nil, fmt.Errorf("generation model not configured")
	}

	var tools []llm.Tool
	if g.links != nil {
		tools = []llm.Tool{linkTool}
	}

	messages := []llm.Message{{Role: llm.RoleUser, Content: query}}
	usage := &domain.Usage{}
	items := 0

	for turn := 1; turn <= g.opts.MaxTurns; turn++ {
		comp, err := g.llm.Complete(ctx, llm.Request{
			Instructions: instructions,
			Messages:     messages,
			Tools:        tools,
			Schema:       &answerSchema,
			Temperature:  g.opts.Temperature,
			MaxTokens:    g.opts.MaxTokens,
			IncludeUsage: g.opts.IncludeUsage,
		})
		if err != nil {
			return nil, fmt.Errorf("generate answer: %w", err)
		}
		usage.Add(comp.Usage)
		if len(comp.Reasoning) > 0 {
			g.logger.Debug("model reasoning withheld from answer",
				zap.Int("turn", turn),
				zap.Int("parts", len(comp.Reasoning)))
		}

		if len(comp.ToolCalls) == 0 {
			items++
			gen := &Generation{
				Raw:   rawResult(comp, items),
				Model: comp.Model,
				Turns: turn,
			}
			if !usage.Empty() {
				gen.Usage = usage
			}
			return gen, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   comp.Text,
			ToolCalls: comp.ToolCalls,
		})
		for _, call := range comp.ToolCalls {
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Content:    g.runTool(ctx, call),
			})
			items += 2
		}
	}

	return nil, fmt.Errorf("max turns (%d) exceeded", g.opts.MaxTurns)
}

func (g *Generator) runTool(ctx context.Context, call llm.ToolCall) string {
	if call.Name != prompt.LinkToolName || g.links == nil {
		return "Error: unknown tool " + call.Name
	}

	var args linkArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return "Error: invalid arguments: " + err.Error()
	}
	if strings.TrimSpace(args.FilePath) == "" {
		return "Error: file_path is required"
	}

	g.logger.Debug("running link tool",
		zap.String("file_path", args.FilePath),
		zap.String("heading", args.Heading))
	return g.links.Derive(ctx, args.FilePath, args.Heading)
}

// rawResult exposes every location the final turn may have used.
// Hidden reasoning is not one of them.
func rawResult(comp *llm.Completion, items int) extract.RawResult {
	return extract.RawResult{
		FinalOutput: extract.FromModelText(comp.Text),
		Output:      extract.FromModelText(comp.OutputText),
		Content:     extract.Text(strings.Join(comp.Parts, "\n")),
		Trace:       runTrace(comp.Text, items),
	}
}

// runTrace renders the run the way trace-wrapped outputs look
func runTrace(final string, items int) string {
	var b strings.Builder
	b.WriteString("RunResult:\n")
	b.WriteString("- Last agent: " + agentName + "\n")
	b.WriteString("- Final output (str):\n")
	for _, line := range strings.Split(final, "\n") {
		b.WriteString("    " + line + "\n")
	}
	fmt.Fprintf(&b, "- %d new item(s)", items)
	return b.String()
}

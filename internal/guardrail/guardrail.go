// Package guardrail runs the LLM sub-agents that gate a note query before
// and after generation.
package guardrail

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pbaille/notes/internal/domain"
	"github.com/pbaille/notes/internal/llm"
	"github.com/pbaille/notes/internal/prompt"
	"go.uber.org/zap"
)

// Stage says where a guardrail sits in the pipeline
type Stage string

const (
	StageInput  Stage = "input"
	StageOutput Stage = "output"
)

// Result labels recorded for each evaluation
const (
	ResultPassed  = "pass"
	ResultTripped = "fail"
	ResultError   = "error"
)

const (
	InputName  = "describes_note_query"
	OutputName = "judges_note_answer"
)

// Recorder receives one observation per evaluation
type Recorder interface {
	RecordGuardrail(ctx context.Context, stage Stage, result string, elapsed time.Duration)
}

// Guardrail is one sub-agent: its instructions, its output schema and how
// its output is turned into a decision.
type Guardrail struct {
	Name         string
	Stage        Stage
	Instructions string
	Schema       llm.Schema
	Decide       func(out map[string]any) (tripped bool, reasoning string, err error)
}

// FailsClosed reports whether an evaluation error trips the guardrail
func (g Guardrail) FailsClosed() bool { return g.Stage == StageInput }

// JudgeInput is what the output guardrail evaluates
type JudgeInput struct {
	OriginalQuery string                 `json:"original_query"`
	AgentAnswer   string                 `json:"agent_answer"`
	RelevantFiles []domain.RetrievedFile `json:"relevant_files"`
}

// NoteQuery is the input guardrail: trips unless the query is about notes
func NoteQuery() Guardrail {
	return Guardrail{
		Name:         InputName,
		Stage:        StageInput,
		Instructions: prompt.NoteQueryGuardrail(),
		Schema: llm.Schema{
			Name: "note_query_check",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"is_note_query": map[string]any{"type": "boolean"},
					"reasoning":     map[string]any{"type": "string"},
				},
				"required":             []string{"is_note_query", "reasoning"},
				"additionalProperties": false,
			},
		},
		Decide: func(out map[string]any) (bool, string, error) {
			ok, found := out["is_note_query"].(bool)
			if !found {
				return false, "", fmt.Errorf("missing is_note_query in guardrail output")
			}
			return !ok, stringField(out, "reasoning"), nil
		},
	}
}

// AnswerJudge is the output guardrail: trips when the judge rejects the answer
func AnswerJudge() Guardrail {
	return Guardrail{
		Name:         OutputName,
		Stage:        StageOutput,
		Instructions: prompt.JudgeNoteAnswer(),
		Schema: llm.Schema{
			Name: "note_answer_judgement",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"score": map[string]any{
						"type": "string",
						"enum": []string{"pass", "needs_improvement", "fail"},
					},
					"reasoning":          map[string]any{"type": "string"},
					"tripwire_triggered": map[string]any{"type": "boolean"},
				},
				"required":             []string{"score", "reasoning", "tripwire_triggered"},
				"additionalProperties": false,
			},
		},
		Decide: func(out map[string]any) (bool, string, error) {
			tripped, found := out["tripwire_triggered"].(bool)
			if !found {
				return false, "", fmt.Errorf("missing tripwire_triggered in guardrail output")
			}
			return tripped, stringField(out, "reasoning"), nil
		},
	}
}

// Settings are the model settings every evaluation runs with
type Settings struct {
	Timeout      time.Duration
	Temperature  float64
	MaxTokens    int
	IncludeUsage bool
}

// Engine evaluates guardrails against a model
type Engine struct {
	llm      llm.Completer
	settings Settings
	recorder Recorder
	logger   *zap.Logger
}

// New creates an Engine. recorder may be nil.
func New(completer llm.Completer, settings Settings, recorder Recorder, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{llm: completer, settings: settings, recorder: recorder, logger: logger}
}

// WithCompleter returns a copy of the engine using c
func (e *Engine) WithCompleter(c llm.Completer) *Engine {
	cp := *e
	cp.llm = c
	return &cp
}

// Reject trips g without consulting the model, for inputs that cannot pass.
// The observation is still recorded.
func (e *Engine) Reject(ctx context.Context, g Guardrail, reasoning string) domain.GuardrailVerdict {
	e.logger.Info("guardrail tripped",
		zap.String("guardrail", g.Name),
		zap.String("reasoning", reasoning))
	if e.recorder != nil {
		e.recorder.RecordGuardrail(ctx, g.Stage, ResultTripped, 0)
	}
	return domain.GuardrailVerdict{Name: g.Name, Tripped: true, Reasoning: reasoning}
}

// Evaluate runs g on content. It never returns an error: failures become a
// verdict that trips input guardrails and passes output guardrails.
func (e *Engine) Evaluate(ctx context.Context, g Guardrail, content any) domain.GuardrailVerdict {
	start := time.Now()

	out, err := e.run(ctx, g, content)

	var (
		tripped   bool
		reasoning string
	)
	if err == nil {
		tripped, reasoning, err = g.Decide(out)
	}

	result := ResultPassed
	if err != nil {
		result = ResultError
		tripped = g.FailsClosed()
		reasoning = errorReasoning(err)
		e.logger.Error("guardrail evaluation failed",
			zap.String("guardrail", g.Name),
			zap.String("stage", string(g.Stage)),
			zap.String("kind", llm.KindOf(err).String()),
			zap.Bool("tripped", tripped),
			zap.Error(err))
	} else if tripped {
		result = ResultTripped
		e.logger.Info("guardrail tripped",
			zap.String("guardrail", g.Name),
			zap.String("reasoning", reasoning))
	}

	if e.recorder != nil {
		e.recorder.RecordGuardrail(ctx, g.Stage, result, time.Since(start))
	}

	verdict := domain.GuardrailVerdict{
		Name:      g.Name,
		Tripped:   tripped,
		Reasoning: reasoning,
		Err:       err,
	}
	if out != nil {
		verdict.RawOutput = out
	}
	return verdict
}

func (e *Engine) run(ctx context.Context, g Guardrail, content any) (map[string]any, error) {
	if e.llm == nil {
		return nil, fmt.Errorf("guardrail model not configured")
	}

	input, err := renderContent(content)
	if err != nil {
		return nil, err
	}

	if e.settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.settings.Timeout)
		defer cancel()
	}

	schema := g.Schema
	comp, err := e.llm.Complete(ctx, llm.Request{
		Instructions: g.Instructions,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: input}},
		Schema:       &schema,
		Temperature:  e.settings.Temperature,
		MaxTokens:    e.settings.MaxTokens,
		IncludeUsage: e.settings.IncludeUsage,
	})
	if err != nil {
		return nil, fmt.Errorf("guardrail %s: %w", g.Name, err)
	}

	text := comp.Text
	if strings.TrimSpace(text) == "" {
		text = comp.OutputText
	}
	return parseOutput(text)
}

func renderContent(content any) (string, error) {
	switch v := content.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("marshal guardrail input: %w", err)
		}
		return string(b), nil
	}
}

// parseOutput decodes the first JSON object in text, ignoring markdown fences
func parseOutput(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no json object in guardrail output: %q", truncate(text, 200))
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("parse guardrail output: %w", err)
	}
	return out, nil
}

func errorReasoning(err error) string {
	switch llm.KindOf(err) {
	case llm.KindRateLimit:
		return "Rate limit exceeded. Please try again later."
	case llm.KindAuth:
		return "API authentication error. Please contact support."
	case llm.KindConnection, llm.KindTimeout:
		return "Service temporarily unavailable. Please try again later."
	default:
		return "Guardrail error: " + err.Error()
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

package agent

import (
	"context"
	"errors"
	"strings"

	"github.com/pbaille/notes/internal/domain"
	"github.com/pbaille/notes/internal/llm"
	"go.uber.org/zap"
)

const (
	inputBlockedAnswer  = "I couldn't process your query. Please ask a question about your notes."
	outputBlockedAnswer = "I couldn't provide a reliable answer based on your notes. Please try rephrasing your question."
)

// Error category tags added to guardrails_tripped on the ERROR exit
const (
	TagRateLimit  = "rate_limit_exceeded"
	TagAuth       = "authentication_error"
	TagTimeout    = "timeout"
	TagConnection = "connection_error"
	TagAnalysis   = "analysis_error"
)

type category struct {
	tag    string
	answer string
}

var categories = map[llm.Kind]category{
	llm.KindRateLimit:  {TagRateLimit, "Service temporarily unavailable due to rate limits. Please try again later."},
	llm.KindAuth:       {TagAuth, "Service configuration error. Please contact support."},
	llm.KindTimeout:    {TagTimeout, "Service timeout. Please try again with a shorter description."},
	llm.KindConnection: {TagConnection, "Service temporarily unavailable. Please try again later."},
	llm.KindUnknown:    {TagAnalysis, "An error occurred while processing your query. Please try again."},
}

var errAuth = errors.New("authentication failed")

func (r *Runner) inputBlocked(q *run, v domain.GuardrailVerdict) domain.Response {
	q.transition(r.logger, StateInputBlocked)
	r.logger.Info("input guardrail blocked query",
		zap.String("request_id", q.id),
		zap.String("guardrail", v.Name),
		zap.String("reasoning", v.Reasoning))

	return domain.Response{
		RequestID:         q.id,
		Answer:            inputBlockedAnswer,
		Reasoning:         "Input guardrail tripped: " + v.Name,
		RelevantFiles:     []domain.RetrievedFile{},
		OriginalQuery:     q.query,
		QueryAnswered:     false,
		GuardrailsTripped: q.tripped,
	}
}

func (r *Runner) outputBlocked(q *run, v domain.GuardrailVerdict) domain.Response {
	q.transition(r.logger, StateOutputBlocked)
	r.logger.Info("output guardrail rejected answer",
		zap.String("request_id", q.id),
		zap.String("guardrail", v.Name),
		zap.String("reasoning", v.Reasoning))

	return domain.Response{
		RequestID:         q.id,
		Answer:            outputBlockedAnswer,
		Reasoning:         "Output guardrail tripped: " + v.Name,
		RelevantFiles:     q.candidates,
		OriginalQuery:     q.query,
		QueryAnswered:     false,
		GuardrailsTripped: q.tripped,
	}
}

// fail builds the ERROR response for err
func (r *Runner) fail(ctx context.Context, q *run, err error) domain.Response {
	failedIn := q.state
	q.state = StateError

	kind := llm.KindOf(err)
	cat := categories[kind]

	r.logger.Error("query failed",
		zap.String("request_id", q.id),
		zap.String("state", string(failedIn)),
		zap.String("error_type", cat.tag),
		zap.Error(err))
	if msg := err.Error(); strings.Contains(msg, "Invalid JSON") || strings.Contains(msg, "EOF while parsing") {
		r.logger.Warn("model output was probably truncated by the max tokens limit",
			zap.String("request_id", q.id))
	}

	if r.errors != nil {
		r.errors.RecordRequestError(ctx, component, cat.tag)
	}

	shown := err
	if kind == llm.KindAuth {
		shown = errAuth
	}

	return domain.Response{
		RequestID:         q.id,
		Answer:            cat.answer,
		Reasoning:         "Error: " + shown.Error(),
		RelevantFiles:     q.candidates,
		OriginalQuery:     q.query,
		QueryAnswered:     false,
		GuardrailsTripped: append(q.tripped, cat.tag),
	}
}

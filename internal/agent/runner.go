// Package agent runs a note query end to end: input gate, retrieval,
// generation, output gate and response assembly.
package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pbaille/notes/internal/assemble"
	"github.com/pbaille/notes/internal/domain"
	"github.com/pbaille/notes/internal/extract"
	"github.com/pbaille/notes/internal/guardrail"
	"github.com/pbaille/notes/internal/llm"
	"github.com/pbaille/notes/internal/prompt"
	"github.com/pbaille/notes/internal/retrieval"
	"github.com/pbaille/notes/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// State is a step of a query run
type State string

const (
	StateStart           State = "START"
	StateInputGuardrail  State = "INPUT_GUARDRAIL"
	StateRetrieve        State = "RETRIEVE"
	StateGenerate        State = "GENERATE"
	StateOutputGuardrail State = "OUTPUT_GUARDRAIL"
	StateSuccess         State = "SUCCESS"
	StateInputBlocked    State = "INPUT_BLOCKED"
	StateOutputBlocked   State = "OUTPUT_BLOCKED"
	StateError           State = "ERROR"
)

const component = "note_query"

var tracer = telemetry.Tracer("agent")

// ErrorRecorder counts failed runs
type ErrorRecorder interface {
	RecordRequestError(ctx context.Context, component, errorType string)
}

// Options configures a Runner
type Options struct {
	SearchLimit       int
	RetrievalTimeout  time.Duration
	GenerationTimeout time.Duration

	// reported in GenerationMetadata
	ModelName  string
	APIVariant string
	ModelClass string
	ProxyURL   string
}

// Runner answers note queries. It is safe for concurrent use.
type Runner struct {
	searcher  retrieval.Searcher
	guards    *guardrail.Engine
	gen       *Generator
	assembler *assemble.Assembler
	errors    ErrorRecorder
	opts      Options
	logger    *zap.Logger
}

// New creates a Runner. searcher and errs may be nil.
func New(searcher retrieval.Searcher, guards *guardrail.Engine, gen *Generator, assembler *assemble.Assembler, errs ErrorRecorder, opts Options, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SearchLimit < 1 {
		opts.SearchLimit = 5
	}
	return &Runner{
		searcher:  searcher,
		guards:    guards,
		gen:       gen,
		assembler: assembler,
		errors:    errs,
		opts:      opts,
		logger:    logger,
	}
}

// WithCompleter returns a copy of the runner whose generation and guardrail
// calls go through c
func (r *Runner) WithCompleter(c llm.Completer) *Runner {
	cp := *r
	cp.guards = r.guards.WithCompleter(c)
	cp.gen = r.gen.WithCompleter(c)
	return &cp
}

// run holds the state of one query
type run struct {
	id         string
	query      string
	state      State
	candidates []domain.RetrievedFile
	tripped    []string
	meta       domain.GenerationMetadata
}

// Run answers query. It never fails: every outcome, including panics, is a
// Response.
func (r *Runner) Run(ctx context.Context, query string) (resp domain.Response, meta domain.GenerationMetadata) {
	q := &run{
		id:         uuid.NewString(),
		query:      query,
		state:      StateStart,
		candidates: []domain.RetrievedFile{},
		tripped:    []string{},
		meta:       r.baseMetadata(),
	}

	ctx, span := tracer.Start(ctx, "notes.query")
	span.SetAttributes(attribute.String("request_id", q.id))
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic while answering query",
				zap.String("request_id", q.id),
				zap.String("state", string(q.state)),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
			resp = r.fail(ctx, q, fmt.Errorf("panic: %v", p))
			meta = q.meta
		}
		span.SetAttributes(attribute.String("state", string(q.state)))
		if q.state == StateError {
			span.SetStatus(codes.Error, resp.Reasoning)
		}
	}()

	resp = r.answer(ctx, q)
	return resp, q.meta
}

func (r *Runner) answer(ctx context.Context, q *run) domain.Response {
	verdict := r.gateAndRetrieve(ctx, q)
	if verdict.Tripped {
		q.tripped = append(q.tripped, verdict.Name)
		return r.inputBlocked(q, verdict)
	}

	q.transition(r.logger, StateGenerate)
	instructions := prompt.Augment(q.candidates, r.opts.SearchLimit)

	genCtx := ctx
	if r.opts.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, r.opts.GenerationTimeout)
		defer cancel()
	}

	start := time.Now()
	gen, err := r.gen.Generate(genCtx, instructions, q.query)
	q.meta.GenerationTime = time.Since(start).Seconds()
	if err != nil {
		return r.fail(ctx, q, err)
	}
	if gen.Model != "" {
		q.meta.ModelName = gen.Model
	}
	q.meta.Usage = gen.Usage

	result := extract.Extract(gen.Raw)
	r.logger.Debug("extracted answer",
		zap.String("request_id", q.id),
		zap.String("method", string(result.Method)),
		zap.String("location", result.Location),
		zap.Int("turns", gen.Turns))

	resp := r.assembler.Assemble(ctx, assemble.Input{
		RequestID:    q.id,
		Query:        q.query,
		Answer:       result.Answer,
		FallbackText: result.FallbackText,
		Retrieved:    q.candidates,
		Tripped:      q.tripped,
	})

	q.transition(r.logger, StateOutputGuardrail)
	judged := r.guards.Evaluate(ctx, guardrail.AnswerJudge(), guardrail.JudgeInput{
		OriginalQuery: q.query,
		AgentAnswer:   resp.Answer,
		RelevantFiles: resp.RelevantFiles,
	})
	if judged.Tripped {
		q.tripped = append(q.tripped, judged.Name)
		return r.outputBlocked(q, judged)
	}

	q.transition(r.logger, StateSuccess)
	return resp
}

// gateAndRetrieve runs the input guardrail and retrieval side by side.
// Retrieval failures never abort the run.
func (r *Runner) gateAndRetrieve(ctx context.Context, q *run) domain.GuardrailVerdict {
	q.transition(r.logger, StateInputGuardrail)

	if strings.TrimSpace(q.query) == "" {
		return r.guards.Reject(ctx, guardrail.NoteQuery(), "Query is empty.")
	}

	var (
		verdict    domain.GuardrailVerdict
		candidates []domain.RetrievedFile
	)

	var g errgroup.Group
	g.Go(func() error {
		defer func() {
			if p := recover(); p != nil {
				verdict = domain.GuardrailVerdict{
					Name:      guardrail.InputName,
					Tripped:   true,
					Reasoning: fmt.Sprintf("Guardrail error: %v", p),
					Err:       fmt.Errorf("panic: %v", p),
				}
			}
		}()
		verdict = r.guards.Evaluate(ctx, guardrail.NoteQuery(), q.query)
		return nil
	})
	g.Go(func() error {
		candidates = r.retrieve(ctx, q)
		return nil
	})
	_ = g.Wait()

	q.state = StateRetrieve
	q.candidates = candidates
	return verdict
}

func (r *Runner) retrieve(ctx context.Context, q *run) (files []domain.RetrievedFile) {
	files = []domain.RetrievedFile{}
	if r.searcher == nil {
		return files
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("retrieval panicked, continuing without candidates",
				zap.String("request_id", q.id),
				zap.Any("panic", p))
			files = []domain.RetrievedFile{}
		}
	}()

	if r.opts.RetrievalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.RetrievalTimeout)
		defer cancel()
	}

	start := time.Now()
	found, err := r.searcher.Search(ctx, q.query, r.opts.SearchLimit)
	if err != nil {
		r.logger.Warn("retrieval failed, continuing without candidates",
			zap.String("request_id", q.id),
			zap.Error(err))
		return files
	}

	r.logger.Debug("retrieved candidates",
		zap.String("request_id", q.id),
		zap.Int("count", len(found)),
		zap.Duration("duration", time.Since(start)))
	if found == nil {
		return files
	}
	return found
}

func (r *Runner) baseMetadata() domain.GenerationMetadata {
	meta := domain.UnknownMetadata()
	if r.opts.ModelName != "" {
		meta.ModelName = r.opts.ModelName
	}
	if r.opts.APIVariant != "" {
		meta.APIVariant = r.opts.APIVariant
	}
	if r.opts.ModelClass != "" {
		meta.ModelClass = r.opts.ModelClass
	}
	if r.opts.ProxyURL != "" {
		meta.ProxyURL = r.opts.ProxyURL
	}
	return meta
}

func (q *run) transition(logger *zap.Logger, next State) {
	q.state = next
	logger.Debug("query state",
		zap.String("request_id", q.id),
		zap.String("state", string(next)))
}

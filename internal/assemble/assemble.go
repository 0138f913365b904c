// Package assemble merges an extracted answer with retrieval results and
// resolved links into the final Response.
package assemble

import (
	"context"
	"path"
	"strings"

	"github.com/pbaille/notes/internal/domain"
	"github.com/pbaille/notes/internal/extract"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const linksHeader = "NotePlan Links:"

// maxLinkCalls bounds concurrent link resolutions per request
const maxLinkCalls = 4

// LinkResolver resolves a shareable link for a note file
type LinkResolver interface {
	Resolve(ctx context.Context, filePath string) (string, error)
}

// Assembler builds success responses
type Assembler struct {
	links  LinkResolver
	logger *zap.Logger
}

// New creates an Assembler; links may be nil, in which case missing links stay empty
func New(links LinkResolver, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{links: links, logger: logger}
}

// Input is everything a success response is built from
type Input struct {
	RequestID    string
	Query        string
	Answer       domain.StructuredAnswer
	FallbackText string
	Retrieved    []domain.RetrievedFile
	Tripped      []string
}

// Assemble builds the Response for a generation that passed every gate
func (a *Assembler) Assemble(ctx context.Context, in Input) domain.Response {
	regular, daily := MergeFiles(in.Answer, in.Retrieved)

	paths := in.Answer.Files()
	links := a.ResolveLinks(ctx, paths, in.Answer.Links)

	text := in.Answer.Reasoning
	if strings.TrimSpace(text) == "" {
		text = in.FallbackText
	}
	if strings.TrimSpace(text) == "" {
		text = extract.DefaultReasoning
	}
	answer := ComposeAnswer(text, paths, links)

	answered := domain.Answered(answer)
	if !answered {
		a.logger.Warn("agent produced a very short or empty answer",
			zap.String("request_id", in.RequestID))
	}

	tripped := append([]string{}, in.Tripped...)

	return domain.Response{
		RequestID:         in.RequestID,
		Answer:            answer,
		Reasoning:         in.Answer.Reasoning,
		RelevantFiles:     append(regular, daily...),
		OriginalQuery:     in.Query,
		QueryAnswered:     answered,
		GuardrailsTripped: tripped,
	}
}

// MergeFiles unions the files claimed by the agent with the retrieved ones.
// Claimed paths that retrieval did not return get a 0.0-score entry.
func MergeFiles(answer domain.StructuredAnswer, retrieved []domain.RetrievedFile) (regular, daily []domain.RetrievedFile) {
	regular, daily = Partition(retrieved)

	seen := make(map[string]bool, len(retrieved))
	for _, f := range retrieved {
		seen[f.FilePath] = true
	}

	for _, p := range answer.Files() {
		if strings.TrimSpace(p) == "" || seen[p] {
			continue
		}
		seen[p] = true

		synthetic := domain.RetrievedFile{
			FilePath:        p,
			FileName:        path.Base(strings.ReplaceAll(p, `\`, "/")),
			SimilarityScore: 0.0,
		}
		if IsDailyPlan(p) {
			daily = append(daily, synthetic)
		} else {
			regular = append(regular, synthetic)
		}
	}

	return regular, daily
}

// ResolveLinks returns exactly one link per path. links[i] is the agent link
// at i when present and non-empty, otherwise a resolved link, otherwise "".
func (a *Assembler) ResolveLinks(ctx context.Context, paths, agentLinks []string) []string {
	out := make([]string, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxLinkCalls)

	for i, p := range paths {
		if i < len(agentLinks) && agentLinks[i] != "" {
			out[i] = agentLinks[i]
			continue
		}
		if a.links == nil || strings.TrimSpace(p) == "" {
			continue
		}

		g.Go(func() error {
			link, err := a.links.Resolve(gctx, p)
			if err != nil {
				a.logger.Warn("failed to generate link",
					zap.String("file_path", p),
					zap.Error(err))
				out[i] = "Error generating link for " + p
				return nil
			}
			out[i] = link
			return nil
		})
	}

	// goroutines never return errors
	_ = g.Wait()

	return out
}

// ComposeAnswer appends a links section listing every path with a non-empty link
func ComposeAnswer(text string, paths, links []string) string {
	var lines []string
	for i, p := range paths {
		if i < len(links) && links[i] != "" {
			lines = append(lines, "- "+p+": "+links[i])
		}
	}
	if len(lines) == 0 {
		return text
	}
	return text + "\n\n" + linksHeader + "\n" + strings.Join(lines, "\n")
}

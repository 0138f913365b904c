// Package retrieval finds the note files most relevant to a query.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/pbaille/notes/internal/domain"
	"github.com/pbaille/notes/internal/embedding"
	"go.uber.org/zap"
)

// Searcher is the semantic search capability consumed by the agent
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]domain.RetrievedFile, error)
}

// Index is a vector index over note files
type Index interface {
	FindSimilar(ctx context.Context, vector []float32, limit int, threshold float64) ([]domain.RetrievedFile, error)
}

// Retriever embeds the query and searches an Index
type Retriever struct {
	embedder  embedding.Embedder
	index     Index
	threshold float64
	logger    *zap.Logger
}

// New creates a Retriever
func New(embedder embedding.Embedder, index Index, threshold float64, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{embedder: embedder, index: index, threshold: threshold, logger: logger}
}

// Search returns up to limit files ranked by similarity. Empty or
// whitespace-only queries return an empty list without calling anything.
func (r *Retriever) Search(ctx context.Context, query string, limit int) ([]domain.RetrievedFile, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.RetrievedFile{}, nil
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := r.index.FindSimilar(ctx, vector, limit, r.threshold)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	if results == nil {
		results = []domain.RetrievedFile{}
	}

	r.logger.Debug("semantic search done",
		zap.Int("results", len(results)),
		zap.Int("limit", limit))

	return results, nil
}

package retrieval

import (
	"context"
	"path"
	"sort"
	"sync"

	"github.com/pbaille/notes/internal/domain"
	"github.com/pbaille/notes/internal/embedding"
)

// MemoryIndex is an in-memory Index
type MemoryIndex struct {
	mu    sync.RWMutex
	notes map[string]memoryNote
}

type memoryNote struct {
	file   domain.RetrievedFile
	vector []float32
}

// NewMemoryIndex creates an empty MemoryIndex
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{notes: make(map[string]memoryNote)}
}

// Add stores or replaces a note vector
func (m *MemoryIndex) Add(filePath string, vector []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.notes[filePath] = memoryNote{
		file:   domain.RetrievedFile{FilePath: filePath, FileName: path.Base(filePath)},
		vector: vector,
	}
}

// FindSimilar returns the closest notes, best first
func (m *MemoryIndex) FindSimilar(_ context.Context, vector []float32, limit int, threshold float64) ([]domain.RetrievedFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]domain.RetrievedFile, 0, len(m.notes))
	for _, n := range m.notes {
		score := embedding.CosineSimilarity(vector, n.vector)
		if score < threshold || score <= 0 {
			continue
		}
		f := n.file
		f.SimilarityScore = min(score, 1)
		results = append(results, f)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].SimilarityScore == results[j].SimilarityScore {
			return results[i].FilePath < results[j].FilePath
		}
		return results[i].SimilarityScore > results[j].SimilarityScore
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

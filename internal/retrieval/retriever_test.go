package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors[text], nil
}

func TestSearchEmptyQuery(t *testing.T) {
	emb := &fakeEmbedder{}
	r := New(emb, NewMemoryIndex(), 0, nil)

	for _, q := range []string{"", "   ", "\n\t"} {
		results, err := r.Search(context.Background(), q, 5)
		require.NoError(t, err)
		assert.NotNil(t, results)
		assert.Empty(t, results)
	}
	assert.Zero(t, emb.calls)
}

func TestSearchMemoryIndex(t *testing.T) {
	idx := NewMemoryIndex()
	idx.Add("Calendar/2025-01-15.md", []float32{1, 0})
	idx.Add("Notes/ideas.md", []float32{0.6, 0.8})
	idx.Add("Notes/unrelated.md", []float32{0, 1})

	emb := &fakeEmbedder{vectors: map[string][]float32{"tasks today": {1, 0}}}
	r := New(emb, idx, 0.5, nil)

	results, err := r.Search(context.Background(), "  tasks today ", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Calendar/2025-01-15.md", results[0].FilePath)
	assert.Equal(t, "2025-01-15.md", results[0].FileName)
	assert.InDelta(t, 1.0, results[0].SimilarityScore, 1e-6)
	assert.Equal(t, "Notes/ideas.md", results[1].FilePath)
}

func TestSearchLimit(t *testing.T) {
	idx := NewMemoryIndex()
	idx.Add("a.md", []float32{1, 0})
	idx.Add("b.md", []float32{1, 0.1})
	idx.Add("c.md", []float32{1, 0.2})

	r := New(&fakeEmbedder{vectors: map[string][]float32{"q": {1, 0}}}, idx, 0, nil)
	results, err := r.Search(context.Background(), "q", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchEmbedError(t *testing.T) {
	r := New(&fakeEmbedder{err: errors.New("proxy down")}, NewMemoryIndex(), 0, nil)
	_, err := r.Search(context.Background(), "q", 5)
	assert.ErrorContains(t, err, "proxy down")
}

func TestQdrantFindSimilar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/notes/points/search", r.URL.Path)

		var req qdrantSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 3, req.Limit)
		assert.True(t, req.WithPayload)
		require.NotNil(t, req.ScoreThreshold)
		assert.Equal(t, 0.3, *req.ScoreThreshold)

		w.Write([]byte(`{"result": [
			{"score": 0.91, "payload": {"file_path": "Calendar/2025-01-15.md", "file_name": "2025-01-15.md", "modified_at": "2025-01-15T08:00:00"}},
			{"score": 1.2, "payload": {"file_path": "Notes/ideas.md"}},
			{"score": 0.5, "payload": {}}
		], "status": "ok"}`))
	}))
	defer srv.Close()

	q, err := NewQdrant(srv.URL, "notes", time.Second)
	require.NoError(t, err)

	results, err := q.FindSimilar(context.Background(), []float32{1, 0}, 3, 0.3)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "2025-01-15.md", results[0].FileName)
	require.NotNil(t, results[0].ModifiedAt)
	assert.Equal(t, "ideas.md", results[1].FileName)
	assert.Equal(t, 1.0, results[1].SimilarityScore)
}

func TestQdrantError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status": {"error": "Collection not found"}}`))
	}))
	defer srv.Close()

	q, err := NewQdrant(srv.URL, "missing", time.Second)
	require.NoError(t, err)

	_, err = q.FindSimilar(context.Background(), []float32{1}, 3, 0)
	assert.ErrorContains(t, err, "status 404")
}

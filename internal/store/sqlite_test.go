package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertAndFindSimilar(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	modified := "2025-01-15T08:00:00Z"
	require.NoError(t, s.Upsert(ctx, Note{FilePath: "Calendar/2025-01-15.md", FileName: "2025-01-15.md", ModifiedAt: &modified, Model: "m", Vector: []float32{1, 0, 0}}))
	require.NoError(t, s.Upsert(ctx, Note{FilePath: "Notes/ideas.md", FileName: "ideas.md", Model: "m", Vector: []float32{0.7, 0.7, 0}}))
	require.NoError(t, s.Upsert(ctx, Note{FilePath: "Notes/recipes.md", FileName: "recipes.md", Model: "m", Vector: []float32{0, 0, 1}}))
	// different dimensions are ignored
	require.NoError(t, s.Upsert(ctx, Note{FilePath: "Notes/old.md", FileName: "old.md", Model: "old", Vector: []float32{1, 0}}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	results, err := s.FindSimilar(ctx, []float32{1, 0, 0}, 2, 0.1)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "Calendar/2025-01-15.md", results[0].FilePath)
	assert.InDelta(t, 1.0, results[0].SimilarityScore, 1e-6)
	require.NotNil(t, results[0].ModifiedAt)
	assert.Equal(t, modified, *results[0].ModifiedAt)
	assert.Equal(t, "Notes/ideas.md", results[1].FilePath)
	assert.Nil(t, results[1].ModifiedAt)
}

func TestUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, Note{FilePath: "a.md", FileName: "a.md", Model: "m", Vector: []float32{1, 0}}))
	require.NoError(t, s.Upsert(ctx, Note{FilePath: "a.md", FileName: "a.md", Model: "m", Vector: []float32{0, 1}}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	results, err := s.FindSimilar(ctx, []float32{0, 1}, 5, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].SimilarityScore, 1e-6)
}

func TestThresholdFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, Note{FilePath: "a.md", FileName: "a.md", Model: "m", Vector: []float32{0, 1}}))

	results, err := s.FindSimilar(ctx, []float32{1, 0}, 5, 0.5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestUpsertValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	assert.Error(t, s.Upsert(ctx, Note{Vector: []float32{1}}))
	assert.Error(t, s.Upsert(ctx, Note{FilePath: "a.md"}))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, Note{FilePath: "a.md", FileName: "a.md", Model: "m", Vector: []float32{1}}))
	require.NoError(t, s.Delete(ctx, "a.md"))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0.25, -1.5, 3}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
}

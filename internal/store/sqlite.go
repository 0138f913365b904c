// Package store keeps note embeddings in a local SQLite index.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pbaille/notes/internal/domain"
	"github.com/pbaille/notes/internal/embedding"
)

//go:embed schema.sql
var schema string

// Note is one indexed note file
type Note struct {
	FilePath   string
	FileName   string
	ModifiedAt *string
	FileSize   int64
	Model      string
	Vector     []float32
}

// Store handles database operations
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts or replaces the embedding of a note
func (s *Store) Upsert(ctx context.Context, n Note) error {
	if n.FilePath == "" {
		return fmt.Errorf("upsert note: empty file path")
	}
	if len(n.Vector) == 0 {
		return fmt.Errorf("upsert note %s: empty vector", n.FilePath)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO note_embeddings
			(file_path, file_name, modified_at, file_size, model, dimensions, vector, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, n.FilePath, n.FileName, n.ModifiedAt, n.FileSize, n.Model, len(n.Vector), encodeVector(n.Vector), time.Now())
	if err != nil {
		return fmt.Errorf("upsert note: %w", err)
	}
	return nil
}

// Delete removes a note from the index
func (s *Store) Delete(ctx context.Context, filePath string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM note_embeddings WHERE file_path = ?", filePath); err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}

// Count returns the number of indexed notes
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM note_embeddings").Scan(&n); err != nil {
		return 0, fmt.Errorf("count notes: %w", err)
	}
	return n, nil
}

// FindSimilar returns the notes closest to vector, best first. Notes whose
// dimensions differ from the query are skipped.
func (s *Store) FindSimilar(ctx context.Context, vector []float32, limit int, threshold float64) ([]domain.RetrievedFile, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT file_path, file_name, modified_at, vector FROM note_embeddings WHERE dimensions = ?",
		len(vector),
	)
	if err != nil {
		return nil, fmt.Errorf("find similar: %w", err)
	}
	defer rows.Close()

	var results []domain.RetrievedFile
	for rows.Next() {
		var (
			f    domain.RetrievedFile
			blob []byte
		)
		if err := rows.Scan(&f.FilePath, &f.FileName, &f.ModifiedAt, &blob); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}

		score := embedding.CosineSimilarity(vector, decodeVector(blob))
		if score < threshold {
			continue
		}
		f.SimilarityScore = math.Max(0, math.Min(1, score))
		results = append(results, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].SimilarityScore > results[j].SimilarityScore
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v
}

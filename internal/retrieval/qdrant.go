package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/pbaille/notes/internal/domain"
)

// Qdrant searches a Qdrant collection over its REST API
type Qdrant struct {
	baseURL    string
	collection string
	http       *http.Client
}

// NewQdrant creates a Qdrant index client
func NewQdrant(baseURL, collection string, timeout time.Duration) (*Qdrant, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("qdrant url not set")
	}
	if collection == "" {
		return nil, fmt.Errorf("qdrant collection not set")
	}
	return &Qdrant{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		http:       &http.Client{Timeout: timeout},
	}, nil
}

type qdrantSearchRequest struct {
	Vector         []float32 `json:"vector"`
	Limit          int       `json:"limit"`
	ScoreThreshold *float64  `json:"score_threshold,omitempty"`
	WithPayload    bool      `json:"with_payload"`
}

type qdrantSearchResponse struct {
	Result []struct {
		Score   float64 `json:"score"`
		Payload struct {
			FilePath   string  `json:"file_path"`
			FileName   string  `json:"file_name"`
			ModifiedAt *string `json:"modified_at"`
			FileSize   int64   `json:"file_size"`
		} `json:"payload"`
	} `json:"result"`
	Status any `json:"status"`
}

// FindSimilar runs a points search against the collection
func (q *Qdrant) FindSimilar(ctx context.Context, vector []float32, limit int, threshold float64) ([]domain.RetrievedFile, error) {
	reqBody := qdrantSearchRequest{
		Vector:      vector,
		Limit:       limit,
		WithPayload: true,
	}
	if threshold > 0 {
		reqBody.ScoreThreshold = &threshold
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := q.baseURL + "/collections/" + url.PathEscape(q.collection) + "/points/search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("qdrant error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp qdrantSearchResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	results := make([]domain.RetrievedFile, 0, len(apiResp.Result))
	for _, point := range apiResp.Result {
		p := point.Payload
		if p.FilePath == "" {
			continue
		}
		name := p.FileName
		if name == "" {
			name = path.Base(p.FilePath)
		}
		results = append(results, domain.RetrievedFile{
			FilePath:        p.FilePath,
			FileName:        name,
			SimilarityScore: math.Max(0, math.Min(1, point.Score)),
			ModifiedAt:      p.ModifiedAt,
		})
	}

	return results, nil
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pbaille/notes/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(n int) *int { return &n }

type fakeRunner struct {
	gotQuery string
	resp     domain.Response
	meta     domain.GenerationMetadata
}

func (f *fakeRunner) Run(_ context.Context, query string) (domain.Response, domain.GenerationMetadata) {
	f.gotQuery = query
	resp := f.resp
	resp.OriginalQuery = query
	return resp, f.meta
}

type fakeSearcher struct {
	files []domain.RetrievedFile
	err   error
	limit int
}

func (s *fakeSearcher) Search(_ context.Context, _ string, limit int) ([]domain.RetrievedFile, error) {
	s.limit = limit
	return s.files, s.err
}

func newTestServer(runner *fakeRunner, searcher *fakeSearcher, keys *[]string) http.Handler {
	fn := func(_ context.Context, apiKey string) (QueryRunner, error) {
		if keys != nil {
			*keys = append(*keys, apiKey)
		}
		return runner, nil
	}
	if searcher == nil {
		return New(fn, nil, ":0", "test", nil).Handler()
	}
	return New(fn, searcher, ":0", "test", nil).Handler()
}

func TestHealth(t *testing.T) {
	h := newTestServer(&fakeRunner{}, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "healthy", "version": "test"}`, rec.Body.String())
}

func TestQueryNotes(t *testing.T) {
	runner := &fakeRunner{
		resp: domain.Response{
			RequestID:         "req-1",
			Answer:            "You have 2 tasks today.",
			RelevantFiles:     []domain.RetrievedFile{},
			QueryAnswered:     true,
			GuardrailsTripped: []string{},
		},
		meta: domain.GenerationMetadata{
			ModelName:      "gpt-oss-20b",
			APIVariant:     "responses",
			ModelClass:     "ResponsesClient",
			ProxyURL:       "http://llm-proxy:4000",
			GenerationTime: 1.23456,
			Usage:          &domain.Usage{InputTokens: intp(10), OutputTokens: intp(5), TotalTokens: intp(15)},
		},
	}
	var keys []string
	h := newTestServer(runner, nil, &keys)

	req := httptest.NewRequest(http.MethodPost, "/notes/query", strings.NewReader(`{"query": "What are my tasks?"}`))
	req.Header.Set("Authorization", "Bearer user-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "What are my tasks?", runner.gotQuery)
	assert.Equal(t, []string{"user-key"}, keys)

	hdr := rec.Header()
	assert.Equal(t, "req-1", hdr.Get("X-Request-ID"))
	assert.Equal(t, "gpt-oss-20b", hdr.Get("X-Model-Name"))
	assert.Equal(t, "responses", hdr.Get("X-API-Type"))
	assert.Equal(t, "1.235", hdr.Get("X-Generation-Time-Seconds"))
	assert.Equal(t, "ResponsesClient", hdr.Get("X-Model-Class"))
	assert.Equal(t, "http://llm-proxy:4000", hdr.Get("X-Proxy-URL"))
	assert.Equal(t, "10", hdr.Get("X-Input-Tokens"))
	assert.Equal(t, "5", hdr.Get("X-Output-Tokens"))
	assert.Equal(t, "15", hdr.Get("X-Total-Tokens"))

	var body domain.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "You have 2 tasks today.", body.Answer)
	assert.True(t, body.QueryAnswered)
	assert.Equal(t, "What are my tasks?", body.OriginalQuery)
}

func TestQueryNotesUnknownMetadata(t *testing.T) {
	runner := &fakeRunner{resp: domain.Response{RequestID: "req-2", GuardrailsTripped: []string{"describes_note_query"}}}
	var keys []string
	h := newTestServer(runner, nil, &keys)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/notes/query", strings.NewReader(`{"query": ""}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{""}, keys)
	assert.Equal(t, "unknown", rec.Header().Get("X-Model-Name"))
	assert.Equal(t, "unknown", rec.Header().Get("X-API-Type"))
	assert.Equal(t, "0.000", rec.Header().Get("X-Generation-Time-Seconds"))
	assert.Empty(t, rec.Header().Get("X-Total-Tokens"))
}

func TestQueryNotesBadBody(t *testing.T) {
	h := newTestServer(&fakeRunner{}, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/notes/query", strings.NewReader(`{"query": `)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error": "invalid request body"}`, rec.Body.String())
}

func TestQueryNotesRunnerUnavailable(t *testing.T) {
	fn := func(context.Context, string) (QueryRunner, error) { return nil, errors.New("no proxy") }
	h := New(fn, nil, ":0", "test", nil).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/notes/query", strings.NewReader(`{"query": "hi"}`)))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSearchNotes(t *testing.T) {
	searcher := &fakeSearcher{files: []domain.RetrievedFile{{FilePath: "Notes/a.md", FileName: "a.md", SimilarityScore: 0.8}}}
	h := newTestServer(&fakeRunner{}, searcher, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notes/search?q=ideas&limit=3", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, searcher.limit)

	var body SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ideas", body.Query)
	require.Len(t, body.Results, 1)
	assert.Equal(t, "Notes/a.md", body.Results[0].FilePath)
}

func TestSearchNotesErrors(t *testing.T) {
	t.Run("missing query", func(t *testing.T) {
		h := newTestServer(&fakeRunner{}, &fakeSearcher{}, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notes/search", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("backend failure", func(t *testing.T) {
		h := newTestServer(&fakeRunner{}, &fakeSearcher{err: errors.New("qdrant down")}, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notes/search?q=x", nil))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("not configured", func(t *testing.T) {
		h := newTestServer(&fakeRunner{}, nil, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notes/search?q=x", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(&fakeRunner{}, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/notes/query", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

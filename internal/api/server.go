// Package api exposes the note query pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pbaille/notes/internal/domain"
	"github.com/pbaille/notes/internal/retrieval"
	"go.uber.org/zap"
)

// QueryRunner answers note queries
type QueryRunner interface {
	Run(ctx context.Context, query string) (domain.Response, domain.GenerationMetadata)
}

// RunnerFunc returns the runner for a request. apiKey is the caller's bearer
// token, empty when none was sent.
type RunnerFunc func(ctx context.Context, apiKey string) (QueryRunner, error)

// Server handles HTTP requests for the notes API
type Server struct {
	runner   RunnerFunc
	searcher retrieval.Searcher
	addr     string
	version  string
	logger   *zap.Logger
}

// New creates a new API server. searcher may be nil, which disables /notes/search.
func New(runner RunnerFunc, searcher retrieval.Searcher, addr, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{runner: runner, searcher: searcher, addr: addr, version: version, logger: logger}
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /notes/query", s.queryNotes)
	mux.HandleFunc("GET /notes/search", s.searchNotes)
	mux.HandleFunc("GET /health", s.health)

	return s.withLogging(withCORS(mux))
}

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// withCORS adds CORS headers for browser clients
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Expose-Headers", strings.Join(metadataHeaders, ", "))

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withLogging(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		h.ServeHTTP(rec, r)

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.String("request_id", rec.Header().Get("X-Request-ID")),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": s.version})
}

// QueryRequest is the request body for a note query
type QueryRequest struct {
	Query string `json:"query"`
}

func (s *Server) queryNotes(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	runner, err := s.runner(r.Context(), bearerToken(r))
	if err != nil {
		s.logger.Error("query runner unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "service not configured")
		return
	}

	resp, meta := runner.Run(r.Context(), req.Query)

	setMetadataHeaders(w.Header(), resp.RequestID, meta)
	writeJSON(w, http.StatusOK, resp)
}

// SearchResponse is the response of /notes/search
type SearchResponse struct {
	Query   string                 `json:"query"`
	Results []domain.RetrievedFile `json:"results"`
}

func (s *Server) searchNotes(w http.ResponseWriter, r *http.Request) {
	if s.searcher == nil {
		writeError(w, http.StatusServiceUnavailable, "semantic search not configured")
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}

	limit := 5
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	results, err := s.searcher.Search(r.Context(), query, limit)
	if err != nil {
		s.logger.Warn("search failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "semantic search failed")
		return
	}

	writeJSON(w, http.StatusOK, SearchResponse{Query: query, Results: results})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

var metadataHeaders = []string{
	"X-Request-ID",
	"X-Model-Name",
	"X-API-Type",
	"X-Generation-Time-Seconds",
	"X-Model-Class",
	"X-Proxy-URL",
	"X-Input-Tokens",
	"X-Output-Tokens",
	"X-Total-Tokens",
}

func setMetadataHeaders(h http.Header, requestID string, meta domain.GenerationMetadata) {
	h.Set("X-Request-ID", requestID)
	h.Set("X-Model-Name", orUnknown(meta.ModelName))
	h.Set("X-API-Type", orUnknown(meta.APIVariant))
	h.Set("X-Generation-Time-Seconds", fmt.Sprintf("%.3f", meta.GenerationTime))
	h.Set("X-Model-Class", orUnknown(meta.ModelClass))
	h.Set("X-Proxy-URL", orUnknown(meta.ProxyURL))

	if meta.Usage.Empty() {
		return
	}
	setCount(h, "X-Input-Tokens", meta.Usage.InputTokens)
	setCount(h, "X-Output-Tokens", meta.Usage.OutputTokens)
	setCount(h, "X-Total-Tokens", meta.Usage.TotalTokens)
}

func setCount(h http.Header, key string, n *int) {
	if n != nil {
		h.Set(key, strconv.Itoa(*n))
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

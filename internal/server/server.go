package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"corpus-rag/internal/helper"
	"corpus-rag/internal/index"
	"corpus-rag/internal/models"
	"corpus-rag/internal/parser"
	"corpus-rag/internal/rag"

	"github.com/rs/zerolog/log"
)

const maxIngestBytes = 10 << 20

// Service is what the API serves; *rag.Pipeline implements it.
type Service interface {
	Ingest(ctx context.Context, docs []models.Document) (rag.IngestStats, error)
	Answer(ctx context.Context, query string) (models.AnswerResult, error)
	Index() index.VectorIndex
}

type Server struct {
	svc Service
	mux *http.ServeMux
}

func NewServer(svc Service) *Server {
	s := &Server{svc: svc, mux: http.NewServeMux()}
	s.mux.HandleFunc("/health", s.HandleHealth)
	s.mux.HandleFunc("/ingest", s.HandleIngest)
	s.mux.HandleFunc("/query", s.HandleQuery)
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info().Msg("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrIndexNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrEmbeddingUnavailable),
		errors.Is(err, models.ErrGenerationUnavailable),
		errors.Is(err, models.ErrRerankUnavailable),
		errors.Is(err, models.ErrRetrievalUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	entries := 0
	if idx := s.svc.Index(); idx != nil {
		entries = idx.Len()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"time_utc": time.Now().UTC().Format(time.RFC3339),
		"entries":  entries,
	})
}

// HandleIngest indexes the raw text body as one document. The source query
// parameter names it; re-ingesting the same source overwrites its chunks.
func (s *Server) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	text := parser.Clean(string(body))
	if text == "" {
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}
	source := r.URL.Query().Get("source")
	doc := models.Document{
		ID:        helper.DocumentID(source),
		SourceURI: source,
		RawText:   text,
		Metadata:  map[string]string{"format": "text"},
	}

	stats, err := s.svc.Ingest(r.Context(), []models.Document{doc})
	if err != nil {
		log.Error().Err(err).Str("source", source).Msg("Ingest failed")
		writeError(w, err)
		return
	}
	log.Info().Str("doc_id", doc.ID).Str("source", source).Int("chunks", stats.Chunks).Msg("Ingested via API")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ingested",
		"document_id": doc.ID,
		"chunks":      stats.Chunks,
	})
}

type QueryRequest struct {
	Query string `json:"query"`
}

type QueryResponse struct {
	Answer     string             `json:"answer"`
	Sources    []models.SourceRef `json:"sources"`
	Attributed bool               `json:"attributed"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
}

func (s *Server) HandleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	res, err := s.svc.Answer(r.Context(), req.Query)
	if err != nil {
		log.Error().Err(err).Str("query", req.Query).Msg("Query failed")
		writeError(w, err)
		return
	}
	sources := res.Sources
	if sources == nil {
		sources = []models.SourceRef{}
	}
	writeJSON(w, http.StatusOK, QueryResponse{
		Answer:     res.Answer,
		Sources:    sources,
		Attributed: res.Attributed,
		Metrics:    res.Metrics,
	})
}

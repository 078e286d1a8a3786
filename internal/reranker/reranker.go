// Package reranker reorders retrieval candidates with a cross-encoder style
// relevance scorer applied to each (query, passage) pair.
package reranker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"corpus-rag/internal/config"
	"corpus-rag/internal/llmservice"
	"corpus-rag/internal/models"
	"corpus-rag/internal/retry"
)

// Scorer assigns a relevance score to each text for query, in input order.
type Scorer interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
	Name() string
}

type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []models.ScoredChunk) ([]models.ScoredChunk, error)
}

// New returns the reranker named by cfg.Type, or nil for "none".
func New(cfg config.RerankerConfig, client llmservice.Client) (Reranker, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "lexical":
		return NewCrossEncoder(Lexical{}), nil
	case "tei":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("%w: tei reranker needs base_url", models.ErrInvalidConfig)
		}
		return NewCrossEncoder(NewTEI(cfg.BaseURL, cfg.Model, retry.Policy{MaxRetries: cfg.MaxRetries, Timeout: cfg.Timeout})), nil
	case "llm":
		if client == nil {
			return nil, fmt.Errorf("%w: llm reranker needs a generation client", models.ErrInvalidConfig)
		}
		return NewCrossEncoder(NewLLMJudge(client)), nil
	}
	return nil, fmt.Errorf("%w: unknown reranker %q", models.ErrInvalidConfig, cfg.Type)
}

// CrossEncoder scores every candidate independently and sorts by the new
// score. Equal scores keep their retrieval order.
type CrossEncoder struct {
	scorer Scorer
}

func NewCrossEncoder(s Scorer) *CrossEncoder { return &CrossEncoder{scorer: s} }

func (c *CrossEncoder) Rerank(ctx context.Context, query string, candidates []models.ScoredChunk) ([]models.ScoredChunk, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	texts := make([]string, len(candidates))
	for i, cand := range candidates {
		texts[i] = cand.Chunk.Text
	}
	t0 := time.Now()
	scores, err := c.scorer.Score(ctx, query, texts)
	if err != nil {
		if errors.Is(err, models.ErrRerankUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", models.ErrRerankUnavailable, c.scorer.Name(), err)
	}
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("%w: %s returned %d scores for %d candidates", models.ErrRerankUnavailable, c.scorer.Name(), len(scores), len(candidates))
	}

	out := make([]models.ScoredChunk, len(candidates))
	for i, cand := range candidates {
		out[i] = models.ScoredChunk{Chunk: cand.Chunk, Score: scores[i]}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	log.Debug().Str("scorer", c.scorer.Name()).Int("candidates", len(out)).Dur("took", time.Since(t0)).Msg("Reranked")
	return out, nil
}

// Package retriever runs query expansion, per variant vector search, merging
// and optional reranking.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"corpus-rag/internal/embedding"
	"corpus-rag/internal/expander"
	"corpus-rag/internal/index"
	"corpus-rag/internal/models"
	"corpus-rag/internal/reranker"
)

// MaxRerankPool bounds how many candidates are sent to the reranker.
const MaxRerankPool = 100

type Retriever struct {
	index      index.VectorIndex
	embedder   embedding.Embedder
	expander   expander.Expander
	reranker   reranker.Reranker
	rerankPool int
}

// New wires the retriever. expander and reranker may be nil.
func New(idx index.VectorIndex, emb embedding.Embedder, exp expander.Expander, rr reranker.Reranker, rerankPool int) *Retriever {
	if exp == nil {
		exp = expander.None{}
	}
	return &Retriever{index: idx, embedder: emb, expander: exp, reranker: rr, rerankPool: min(rerankPool, MaxRerankPool)}
}

type candidate struct {
	chunk   models.Chunk
	score   float64
	variant int
}

// Retrieve returns at most topN chunks (kInitial when topN is 0), ordered by
// descending score. Each variant is searched with kInitial; duplicates keep
// their best score, and ties keep the earliest variant.
func (r *Retriever) Retrieve(ctx context.Context, query string, kInitial, topN int) (models.RetrievalResult, error) {
	res := models.RetrievalResult{Query: query}
	if strings.TrimSpace(query) == "" {
		return res, fmt.Errorf("%w: empty query", models.ErrInvalidConfig)
	}
	if kInitial < 1 || topN < 0 {
		return res, fmt.Errorf("%w: k_initial must be >= 1 and top_n >= 0, got %d and %d", models.ErrInvalidConfig, kInitial, topN)
	}
	if r.index == nil {
		return res, fmt.Errorf("%w: no index configured", models.ErrIndexNotFound)
	}

	// Search reports both an empty index and an unreachable one
	res.Variants = r.expander.Expand(ctx, query)
	t0 := time.Now()
	vecs, err := r.embedder.Embed(ctx, res.Variants)
	if err != nil {
		return res, err
	}
	if len(vecs) != len(res.Variants) {
		return res, fmt.Errorf("%w: %d vectors for %d variants", models.ErrDimensionMismatch, len(vecs), len(res.Variants))
	}

	perVariant := make([][]models.SearchHit, len(vecs))
	g, gctx := errgroup.WithContext(ctx)
	for i, v := range vecs {
		g.Go(func() error {
			hits, err := r.index.Search(gctx, v, kInitial)
			if err != nil {
				return err
			}
			perVariant[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, classify(err)
	}

	merged := merge(perVariant)
	res.Candidates = len(merged)
	limit := kInitial
	if topN > 0 {
		limit = topN
	}

	if r.reranker != nil && len(merged) > 0 {
		pool := min(len(merged), max(kInitial, r.rerankPool))
		reranked, err := r.reranker.Rerank(ctx, query, merged[:pool])
		if err != nil {
			return res, err
		}
		merged = reranked
		res.Reranked = true
	}
	if len(merged) > limit {
		merged = merged[:limit]
	}
	res.Chunks = merged
	log.Debug().
		Str("query", query).
		Int("variants", len(res.Variants)).
		Int("candidates", res.Candidates).
		Int("returned", len(res.Chunks)).
		Bool("reranked", res.Reranked).
		Dur("took", time.Since(t0)).
		Msg("Retrieved")
	return res, nil
}

// merge unions hits by chunk id with the max score policy and sorts them.
func merge(perVariant [][]models.SearchHit) []models.ScoredChunk {
	var cands []candidate
	pos := map[string]int{}
	for v, hits := range perVariant {
		for _, h := range hits {
			if p, ok := pos[h.ChunkID]; ok {
				if h.Score > cands[p].score {
					cands[p].score = h.Score
				}
				continue
			}
			pos[h.ChunkID] = len(cands)
			cands = append(cands, candidate{chunk: h.Chunk, score: h.Score, variant: v})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].variant < cands[j].variant
	})
	out := make([]models.ScoredChunk, len(cands))
	for i, c := range cands {
		out[i] = models.ScoredChunk{Chunk: c.chunk, Score: c.score}
	}
	return out
}

// classify keeps typed index errors and reports anything else as the index
// being unreachable.
func classify(err error) error {
	for _, typed := range []error{
		models.ErrDimensionMismatch,
		models.ErrIncompatibleIndex,
		models.ErrIndexNotFound,
		models.ErrInvalidConfig,
		models.ErrRetrievalUnavailable,
	} {
		if errors.Is(err, typed) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", models.ErrRetrievalUnavailable, err)
}

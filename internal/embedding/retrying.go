package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"corpus-rag/internal/models"
	"corpus-rag/internal/retry"
)

type retrying struct {
	Embedder
	policy retry.Policy
}

// WithRetry retries transient failures of e under p. Exhausted attempts surface
// as ErrEmbeddingUnavailable; dimension errors are returned as is.
func WithRetry(e Embedder, p retry.Policy) Embedder {
	return &retrying{Embedder: e, policy: p}
}

func (r *retrying) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	attempt := 0
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		attempt++
		vecs, err := r.Embedder.Embed(ctx, texts)
		if err != nil {
			if errors.Is(err, models.ErrDimensionMismatch) {
				return retry.Permanent(err)
			}
			log.Warn().Err(err).Int("attempt", attempt).Str("model", r.ModelID()).Msg("Embedding call failed")
			return err
		}
		out = vecs
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrDimensionMismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s after %d attempt(s): %v", models.ErrEmbeddingUnavailable, r.ModelID(), attempt, err)
	}
	return out, nil
}

package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"corpus-rag/internal/config"
	"corpus-rag/internal/models"
	"corpus-rag/internal/retry"
)

var knownDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// NewOpenAIEmbedder uses the OpenAI embeddings API through go-openai.
// cfg.BaseURL overrides the API root, e.g. for Azure proxies or tests.
func NewOpenAIEmbedder(cfg config.LLMConfig) *remoteEmbedder {
	oc := openai.DefaultConfig(strings.TrimPrefix(cfg.Key, "Bearer "))
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	client := openai.NewClientWithConfig(oc)

	dim := cfg.Dimension
	if dim == 0 {
		dim = knownDimensions[cfg.Model]
	}
	return &remoteEmbedder{
		provider:  "openai",
		model:     cfg.Model,
		dim:       dim,
		batchSize: cfg.BatchSize,
		call: func(ctx context.Context, texts []string) ([][]float32, error) {
			resp, err := client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Model: openai.EmbeddingModel(cfg.Model),
				Input: texts,
			})
			if err != nil {
				return nil, classify(err)
			}
			out := make([][]float32, len(texts))
			for _, d := range resp.Data {
				if d.Index < 0 || d.Index >= len(out) {
					return nil, fmt.Errorf("%w: response index %d out of range", models.ErrDimensionMismatch, d.Index)
				}
				out[d.Index] = d.Embedding
			}
			return out, nil
		},
	}
}

// classify marks client errors other than rate limiting as permanent.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.HTTPStatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout {
			return retry.Permanent(err)
		}
	}
	return err
}

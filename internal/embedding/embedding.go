package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"corpus-rag/internal/config"
	"corpus-rag/internal/models"
	"corpus-rag/internal/retry"
)

// Embedder maps texts to fixed-dimension vectors. Output order matches input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelID() string
}

// New builds the embedder described by cfg. Remote providers are wrapped with
// retries. When cfg.Dimension is zero the service is probed once to learn it.
func New(ctx context.Context, cfg config.LLMConfig) (Embedder, error) {
	log.Debug().Str("provider", cfg.Provider).Str("base_url", cfg.BaseURL).Str("model", cfg.Model).Msg("Creating embedder")

	var remote *remoteEmbedder
	switch cfg.Provider {
	case "local":
		return NewHashEmbedder(cfg.Model, cfg.Dimension), nil
	case "ollama":
		e, err := NewOllamaEmbedder(cfg)
		if err != nil {
			return nil, err
		}
		remote = e
	case "openai_compatible":
		e, err := NewOpenAICompatibleEmbedder(cfg)
		if err != nil {
			return nil, err
		}
		remote = e
	case "openai":
		remote = NewOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", models.ErrInvalidConfig, cfg.Provider)
	}

	e := WithRetry(remote, retry.Policy{MaxRetries: cfg.MaxRetries, Timeout: cfg.Timeout})
	if remote.dim == 0 {
		vecs, err := e.Embed(ctx, []string{"dimension probe"})
		if err != nil {
			return nil, err
		}
		remote.dim = len(vecs[0])
		log.Info().Str("model", cfg.Model).Int("dimension", remote.dim).Msg("Probed embedding dimension")
	}
	return e, nil
}

// batchFunc embeds one batch of texts.
type batchFunc func(ctx context.Context, texts []string) ([][]float32, error)

// remoteEmbedder adapts a provider call to Embedder, checking every response
// against the expected count and dimension.
type remoteEmbedder struct {
	provider  string
	model     string
	dim       int
	batchSize int
	call      batchFunc
}

func (e *remoteEmbedder) Dimension() int { return e.dim }

func (e *remoteEmbedder) ModelID() string {
	return fmt.Sprintf("%s:%s:%d", e.provider, e.model, e.dim)
}

func (e *remoteEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	size := e.batchSize
	if size <= 0 {
		size = len(texts)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		batch := texts[start:min(start+size, len(texts))]
		t0 := time.Now()
		vecs, err := e.call(ctx, batch)
		if err != nil {
			return nil, err
		}
		if err := checkVectors(vecs, len(batch), e.dim); err != nil {
			return nil, err
		}
		log.Debug().Str("model", e.model).Int("batch", len(batch)).Dur("took", time.Since(t0)).Msg("Embedded batch")
		out = append(out, vecs...)
	}
	return out, nil
}

// checkVectors fails with ErrDimensionMismatch when the provider returned the
// wrong number of vectors or a vector of the wrong length. dim 0 only checks
// that all vectors agree.
func checkVectors(vecs [][]float32, n, dim int) error {
	if len(vecs) != n {
		return fmt.Errorf("%w: expected %d vectors, got %d", models.ErrDimensionMismatch, n, len(vecs))
	}
	for i, v := range vecs {
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim || dim == 0 {
			return fmt.Errorf("%w: vector %d has length %d, want %d", models.ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return nil
}

// NewOpenAICompatibleEmbedder talks to any OpenAI compatible endpoint
// (OpenRouter, vLLM, LM Studio) through langchaingo.
func NewOpenAICompatibleEmbedder(cfg config.LLMConfig) (*remoteEmbedder, error) {
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}
	return newLangchainEmbedder("openai_compatible", cfg, llm)
}

// NewOllamaEmbedder uses a local ollama server.
func NewOllamaEmbedder(cfg config.LLMConfig) (*remoteEmbedder, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}
	return newLangchainEmbedder("ollama", cfg, llm)
}

func newLangchainEmbedder(provider string, cfg config.LLMConfig, client embeddings.EmbedderClient) (*remoteEmbedder, error) {
	// remoteEmbedder does the batching; WithRetry retries the whole Embed call
	// and its timeout covers all batches together
	impl, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}
	return &remoteEmbedder{
		provider:  provider,
		model:     cfg.Model,
		dim:       cfg.Dimension,
		batchSize: cfg.BatchSize,
		call:      impl.EmbedDocuments,
	}, nil
}

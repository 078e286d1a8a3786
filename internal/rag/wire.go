package rag

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"corpus-rag/internal/chromemdb"
	"corpus-rag/internal/config"
	"corpus-rag/internal/db"
	"corpus-rag/internal/embedding"
	"corpus-rag/internal/expander"
	"corpus-rag/internal/index"
	"corpus-rag/internal/llmservice"
	"corpus-rag/internal/models"
	"corpus-rag/internal/reranker"
)

// Closer releases resources opened by Build.
type Closer func() error

// Build constructs every model client once and injects it into the pipeline.
func Build(ctx context.Context, cfg *config.Config) (*Pipeline, Closer, error) {
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	emb, err := embedding.New(ctx, cfg.EmbedLLM)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Cache.Path != "" {
		cached, err := embedding.NewCached(emb, cfg.Cache.Path)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, cached.Close)
		emb = cached
	}

	client, err := llmservice.New(cfg.InferenceLLM)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	exp, err := expander.New(cfg.Expander.Type, cfg.RAG.MaxExpansions, client)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	rr, err := reranker.New(cfg.Reranker, client)
	if err != nil {
		closeAll()
		return nil, nil, err
	}

	idx, closeIdx, err := NewIndex(ctx, cfg, emb)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	if closeIdx != nil {
		closers = append(closers, closeIdx)
	}

	gen := NewGenerator(client, llmservice.Options{
		Temperature: cfg.InferenceLLM.Temperature,
		MaxTokens:   cfg.InferenceLLM.MaxTokens,
	})
	p, err := NewPipeline(cfg.RAG, cfg.Index.Path, cfg.EmbedLLM.BatchSize, Deps{
		Embedder:  emb,
		Index:     idx,
		Expander:  exp,
		Reranker:  rr,
		Generator: gen,
	})
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	log.Info().
		Str("embedder", emb.ModelID()).
		Str("generator", client.ModelID()).
		Str("index", cfg.Index.Backend).
		Str("expander", cfg.Expander.Type).
		Str("reranker", cfg.Reranker.Type).
		Msg("Pipeline ready")
	return p, closeAll, nil
}

// NewIndex opens the configured backend for emb. The returned closer may be nil.
func NewIndex(ctx context.Context, cfg *config.Config, emb embedding.Embedder) (index.VectorIndex, func() error, error) {
	switch cfg.Index.Backend {
	case "memory":
		f, err := index.NewFlat(emb.Dimension(), emb.ModelID(), cfg.Index.Metric)
		return f, nil, err
	case "chromem":
		if cfg.Index.Metric != index.MetricCosine {
			return nil, nil, fmt.Errorf("%w: chromem only supports the cosine metric", models.ErrInvalidConfig)
		}
		m, err := chromemdb.NewVectorDBManager(chromemdb.Options{
			Collection:    cfg.Index.Collection,
			EmbedderID:    emb.ModelID(),
			Dimension:     emb.Dimension(),
			EncryptionKey: cfg.Index.EncryptionKey,
		})
		return m, nil, err
	case "pgvector":
		sqldb, err := db.ConnectDB(cfg.Database.URL, cfg.Database.Key, cfg.Database.Driver)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: connect: %v", models.ErrRetrievalUnavailable, err)
		}
		bunDB := db.NewDB(sqldb, cfg.Database.Debug)
		store, err := db.NewStore(bunDB, db.Options{
			Table:      cfg.Database.Table,
			EmbedderID: emb.ModelID(),
			Dimension:  emb.Dimension(),
			Metric:     cfg.Index.Metric,
		})
		if err != nil {
			bunDB.Close()
			return nil, nil, err
		}
		if err := store.InitDB(ctx); err != nil {
			bunDB.Close()
			return nil, nil, err
		}
		return store, bunDB.Close, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown index backend %q", models.ErrInvalidConfig, cfg.Index.Backend)
}

package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"corpus-rag/internal/chunker"
	"corpus-rag/internal/config"
	"corpus-rag/internal/embedding"
	"corpus-rag/internal/expander"
	"corpus-rag/internal/index"
	"corpus-rag/internal/models"
	"corpus-rag/internal/reranker"
	"corpus-rag/internal/retriever"
)

// Deps are the capability providers a pipeline is built from. Expander and
// Reranker are optional.
type Deps struct {
	Embedder  embedding.Embedder
	Index     index.VectorIndex
	Expander  expander.Expander
	Reranker  reranker.Reranker
	Generator *Generator
}

// Pipeline ingests documents into the index and answers questions over it.
type Pipeline struct {
	cfg       config.RAGConfig
	indexDir  string
	batchSize int
	chunker   *chunker.Chunker
	embedder  embedding.Embedder
	index     index.VectorIndex
	retriever *retriever.Retriever
	generator *Generator
}

// NewPipeline validates cfg and wires deps. indexDir is where snapshots are
// saved after ingestion; empty disables saving.
func NewPipeline(cfg config.RAGConfig, indexDir string, batchSize int, d Deps) (*Pipeline, error) {
	ch, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap, cfg.ChunkUnit)
	if err != nil {
		return nil, err
	}
	if cfg.KInitial < 1 || cfg.TopN < 0 {
		return nil, fmt.Errorf("%w: k_initial must be >= 1 and top_n >= 0", models.ErrInvalidConfig)
	}
	if d.Embedder == nil || d.Generator == nil {
		return nil, fmt.Errorf("%w: pipeline needs an embedder and a generator", models.ErrInvalidConfig)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Pipeline{
		cfg:       cfg,
		indexDir:  indexDir,
		batchSize: batchSize,
		chunker:   ch,
		embedder:  d.Embedder,
		index:     d.Index,
		retriever: retriever.New(d.Index, d.Embedder, d.Expander, d.Reranker, cfg.RerankPool),
		generator: d.Generator,
	}, nil
}

func (p *Pipeline) Index() index.VectorIndex     { return p.index }
func (p *Pipeline) Embedder() embedding.Embedder { return p.embedder }

// Open loads the persisted snapshot, or clears the index when rebuild is set.
// A missing snapshot leaves the index empty; an incompatible one is an error.
func (p *Pipeline) Open(ctx context.Context, rebuild bool) error {
	if p.index == nil {
		return fmt.Errorf("%w: no index configured", models.ErrIndexNotFound)
	}
	if rebuild {
		log.Info().Msg("Rebuilding index from scratch")
		return p.index.Reset(ctx)
	}
	err := p.index.Load(ctx, p.indexDir)
	if errors.Is(err, models.ErrIndexNotFound) {
		log.Info().Str("path", p.indexDir).Msg("No index snapshot found, starting empty")
		return nil
	}
	return err
}

// IngestStats summarises one Ingest call.
type IngestStats struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
}

type embeddedBatch struct {
	chunks  []models.Chunk
	vectors [][]float32
}

// Ingest chunks docs, embeds the chunks with a bounded worker pool and adds
// them to the index from a single writer. Blank chunks are not indexed.
func (p *Pipeline) Ingest(ctx context.Context, docs []models.Document) (IngestStats, error) {
	var stats IngestStats
	if p.index == nil {
		return stats, fmt.Errorf("%w: no index configured", models.ErrIndexNotFound)
	}
	t0 := time.Now()
	var all []models.Chunk
	for _, doc := range docs {
		for _, c := range p.chunker.Chunk(doc) {
			if strings.TrimSpace(c.Text) != "" {
				all = append(all, c)
			}
		}
	}
	stats.Documents = len(docs)
	if len(all) == 0 {
		return stats, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make(chan embeddedBatch)
	g.Go(func() error {
		defer close(results)
		workers, wctx := errgroup.WithContext(gctx)
		workers.SetLimit(p.cfg.Workers)
		for start := 0; start < len(all) && wctx.Err() == nil; start += p.batchSize {
			batch := all[start:min(start+p.batchSize, len(all))]
			workers.Go(func() error {
				texts := make([]string, len(batch))
				for i, c := range batch {
					texts[i] = c.Text
				}
				vecs, err := p.embedder.Embed(wctx, texts)
				if err != nil {
					return err
				}
				select {
				case results <- embeddedBatch{chunks: batch, vectors: vecs}:
					return nil
				case <-wctx.Done():
					return wctx.Err()
				}
			})
		}
		return workers.Wait()
	})
	g.Go(func() error {
		for b := range results {
			if err := p.index.Add(gctx, b.chunks, b.vectors); err != nil {
				return err
			}
			stats.Chunks += len(b.chunks)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return stats, err
	}

	if p.indexDir != "" {
		if err := p.index.Save(ctx, p.indexDir); err != nil {
			return stats, err
		}
	}
	log.Info().Int("documents", stats.Documents).Int("chunks", stats.Chunks).Dur("took", time.Since(t0)).Msg("Ingested documents")
	return stats, nil
}

// Retrieve runs the retrieval stage with the configured bounds.
func (p *Pipeline) Retrieve(ctx context.Context, query string) (models.RetrievalResult, error) {
	return p.retriever.Retrieve(ctx, query, p.cfg.KInitial, p.cfg.TopN)
}

// Answer retrieves context for query and generates a cited answer.
func (p *Pipeline) Answer(ctx context.Context, query string) (models.AnswerResult, error) {
	t0 := time.Now()
	ret, err := p.Retrieve(ctx, query)
	if err != nil {
		return models.AnswerResult{Query: query}, err
	}
	retrieval := time.Since(t0)

	t1 := time.Now()
	res, err := p.generator.Generate(ctx, query, ret.Chunks)
	if err != nil {
		return res, err
	}
	res.Metrics = map[string]float64{
		"retrieval_ms":  float64(retrieval.Milliseconds()),
		"generation_ms": float64(time.Since(t1).Milliseconds()),
		"candidates":    float64(ret.Candidates),
		"variants":      float64(len(ret.Variants)),
		"contexts":      float64(len(ret.Chunks)),
	}
	if ret.Reranked {
		res.Metrics["reranked"] = 1
	}
	log.Debug().Str("query", query).Int("sources", len(res.Sources)).Bool("attributed", res.Attributed).Msg("Answered")
	return res, nil
}

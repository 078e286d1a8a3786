package evaluation

import (
	"context"
	"fmt"
	"time"

	"corpus-rag/internal/config"
	"corpus-rag/internal/embedding"
	"corpus-rag/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Answerer runs the full question answering pipeline.
type Answerer interface {
	Answer(ctx context.Context, query string) (models.AnswerResult, error)
}

type Evaluator struct {
	answerer Answerer
	scorer   *Scorer
	workers  int
}

func New(a Answerer, emb embedding.Embedder, cfg config.EvaluationConfig) *Evaluator {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Evaluator{
		answerer: a,
		scorer:   NewScorer(emb, cfg.SupportThreshold),
		workers:  workers,
	}
}

// Evaluate answers every record and scores it. A question whose answer or
// scoring fails keeps zero scores and counts in the aggregates, so the means
// reflect how often the pipeline actually delivers.
func (e *Evaluator) Evaluate(ctx context.Context, records []models.EvaluationRecord) (models.EvaluationReport, error) {
	if len(records) == 0 {
		return models.EvaluationReport{}, fmt.Errorf("%w: no evaluation records", models.ErrInvalidConfig)
	}
	start := time.Now()
	runID := uuid.NewString()
	log.Info().Str("run_id", runID).Int("questions", len(records)).Int("workers", e.workers).Msg("Starting evaluation")

	scores := make([]models.QuestionScore, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, rec := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scores[i] = e.evaluateOne(gctx, rec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.EvaluationReport{}, err
	}

	report := models.EvaluationReport{
		RunID:      runID,
		Questions:  scores,
		Aggregates: make(map[string]float64, len(models.MetricNames)),
	}
	for _, q := range scores {
		if q.Error != "" {
			report.Failed++
		}
		for _, m := range models.MetricNames {
			report.Aggregates[m] += q.Scores[m]
		}
	}
	for _, m := range models.MetricNames {
		report.Aggregates[m] /= float64(len(scores))
	}

	log.Info().Str("run_id", runID).Int("failed", report.Failed).Dur("took", time.Since(start)).Msg("Evaluation finished")
	return report, nil
}

func (e *Evaluator) evaluateOne(ctx context.Context, rec models.EvaluationRecord) models.QuestionScore {
	qs := models.QuestionScore{Question: rec.Question, Scores: zeroScores()}

	res, err := e.answerer.Answer(ctx, rec.Question)
	if err != nil {
		log.Warn().Err(err).Str("question", rec.Question).Msg("Question failed")
		qs.Error = err.Error()
		return qs
	}
	qs.Answer = res.Answer
	for _, s := range res.Sources {
		qs.Sources = append(qs.Sources, s.ChunkID)
	}

	contexts := make([]string, len(res.Contexts))
	for i, c := range res.Contexts {
		contexts[i] = c.Chunk.Text
	}
	scores, err := e.scorer.Score(ctx, rec, res.Answer, contexts)
	if err != nil {
		log.Warn().Err(err).Str("question", rec.Question).Msg("Scoring failed")
		qs.Error = err.Error()
		return qs
	}
	qs.Scores = scores
	return qs
}

func zeroScores() map[string]float64 {
	m := make(map[string]float64, len(models.MetricNames))
	for _, name := range models.MetricNames {
		m[name] = 0
	}
	return m
}

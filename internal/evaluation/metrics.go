package evaluation

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"corpus-rag/internal/embedding"
	"corpus-rag/internal/helper"
	"corpus-rag/internal/models"
)

var citationRe = regexp.MustCompile(models.CitationRegex)

// Scorer computes the four answer quality metrics. Every metric is in [0, 1].
// A sentence or passage counts as supported when at least threshold of its
// distinct content tokens appear in the text it is compared against.
type Scorer struct {
	emb       embedding.Embedder
	threshold float64
}

// NewScorer returns a Scorer. emb may be nil, in which case answer relevancy
// relies on keyword coverage alone.
func NewScorer(emb embedding.Embedder, threshold float64) *Scorer {
	return &Scorer{emb: emb, threshold: threshold}
}

// Score evaluates one answered question.
func (s *Scorer) Score(ctx context.Context, rec models.EvaluationRecord, answer string, contexts []string) (map[string]float64, error) {
	relevancy, err := s.AnswerRelevancy(ctx, rec.Question, answer)
	if err != nil {
		return nil, err
	}
	return map[string]float64{
		models.MetricFaithfulness:     Faithfulness(answer, contexts, s.threshold),
		models.MetricAnswerRelevancy:  relevancy,
		models.MetricContextPrecision: ContextPrecision(rec, contexts, s.threshold),
		models.MetricContextRecall:    ContextRecall(rec, contexts, s.threshold),
	}, nil
}

// Faithfulness is the fraction of answer sentences supported by the retrieved
// context. A refusal with nothing retrieved is fully faithful.
func Faithfulness(answer string, contexts []string, threshold float64) float64 {
	answer = citationRe.ReplaceAllString(answer, "")
	if isRefusal(answer) && len(contexts) == 0 {
		return 1
	}
	support := tokenUnion(contexts)

	considered, supported := 0, 0
	for _, sent := range helper.SplitSentences(answer) {
		frac, ok := coverage(helper.ContentTokens(sent), support)
		if !ok {
			continue
		}
		considered++
		if frac >= threshold {
			supported++
		}
	}
	if considered == 0 {
		return 0
	}
	return float64(supported) / float64(considered)
}

// AnswerRelevancy averages how much of the question's content the answer
// picks up with the embedding similarity of the two. Refusals score 0.
func (s *Scorer) AnswerRelevancy(ctx context.Context, question, answer string) (float64, error) {
	answer = citationRe.ReplaceAllString(answer, "")
	if strings.TrimSpace(answer) == "" || isRefusal(answer) {
		return 0, nil
	}
	keyword, ok := coverage(helper.ContentTokens(question), helper.TokenSet(answer))
	if !ok {
		keyword = 0
	}
	if s.emb == nil {
		return clip(keyword), nil
	}
	vecs, err := s.emb.Embed(ctx, []string{question, answer})
	if err != nil {
		return 0, fmt.Errorf("answer relevancy: %w", err)
	}
	if len(vecs) != 2 {
		return 0, fmt.Errorf("%w: expected 2 vectors, got %d", models.ErrDimensionMismatch, len(vecs))
	}
	return clip(0.5*keyword + 0.5*clip(embedding.Cosine(vecs[0], vecs[1]))), nil
}

// ContextPrecision is rank-weighted average precision over the retrieved
// contexts: the mean of precision@k taken at each relevant rank k.
func ContextPrecision(rec models.EvaluationRecord, contexts []string, threshold float64) float64 {
	answerTokens := helper.ContentTokens(rec.ReferenceAnswer)
	refSets := make([]map[string]struct{}, len(rec.ReferenceContexts))
	for i, rc := range rec.ReferenceContexts {
		refSets[i] = helper.TokenSet(rc)
	}

	var sum float64
	relevant := 0
	for k, c := range contexts {
		if !isRelevant(c, answerTokens, rec.ReferenceContexts, refSets, threshold) {
			continue
		}
		relevant++
		sum += float64(relevant) / float64(k+1)
	}
	if relevant == 0 {
		return 0
	}
	return sum / float64(relevant)
}

func isRelevant(chunk string, answerTokens []string, refs []string, refSets []map[string]struct{}, threshold float64) bool {
	chunkSet := helper.TokenSet(chunk)
	if frac, ok := coverage(answerTokens, chunkSet); ok && frac >= threshold {
		return true
	}
	chunkTokens := helper.ContentTokens(chunk)
	for i, ref := range refs {
		if frac, ok := coverage(chunkTokens, refSets[i]); ok && frac >= threshold {
			return true
		}
		if frac, ok := coverage(helper.ContentTokens(ref), chunkSet); ok && frac >= threshold {
			return true
		}
	}
	return false
}

// ContextRecall is the fraction of reference sentences covered by the retrieved
// contexts. The reference contexts are used when present, else the answer.
func ContextRecall(rec models.EvaluationRecord, contexts []string, threshold float64) float64 {
	var sentences []string
	if len(rec.ReferenceContexts) > 0 {
		for _, rc := range rec.ReferenceContexts {
			sentences = append(sentences, helper.SplitSentences(rc)...)
		}
	} else {
		sentences = helper.SplitSentences(rec.ReferenceAnswer)
	}
	support := tokenUnion(contexts)

	considered, covered := 0, 0
	for _, sent := range sentences {
		frac, ok := coverage(helper.ContentTokens(sent), support)
		if !ok {
			continue
		}
		considered++
		if frac >= threshold {
			covered++
		}
	}
	if considered == 0 {
		return 0
	}
	return float64(covered) / float64(considered)
}

// coverage returns the fraction of the distinct tokens that are in set.
// ok is false when tokens is empty.
func coverage(tokens []string, set map[string]struct{}) (float64, bool) {
	seen := make(map[string]struct{}, len(tokens))
	hit := 0
	for _, t := range tokens {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := set[t]; ok {
			hit++
		}
	}
	if len(seen) == 0 {
		return 0, false
	}
	return float64(hit) / float64(len(seen)), true
}

func tokenUnion(texts []string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range texts {
		for _, tok := range helper.ContentTokens(t) {
			set[tok] = struct{}{}
		}
	}
	return set
}

func isRefusal(answer string) bool {
	return strings.Contains(strings.TrimSpace(answer), models.NoAnswerMessage)
}

func clip(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

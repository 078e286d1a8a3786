package reranker

import (
	"context"
	"math"

	"corpus-rag/internal/helper"
)

// Lexical is a local scorer: Ochiai overlap of content tokens plus a bonus
// for query word pairs that appear adjacent in the passage. Scores are in [0,1].
type Lexical struct{}

func (Lexical) Name() string { return "lexical" }

func (Lexical) Score(_ context.Context, query string, texts []string) ([]float64, error) {
	qToks := helper.ContentTokens(query)
	qSet := toSet(qToks)
	qPairs := pairs(qToks)
	out := make([]float64, len(texts))
	for i, t := range texts {
		toks := helper.ContentTokens(t)
		out[i] = lexicalScore(qSet, qPairs, toSet(toks), pairs(toks))
	}
	return out, nil
}

const pairWeight = 0.1

func lexicalScore(q map[string]struct{}, qPairs map[string]struct{}, t map[string]struct{}, tPairs map[string]struct{}) float64 {
	if len(q) == 0 || len(t) == 0 {
		return 0
	}
	shared := 0
	for tok := range q {
		if _, ok := t[tok]; ok {
			shared++
		}
	}
	score := float64(shared) / math.Sqrt(float64(len(q))*float64(len(t)))
	if len(qPairs) > 0 {
		hit := 0
		for p := range qPairs {
			if _, ok := tPairs[p]; ok {
				hit++
			}
		}
		score = (1-pairWeight)*score + pairWeight*float64(hit)/float64(len(qPairs))
	}
	return score
}

func toSet(toks []string) map[string]struct{} {
	s := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		s[t] = struct{}{}
	}
	return s
}

func pairs(toks []string) map[string]struct{} {
	s := make(map[string]struct{})
	for i := 1; i < len(toks); i++ {
		s[toks[i-1]+" "+toks[i]] = struct{}{}
	}
	return s
}

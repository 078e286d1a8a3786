package reranker

import (
	"context"
	"regexp"
	"strconv"

	"corpus-rag/internal/llmservice"
	"corpus-rag/internal/models"
)

var (
	gradePattern = regexp.MustCompile(`\d+(?:\.\d+)?`)
	thinkTag     = regexp.MustCompile(models.ThinkTag)
)

// LLMJudge asks the generation model for a 0-10 relevance grade per passage.
type LLMJudge struct {
	client llmservice.Client
}

func NewLLMJudge(client llmservice.Client) *LLMJudge { return &LLMJudge{client: client} }

func (j *LLMJudge) Name() string { return "llm:" + j.client.ModelID() }

func (j *LLMJudge) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	out := make([]float64, len(texts))
	for i, t := range texts {
		prompt, err := llmservice.Render(models.RelevancePromptTemplate, map[string]any{"query": query, "passage": t})
		if err != nil {
			return nil, err
		}
		raw, err := j.client.Generate(ctx, prompt, llmservice.Options{Temperature: 0, MaxTokens: 8})
		if err != nil {
			return nil, err
		}
		out[i] = parseGrade(raw)
	}
	return out, nil
}

// parseGrade reads the first number in raw as a 0-10 grade and scales it to
// [0,1]. Unparseable replies score 0.
func parseGrade(raw string) float64 {
	m := gradePattern.FindString(thinkTag.ReplaceAllString(raw, ""))
	if m == "" {
		return 0
	}
	g, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	return min(max(g, 0), 10) / 10
}

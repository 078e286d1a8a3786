package expander

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"corpus-rag/internal/llmservice"
	"corpus-rag/internal/models"
)

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]+|\d+[.)]|\(\d+\))\s*`)

// LLM asks the generation model for paraphrases at temperature 0.
type LLM struct {
	client llmservice.Client
	max    int
}

func NewLLM(client llmservice.Client, max int) *LLM {
	return &LLM{client: client, max: max}
}

func (e *LLM) Expand(ctx context.Context, query string) []string {
	if e.max <= 1 {
		return []string{query}
	}
	prompt, err := llmservice.Render(models.ExpansionPromptTemplate, map[string]any{
		"count": e.max - 1,
		"query": query,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Query expansion failed, using original query")
		return []string{query}
	}
	raw, err := e.client.Generate(ctx, prompt, llmservice.Options{Temperature: 0, MaxTokens: 256})
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("Query expansion failed, using original query")
		return []string{query}
	}

	v := newVariants(query, e.max)
	for _, line := range strings.Split(thinkTag.ReplaceAllString(raw, ""), "\n") {
		line = listMarker.ReplaceAllString(line, "")
		line = strings.Trim(strings.TrimSpace(line), `"'`)
		if line == "" || strings.HasSuffix(line, ":") {
			continue
		}
		if !v.add(line) {
			break
		}
	}
	log.Debug().Strs("variants", v.out).Msg("Expanded query")
	return v.out
}

var thinkTag = regexp.MustCompile(models.ThinkTag)

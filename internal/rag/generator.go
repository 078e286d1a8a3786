package rag

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"corpus-rag/internal/llmservice"
	"corpus-rag/internal/models"
)

var (
	thinkTag      = regexp.MustCompile(models.ThinkTag)
	citationRegex = regexp.MustCompile(models.CitationRegex)
)

// Generator is the answer generation stage.
type Generator struct {
	client llmservice.Client
	opts   llmservice.Options
}

func NewGenerator(client llmservice.Client, opts llmservice.Options) *Generator {
	return &Generator{client: client, opts: opts}
}

// BuildPrompt tags each context passage with [S<n>] in rank order.
func BuildPrompt(query string, contexts []models.ScoredChunk) (string, error) {
	var b strings.Builder
	for i, c := range contexts {
		fmt.Fprintf(&b, models.SourceTagFormat+" (source: %s)\n%s\n\n", i+1, c.Chunk.Source(), strings.TrimSpace(c.Chunk.Text))
	}
	return llmservice.Render(models.AnswerPromptTemplate, map[string]any{
		"refusal":  models.NoAnswerMessage,
		"context":  strings.TrimSpace(b.String()),
		"question": query,
	})
}

// Generate answers query from contexts. Sources are the cited passages; when
// the reply cites nothing usable every context is returned and Attributed is
// false. No context means the refusal answer without a model call.
func (g *Generator) Generate(ctx context.Context, query string, contexts []models.ScoredChunk) (models.AnswerResult, error) {
	res := models.AnswerResult{Query: query, Contexts: contexts}
	if len(contexts) == 0 {
		res.Answer = models.NoAnswerMessage
		res.Attributed = true
		return res, nil
	}

	prompt, err := BuildPrompt(query, contexts)
	if err != nil {
		return res, err
	}
	raw, err := g.client.Generate(ctx, prompt, g.opts)
	if err != nil {
		if errors.Is(err, models.ErrGenerationUnavailable) {
			return res, err
		}
		return res, fmt.Errorf("%w: %v", models.ErrGenerationUnavailable, err)
	}
	res.Answer = strings.TrimSpace(thinkTag.ReplaceAllString(raw, ""))

	cited, ok := parseCitations(res.Answer, len(contexts))
	switch {
	case ok && len(cited) > 0:
		for _, n := range cited {
			res.Sources = append(res.Sources, sourceRef(contexts[n-1]))
		}
		res.Attributed = true
	case ok && strings.Contains(res.Answer, models.NoAnswerMessage):
		res.Attributed = true
	default:
		log.Warn().Str("query", query).Msg("Answer has no usable citations, attributing all context")
		for _, c := range contexts {
			res.Sources = append(res.Sources, sourceRef(c))
		}
	}
	return res, nil
}

// parseCitations returns cited source numbers in order of first appearance.
// ok is false when a citation points outside 1..n.
func parseCitations(answer string, n int) ([]int, bool) {
	var out []int
	seen := map[int]bool{}
	for _, m := range citationRegex.FindAllStringSubmatch(answer, -1) {
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 1 || idx > n {
			return nil, false
		}
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	return out, true
}

func sourceRef(c models.ScoredChunk) models.SourceRef {
	return models.SourceRef{
		ChunkID:    c.Chunk.ID,
		DocumentID: c.Chunk.DocumentID,
		Source:     c.Chunk.Source(),
		Score:      c.Score,
	}
}

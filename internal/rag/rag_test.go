package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"corpus-rag/internal/config"
	"corpus-rag/internal/expander"
	"corpus-rag/internal/helper"
	"corpus-rag/internal/index"
	"corpus-rag/internal/llmservice"
	"corpus-rag/internal/models"
	"corpus-rag/internal/reranker"
)

const parisDoc = "Paris is the capital of France. The Eiffel Tower is in Paris. France is in Europe."

var vocab = []string{"paris", "capital", "france", "eiffel", "tower", "europe"}

type vocabEmbedder struct{}

func (vocabEmbedder) Dimension() int  { return len(vocab) }
func (vocabEmbedder) ModelID() string { return "test:vocab:6" }
func (vocabEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, len(vocab))
		for _, tok := range helper.ContentTokens(t) {
			for d, w := range vocab {
				if tok == w {
					v[d]++
				}
			}
		}
		out[i] = v
	}
	return out, nil
}

// fakeLLM replies with reply, or cites the first source tag when the prompt
// mentions the capital.
type fakeLLM struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
	opts    llmservice.Options
}

func (f *fakeLLM) ModelID() string { return "fake:llm" }
func (f *fakeLLM) Generate(_ context.Context, prompt string, opts llmservice.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.opts = opts
	if f.err != nil {
		return "", f.err
	}
	if f.reply != "" {
		return f.reply, nil
	}
	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(line, "[S") && strings.Contains(prompt, "capital") {
			tag := line[:strings.Index(line, "]")+1]
			return "<think>looking</think>The capital of France is Paris " + tag + ".", nil
		}
	}
	return models.NoAnswerMessage, nil
}

func ragConfig() config.RAGConfig {
	return config.RAGConfig{
		ChunkSize:     2,
		ChunkOverlap:  0,
		ChunkUnit:     "sentence",
		KInitial:      3,
		TopN:          2,
		RerankPool:    10,
		MaxExpansions: 3,
		Workers:       2,
	}
}

func newPipeline(t *testing.T, llm *fakeLLM, dir string) *Pipeline {
	t.Helper()
	emb := vocabEmbedder{}
	idx, err := index.NewFlat(emb.Dimension(), emb.ModelID(), index.MetricCosine)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	p, err := NewPipeline(ragConfig(), dir, 1, Deps{
		Embedder:  emb,
		Index:     idx,
		Expander:  expander.NewSynonym(3),
		Reranker:  reranker.NewCrossEncoder(reranker.Lexical{}),
		Generator: NewGenerator(llm, llmservice.Options{Temperature: 0.1, MaxTokens: 512}),
	})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func TestPipeline_ParisScenario(t *testing.T) {
	llm := &fakeLLM{}
	p := newPipeline(t, llm, "")
	ctx := context.Background()

	doc := models.Document{ID: "paris", SourceURI: "paris.txt", RawText: parisDoc}
	stats, err := p.Ingest(ctx, []models.Document{doc})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if stats.Chunks != 2 {
		t.Fatalf("expected 2 chunks, got %d", stats.Chunks)
	}

	ret, err := p.Retrieve(ctx, "What is the capital of France?")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if !strings.Contains(ret.Chunks[0].Chunk.Text, "Paris is the capital of France") {
		t.Fatalf("unexpected top chunk %q", ret.Chunks[0].Chunk.Text)
	}

	res, err := p.Answer(ctx, "What is the capital of France?")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !strings.Contains(res.Answer, "Paris") || strings.Contains(res.Answer, "<think>") {
		t.Fatalf("unexpected answer %q", res.Answer)
	}
	if !res.Attributed || len(res.Sources) != 1 || res.Sources[0].ChunkID != "paris:0" {
		t.Fatalf("expected a citation of paris:0, got %+v", res.Sources)
	}
	if res.Sources[0].Source != "paris.txt" {
		t.Fatalf("expected source uri, got %q", res.Sources[0].Source)
	}
	if res.Metrics["variants"] != 3 || res.Metrics["reranked"] != 1 {
		t.Fatalf("unexpected metrics %v", res.Metrics)
	}
	if llm.opts.Temperature != 0.1 || llm.opts.MaxTokens != 512 {
		t.Fatalf("generation options not passed: %+v", llm.opts)
	}
}

func TestPipeline_SaveAndReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	p := newPipeline(t, &fakeLLM{}, dir)
	if _, err := p.Ingest(ctx, []models.Document{{ID: "paris", SourceURI: "paris.txt", RawText: parisDoc}}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	q := newPipeline(t, &fakeLLM{}, dir)
	if err := q.Open(ctx, false); err != nil {
		t.Fatalf("open: %v", err)
	}
	if q.Index().Len() != 2 {
		t.Fatalf("expected 2 entries after reopen, got %d", q.Index().Len())
	}
	if err := q.Open(ctx, true); err != nil || q.Index().Len() != 0 {
		t.Fatalf("rebuild should clear the index: %v", err)
	}
	if err := newPipeline(t, &fakeLLM{}, t.TempDir()).Open(ctx, false); err != nil {
		t.Fatalf("missing snapshot should start empty, got %v", err)
	}
}

func TestPipeline_EmptyIndexRefuses(t *testing.T) {
	llm := &fakeLLM{}
	res, err := newPipeline(t, llm, "").Answer(context.Background(), "What is the capital of France?")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if res.Answer != models.NoAnswerMessage || len(res.Sources) != 0 {
		t.Fatalf("expected refusal, got %+v", res)
	}
	if len(llm.prompts) != 0 {
		t.Fatalf("no model call expected without context")
	}
}

func contexts() []models.ScoredChunk {
	return []models.ScoredChunk{
		{Chunk: models.Chunk{ID: "d:0", DocumentID: "d", Text: "Paris is the capital of France.", Metadata: map[string]string{"source": "a.txt"}}, Score: 0.9},
		{Chunk: models.Chunk{ID: "d:1", DocumentID: "d", Text: "France is in Europe."}, Score: 0.5},
	}
}

func TestGenerator_CitationsInOrder(t *testing.T) {
	g := NewGenerator(&fakeLLM{reply: "France [S2] has Paris as capital [S1][S2]."}, llmservice.Options{})
	res, err := g.Generate(context.Background(), "q", contexts())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !res.Attributed || len(res.Sources) != 2 || res.Sources[0].ChunkID != "d:1" || res.Sources[1].ChunkID != "d:0" {
		t.Fatalf("unexpected sources %+v", res.Sources)
	}
	if res.Sources[0].Source != "d" {
		t.Fatalf("source should fall back to document id, got %q", res.Sources[0].Source)
	}
}

func TestGenerator_FallsBackToAllContext(t *testing.T) {
	for _, reply := range []string{"Paris.", "Paris [S7]."} {
		g := NewGenerator(&fakeLLM{reply: reply}, llmservice.Options{})
		res, err := g.Generate(context.Background(), "q", contexts())
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if res.Attributed || len(res.Sources) != 2 || res.Answer != reply {
			t.Fatalf("%q: expected unattributed answer with all sources, got %+v", reply, res)
		}
	}
}

func TestGenerator_RefusalHasNoSources(t *testing.T) {
	g := NewGenerator(&fakeLLM{reply: models.NoAnswerMessage}, llmservice.Options{})
	res, _ := g.Generate(context.Background(), "q", contexts())
	if len(res.Sources) != 0 || !res.Attributed {
		t.Fatalf("refusal should cite nothing, got %+v", res)
	}
}

func TestGenerator_Unavailable(t *testing.T) {
	g := NewGenerator(&fakeLLM{err: errors.New("timeout")}, llmservice.Options{})
	if _, err := g.Generate(context.Background(), "q", contexts()); !errors.Is(err, models.ErrGenerationUnavailable) {
		t.Fatalf("expected ErrGenerationUnavailable, got %v", err)
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt, err := BuildPrompt("What is the capital?", contexts())
	if err != nil {
		t.Fatalf("prompt: %v", err)
	}
	for _, want := range []string{"[S1] (source: a.txt)\nParis is the capital of France.", "[S2] (source: d)", "Question: What is the capital?", models.NoAnswerMessage} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestNewIndex_Backends(t *testing.T) {
	cfg := config.Default()
	idx, closer, err := NewIndex(context.Background(), cfg, vocabEmbedder{})
	if err != nil || closer != nil || idx.EmbedderID() != "test:vocab:6" {
		t.Fatalf("memory backend: %v", err)
	}
	cfg.Index.Backend = "chromem"
	if idx, _, err := NewIndex(context.Background(), cfg, vocabEmbedder{}); err != nil || idx.Dimension() != 6 {
		t.Fatalf("chromem backend: %v", err)
	}
	cfg.Index.Metric = "dot"
	if _, _, err := NewIndex(context.Background(), cfg, vocabEmbedder{}); !errors.Is(err, models.ErrInvalidConfig) {
		t.Fatalf("chromem with dot metric should fail, got %v", err)
	}
}

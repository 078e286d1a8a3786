package reranker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"corpus-rag/internal/config"
	"corpus-rag/internal/llmservice"
	"corpus-rag/internal/models"
	"corpus-rag/internal/retry"
)

func candidates(texts ...string) []models.ScoredChunk {
	out := make([]models.ScoredChunk, len(texts))
	for i, t := range texts {
		out[i] = models.ScoredChunk{Chunk: models.Chunk{ID: fmt.Sprintf("d:%d", i), Text: t}, Score: 1 - float64(i)*0.1}
	}
	return out
}

func TestLexical_PrefersMatchingPassage(t *testing.T) {
	r := NewCrossEncoder(Lexical{})
	out, err := r.Rerank(context.Background(), "What is the capital of France?", candidates(
		"France is in Europe.",
		"Paris is the capital of France. The Eiffel Tower is in Paris.",
		"Bananas are yellow.",
	))
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if out[0].Chunk.ID != "d:1" {
		t.Fatalf("expected capital passage first, got %s", out[0].Chunk.ID)
	}
	if out[2].Chunk.ID != "d:2" || out[2].Score != 0 {
		t.Fatalf("expected unrelated passage last with score 0, got %+v", out[2])
	}
}

type constScorer struct{}

func (constScorer) Name() string { return "const" }
func (constScorer) Score(_ context.Context, _ string, texts []string) ([]float64, error) {
	return make([]float64, len(texts)), nil
}

func TestCrossEncoder_TiesKeepRetrievalOrder(t *testing.T) {
	in := candidates("a", "b", "c", "d")
	out, _ := NewCrossEncoder(constScorer{}).Rerank(context.Background(), "q", in)
	for i := range in {
		if out[i].Chunk.ID != in[i].Chunk.ID {
			t.Fatalf("tie order changed at %d: %s", i, out[i].Chunk.ID)
		}
	}
}

type randomScorer struct{ r *rand.Rand }

func (randomScorer) Name() string { return "random" }
func (s randomScorer) Score(_ context.Context, _ string, texts []string) ([]float64, error) {
	out := make([]float64, len(texts))
	for i := range out {
		out[i] = float64(s.r.Intn(5))
	}
	return out, nil
}

func TestCrossEncoder_PreservesCandidateSet(t *testing.T) {
	r := NewCrossEncoder(randomScorer{r: rand.New(rand.NewSource(9))})
	for n := 0; n < 30; n++ {
		texts := make([]string, n)
		for i := range texts {
			texts[i] = fmt.Sprintf("passage %d", i)
		}
		in := candidates(texts...)
		out, err := r.Rerank(context.Background(), "q", in)
		if err != nil {
			t.Fatalf("rerank: %v", err)
		}
		if len(out) != len(in) {
			t.Fatalf("size changed: %d -> %d", len(in), len(out))
		}
		ids := map[string]bool{}
		for _, c := range in {
			ids[c.Chunk.ID] = true
		}
		for i, c := range out {
			if !ids[c.Chunk.ID] {
				t.Fatalf("unexpected id %s", c.Chunk.ID)
			}
			delete(ids, c.Chunk.ID)
			if i > 0 && c.Score > out[i-1].Score {
				t.Fatalf("scores not descending at %d", i)
			}
		}
		if len(ids) != 0 {
			t.Fatalf("ids dropped: %v", ids)
		}
	}
}

type failingScorer struct{}

func (failingScorer) Name() string { return "failing" }
func (failingScorer) Score(context.Context, string, []string) ([]float64, error) {
	return nil, errors.New("connection reset")
}

func TestCrossEncoder_WrapsFailure(t *testing.T) {
	_, err := NewCrossEncoder(failingScorer{}).Rerank(context.Background(), "q", candidates("a"))
	if !errors.Is(err, models.ErrRerankUnavailable) {
		t.Fatalf("expected ErrRerankUnavailable, got %v", err)
	}
}

func TestTEI_Score(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rerank" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req teiRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Query != "q" || len(req.Texts) != 2 {
			t.Errorf("unexpected request %+v", req)
		}
		// TEI sorts by score, not by input order
		w.Write([]byte(`[{"index":1,"score":0.9},{"index":0,"score":0.1}]`))
	}))
	defer srv.Close()

	scores, err := NewTEI(srv.URL+"/", "ms-marco", retry.Policy{}).Score(context.Background(), "q", []string{"x", "y"})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if scores[0] != 0.1 || scores[1] != 0.9 {
		t.Fatalf("scores not mapped by index: %v", scores)
	}
}

func TestTEI_UnavailableAfterRetries(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := retry.Policy{MaxRetries: 2, Timeout: time.Second, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	_, err := NewTEI(srv.URL, "", p).Score(context.Background(), "q", []string{"x"})
	if !errors.Is(err, models.ErrRerankUnavailable) {
		t.Fatalf("expected ErrRerankUnavailable, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

type gradeClient struct{ replies map[string]string }

func (g gradeClient) ModelID() string { return "fake" }
func (g gradeClient) Generate(_ context.Context, prompt string, _ llmservice.Options) (string, error) {
	for k, v := range g.replies {
		if strings.Contains(prompt, "Passage:\n"+k) {
			return v, nil
		}
	}
	return "no idea", nil
}

func TestLLMJudge_ParsesGrades(t *testing.T) {
	c := gradeClient{replies: map[string]string{
		"alpha": "8",
		"beta":  "<think>maybe 10?</think> Score: 3/10",
		"gamma": "15",
	}}
	scores, err := NewLLMJudge(c).Score(context.Background(), "q", []string{"alpha", "beta", "gamma", "delta"})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	want := []float64{0.8, 0.3, 1, 0}
	for i := range want {
		if scores[i] != want[i] {
			t.Fatalf("score %d = %v, want %v", i, scores[i], want[i])
		}
	}
}

func TestNew(t *testing.T) {
	r, err := New(config.RerankerConfig{Type: "none"}, nil)
	if err != nil || r != nil {
		t.Fatalf("expected nil reranker for none, got %v, %v", r, err)
	}
	if _, err := New(config.RerankerConfig{Type: "colbert"}, nil); !errors.Is(err, models.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if r, err := New(config.RerankerConfig{Type: "lexical"}, nil); err != nil || r == nil {
		t.Fatalf("expected lexical reranker, got %v", err)
	}
}

package expander

import (
	"context"
	"errors"
	"strings"
	"testing"

	"corpus-rag/internal/llmservice"
	"corpus-rag/internal/models"
)

func TestSynonym_Expand(t *testing.T) {
	got := NewSynonym(3).Expand(context.Background(), "What is the capital of France?")
	want := []string{"What is the capital of France?", "capital of France", "capital city of France"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestSynonym_DeterministicAndBounded(t *testing.T) {
	e := NewSynonym(2)
	a := e.Expand(context.Background(), "who was the author of the largest book")
	b := e.Expand(context.Background(), "who was the author of the largest book")
	if len(a) != 2 || strings.Join(a, "|") != strings.Join(b, "|") {
		t.Fatalf("expected 2 deterministic variants, got %q and %q", a, b)
	}
	if a[0] != "who was the author of the largest book" {
		t.Fatalf("original must come first, got %q", a[0])
	}
}

func TestSynonym_NoRulesLeavesOriginal(t *testing.T) {
	got := NewSynonym(4).Expand(context.Background(), "zebra")
	if len(got) != 1 || got[0] != "zebra" {
		t.Fatalf("expected only the original query, got %q", got)
	}
}

func TestSynonym_VariantsDistinct(t *testing.T) {
	got := NewSynonym(5).Expand(context.Background(), "big city?")
	seen := map[string]bool{}
	for _, v := range got {
		if seen[normalize(v)] {
			t.Fatalf("duplicate variant %q in %q", v, got)
		}
		seen[normalize(v)] = true
	}
}

type fakeClient struct {
	out    string
	err    error
	prompt string
	opts   llmservice.Options
}

func (f *fakeClient) ModelID() string { return "fake" }
func (f *fakeClient) Generate(_ context.Context, prompt string, opts llmservice.Options) (string, error) {
	f.prompt, f.opts = prompt, opts
	return f.out, f.err
}

func TestLLM_ParsesParaphrases(t *testing.T) {
	c := &fakeClient{out: "Here are rewrites:\n1. Which city is France's capital?\n- what is the capital of france\n* \"France capital city\"\n\nextra line"}
	got := NewLLM(c, 3).Expand(context.Background(), "What is the capital of France?")
	want := []string{"What is the capital of France?", "Which city is France's capital?", "France capital city"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q want %q", got, want)
	}
	if c.opts.Temperature != 0 || !strings.Contains(c.prompt, "2 different ways") {
		t.Fatalf("unexpected call: %+v %q", c.opts, c.prompt)
	}
}

func TestLLM_DegradesOnFailure(t *testing.T) {
	c := &fakeClient{err: models.ErrGenerationUnavailable}
	got := NewLLM(c, 3).Expand(context.Background(), "q")
	if len(got) != 1 || got[0] != "q" {
		t.Fatalf("expected fallback to original, got %q", got)
	}
}

func TestNew(t *testing.T) {
	if _, err := New("thesaurus", 3, nil); !errors.Is(err, models.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := New("llm", 3, nil); !errors.Is(err, models.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig without client, got %v", err)
	}
	e, err := New("none", 3, nil)
	if err != nil || len(e.Expand(context.Background(), "q")) != 1 {
		t.Fatalf("none expander misbehaves: %v", err)
	}
}

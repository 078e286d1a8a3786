package chunker

import (
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"testing"
	"unicode/utf8"

	"corpus-rag/internal/models"
)

const parisDoc = "Paris is the capital of France. The Eiffel Tower is in Paris. France is in Europe."

func doc(text string) models.Document {
	return models.Document{ID: "doc1", SourceURI: "test.txt", RawText: text}
}

func TestChunk_SentenceWindows(t *testing.T) {
	chunks, err := Chunk(doc(parisDoc), 2, 0, "sentence")
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[0].Text, "Paris is the capital of France.") {
		t.Fatalf("unexpected first chunk %q", chunks[0].Text)
	}
	if chunks[1].Text != "France is in Europe." {
		t.Fatalf("unexpected last chunk %q", chunks[1].Text)
	}
	if chunks[0].ID != "doc1:0" || chunks[1].ID != "doc1:1" {
		t.Fatalf("unexpected ids %s, %s", chunks[0].ID, chunks[1].ID)
	}
	if chunks[1].Metadata["source"] != "test.txt" {
		t.Fatalf("expected source metadata")
	}
}

func TestChunk_EmptyDocument(t *testing.T) {
	chunks, err := Chunk(doc(""), 10, 2, "rune")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %d", len(chunks))
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cases := []struct {
		size, overlap int
		unit          string
	}{
		{0, 0, "rune"},
		{-3, 0, "rune"},
		{5, 5, "rune"},
		{5, -1, "word"},
		{5, 1, "token"},
	}
	for _, tc := range cases {
		if _, err := New(tc.size, tc.overlap, tc.unit); !errors.Is(err, models.ErrInvalidConfig) {
			t.Errorf("New(%d, %d, %q): expected ErrInvalidConfig, got %v", tc.size, tc.overlap, tc.unit, err)
		}
	}
}

func TestChunk_RuneWindowsAndUTF8(t *testing.T) {
	text := "héllo wörld ünïcode"
	chunks, err := Chunk(doc(text), 5, 2, "rune")
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	for _, ch := range chunks {
		if !utf8.ValidString(ch.Text) {
			t.Fatalf("chunk splits a rune: %q", ch.Text)
		}
		if n := utf8.RuneCountInString(ch.Text); n > 5 {
			t.Fatalf("chunk longer than size: %q (%d)", ch.Text, n)
		}
	}
	if got := Reassemble(chunks); got != text {
		t.Fatalf("round trip failed: %q", got)
	}
}

func randomText(r *rand.Rand) string {
	words := []string{"alpha", "beta", "gamma", "Delta.", "epsilon!", "zeta?", "ηλιος", "naïve", "  ", "\n", "end."}
	var b strings.Builder
	n := r.Intn(60)
	for i := 0; i < n; i++ {
		b.WriteString(words[r.Intn(len(words))])
		if r.Intn(3) > 0 {
			b.WriteString(" ")
		}
	}
	return b.String()
}

func TestChunk_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for iter := 0; iter < 300; iter++ {
		text := randomText(r)
		size := 1 + r.Intn(12)
		overlap := r.Intn(size)
		unit := []string{"rune", "word", "sentence"}[iter%3]

		chunks, err := Chunk(doc(text), size, overlap, unit)
		if err != nil {
			t.Fatalf("chunk: %v", err)
		}
		if got := Reassemble(chunks); got != text {
			t.Fatalf("round trip (%s size=%d overlap=%d): got %q want %q", unit, size, overlap, got, text)
		}
		for i, ch := range chunks {
			if ch.Offset+len(ch.Text) > len(text) || text[ch.Offset:ch.Offset+len(ch.Text)] != ch.Text {
				t.Fatalf("chunk %d is not a substring at its offset", i)
			}
			start, _ := strconv.Atoi(ch.Metadata["start_unit"])
			end, _ := strconv.Atoi(ch.Metadata["end_unit"])
			if end-start > size {
				t.Fatalf("chunk %d has %d units, size %d", i, end-start, size)
			}
			if i > 0 {
				prevEnd, _ := strconv.Atoi(chunks[i-1].Metadata["end_unit"])
				if prevEnd-start != overlap {
					t.Fatalf("chunks %d/%d overlap %d units, want %d", i-1, i, prevEnd-start, overlap)
				}
			}
		}
	}
}

func TestBoundaries_Words(t *testing.T) {
	cuts := boundaries("  one two  three", UnitWord)
	want := []int{0, 6, 11, 16}
	if len(cuts) != len(want) {
		t.Fatalf("got %v want %v", cuts, want)
	}
	for i := range want {
		if cuts[i] != want[i] {
			t.Fatalf("got %v want %v", cuts, want)
		}
	}
}

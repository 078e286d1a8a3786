package helper

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestDocumentID_StableForSource(t *testing.T) {
	a := DocumentID("docs/guide.txt")
	b := DocumentID("docs/guide.txt")
	if a != b {
		t.Fatalf("expected stable id, got %s and %s", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("expected 16 hex chars, got %q", a)
	}
	if DocumentID("") == DocumentID("") {
		t.Fatalf("expected random ids for documents without source")
	}
}

func TestCreateFolder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := CreateFolder(dir); err != nil {
		t.Fatalf("create folder: %v", err)
	}
}

func TestSetupLoggerTo_JSON(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	var buf bytes.Buffer
	SetupLoggerTo(&buf, "warn", false)
	log.Info().Msg("hidden")
	log.Warn().Str("component", "test").Msg("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info message should be filtered: %s", out)
	}
	if !strings.Contains(out, `"component":"test"`) {
		t.Fatalf("expected structured field, got %s", out)
	}
}

func TestContentTokens(t *testing.T) {
	got := ContentTokens("What is the Capital of France?")
	want := []string{"capital", "france"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestSplitSentences(t *testing.T) {
	got := SplitSentences("Paris is big. Is it old? Yes! trailing")
	if len(got) != 4 || got[0] != "Paris is big." || got[3] != "trailing" {
		t.Fatalf("unexpected sentences %q", got)
	}
}

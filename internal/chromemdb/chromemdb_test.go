package chromemdb

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"corpus-rag/internal/models"
)

func newManager(t *testing.T, embedderID string) *VectorDBManager {
	t.Helper()
	m, err := NewVectorDBManager(Options{Collection: "test", EmbedderID: embedderID, Dimension: 3})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

var testChunks = []models.Chunk{
	{ID: "d:0", DocumentID: "d", Text: "first", Offset: 0, Metadata: map[string]string{"source": "a.txt"}},
	{ID: "d:1", DocumentID: "d", Text: "second", Offset: 5, Metadata: map[string]string{"source": "a.txt"}},
	{ID: "d:2", DocumentID: "d", Text: "third", Offset: 11, Metadata: map[string]string{"source": "a.txt"}},
}

var testVectors = [][]float32{{1, 0, 0}, {0, 1, 0}, {0.6, 0.8, 0}}

func TestVectorDBManager_AddSearch(t *testing.T) {
	m := newManager(t, "local:test:3")
	ctx := context.Background()
	if err := m.Add(ctx, testChunks, testVectors); err != nil {
		t.Fatalf("add: %v", err)
	}
	hits, err := m.Search(ctx, []float32{0, 1, 0}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits (k clipped to count), got %d", len(hits))
	}
	if hits[0].ChunkID != "d:1" || hits[1].ChunkID != "d:2" {
		t.Fatalf("unexpected order %s, %s", hits[0].ChunkID, hits[1].ChunkID)
	}
	got := hits[0].Chunk
	if got.DocumentID != "d" || got.Offset != 5 || got.Text != "second" || got.Metadata["source"] != "a.txt" {
		t.Fatalf("chunk not restored: %+v", got)
	}
	if _, ok := got.Metadata[metaOffset]; ok {
		t.Fatalf("reserved metadata leaked")
	}
}

func TestVectorDBManager_EmptyAndMismatch(t *testing.T) {
	m := newManager(t, "local:test:3")
	ctx := context.Background()
	hits, err := m.Search(ctx, []float32{1, 0, 0}, 3)
	if err != nil || len(hits) != 0 {
		t.Fatalf("expected no hits from empty collection, got %v, %v", hits, err)
	}
	err = m.Add(ctx, testChunks[:1], [][]float32{{1, 0}})
	if !errors.Is(err, models.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestVectorDBManager_DuplicateAndReset(t *testing.T) {
	m := newManager(t, "local:test:3")
	ctx := context.Background()
	m.Add(ctx, testChunks, testVectors)
	m.Add(ctx, testChunks[:1], testVectors[:1])
	if m.Len() != 3 {
		t.Fatalf("duplicate id must overwrite, len=%d", m.Len())
	}
	if err := m.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if m.Len() != 0 {
		t.Fatalf("expected empty collection after reset, got %d", m.Len())
	}
}

func TestVectorDBManager_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	m := newManager(t, "local:test:3")
	m.Add(ctx, testChunks, testVectors)
	if err := m.Save(ctx, dir); err != nil {
		t.Fatalf("save: %v", err)
	}

	n := newManager(t, "local:test:3")
	if err := n.Load(ctx, dir); err != nil {
		t.Fatalf("load: %v", err)
	}
	if n.Len() != 3 {
		t.Fatalf("expected 3 entries after load, got %d", n.Len())
	}
	hits, err := n.Search(ctx, []float32{1, 0, 0}, 1)
	if err != nil || hits[0].ChunkID != "d:0" {
		t.Fatalf("unexpected search after load: %v, %v", hits, err)
	}

	other := newManager(t, "ollama:nomic-embed-text:3")
	if err := other.Load(ctx, dir); !errors.Is(err, models.ErrIncompatibleIndex) {
		t.Fatalf("expected ErrIncompatibleIndex, got %v", err)
	}
	if err := other.Load(ctx, t.TempDir()); !errors.Is(err, models.ErrIndexNotFound) {
		t.Fatalf("expected ErrIndexNotFound, got %v", err)
	}
}

func TestVectorDBManager_ZeroVectors(t *testing.T) {
	m := newManager(t, "local:test:3")
	ctx := context.Background()
	err := m.Add(ctx, testChunks, [][]float32{{1, 0, 0}, {0, 0, 0}, {0, 1, 0}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	hits, err := m.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 || hits[0].ChunkID != "d:0" {
		t.Fatalf("unexpected hits %+v", hits)
	}
	for i, h := range hits {
		if math.IsNaN(h.Score) {
			t.Fatalf("hit %d (%s) has NaN score", i, h.ChunkID)
		}
		if i > 0 && h.Score > hits[i-1].Score {
			t.Fatalf("scores increase at %d: %v > %v", i, h.Score, hits[i-1].Score)
		}
	}

	hits, err = m.Search(ctx, []float32{0, 0, 0}, 3)
	if err != nil || len(hits) != 0 {
		t.Fatalf("zero query should match nothing, got %+v, %v", hits, err)
	}
}

func TestVectorDBManager_ResaveReplacesSnapshot(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	m := newManager(t, "local:test:3")
	m.Add(ctx, testChunks[:1], testVectors[:1])
	if err := m.Save(ctx, dir); err != nil {
		t.Fatalf("first save: %v", err)
	}
	m.Add(ctx, testChunks[1:], testVectors[1:])
	if err := m.Save(ctx, dir); err != nil {
		t.Fatalf("second save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("temporary export left behind: %s", e.Name())
		}
	}
	n := newManager(t, "local:test:3")
	if err := n.Load(ctx, dir); err != nil {
		t.Fatalf("load: %v", err)
	}
	if n.Len() != 3 {
		t.Fatalf("expected the second snapshot with 3 entries, got %d", n.Len())
	}
}

// Package index defines the vector index capability and the flat exact index.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"corpus-rag/internal/models"
)

// VectorIndex stores chunk vectors with their metadata. Search is safe for
// concurrent use; Add, Reset, Save and Load are serialised against readers.
type VectorIndex interface {
	// Add inserts entries, replacing any entry with the same chunk id.
	Add(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error
	// Search returns at most k hits ordered by descending score.
	Search(ctx context.Context, query []float32, k int) ([]models.SearchHit, error)
	Reset(ctx context.Context) error
	Len() int
	Save(ctx context.Context, dir string) error
	Load(ctx context.Context, dir string) error
	Dimension() int
	EmbedderID() string
}

const (
	MetricCosine = "cosine"
	MetricDot    = "dot"
)

// ManifestFile describes a snapshot stored in a directory.
const ManifestFile = "manifest.json"

// Manifest records what a snapshot was built with.
type Manifest struct {
	Version    int    `json:"version"`
	Backend    string `json:"backend"`
	EmbedderID string `json:"embedder_id"`
	Dimension  int    `json:"dimension"`
	Metric     string `json:"metric"`
	Entries    int    `json:"entries"`
}

// Check fails with ErrIncompatibleIndex unless m matches the caller's settings.
func (m Manifest) Check(backend, embedderID string, dim int, metric string) error {
	switch {
	case m.Backend != "" && m.Backend != backend:
		return fmt.Errorf("%w: snapshot backend %q, want %q", models.ErrIncompatibleIndex, m.Backend, backend)
	case m.EmbedderID != embedderID:
		return fmt.Errorf("%w: snapshot built with embedder %q, caller uses %q", models.ErrIncompatibleIndex, m.EmbedderID, embedderID)
	case dim != 0 && m.Dimension != dim:
		return fmt.Errorf("%w: snapshot dimension %d, want %d", models.ErrIncompatibleIndex, m.Dimension, dim)
	case m.Metric != metric:
		return fmt.Errorf("%w: snapshot metric %q, want %q", models.ErrIncompatibleIndex, m.Metric, metric)
	}
	return nil
}

// ReadManifest loads dir/manifest.json. A missing directory or manifest is
// ErrIndexNotFound.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return m, fmt.Errorf("%w: no snapshot in %s", models.ErrIndexNotFound, dir)
		}
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: corrupt manifest: %v", models.ErrIncompatibleIndex, err)
	}
	return m, nil
}

// WriteManifest writes the manifest atomically.
func WriteManifest(dir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(filepath.Join(dir, ManifestFile), func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

// WriteFileAtomic writes through a temp file in the same directory and renames
// it over path, so readers never observe a partial file.
func WriteFileAtomic(path string, write func(f *os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ValidateAdd checks batch shape and vector lengths against dim before any
// mutation. dim 0 means the first vector fixes the dimension; the resolved
// dimension is returned.
func ValidateAdd(chunks []models.Chunk, vectors [][]float32, dim int) (int, error) {
	if len(chunks) != len(vectors) {
		return dim, fmt.Errorf("%w: %d chunks but %d vectors", models.ErrDimensionMismatch, len(chunks), len(vectors))
	}
	for i, v := range vectors {
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim || dim == 0 {
			return dim, fmt.Errorf("%w: vector for %s has length %d, index expects %d", models.ErrDimensionMismatch, chunks[i].ID, len(v), dim)
		}
		if chunks[i].ID == "" {
			return dim, fmt.Errorf("%w: chunk %d has no id", models.ErrInvalidConfig, i)
		}
	}
	return dim, nil
}

// ValidateQuery checks k and the query length.
func ValidateQuery(query []float32, k, dim int) error {
	if k < 1 {
		return fmt.Errorf("%w: k must be >= 1, got %d", models.ErrInvalidConfig, k)
	}
	if dim != 0 && len(query) != dim {
		return fmt.Errorf("%w: query has length %d, index expects %d", models.ErrDimensionMismatch, len(query), dim)
	}
	return nil
}

// SortHits orders hits by descending score, then by chunk id, and keeps k.
func SortHits(hits []models.SearchHit, k int) []models.SearchHit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// ValidMetric reports whether m names a supported similarity.
func ValidMetric(m string) bool {
	return m == MetricCosine || m == MetricDot
}

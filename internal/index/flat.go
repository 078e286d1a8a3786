package index

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"corpus-rag/internal/models"
)

const (
	flatBackend  = "memory"
	snapshotFile = "index.gob"
	snapshotVer  = 1
)

type entry struct {
	Chunk  models.Chunk
	Vector []float32
	Norm   float64
}

type snapshot struct {
	Manifest Manifest
	Entries  []entry
}

// Flat is an exact in-memory index. Search scores every entry.
type Flat struct {
	mu         sync.RWMutex
	dim        int
	metric     string
	embedderID string
	entries    []entry
	pos        map[string]int
}

// NewFlat creates an empty index. dim 0 adopts the dimension of the first Add.
func NewFlat(dim int, embedderID, metric string) (*Flat, error) {
	if metric == "" {
		metric = MetricCosine
	}
	if !ValidMetric(metric) {
		return nil, fmt.Errorf("%w: unknown metric %q", models.ErrInvalidConfig, metric)
	}
	return &Flat{dim: dim, metric: metric, embedderID: embedderID, pos: map[string]int{}}, nil
}

func (f *Flat) Dimension() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dim
}

func (f *Flat) EmbedderID() string { return f.embedderID }

func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

func (f *Flat) Add(_ context.Context, chunks []models.Chunk, vectors [][]float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dim, err := ValidateAdd(chunks, vectors, f.dim)
	if err != nil {
		return err
	}
	f.dim = dim
	for i, ch := range chunks {
		v := append([]float32(nil), vectors[i]...)
		e := entry{Chunk: ch, Vector: v, Norm: norm(v)}
		if p, ok := f.pos[ch.ID]; ok {
			f.entries[p] = e
			continue
		}
		f.pos[ch.ID] = len(f.entries)
		f.entries = append(f.entries, e)
	}
	return nil
}

func (f *Flat) Search(ctx context.Context, query []float32, k int) ([]models.SearchHit, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := ValidateQuery(query, k, f.dim); err != nil {
		return nil, err
	}
	if len(f.entries) == 0 {
		return nil, nil
	}
	qn := norm(query)
	hits := make([]models.SearchHit, 0, len(f.entries))
	for _, e := range f.entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hits = append(hits, models.SearchHit{ChunkID: e.Chunk.ID, Score: f.score(query, qn, e), Chunk: e.Chunk})
	}
	return SortHits(hits, k), nil
}

func (f *Flat) score(q []float32, qn float64, e entry) float64 {
	var dot float64
	for i := range q {
		dot += float64(q[i]) * float64(e.Vector[i])
	}
	if f.metric == MetricDot {
		return dot
	}
	if qn == 0 || e.Norm == 0 {
		return 0
	}
	return dot / (qn * e.Norm)
}

func (f *Flat) Reset(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = nil
	f.pos = map[string]int{}
	return nil
}

// Save writes dir/index.gob and dir/manifest.json.
func (f *Flat) Save(_ context.Context, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := Manifest{
		Version:    snapshotVer,
		Backend:    flatBackend,
		EmbedderID: f.embedderID,
		Dimension:  f.dim,
		Metric:     f.metric,
		Entries:    len(f.entries),
	}
	err := WriteFileAtomic(filepath.Join(dir, snapshotFile), func(file *os.File) error {
		return gob.NewEncoder(file).Encode(snapshot{Manifest: m, Entries: f.entries})
	})
	if err != nil {
		return fmt.Errorf("save index: %w", err)
	}
	if err := WriteManifest(dir, m); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	log.Info().Str("path", dir).Int("entries", len(f.entries)).Msg("Saved index snapshot")
	return nil
}

// Load replaces the contents with the snapshot in dir. The snapshot must have
// been built by the same embedder with the same dimension and metric.
func (f *Flat) Load(_ context.Context, dir string) error {
	file, err := os.Open(filepath.Join(dir, snapshotFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: no snapshot in %s", models.ErrIndexNotFound, dir)
		}
		return err
	}
	defer file.Close()

	var snap snapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return fmt.Errorf("%w: corrupt snapshot: %v", models.ErrIncompatibleIndex, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := snap.Manifest.Check(flatBackend, f.embedderID, f.dim, f.metric); err != nil {
		return err
	}
	f.dim = snap.Manifest.Dimension
	f.entries = snap.Entries
	f.pos = make(map[string]int, len(snap.Entries))
	for i, e := range snap.Entries {
		f.pos[e.Chunk.ID] = i
	}
	log.Info().Str("path", dir).Int("entries", len(f.entries)).Msg("Loaded index snapshot")
	return nil
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

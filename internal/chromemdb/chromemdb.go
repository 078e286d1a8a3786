package chromemdb

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"corpus-rag/internal/helper"
	"corpus-rag/internal/index"
	"corpus-rag/internal/models"
)

const (
	backendName = "chromem"
	compress    = false
	snapshotVer = 1

	// reserved metadata keys carrying chunk fields chromem has no slot for
	metaDocumentID = "_document_id"
	metaOffset     = "_offset"
)

// Options configures a chromem backed index.
type Options struct {
	Collection    string
	EmbedderID    string
	Dimension     int
	EncryptionKey string
}

// VectorDBManager is a chromem-go collection exposed as an index.VectorIndex.
// chromem normalises vectors on insert, so the metric is always cosine.
type VectorDBManager struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	opts       Options
}

// NewVectorDBManager creates an in-memory chromem DB holding one collection.
func NewVectorDBManager(opts Options) (*VectorDBManager, error) {
	if opts.Collection == "" {
		opts.Collection = "documents"
	}
	if k := opts.EncryptionKey; k != "" && len(k) != 32 {
		return nil, fmt.Errorf("%w: chromem encryption key must be 32 bytes", models.ErrInvalidConfig)
	}
	m := &VectorDBManager{db: chromem.NewDB(), opts: opts}
	if _, err := m.getOrCreateCollection(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *VectorDBManager) getOrCreateCollection() (*chromem.Collection, error) {
	// embeddings are always supplied, so the collection never calls an embedding func
	c, err := m.db.GetOrCreateCollection(m.opts.Collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %v", err)
	}
	m.collection = c
	return c, nil
}

func (m *VectorDBManager) Dimension() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opts.Dimension
}

func (m *VectorDBManager) EmbedderID() string { return m.opts.EmbedderID }

func (m *VectorDBManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collection.Count()
}

// Add stores chunks as chromem documents. chromem replaces documents with an
// existing id.
func (m *VectorDBManager) Add(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dim, err := index.ValidateAdd(chunks, vectors, m.opts.Dimension)
	if err != nil {
		return err
	}
	docs := make([]chromem.Document, len(chunks))
	for i, ch := range chunks {
		docs[i] = toDocument(ch, vectors[i])
	}
	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %v", err)
	}
	m.opts.Dimension = dim
	return nil
}

func (m *VectorDBManager) Search(ctx context.Context, query []float32, k int) ([]models.SearchHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := index.ValidateQuery(query, k, m.opts.Dimension); err != nil {
		return nil, err
	}
	n := m.collection.Count()
	if n == 0 || isZero(query) {
		return nil, nil
	}
	// chromem normalises a zero vector to NaN, which its top-k heap cannot
	// order, so every document is fetched and ranked here
	results, err := m.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: query,
		NResults:       n,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %v", err)
	}
	hits := make([]models.SearchHit, len(results))
	for i, r := range results {
		score := float64(r.Similarity)
		if math.IsNaN(score) {
			score = 0
		}
		hits[i] = models.SearchHit{ChunkID: r.ID, Score: score, Chunk: toChunk(r)}
	}
	return index.SortHits(hits, k), nil
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// Reset drops and recreates the collection.
func (m *VectorDBManager) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.db.DeleteCollection(m.opts.Collection); err != nil {
		return fmt.Errorf("failed to drop collection: %v", err)
	}
	_, err := m.getOrCreateCollection()
	return err
}

func (m *VectorDBManager) filePath(dir string) string {
	name := m.opts.Collection + ".gob"
	if m.opts.EncryptionKey != "" {
		name += ".enc"
	}
	return filepath.Join(dir, name)
}

// Save exports the collection to dir and writes the manifest next to it.
// The export is renamed into place, so a reader sees either the previous
// snapshot or the new one.
func (m *VectorDBManager) Save(_ context.Context, dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	path := m.filePath(dir)
	log.Debug().Str("collection", m.opts.Collection).Str("file", path).Bool("compress", compress).Msg("Exporting collection")
	if err := helper.CreateFolder(dir); err != nil {
		return err
	}
	tmp := path + ".tmp"
	defer os.Remove(tmp)
	if err := m.db.ExportToFile(tmp, compress, m.opts.EncryptionKey, m.opts.Collection); err != nil {
		return fmt.Errorf("failed to export database: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to export database: %v", err)
	}
	err := index.WriteManifest(dir, index.Manifest{
		Version:    snapshotVer,
		Backend:    backendName,
		EmbedderID: m.opts.EmbedderID,
		Dimension:  m.opts.Dimension,
		Metric:     index.MetricCosine,
		Entries:    m.collection.Count(),
	})
	if err != nil {
		return fmt.Errorf("failed to write manifest: %v", err)
	}
	return nil
}

// Load imports the collection exported to dir after checking its manifest.
func (m *VectorDBManager) Load(_ context.Context, dir string) error {
	manifest, err := index.ReadManifest(dir)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := manifest.Check(backendName, m.opts.EmbedderID, m.opts.Dimension, index.MetricCosine); err != nil {
		return err
	}
	if err := m.db.ImportFromFile(m.filePath(dir), m.opts.EncryptionKey, m.opts.Collection); err != nil {
		return fmt.Errorf("%w: failed to import database: %v", models.ErrIncompatibleIndex, err)
	}
	c := m.db.GetCollection(m.opts.Collection, nil)
	if c == nil {
		return fmt.Errorf("%w: collection %q missing from snapshot", models.ErrIncompatibleIndex, m.opts.Collection)
	}
	m.collection = c
	m.opts.Dimension = manifest.Dimension
	log.Info().Str("collection", c.Name).Int("entries", c.Count()).Msg("Imported collection")
	return nil
}

func toDocument(ch models.Chunk, vec []float32) chromem.Document {
	meta := make(map[string]string, len(ch.Metadata)+2)
	for k, v := range ch.Metadata {
		meta[k] = v
	}
	meta[metaDocumentID] = ch.DocumentID
	meta[metaOffset] = strconv.Itoa(ch.Offset)
	return chromem.Document{
		ID:        ch.ID,
		Content:   ch.Text,
		Metadata:  meta,
		Embedding: append([]float32(nil), vec...),
	}
}

func toChunk(r chromem.Result) models.Chunk {
	ch := models.Chunk{ID: r.ID, Text: r.Content, Metadata: map[string]string{}}
	for k, v := range r.Metadata {
		switch k {
		case metaDocumentID:
			ch.DocumentID = v
		case metaOffset:
			ch.Offset, _ = strconv.Atoi(v)
		default:
			ch.Metadata[k] = v
		}
	}
	return ch
}

package embedding

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"

	"corpus-rag/internal/helper"
)

var cacheBucket = []byte("embeddings")

// Cached memoises vectors of an inner embedder in a bbolt file. Keys combine
// the model id with the SHA-1 of the text, so entries of different models
// never mix.
type Cached struct {
	Embedder
	db *bolt.DB
}

// NewCached opens (or creates) the cache file at path.
func NewCached(inner Embedder, path string) (*Cached, error) {
	if err := helper.CreateFolder(filepath.Dir(path)); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cacheBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init embedding cache: %w", err)
	}
	return &Cached{Embedder: inner, db: db}, nil
}

func (c *Cached) Close() error { return c.db.Close() }

func (c *Cached) key(text string) []byte {
	h := sha1.Sum([]byte(text))
	return []byte(c.ModelID() + "\x00" + hex.EncodeToString(h[:]))
}

func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []int
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(cacheBucket)
		for i, t := range texts {
			if raw := b.Get(c.key(t)); raw != nil && len(raw)/4 == c.Dimension() {
				out[i] = decodeVector(raw)
				continue
			}
			missing = append(missing, i)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read embedding cache: %w", err)
	}
	if len(missing) == 0 {
		return out, nil
	}

	batch := make([]string, len(missing))
	for j, i := range missing {
		batch[j] = texts[i]
	}
	vecs, err := c.Embedder.Embed(ctx, batch)
	if err != nil {
		return nil, err
	}
	if err := checkVectors(vecs, len(batch), c.Dimension()); err != nil {
		return nil, err
	}
	err = c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(cacheBucket)
		for j, i := range missing {
			out[i] = vecs[j]
			if err := b.Put(c.key(texts[i]), encodeVector(vecs[j])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// the vectors are still good, only the cache write failed
		log.Warn().Err(err).Msg("Failed to write embedding cache")
	}
	log.Debug().Int("hits", len(texts)-len(missing)).Int("misses", len(missing)).Msg("Embedding cache")
	return out, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(raw []byte) []float32 {
	v := make([]float32, len(raw)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return v
}

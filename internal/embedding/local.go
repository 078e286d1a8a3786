package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"corpus-rag/internal/helper"
)

// HashEmbedder is an offline embedder: a signed feature-hashing bag of words
// over content tokens and adjacent token pairs, L2 normalised.
// It is deterministic and needs no model download.
type HashEmbedder struct {
	name string
	dim  int
}

func NewHashEmbedder(name string, dim int) *HashEmbedder {
	if name == "" {
		name = "hash-bow"
	}
	return &HashEmbedder{name: name, dim: dim}
}

func (e *HashEmbedder) Dimension() int { return e.dim }

func (e *HashEmbedder) ModelID() string { return fmt.Sprintf("local:%s:%d", e.name, e.dim) }

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dim)
	toks := helper.ContentTokens(text)
	for i, t := range toks {
		e.add(vec, t, 1)
		if i > 0 {
			e.add(vec, toks[i-1]+" "+t, 0.5)
		}
	}
	normalize(vec)
	return vec
}

func (e *HashEmbedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

func normalize(v []float32) {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
}

// Cosine returns the cosine similarity of a and b, 0 when either is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

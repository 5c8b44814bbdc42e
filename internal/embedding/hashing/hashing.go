package hashing

import (
	"context"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"

	"ragqa/internal/textutil"
)

// DefaultDimension matches the width of common sentence-embedding models.
const DefaultDimension = 384

// Embedder maps text to a fixed-width bag-of-words vector by hashing each
// content term into a bucket. It needs no corpus preparation, so the same
// text always yields the same vector regardless of what else is indexed.
type Embedder struct {
	dimension int
}

// NewEmbedder creates a hashing embedder producing vectors of the given width.
func NewEmbedder(dimension int) *Embedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Embedder{dimension: dimension}
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "hashing" }

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int { return e.dimension }

// Embed computes the hashed term-frequency embedding for the given text.
func (e *Embedder) Embed(_ context.Context, text string) ([]float64, error) {
	return e.embed(text), nil
}

// EmbedBatch embeds each text in order.
func (e *Embedder) EmbedBatch(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *Embedder) embed(text string) []float64 {
	vec := make([]float64, e.dimension)
	tf := make(map[string]int)
	for _, tok := range textutil.Terms(text) {
		tf[tok]++
	}
	if len(tf) == 0 {
		return vec
	}
	// Sorted so bucket sums are accumulated in the same order every time.
	terms := make([]string, 0, len(tf))
	for term := range tf {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	for _, term := range terms {
		bucket := xxhash.Sum64String(term) % uint64(e.dimension)
		vec[bucket] += 1 + math.Log(float64(tf[term]))
	}
	// L2 normalize
	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

package hashing

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestEmbedDeterministic(t *testing.T) {
	e := NewEmbedder(0)
	require.Equal(t, DefaultDimension, e.Dimension())

	text := "Python is a programming language created by Guido van Rossum"
	a, err := e.Embed(context.Background(), text)
	require.NoError(t, err)
	b, err := NewEmbedder(DefaultDimension).Embed(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, DefaultDimension)
}

func TestEmbedNormalised(t *testing.T) {
	v, err := NewEmbedder(64).Embed(context.Background(), "goroutines channels select goroutines")
	require.NoError(t, err)
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestEmbedStopwordsOnlyIsZero(t *testing.T) {
	v, err := NewEmbedder(16).Embed(context.Background(), "what is it")
	require.NoError(t, err)
	for _, x := range v {
		assert.Zero(t, x)
	}
}

func TestRelatedTextIsCloser(t *testing.T) {
	e := NewEmbedder(DefaultDimension)
	ctx := context.Background()
	vecs, err := e.EmbedBatch(ctx, []string{
		"Who created Python?",
		"Python\nPython is a programming language created by Guido van Rossum.",
		"The Eiffel Tower is in Paris.",
	})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	related := cosine(vecs[0], vecs[1])
	unrelated := cosine(vecs[0], vecs[2])
	assert.Greater(t, related, 0.3)
	assert.Greater(t, related, unrelated)
}

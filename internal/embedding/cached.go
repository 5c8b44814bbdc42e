package embedding

import (
	"context"
	"fmt"
	"slices"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"
)

// Cached memoises vectors by text. Concurrent misses for the same text share
// one call to the underlying embedder.
type Cached struct {
	inner Embedder
	cache *ristretto.Cache[string, []float64]
	group singleflight.Group
}

// NewCached wraps inner with a cache bounded to maxBytes of vector data.
func NewCached(inner Embedder, maxBytes int64) (*Cached, error) {
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	perVector := int64(inner.Dimension()) * 8
	if perVector <= 0 {
		perVector = 8
	}
	counters := 10 * (maxBytes / perVector)
	if counters < 1000 {
		counters = 1000
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, []float64]{
		NumCounters:        counters,
		MaxCost:            maxBytes,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Name() string   { return c.inner.Name() }
func (c *Cached) Dimension() int { return c.inner.Dimension() }

func (c *Cached) Embed(ctx context.Context, text string) ([]float64, error) {
	if v, ok := c.cache.Get(text); ok {
		return slices.Clone(v), nil
	}
	// The shared call outlives any one caller; each caller waits on its own ctx.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(text, func() (any, error) {
		v, err := c.inner.Embed(shared, text)
		if err != nil {
			return nil, err
		}
		c.store(text, v)
		return v, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]float64)), nil
	}
}

func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	var missing []int
	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = slices.Clone(v)
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	batch := make([]string, len(missing))
	for j, i := range missing {
		batch[j] = texts[i]
	}
	vecs, err := c.inner.EmbedBatch(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(batch) {
		return nil, fmt.Errorf("embedder %s returned %d vectors for %d texts", c.inner.Name(), len(vecs), len(batch))
	}
	for j, i := range missing {
		c.store(texts[i], vecs[j])
		out[i] = slices.Clone(vecs[j])
	}
	return out, nil
}

// Wait blocks until pending cache writes are visible.
func (c *Cached) Wait() { c.cache.Wait() }

func (c *Cached) Close() { c.cache.Close() }

func (c *Cached) store(text string, v []float64) {
	c.cache.Set(text, slices.Clone(v), int64(len(v))*8)
}

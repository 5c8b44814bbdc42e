package embedding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragqa/internal/domain"
	"ragqa/internal/embedding/hashing"
)

type countingEmbedder struct {
	Embedder
	single atomic.Int32
	batch  atomic.Int32
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	c.single.Add(1)
	return c.Embedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	c.batch.Add(int32(len(texts)))
	return c.Embedder.EmbedBatch(ctx, texts)
}

func TestCachedServesRepeatsFromCache(t *testing.T) {
	inner := &countingEmbedder{Embedder: hashing.NewEmbedder(32)}
	c, err := NewCached(inner, 1<<20)
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	a, err := c.Embed(ctx, "goroutine scheduler")
	require.NoError(t, err)
	c.Wait()
	b, err := c.Embed(ctx, "goroutine scheduler")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, int32(1), inner.single.Load())

	// returned vectors are copies
	a[0] = 42
	again, err := c.Embed(ctx, "goroutine scheduler")
	require.NoError(t, err)
	assert.NotEqual(t, 42.0, again[0])
}

func TestCachedBatchOnlyEmbedsMisses(t *testing.T) {
	inner := &countingEmbedder{Embedder: hashing.NewEmbedder(32)}
	c, err := NewCached(inner, 1<<20)
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	_, err = c.Embed(ctx, "alpha")
	require.NoError(t, err)
	c.Wait()

	vecs, err := c.EmbedBatch(ctx, []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, int32(2), inner.batch.Load())

	direct, _ := hashing.NewEmbedder(32).EmbedBatch(ctx, []string{"alpha", "beta", "gamma"})
	assert.Equal(t, direct, vecs)
}

type gatedEmbedder struct {
	Embedder
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.release:
	}
	return g.Embedder.Embed(ctx, text)
}

func TestCachedWaiterSurvivesLeaderCancellation(t *testing.T) {
	inner := &gatedEmbedder{
		Embedder: hashing.NewEmbedder(16),
		started:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	c, err := NewCached(inner, 1<<20)
	require.NoError(t, err)
	defer c.Close()

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.Embed(leaderCtx, "q")
		leaderErr <- err
	}()
	<-inner.started

	type result struct {
		vec []float64
		err error
	}
	follower := make(chan result, 1)
	go func() {
		v, err := c.Embed(context.Background(), "q")
		follower <- result{v, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(inner.release)
	got := <-follower
	require.NoError(t, got.err)
	assert.Len(t, got.vec, 16)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestLazyCoalescesInitAndWrapsFailure(t *testing.T) {
	var builds atomic.Int32
	fail := true
	l := NewLazy("hashing", 16, func(context.Context) (Embedder, error) {
		builds.Add(1)
		if fail {
			return nil, errors.New("weights missing")
		}
		return hashing.NewEmbedder(16), nil
	})
	assert.Equal(t, "hashing", l.Name())
	assert.Equal(t, 16, l.Dimension())

	_, err := l.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)

	fail = false
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.EmbedBatch(context.Background(), []string{"a", "b"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(2), builds.Load())
}

func TestLazyRejectsDimensionMismatch(t *testing.T) {
	l := NewLazy("hashing", 8, func(context.Context) (Embedder, error) {
		return hashing.NewEmbedder(16), nil
	})
	err := l.Warm(context.Background())
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
}

func TestInfo(t *testing.T) {
	assert.Equal(t, "hashing/384", Info(hashing.NewEmbedder(384)))
}

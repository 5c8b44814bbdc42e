package lazy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentFirstCallsCoalesce(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	v := New(func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "model", nil
	})

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := v.Get(context.Background())
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "model", r)
	}
	assert.True(t, v.Ready())
}

func TestFailureIsRetried(t *testing.T) {
	var calls atomic.Int32
	v := New(func(context.Context) (int, error) {
		if calls.Add(1) == 1 {
			return 0, errors.New("boom")
		}
		return 42, nil
	})

	_, err := v.Get(context.Background())
	require.Error(t, err)
	assert.False(t, v.Ready())

	got, err := v.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	got, err = v.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, int32(2), calls.Load())
}

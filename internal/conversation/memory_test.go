package conversation

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func questions(turns []Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Question
	}
	return out
}

func TestMemoryEvictsOldest(t *testing.T) {
	m := NewMemory(3)
	for i := 1; i <= 3; i++ {
		assert.False(t, m.Append(Turn{Question: fmt.Sprintf("q%d", i)}))
	}
	assert.True(t, m.Append(Turn{Question: "q4"}))
	assert.True(t, m.Append(Turn{Question: "q5"}))

	assert.Equal(t, 3, m.Len())
	assert.Equal(t, []string{"q3", "q4", "q5"}, questions(m.Recent(0)))
	assert.Equal(t, []string{"q4", "q5"}, questions(m.Recent(2)))

	last, ok := m.Last()
	require.True(t, ok)
	assert.Equal(t, "q5", last.Question)
}

func TestMemoryEmpty(t *testing.T) {
	m := NewMemory(0)
	assert.Equal(t, DefaultCapacity, m.Capacity())
	_, ok := m.Last()
	assert.False(t, ok)
	assert.Empty(t, m.Recent(5))
}

func TestMemoryConcurrentAppend(t *testing.T) {
	m := NewMemory(50)
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Append(Turn{Question: fmt.Sprintf("q%d", i)})
			_ = m.Recent(5)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, m.Len())
}

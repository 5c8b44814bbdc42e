package memory

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragqa/internal/domain"
)

func chunk(id string) domain.Chunk { return domain.Chunk{ChunkID: id, DocumentID: "doc-" + id, Text: id} }

func ids(res []domain.SearchResult) []string {
	out := make([]string, len(res))
	for i, r := range res {
		out[i] = r.Chunk.ChunkID
	}
	return out
}

func TestSearchOrdersByScoreThenInsertion(t *testing.T) {
	s := NewStorage(2)
	require.NoError(t, s.Upsert(
		[]domain.Chunk{chunk("a"), chunk("b"), chunk("c"), chunk("d")},
		[][]float64{{0, 1}, {1, 0}, {2, 0}, {1, 1}},
	))
	res, err := s.Search([]float64{1, 0}, 10, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d", "a"}, ids(res))
	assert.InDelta(t, 1.0, res[0].Score, 1e-12)
	assert.InDelta(t, 1.0, res[1].Score, 1e-12)
	assert.InDelta(t, math.Sqrt2/2, res[2].Score, 1e-12)

	res, err = s.Search([]float64{1, 0}, 1, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(res))
}

func TestSearchFloorBoundary(t *testing.T) {
	s := NewStorage(3)
	require.NoError(t, s.Upsert([]domain.Chunk{chunk("x")}, [][]float64{{0.3, 0.8, 0.2}}))
	q := []float64{1, 0.1, 0}

	res, err := s.Search(q, 5, -1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	exact := res[0].Score

	res, err = s.Search(q, 5, exact)
	require.NoError(t, err)
	assert.Len(t, res, 1, "a score equal to the floor is kept")

	res, err = s.Search(q, 5, math.Nextafter(exact, 2))
	require.NoError(t, err)
	assert.Empty(t, res, "a score just below the floor is dropped")
}

func TestSearchIsDeterministic(t *testing.T) {
	s := NewStorage(2)
	for i := 0; i < 20; i++ {
		require.NoError(t, s.Upsert([]domain.Chunk{chunk(fmt.Sprint(i))}, [][]float64{{float64(i % 3), 1}}))
	}
	a, err := s.Search([]float64{1, 1}, 7, 0)
	require.NoError(t, err)
	b, err := s.Search([]float64{1, 1}, 7, 0)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestUpsertReplacesInPlaceAndRemove(t *testing.T) {
	s := NewStorage(2)
	require.NoError(t, s.Upsert([]domain.Chunk{chunk("a"), chunk("b")}, [][]float64{{1, 0}, {1, 0}}))
	updated := chunk("a")
	updated.Text = "new text"
	require.NoError(t, s.Upsert([]domain.Chunk{updated}, [][]float64{{1, 0}}))
	assert.Equal(t, 2, s.Size())

	res, err := s.Search([]float64{1, 0}, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(res))
	assert.Equal(t, "new text", res[0].Chunk.Text)

	assert.Equal(t, 1, s.Remove("a", "missing"))
	assert.Equal(t, 1, s.Size())
	assert.Equal(t, 0, s.Remove("a"))
}

func TestUpsertIsAllOrNothing(t *testing.T) {
	s := NewStorage(2)
	err := s.Upsert([]domain.Chunk{chunk("a"), chunk("b")}, [][]float64{{1, 0}, {1, 0, 0}})
	require.Error(t, err)
	assert.Zero(t, s.Size())

	err = s.Upsert([]domain.Chunk{chunk("a")}, nil)
	require.Error(t, err)
	assert.Zero(t, s.Size())
}

func TestSearchRejectsWrongDimension(t *testing.T) {
	_, err := NewStorage(2).Search([]float64{1}, 1, 0)
	assert.Error(t, err)
}

func TestReplace(t *testing.T) {
	s := NewStorage(2)
	require.NoError(t, s.Upsert([]domain.Chunk{chunk("old")}, [][]float64{{1, 0}}))
	require.NoError(t, s.Replace([]domain.Chunk{chunk("n1"), chunk("n2")}, [][]float64{{0, 1}, {1, 0}}))
	res, err := s.Search([]float64{1, 0}, 5, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"n2", "n1"}, ids(res))
}

func TestConcurrentReadersSeeWholeBatches(t *testing.T) {
	s := NewStorage(2)
	const batches, perBatch = 50, 4
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for b := 0; b < batches; b++ {
			chunks := make([]domain.Chunk, perBatch)
			vecs := make([][]float64, perBatch)
			for i := range chunks {
				chunks[i] = chunk(fmt.Sprintf("%d-%d", b, i))
				vecs[i] = []float64{1, float64(i)}
			}
			assert.NoError(t, s.Upsert(chunks, vecs))
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				res, err := s.Search([]float64{1, 0}, 1000, -1)
				assert.NoError(t, err)
				assert.Zero(t, len(res)%perBatch)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, batches*perBatch, s.Size())
}

package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/vecdbcore/vector"
)

func testConfig() Config {
	c := DefaultConfig()
	c.EfConstruction = 32
	c.EfSearch = 16
	return c
}

func TestAddAndSearchFindsExactMatch(t *testing.T) {
	idx := New(3, testConfig())
	require.NoError(t, idx.Add("a", []float32{1, 0, 0}))
	require.NoError(t, idx.Add("b", []float32{0, 1, 0}))
	require.NoError(t, idx.Add("c", []float32{0, 0, 1}))

	results, err := idx.Search(context.Background(), []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestAddDimensionMismatch(t *testing.T) {
	idx := New(3, testConfig())
	err := idx.Add("a", []float32{1, 0})
	assert.Error(t, err)
}

func TestRemoveExcludesFromSearchAndSize(t *testing.T) {
	idx := New(2, testConfig())
	require.NoError(t, idx.Add("a", []float32{1, 0}))
	require.NoError(t, idx.Add("b", []float32{0, 1}))
	assert.Equal(t, 2, idx.Size())

	idx.Remove("a")
	assert.Equal(t, 1, idx.Size())

	results, err := idx.Search(context.Background(), []float32{1, 0}, 2)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.ID)
	}
}

func TestOptimizeReclaimsTombstones(t *testing.T) {
	idx := New(2, testConfig())
	require.NoError(t, idx.Add("a", []float32{1, 0}))
	require.NoError(t, idx.Add("b", []float32{0, 1}))
	idx.Remove("a")

	require.NoError(t, idx.Optimize())
	idx.mu.RLock()
	_, stillPresent := idx.nodes["a"]
	idx.mu.RUnlock()
	assert.False(t, stillPresent)
	assert.Equal(t, 1, idx.Size())
}

func TestUpdateChangesVector(t *testing.T) {
	idx := New(2, testConfig())
	require.NoError(t, idx.Add("a", []float32{1, 0}))
	require.NoError(t, idx.Update("a", []float32{0, 1}))

	results, err := idx.Search(context.Background(), []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestBufferAndFlush(t *testing.T) {
	idx := New(2, testConfig())
	require.NoError(t, idx.Buffer("a", []float32{1, 0}))
	require.NoError(t, idx.Buffer("b", []float32{0, 1}))
	assert.Equal(t, 0, idx.Size())

	require.NoError(t, idx.Flush())
	assert.Equal(t, 2, idx.Size())
}

func TestBufferDrainsAtBatchSize(t *testing.T) {
	c := testConfig()
	c.BatchSize = 2
	idx := New(2, c)

	require.NoError(t, idx.Buffer("a", []float32{1, 0}))
	assert.Equal(t, 0, idx.Size())
	require.NoError(t, idx.Buffer("b", []float32{0, 1}))
	assert.Equal(t, 2, idx.Size())
}

func TestSearchFlushesBufferedInserts(t *testing.T) {
	idx := New(2, testConfig())
	require.NoError(t, idx.Buffer("a", []float32{1, 0}))

	results, err := idx.Search(context.Background(), []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestRemoveReportsFound(t *testing.T) {
	idx := New(2, testConfig())
	assert.False(t, idx.Remove("missing"))

	require.NoError(t, idx.Add("a", []float32{1, 0}))
	assert.True(t, idx.Remove("a"))
	assert.False(t, idx.Remove("a"))
}

func TestRemoveDropsBufferedInsert(t *testing.T) {
	idx := New(2, testConfig())
	require.NoError(t, idx.Buffer("a", []float32{1, 0}))
	assert.True(t, idx.Remove("a"))

	require.NoError(t, idx.Flush())
	assert.Equal(t, 0, idx.Size())
}

func TestBatchAddValidatesBeforeMutating(t *testing.T) {
	idx := New(2, testConfig())
	err := idx.BatchAdd([]string{"a", "b"}, [][]float32{{1, 0}, {0, 0, 0}})
	assert.Error(t, err)
	assert.Equal(t, 0, idx.Size())
}

func TestEuclideanMetricOrdersByDistance(t *testing.T) {
	c := testConfig()
	c.Metric = vector.Euclidean
	idx := New(2, c)
	require.NoError(t, idx.Add("near", []float32{1, 1}))
	require.NoError(t, idx.Add("far", []float32{10, 10}))

	results, err := idx.Search(context.Background(), []float32{0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "near", results[0].ID)
}

func TestMemoryStatsCountsNodesTombstonesAndBuffer(t *testing.T) {
	idx := New(2, testConfig())
	require.NoError(t, idx.Add("a", []float32{1, 0}))
	require.NoError(t, idx.Add("b", []float32{0, 1}))
	idx.Remove("a")
	require.NoError(t, idx.Buffer("c", []float32{1, 1}))

	stats := idx.MemoryStats()
	assert.Equal(t, 2, stats.NodeCount)
	assert.Equal(t, 1, stats.TombstoneCount)
	assert.Equal(t, 1, stats.BufferedCount)
	assert.Equal(t, int64(2*2*4), stats.VectorBytes)
}

func TestEffectiveEfSearchAdaptsToSmallIndex(t *testing.T) {
	assert.Equal(t, 9, effectiveEfSearch(4, 3, 3))
	assert.Equal(t, 64, effectiveEfSearch(4, 20, 5))
	assert.Equal(t, 200, effectiveEfSearch(200, 20, 5))
}

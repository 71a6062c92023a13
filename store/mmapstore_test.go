package store

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestMmap(t *testing.T, dim int) (*MmapStorage, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vectors.mmap")
	s, err := OpenMmapStorage(path, dim)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestMmapAppendGetRoundTrip(t *testing.T) {
	s, _ := openTestMmap(t, 3)

	i, err := s.Append([]float32{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 0, i)

	j, err := s.Append([]float32{4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, 1, j)
	assert.Equal(t, 2, s.Len())

	got, err := s.Get(0)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, got)
	got, err = s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 5, 6}, got)
}

func TestMmapAppendDimensionMismatch(t *testing.T) {
	s, _ := openTestMmap(t, 3)
	_, err := s.Append([]float32{1, 2})
	assert.Error(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestMmapUpdateInPlace(t *testing.T) {
	s, _ := openTestMmap(t, 2)
	_, err := s.Append([]float32{1, 1})
	require.NoError(t, err)

	require.NoError(t, s.Update(0, []float32{7, 8}))
	got, err := s.Get(0)
	require.NoError(t, err)
	assert.Equal(t, []float32{7, 8}, got)
}

func TestMmapOutOfBoundsAccess(t *testing.T) {
	s, _ := openTestMmap(t, 2)
	_, err := s.Get(0)
	assert.Error(t, err)
	assert.Error(t, s.Update(0, []float32{1, 2}))
	assert.Error(t, s.Update(-1, []float32{1, 2}))
}

func TestMmapCountSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.mmap")
	s, err := OpenMmapStorage(path, 2)
	require.NoError(t, err)
	_, err = s.Append([]float32{1, 2})
	require.NoError(t, err)
	_, err = s.Append([]float32{3, 4})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := OpenMmapStorage(path, 2)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 2, reopened.Len())

	got, err := reopened.Get(1)
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, got)
}

func TestMmapOperationsAfterCloseFail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.mmap")
	s, err := OpenMmapStorage(path, 2)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Append([]float32{1, 2})
	assert.Error(t, err)
	_, err = s.Get(0)
	assert.Error(t, err)
	assert.Error(t, s.Flush())
}

func TestMmapGrowsPastInitialCapacity(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping growth test in short mode")
	}
	// Slot size 1200 bytes puts the initial capacity at exactly 1000
	// vectors, so the 1001st append forces a grow-and-remap.
	const dim = 300
	s, _ := openTestMmap(t, dim)

	vec := make([]float32, dim)
	for i := 0; i < 1001; i++ {
		vec[0] = float32(i)
		_, err := s.Append(vec)
		require.NoError(t, err, fmt.Sprintf("append %d", i))
	}
	assert.Equal(t, 1001, s.Len())

	got, err := s.Get(1000)
	require.NoError(t, err)
	assert.Equal(t, float32(1000), got[0])
}

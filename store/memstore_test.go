package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/vecdbcore/vecdberr"
)

func TestMemStorePutGetRoundTrip(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "c1", "a", []float32{1, 2, 3}, []byte("payload")))
	rec, err := s.Get(ctx, "c1", "a")
	require.NoError(t, err)
	assert.Equal(t, "a", rec.ID)
	assert.Equal(t, []float32{1, 2, 3}, rec.Vector)
	assert.Equal(t, []byte("payload"), rec.Payload)
}

func TestMemStoreGetMissingReturnsNotFound(t *testing.T) {
	s := NewMemStore()
	_, err := s.Get(context.Background(), "c1", "missing")
	assert.True(t, errors.Is(err, vecdberr.ErrNotFound))
}

func TestMemStoreDeleteIsIdempotent(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "c1", "a", []float32{1}, nil))
	require.NoError(t, s.Delete(ctx, "c1", "a"))
	require.NoError(t, s.Delete(ctx, "c1", "a"))
	_, err := s.Get(ctx, "c1", "a")
	assert.Error(t, err)
}

func TestMemStoreCollectionsAreIsolated(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "c1", "a", []float32{1}, nil))

	_, err := s.Get(ctx, "c2", "a")
	assert.Error(t, err)

	n, err := s.Count(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMemStoreListAndCount(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "c1", "a", []float32{1}, nil))
	require.NoError(t, s.Put(ctx, "c1", "b", []float32{2}, nil))

	ids, err := s.List(ctx, "c1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	n, err := s.Count(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemStoreClonesOnPut(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	vec := []float32{1, 2, 3}
	require.NoError(t, s.Put(ctx, "c1", "a", vec, nil))
	vec[0] = 99

	rec, err := s.Get(ctx, "c1", "a")
	require.NoError(t, err)
	assert.Equal(t, float32(1), rec.Vector[0])
}

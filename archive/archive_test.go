package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSourceTree(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "docs"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "images"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "docs", "a.bin"), []byte("hello vectors"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "docs", "b.bin"), []byte("more vector bytes, repeated repeated repeated"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "images", "c.bin"), []byte("image blob"), 0o644))
	return src
}

func TestWriteArchiveThenReadRoundTrips(t *testing.T) {
	src := writeSourceTree(t)
	dataDir := t.TempDir()

	w := NewWriter(dataDir, WriteOptions{
		CompressionLevel: 3,
		VectorCounts:     map[string]int{"docs": 2, "images": 1},
	})
	manifest, err := w.WriteArchive(src)
	require.NoError(t, err)
	assert.Equal(t, 2, manifest.CollectionCount())
	assert.Equal(t, 3, manifest.TotalVectors)
	assert.Equal(t, CompressionZstd, manifest.Compression)

	_, err = os.Stat(filepath.Join(dataDir, DefaultBaseName+".vecdb"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dataDir, DefaultBaseName+".vecidx"))
	require.NoError(t, err)

	r, err := OpenReader(dataDir, "")
	require.NoError(t, err)
	defer r.Close()

	got, err := r.ReadFile("docs", "a.bin")
	require.NoError(t, err)
	assert.Equal(t, "hello vectors", string(got))

	got, err = r.ReadFile("images", "c.bin")
	require.NoError(t, err)
	assert.Equal(t, "image blob", string(got))

	require.NoError(t, r.VerifyIntegrity())
}

func TestWriteArchiveWithoutCompressionStoresRaw(t *testing.T) {
	src := writeSourceTree(t)
	dataDir := t.TempDir()

	w := NewWriter(dataDir, WriteOptions{})
	manifest, err := w.WriteArchive(src)
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, manifest.Compression)
	assert.Equal(t, manifest.TotalSize, manifest.CompressedSize)

	r, err := OpenReader(dataDir, "")
	require.NoError(t, err)
	defer r.Close()
	got, err := r.ReadFile("docs", "b.bin")
	require.NoError(t, err)
	assert.Equal(t, "more vector bytes, repeated repeated repeated", string(got))
}

func TestReaderRejectsUnsupportedVersion(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, DefaultBaseName+".vecidx"),
		[]byte(`{"storage_version":"99","collections":{}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, DefaultBaseName+".vecdb"), nil, 0o644))

	_, err := OpenReader(dataDir, "")
	assert.Error(t, err)
}

func TestReadFileDetectsCorruption(t *testing.T) {
	src := writeSourceTree(t)
	dataDir := t.TempDir()

	w := NewWriter(dataDir, WriteOptions{VectorCounts: map[string]int{"docs": 2, "images": 1}})
	_, err := w.WriteArchive(src)
	require.NoError(t, err)

	vecdbPath := filepath.Join(dataDir, DefaultBaseName+".vecdb")
	raw, err := os.ReadFile(vecdbPath)
	require.NoError(t, err)
	corrupted := append([]byte(nil), raw...)
	corrupted[0] ^= 0xFF
	require.NoError(t, os.WriteFile(vecdbPath, corrupted, 0o644))

	r, err := OpenReader(dataDir, "")
	require.NoError(t, err)
	defer r.Close()

	_, err = r.ReadFile("docs", "a.bin")
	assert.Error(t, err)
}

func TestGetCollectionAndListCollections(t *testing.T) {
	src := writeSourceTree(t)
	dataDir := t.TempDir()
	w := NewWriter(dataDir, WriteOptions{VectorCounts: map[string]int{"docs": 2, "images": 1}})
	_, err := w.WriteArchive(src)
	require.NoError(t, err)

	r, err := OpenReader(dataDir, "")
	require.NoError(t, err)
	defer r.Close()

	names := r.ListCollections()
	assert.ElementsMatch(t, []string{"docs", "images"}, names)

	entry, err := r.GetCollection("docs")
	require.NoError(t, err)
	assert.Equal(t, 2, entry.VectorCount)
	assert.Len(t, entry.Files, 2)

	_, err = r.GetCollection("missing")
	assert.Error(t, err)
}

func TestCompactorTriggersAtThreshold(t *testing.T) {
	src := writeSourceTree(t)
	dataDir := t.TempDir()
	w := NewWriter(dataDir, WriteOptions{})
	c := NewCompactor(w, src, 3)

	c.RecordOperation()
	c.RecordOperation()
	assert.False(t, c.ShouldCompact())
	manifest, err := c.MaybeCompact()
	require.NoError(t, err)
	assert.Nil(t, manifest)

	c.RecordOperation()
	assert.True(t, c.ShouldCompact())
	manifest, err = c.MaybeCompact()
	require.NoError(t, err)
	require.NotNil(t, manifest)
	assert.Equal(t, 0, c.PendingOperations())
}

func TestCompactorForceCompactIgnoresThreshold(t *testing.T) {
	src := writeSourceTree(t)
	dataDir := t.TempDir()
	w := NewWriter(dataDir, WriteOptions{})
	c := NewCompactor(w, src, 1000)

	manifest, err := c.ForceCompact()
	require.NoError(t, err)
	require.NotNil(t, manifest)
}

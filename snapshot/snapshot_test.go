package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedVecdb(t *testing.T, dataDir string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "vectorizer.vecdb"), []byte("archive bytes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "vectorizer.vecidx"), []byte(`{"storage_version":"1"}`), 0o644))
}

func newTestManager(t *testing.T, maxSnapshots, retentionDays int) (*Manager, string) {
	t.Helper()
	dataDir := t.TempDir()
	seedVecdb(t, dataDir)
	m := New(Config{
		DataDir:       dataDir,
		SnapshotsDir:  filepath.Join(dataDir, "snapshots"),
		MaxSnapshots:  maxSnapshots,
		RetentionDays: retentionDays,
	})
	return m, dataDir
}

func TestCreateSnapshotCopiesFiles(t *testing.T) {
	m, _ := newTestManager(t, 48, 2)
	info, err := m.CreateSnapshot()
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)
	assert.Greater(t, info.SizeBytes, int64(0))

	data, err := os.ReadFile(filepath.Join(info.Path, "vectorizer.vecdb"))
	require.NoError(t, err)
	assert.Equal(t, "archive bytes", string(data))
}

func TestCreateSnapshotFailsWithoutVecdb(t *testing.T) {
	dataDir := t.TempDir()
	m := New(Config{DataDir: dataDir, SnapshotsDir: filepath.Join(dataDir, "snapshots")})
	_, err := m.CreateSnapshot()
	assert.Error(t, err)
}

func TestListSnapshotsSortedNewestFirst(t *testing.T) {
	m, _ := newTestManager(t, 48, 2)
	first, err := m.CreateSnapshot()
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	second, err := m.CreateSnapshot()
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	snapshots, err := m.ListSnapshots()
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Equal(t, second.ID, snapshots[0].ID)
}

func TestRestoreSnapshotOverwritesDataDir(t *testing.T) {
	m, dataDir := newTestManager(t, 48, 2)
	info, err := m.CreateSnapshot()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "vectorizer.vecdb"), []byte("corrupted"), 0o644))

	require.NoError(t, m.RestoreSnapshot(info.ID))
	data, err := os.ReadFile(filepath.Join(dataDir, "vectorizer.vecdb"))
	require.NoError(t, err)
	assert.Equal(t, "archive bytes", string(data))
}

func TestRestoreSnapshotMissingIDFails(t *testing.T) {
	m, _ := newTestManager(t, 48, 2)
	err := m.RestoreSnapshot("does-not-exist")
	assert.Error(t, err)
}

func TestDeleteSnapshotRemovesDirectory(t *testing.T) {
	m, _ := newTestManager(t, 48, 2)
	info, err := m.CreateSnapshot()
	require.NoError(t, err)

	ok, err := m.DeleteSnapshot(info.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	snapshots, err := m.ListSnapshots()
	require.NoError(t, err)
	assert.Empty(t, snapshots)
}

func TestDeleteSnapshotUnknownIDReturnsFalse(t *testing.T) {
	m, _ := newTestManager(t, 48, 2)
	ok, err := m.DeleteSnapshot("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCleanupEnforcesMaxSnapshotCount(t *testing.T) {
	m, _ := newTestManager(t, 2, 365)
	for i := 0; i < 4; i++ {
		_, err := m.CreateSnapshot()
		require.NoError(t, err)
		time.Sleep(1100 * time.Millisecond)
	}

	snapshots, err := m.ListSnapshots()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(snapshots), 2)
}

func TestListSnapshotsEmptyDirReturnsNoError(t *testing.T) {
	dataDir := t.TempDir()
	m := New(Config{DataDir: dataDir, SnapshotsDir: filepath.Join(dataDir, "snapshots")})
	snapshots, err := m.ListSnapshots()
	require.NoError(t, err)
	assert.Empty(t, snapshots)
}

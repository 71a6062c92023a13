// Package snapshot manages point-in-time backups of a data directory's
// .vecdb/.vecidx pair: timestamped copies kept under a snapshots
// directory, pruned by an age-then-count retention policy.
package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/orneryd/vecdbcore/vecdberr"
)

var defaultLogger = log.New(io.Discard, "", 0)

const metadataFileName = "snapshot.json"
const timestampLayout = "20060102_150405"

// Info describes one snapshot.
type Info struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	SizeBytes    int64     `json:"size_bytes"`
	IndexVersion string    `json:"index_version"`
	Path         string    `json:"-"`
}

// SizeMB returns the snapshot's .vecdb size in megabytes.
func (i Info) SizeMB() float64 { return float64(i.SizeBytes) / 1_048_576.0 }

// AgeHours returns how many hours old the snapshot is, as of now.
func (i Info) AgeHours() int64 { return int64(time.Since(i.CreatedAt).Hours()) }

// Manager creates, lists, restores, and prunes snapshots of a data
// directory's archive files.
type Manager struct {
	dataDir       string
	snapshotsDir  string
	baseName      string
	maxSnapshots  int
	retentionDays int
	logger        *log.Logger
}

// Config configures a Manager.
type Config struct {
	DataDir       string
	SnapshotsDir  string
	BaseName      string // defaults to archive.DefaultBaseName's value, "vectorizer"
	MaxSnapshots  int    // defaults to 48
	RetentionDays int    // defaults to 2
	Logger        *log.Logger
}

// New creates a snapshot Manager.
func New(cfg Config) *Manager {
	if cfg.BaseName == "" {
		cfg.BaseName = "vectorizer"
	}
	if cfg.MaxSnapshots <= 0 {
		cfg.MaxSnapshots = 48
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = defaultLogger
	}
	return &Manager{
		dataDir:       cfg.DataDir,
		snapshotsDir:  cfg.SnapshotsDir,
		baseName:      cfg.BaseName,
		maxSnapshots:  cfg.MaxSnapshots,
		retentionDays: cfg.RetentionDays,
		logger:        cfg.Logger,
	}
}

func (m *Manager) vecdbName() string  { return m.baseName + ".vecdb" }
func (m *Manager) vecidxName() string { return m.baseName + ".vecidx" }

// CreateSnapshot copies the current .vecdb/.vecidx pair into a new
// timestamped directory under the snapshots directory, writes its
// metadata, and prunes old snapshots per the retention policy.
func (m *Manager) CreateSnapshot() (Info, error) {
	if err := os.MkdirAll(m.snapshotsDir, 0o755); err != nil {
		return Info{}, fmt.Errorf("%w: create snapshots dir: %v", vecdberr.ErrIO, err)
	}

	id := time.Now().UTC().Format(timestampLayout)
	dir := filepath.Join(m.snapshotsDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Info{}, fmt.Errorf("%w: create snapshot dir: %v", vecdberr.ErrIO, err)
	}

	vecdbSrc := filepath.Join(m.dataDir, m.vecdbName())
	if _, err := os.Stat(vecdbSrc); err != nil {
		return Info{}, fmt.Errorf("%w: no %s to snapshot", vecdberr.ErrNotFound, m.vecdbName())
	}
	vecdbDst := filepath.Join(dir, m.vecdbName())
	if err := copyFile(vecdbSrc, vecdbDst); err != nil {
		return Info{}, err
	}

	vecidxSrc := filepath.Join(m.dataDir, m.vecidxName())
	if _, err := os.Stat(vecidxSrc); err == nil {
		if err := copyFile(vecidxSrc, filepath.Join(dir, m.vecidxName())); err != nil {
			return Info{}, err
		}
	}

	fi, err := os.Stat(vecdbDst)
	if err != nil {
		return Info{}, fmt.Errorf("%w: stat snapshot vecdb: %v", vecdberr.ErrIO, err)
	}

	info := Info{
		ID:           id,
		CreatedAt:    time.Now().UTC(),
		SizeBytes:    fi.Size(),
		IndexVersion: "1",
		Path:         dir,
	}
	if err := m.saveMetadata(info); err != nil {
		return Info{}, err
	}

	m.logger.Printf("snapshot: created %s (%s)", info.ID, humanize.Bytes(uint64(info.SizeBytes)))

	if _, err := m.CleanupOldSnapshots(); err != nil {
		return info, err
	}
	return info, nil
}

// ListSnapshots returns every snapshot under the snapshots directory,
// newest first. A missing snapshots directory yields an empty slice, not
// an error.
func (m *Manager) ListSnapshots() ([]Info, error) {
	entries, err := os.ReadDir(m.snapshotsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read snapshots dir: %v", vecdberr.ErrIO, err)
	}

	var snapshots []Info
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := m.loadMetadata(filepath.Join(m.snapshotsDir, e.Name()))
		if err != nil {
			continue
		}
		snapshots = append(snapshots, info)
	}

	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt) })
	return snapshots, nil
}

// GetSnapshot returns the snapshot with the given ID, or
// vecdberr.ErrNotFound.
func (m *Manager) GetSnapshot(id string) (Info, error) {
	snapshots, err := m.ListSnapshots()
	if err != nil {
		return Info{}, err
	}
	for _, s := range snapshots {
		if s.ID == id {
			return s, nil
		}
	}
	return Info{}, fmt.Errorf("%w: snapshot %q", vecdberr.ErrNotFound, id)
}

// RestoreSnapshot copies a snapshot's files back over the live
// .vecdb/.vecidx pair in the data directory. Both files are staged to temp
// paths first and then renamed into place one after the other, manifest
// last, so each file is replaced whole. The two renames are separate
// steps: a crash or failure between them leaves the restored .vecdb beside
// the previous .vecidx, a pair whose checksums no longer match.
func (m *Manager) RestoreSnapshot(id string) error {
	snapshot, err := m.GetSnapshot(id)
	if err != nil {
		return err
	}

	vecdbSrc := filepath.Join(snapshot.Path, m.vecdbName())
	if _, err := os.Stat(vecdbSrc); err != nil {
		return fmt.Errorf("%w: snapshot %s vecdb missing", vecdberr.ErrNotFound, id)
	}
	vecdbDst := filepath.Join(m.dataDir, m.vecdbName())
	if err := copyFile(vecdbSrc, vecdbDst+".restore"); err != nil {
		return err
	}

	vecidxSrc := filepath.Join(snapshot.Path, m.vecidxName())
	vecidxDst := filepath.Join(m.dataDir, m.vecidxName())
	restoreIdx := false
	if _, err := os.Stat(vecidxSrc); err == nil {
		if err := copyFile(vecidxSrc, vecidxDst+".restore"); err != nil {
			os.Remove(vecdbDst + ".restore")
			return err
		}
		restoreIdx = true
	}

	if err := os.Rename(vecdbDst+".restore", vecdbDst); err != nil {
		os.Remove(vecdbDst + ".restore")
		os.Remove(vecidxDst + ".restore")
		return fmt.Errorf("%w: rename restored vecdb: %v", vecdberr.ErrIO, err)
	}
	if restoreIdx {
		if err := os.Rename(vecidxDst+".restore", vecidxDst); err != nil {
			os.Remove(vecidxDst + ".restore")
			return fmt.Errorf("%w: rename restored vecidx: %v", vecdberr.ErrIO, err)
		}
	}

	m.logger.Printf("snapshot: restored %s", id)
	return nil
}

// DeleteSnapshot removes a snapshot directory. Returns false, nil if no
// such snapshot exists.
func (m *Manager) DeleteSnapshot(id string) (bool, error) {
	snapshot, err := m.GetSnapshot(id)
	if err != nil {
		return false, nil
	}
	if err := os.RemoveAll(snapshot.Path); err != nil {
		return false, fmt.Errorf("%w: remove snapshot dir: %v", vecdberr.ErrIO, err)
	}
	return true, nil
}

// CleanupOldSnapshots deletes snapshots older than the retention period,
// then, if more than MaxSnapshots remain, deletes the oldest excess ones.
// A snapshot that fails to delete is logged and skipped; the rest are still
// processed. Returns the number of snapshots deleted.
func (m *Manager) CleanupOldSnapshots() (int, error) {
	snapshots, err := m.ListSnapshots()
	if err != nil {
		return 0, err
	}

	deleted := 0
	cutoff := time.Now().UTC().AddDate(0, 0, -m.retentionDays)
	var kept []Info
	for _, s := range snapshots {
		if s.CreatedAt.Before(cutoff) {
			if ok, err := m.DeleteSnapshot(s.ID); err != nil {
				m.logger.Printf("snapshot: failed to delete %s: %v", s.ID, err)
			} else if ok {
				deleted++
				continue
			}
		}
		kept = append(kept, s)
	}

	if len(kept) > m.maxSnapshots {
		excess := kept[m.maxSnapshots:]
		for _, s := range excess {
			if ok, err := m.DeleteSnapshot(s.ID); err != nil {
				m.logger.Printf("snapshot: failed to delete %s: %v", s.ID, err)
			} else if ok {
				deleted++
			}
		}
	}

	if deleted > 0 {
		m.logger.Printf("snapshot: cleaned up %d old snapshots", deleted)
	}
	return deleted, nil
}

func (m *Manager) saveMetadata(info Info) error {
	raw, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal snapshot metadata: %v", vecdberr.ErrSerialization, err)
	}
	if err := os.WriteFile(filepath.Join(info.Path, metadataFileName), raw, 0o644); err != nil {
		return fmt.Errorf("%w: write snapshot metadata: %v", vecdberr.ErrIO, err)
	}
	return nil
}

func (m *Manager) loadMetadata(dir string) (Info, error) {
	path := filepath.Join(dir, metadataFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		vecdbPath := filepath.Join(dir, m.vecdbName())
		fi, statErr := os.Stat(vecdbPath)
		if statErr != nil {
			return Info{}, fmt.Errorf("%w: %s", vecdberr.ErrNotFound, dir)
		}
		return Info{
			ID:           filepath.Base(dir),
			CreatedAt:    fi.ModTime().UTC(),
			SizeBytes:    fi.Size(),
			IndexVersion: "1",
			Path:         dir,
		}, nil
	}

	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return Info{}, fmt.Errorf("%w: parse snapshot metadata: %v", vecdberr.ErrDeserialization, err)
	}
	info.Path = dir
	return info, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", vecdberr.ErrIO, src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", vecdberr.ErrIO, dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("%w: copy %s -> %s: %v", vecdberr.ErrIO, src, dst, err)
	}
	return out.Sync()
}

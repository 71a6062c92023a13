// Package migration converts a legacy flat-file vector store layout into
// the .vecdb/.vecidx archive format: back up the legacy directory, repack
// its files through the archive writer, verify the result, then remove the
// legacy files. A failed verification leaves the legacy files in place and
// the backup available for inspection.
package migration

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/orneryd/vecdbcore/archive"
	"github.com/orneryd/vecdbcore/vecdberr"
)

var defaultLogger = log.New(io.Discard, "", 0)

// legacySuffixes are the filename patterns that mark a flat, pre-archive
// data directory: the vector store itself plus its tokenizer and metadata
// sidecars, all prefixed by the collection name.
var legacySuffixes = []string{"_vector_store.bin", "_tokenizer.json", "_metadata.json"}

const backupPrefixFmt = ".bak.%s"
const backupTimestampLayout = "20060102_150405"

// legacyCollectionName strips the matching legacy suffix from a filename,
// yielding the collection name it belongs to. Returns false for files that
// are not part of the legacy layout.
func legacyCollectionName(name string) (string, bool) {
	for _, suffix := range legacySuffixes {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix), true
		}
	}
	return "", false
}

// Result reports the outcome of a migration attempt.
type Result struct {
	Success             bool
	CollectionsMigrated int
	BackupPath          string
	Message             string
}

// Migrator converts a legacy data directory into the archive format.
type Migrator struct {
	dataDir          string
	compressionLevel int
	baseName         string
	logger           *log.Logger
}

// New creates a Migrator for dataDir. compressionLevel is passed straight
// through to the archive writer; 0 disables compression.
func New(dataDir string, compressionLevel int) *Migrator {
	return &Migrator{dataDir: dataDir, compressionLevel: compressionLevel, baseName: archive.DefaultBaseName, logger: defaultLogger}
}

// SetLogger overrides the migrator's logger; nil restores the discard
// default.
func (m *Migrator) SetLogger(l *log.Logger) {
	if l == nil {
		l = defaultLogger
	}
	m.logger = l
}

// NeedsMigration reports whether dataDir holds legacy files and has not
// already been archived.
func (m *Migrator) NeedsMigration() bool {
	if _, err := os.Stat(filepath.Join(m.dataDir, m.baseName+".vecdb")); err == nil {
		return false
	}
	files, err := m.findLegacyFiles()
	if err != nil {
		return false
	}
	return len(files) > 0
}

// Migrate performs the full backup -> compact -> verify -> remove-legacy
// sequence. If the directory is already archived, it returns a no-op
// success result.
func (m *Migrator) Migrate() (Result, error) {
	m.logger.Printf("migration: checking storage format")

	if !m.NeedsMigration() {
		m.logger.Printf("migration: already archived, nothing to do")
		return Result{Success: true, Message: "already using archive format"}, nil
	}

	backupPath, err := m.createBackup()
	if err != nil {
		return Result{}, err
	}
	m.logger.Printf("migration: backup created at %s", backupPath)

	collections, err := m.groupLegacyFiles()
	if err != nil {
		return Result{}, err
	}

	sourceDir, err := os.MkdirTemp("", "vecdbcore-migration-*")
	if err != nil {
		return Result{}, fmt.Errorf("%w: create staging dir: %v", vecdberr.ErrIO, err)
	}
	defer os.RemoveAll(sourceDir)

	for name, files := range collections {
		collDir := filepath.Join(sourceDir, name)
		if err := os.MkdirAll(collDir, 0o755); err != nil {
			return Result{}, fmt.Errorf("%w: stage collection %s: %v", vecdberr.ErrIO, name, err)
		}
		for _, f := range files {
			if err := copyFile(filepath.Join(m.dataDir, f), filepath.Join(collDir, f)); err != nil {
				return Result{}, err
			}
		}
	}

	writer := archive.NewWriter(m.dataDir, archive.WriteOptions{CompressionLevel: m.compressionLevel})
	manifest, err := writer.WriteArchive(sourceDir)
	if err != nil {
		return Result{}, fmt.Errorf("migration compaction failed: %w", err)
	}

	reader, err := archive.OpenReader(m.dataDir, m.baseName)
	if err != nil {
		return Result{}, fmt.Errorf("migration verification failed to open archive: %w", err)
	}
	defer reader.Close()
	if err := reader.VerifyIntegrity(); err != nil {
		return Result{}, fmt.Errorf("%w: migration verification failed: %v", vecdberr.ErrCorrupted, err)
	}

	removed, err := m.removeLegacyFiles()
	if err != nil {
		return Result{}, err
	}
	m.logger.Printf("migration: removed %d legacy files", removed)
	m.logger.Printf("migration: migrated %d collections, backup kept at %s", manifest.CollectionCount(), backupPath)

	return Result{
		Success:             true,
		CollectionsMigrated: manifest.CollectionCount(),
		BackupPath:          backupPath,
		Message:             fmt.Sprintf("migrated %d collections", manifest.CollectionCount()),
	}, nil
}

// Rollback removes the archive files written by a migration and restores
// the legacy files from a backup previously returned in Result.BackupPath.
func (m *Migrator) Rollback(backupPath string) error {
	m.logger.Printf("migration: rolling back from %s", backupPath)

	if _, err := os.Stat(backupPath); err != nil {
		return fmt.Errorf("%w: backup %s not found", vecdberr.ErrNotFound, backupPath)
	}

	vecdbPath := filepath.Join(m.dataDir, m.baseName+".vecdb")
	vecidxPath := filepath.Join(m.dataDir, m.baseName+".vecidx")
	for _, p := range []string{vecdbPath, vecidxPath} {
		if _, err := os.Stat(p); err == nil {
			if err := os.Remove(p); err != nil {
				return fmt.Errorf("%w: remove %s: %v", vecdberr.ErrIO, p, err)
			}
		}
	}

	entries, err := os.ReadDir(backupPath)
	if err != nil {
		return fmt.Errorf("%w: read backup dir: %v", vecdberr.ErrIO, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(backupPath, e.Name()), filepath.Join(m.dataDir, e.Name())); err != nil {
			return err
		}
	}

	m.logger.Printf("migration: rollback complete")
	return nil
}

func (m *Migrator) findLegacyFiles() ([]string, error) {
	entries, err := os.ReadDir(m.dataDir)
	if err != nil {
		return nil, fmt.Errorf("%w: read data dir: %v", vecdberr.ErrIO, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := legacyCollectionName(e.Name()); ok {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// groupLegacyFiles maps a collection name (the filename prefix before the
// matching legacy suffix) to its legacy files, so a collection's vector
// store and its tokenizer/metadata sidecars land in the same collection
// directory of the archive.
func (m *Migrator) groupLegacyFiles() (map[string][]string, error) {
	files, err := m.findLegacyFiles()
	if err != nil {
		return nil, err
	}
	groups := make(map[string][]string)
	for _, f := range files {
		name, _ := legacyCollectionName(f)
		groups[name] = append(groups[name], f)
	}
	return groups, nil
}

func (m *Migrator) createBackup() (string, error) {
	timestamp := time.Now().UTC().Format(backupTimestampLayout)
	backupDir := filepath.Join(m.dataDir, fmt.Sprintf(backupPrefixFmt, timestamp))
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create backup dir: %v", vecdberr.ErrIO, err)
	}

	entries, err := os.ReadDir(m.dataDir)
	if err != nil {
		return "", fmt.Errorf("%w: read data dir: %v", vecdberr.ErrIO, err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".bak") {
			continue
		}
		if name == m.baseName+".vecdb" || name == m.baseName+".vecidx" {
			continue
		}
		if err := copyFile(filepath.Join(m.dataDir, name), filepath.Join(backupDir, name)); err != nil {
			m.logger.Printf("migration: warning: failed to back up %s: %v", name, err)
			continue
		}
	}

	return backupDir, nil
}

func (m *Migrator) removeLegacyFiles() (int, error) {
	files, err := m.findLegacyFiles()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, f := range files {
		if err := os.Remove(filepath.Join(m.dataDir, f)); err != nil {
			m.logger.Printf("migration: warning: failed to remove %s: %v", f, err)
			continue
		}
		removed++
	}
	return removed, nil
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

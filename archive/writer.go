package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"

	"github.com/orneryd/vecdbcore/vecdberr"
)

var defaultLogger = log.New(io.Discard, "", 0)

// WriteOptions configures a Writer.
type WriteOptions struct {
	// BaseName overrides the default "vectorizer" archive file stem.
	BaseName string
	// CompressionLevel is a zstd level 1..22. 0 disables compression
	// entirely (blobs are stored raw).
	CompressionLevel int
	// VectorCounts optionally supplies the vector_count recorded per
	// collection; the writer itself only sees opaque file bytes and has
	// no way to derive a vector count from them, so the caller (which
	// does know, from its store/collection layer) provides it here. A
	// collection absent from this map gets vector_count 0.
	VectorCounts map[string]int
	Logger       *log.Logger
}

func (o WriteOptions) withDefaults() WriteOptions {
	if o.BaseName == "" {
		o.BaseName = DefaultBaseName
	}
	if o.Logger == nil {
		o.Logger = defaultLogger
	}
	return o
}

// Writer builds a .vecdb/.vecidx pair from a collections directory
// structured <name>/<file>*. The walk is deterministic (collections and
// files sorted by name) so two runs over the same tree produce manifests
// that differ only in timestamps.
type Writer struct {
	dataDir string
	opts    WriteOptions
}

// NewWriter creates a Writer that writes into dataDir.
func NewWriter(dataDir string, opts WriteOptions) *Writer {
	return &Writer{dataDir: dataDir, opts: opts.withDefaults()}
}

// WriteArchive walks sourceDir (a "collections" directory: one
// subdirectory per collection, each holding that collection's files),
// compresses and appends every file's bytes into a temp .vecdb, and writes
// the accompanying .vecidx manifest. The temp files are renamed into place,
// .vecdb first and .vecidx second, only after the whole walk succeeds; a
// failure before the first rename leaves the previous archive (if any)
// untouched. The two renames are separate steps, so a failure between them
// leaves the new .vecdb beside the previous .vecidx.
func (w *Writer) WriteArchive(sourceDir string) (Manifest, error) {
	collDirs, err := os.ReadDir(sourceDir)
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: read collections dir: %v", vecdberr.ErrIO, err)
	}
	names := make([]string, 0, len(collDirs))
	for _, e := range collDirs {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	vecdbPath, vecidxPath := w.paths()
	tmpVecdb, err := os.CreateTemp(w.dataDir, filepath.Base(vecdbPath)+".tmp-*")
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: create temp vecdb: %v", vecdberr.ErrIO, err)
	}
	tmpVecdbPath := tmpVecdb.Name()
	defer os.Remove(tmpVecdbPath) // no-op once renamed

	now := time.Now().UTC()
	manifest := Manifest{
		StorageVersion: StorageVersion,
		CreatedAt:      now,
		UpdatedAt:      now,
		Compression:    CompressionNone,
		Collections:    make(map[string]CollectionEntry, len(names)),
	}
	if w.opts.CompressionLevel > 0 {
		manifest.Compression = CompressionZstd
	}

	var offset int64
	for _, name := range names {
		entries, collTotal, collCompressed, err := w.writeCollection(tmpVecdb, &offset, sourceDir, name)
		if err != nil {
			tmpVecdb.Close()
			return Manifest{}, err
		}
		manifest.Collections[name] = CollectionEntry{
			Files:       entries,
			VectorCount: w.opts.VectorCounts[name],
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		manifest.TotalSize += collTotal
		manifest.CompressedSize += collCompressed
	}
	for _, c := range manifest.Collections {
		manifest.TotalVectors += c.VectorCount
	}

	if err := tmpVecdb.Sync(); err != nil {
		tmpVecdb.Close()
		return Manifest{}, fmt.Errorf("%w: sync vecdb: %v", vecdberr.ErrIO, err)
	}
	if err := tmpVecdb.Close(); err != nil {
		return Manifest{}, fmt.Errorf("%w: close vecdb: %v", vecdberr.ErrIO, err)
	}

	tmpVecidxPath, err := w.writeManifestTemp(manifest)
	if err != nil {
		return Manifest{}, err
	}
	defer os.Remove(tmpVecidxPath)

	if err := os.Rename(tmpVecdbPath, vecdbPath); err != nil {
		return Manifest{}, fmt.Errorf("%w: rename vecdb into place: %v", vecdberr.ErrIO, err)
	}
	if err := os.Rename(tmpVecidxPath, vecidxPath); err != nil {
		return Manifest{}, fmt.Errorf("%w: rename vecidx into place: %v", vecdberr.ErrIO, err)
	}

	w.opts.Logger.Printf("archive: compaction complete: %d collections, %s total, %s compressed (%.1f%%)",
		manifest.CollectionCount(),
		humanize.Bytes(uint64(manifest.TotalSize)),
		humanize.Bytes(uint64(manifest.CompressedSize)),
		manifest.CompressionRatio()*100)

	return manifest, nil
}

func (w *Writer) writeCollection(dst *os.File, offset *int64, sourceDir, name string) ([]FileEntry, int64, int64, error) {
	collDir := filepath.Join(sourceDir, name)
	fileInfos, err := os.ReadDir(collDir)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: read collection dir %s: %v", vecdberr.ErrIO, name, err)
	}
	fileNames := make([]string, 0, len(fileInfos))
	for _, fi := range fileInfos {
		if !fi.IsDir() {
			fileNames = append(fileNames, fi.Name())
		}
	}
	sort.Strings(fileNames)

	var entries []FileEntry
	var totalBefore, totalAfter int64

	for _, fname := range fileNames {
		raw, err := os.ReadFile(filepath.Join(collDir, fname))
		if err != nil {
			return nil, 0, 0, fmt.Errorf("%w: read %s/%s: %v", vecdberr.ErrIO, name, fname, err)
		}

		checksum := fmt.Sprintf("%016x", xxhash.Sum64(raw))
		payload := raw
		compressed := false
		if w.opts.CompressionLevel > 0 {
			enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(w.opts.CompressionLevel)))
			if err != nil {
				return nil, 0, 0, fmt.Errorf("%w: create zstd encoder: %v", vecdberr.ErrInternal, err)
			}
			payload = enc.EncodeAll(raw, nil)
			enc.Close()
			compressed = true
		}

		if _, err := dst.Write(payload); err != nil {
			return nil, 0, 0, fmt.Errorf("%w: write blob %s/%s: %v", vecdberr.ErrIO, name, fname, err)
		}

		entries = append(entries, FileEntry{
			Path:       name + "/" + fname,
			Offset:     *offset,
			SizeBefore: int64(len(raw)),
			SizeAfter:  int64(len(payload)),
			Checksum:   checksum,
			Compressed: compressed,
		})
		*offset += int64(len(payload))
		totalBefore += int64(len(raw))
		totalAfter += int64(len(payload))
	}

	return entries, totalBefore, totalAfter, nil
}

func (w *Writer) paths() (vecdbPath, vecidxPath string) {
	base := filepath.Join(w.dataDir, w.opts.BaseName)
	return base + ".vecdb", base + ".vecidx"
}

// writeManifestTemp marshals manifest to JSON and writes it to a temp file
// alongside the final .vecidx location, returning the temp path for the
// caller to rename into place.
func (w *Writer) writeManifestTemp(manifest Manifest) (string, error) {
	_, vecidxPath := w.paths()
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: marshal manifest: %v", vecdberr.ErrSerialization, err)
	}
	f, err := os.CreateTemp(w.dataDir, filepath.Base(vecidxPath)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("%w: create temp vecidx: %v", vecdberr.ErrIO, err)
	}
	defer f.Close()
	if _, err := f.Write(raw); err != nil {
		return "", fmt.Errorf("%w: write vecidx: %v", vecdberr.ErrIO, err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("%w: sync vecidx: %v", vecdberr.ErrIO, err)
	}
	return f.Name(), nil
}

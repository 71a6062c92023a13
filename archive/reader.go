package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/orneryd/vecdbcore/vecdberr"
)

// Reader opens a previously written .vecdb/.vecidx pair for random-access
// reads, verifying each blob's checksum against the manifest on read. The
// manifest is parsed in full before any blob is touched.
type Reader struct {
	vecdbPath string
	manifest  Manifest

	mu      sync.Mutex
	vecdb   *os.File
	decoder *zstd.Decoder
}

// OpenReader parses dataDir/baseName.vecidx and opens dataDir/baseName.vecdb
// for reading. Fails with vecdberr.ErrUnsupportedVersion if the manifest's
// storage_version is not StorageVersion.
func OpenReader(dataDir, baseName string) (*Reader, error) {
	if baseName == "" {
		baseName = DefaultBaseName
	}
	base := filepath.Join(dataDir, baseName)
	vecidxPath := base + ".vecidx"
	vecdbPath := base + ".vecdb"

	raw, err := os.ReadFile(vecidxPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %v", vecdberr.ErrIO, err)
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("%w: parse manifest: %v", vecdberr.ErrDeserialization, err)
	}
	if manifest.StorageVersion != StorageVersion {
		return nil, fmt.Errorf("%w: archive is version %q, this build reads %q",
			vecdberr.ErrUnsupportedVersion, manifest.StorageVersion, StorageVersion)
	}

	f, err := os.Open(vecdbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open vecdb: %v", vecdberr.ErrIO, err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: create zstd decoder: %v", vecdberr.ErrInternal, err)
	}

	return &Reader{vecdbPath: vecdbPath, manifest: manifest, vecdb: f, decoder: dec}, nil
}

// Manifest returns the archive's parsed manifest.
func (r *Reader) Manifest() Manifest { return r.manifest }

// ListCollections returns the names of every collection recorded in the
// manifest, in no particular order.
func (r *Reader) ListCollections() []string {
	names := make([]string, 0, len(r.manifest.Collections))
	for name := range r.manifest.Collections {
		names = append(names, name)
	}
	return names
}

// GetCollection returns the manifest entry for a named collection.
func (r *Reader) GetCollection(name string) (CollectionEntry, error) {
	entry, ok := r.manifest.Collections[name]
	if !ok {
		return CollectionEntry{}, fmt.Errorf("%w: collection %q", vecdberr.ErrCollectionNotFound, name)
	}
	return entry, nil
}

// ReadFile returns the decompressed, checksum-verified bytes of the blob
// recorded at "<collection>/<file>". Fails with vecdberr.ErrNotFound if no
// such path is recorded, or vecdberr.ErrCorrupted if the checksum does not
// match the manifest.
func (r *Reader) ReadFile(collection, file string) ([]byte, error) {
	entry, ok := r.manifest.Collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: collection %q", vecdberr.ErrCollectionNotFound, collection)
	}
	path := collection + "/" + file
	var fe *FileEntry
	for i := range entry.Files {
		if entry.Files[i].Path == path {
			fe = &entry.Files[i]
			break
		}
	}
	if fe == nil {
		return nil, fmt.Errorf("%w: %s", vecdberr.ErrNotFound, path)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	buf := make([]byte, fe.SizeAfter)
	if _, err := r.vecdb.ReadAt(buf, fe.Offset); err != nil {
		return nil, fmt.Errorf("%w: read blob %s: %v", vecdberr.ErrIO, path, err)
	}

	raw := buf
	if fe.Compressed {
		decoded, err := r.decoder.DecodeAll(buf, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress %s: %v", vecdberr.ErrCorrupted, path, err)
		}
		raw = decoded
	}

	if got := fmt.Sprintf("%016x", xxhash.Sum64(raw)); got != fe.Checksum {
		return nil, fmt.Errorf("%w: %s checksum mismatch: manifest says %s, got %s",
			vecdberr.ErrCorrupted, path, fe.Checksum, got)
	}

	return raw, nil
}

// VerifyIntegrity reads and checksum-verifies every blob recorded in the
// manifest, returning the first error encountered.
func (r *Reader) VerifyIntegrity() error {
	for collName, entry := range r.manifest.Collections {
		for _, fe := range entry.Files {
			_, file := filepath.Split(fe.Path)
			if _, err := r.ReadFile(collName, file); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vecdb.Close()
}

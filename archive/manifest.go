// Package archive implements the .vecdb/.vecidx durable container format:
// a JSON manifest (.vecidx) that is the ground truth for an
// append-tolerant, optionally zstd-compressed binary blob file (.vecdb).
// Blobs carry no headers of their own; every offset, size, and checksum
// lives in the manifest.
package archive

import "time"

// StorageVersion is the manifest format version this build writes and the
// only version it reads without UnsupportedVersion.
const StorageVersion = "1"

// DefaultBaseName is the archive file stem used when no override is given:
// files are named "<base>.vecdb" and "<base>.vecidx".
const DefaultBaseName = "vectorizer"

// CompressionZstd is the only compression algorithm this build writes.
const CompressionZstd = "zstd"

// CompressionNone marks blobs stored raw, uncompressed.
const CompressionNone = "none"

// FileEntry describes one blob's location and verification data within the
// .vecdb body.
type FileEntry struct {
	// Path is "<collection>/<file>", the key read_file looks up by.
	Path string `json:"path"`
	// Offset is this blob's starting byte position in the .vecdb file.
	Offset int64 `json:"offset"`
	// SizeBefore is the blob's length before compression (the original
	// file's size).
	SizeBefore int64 `json:"size_before"`
	// SizeAfter is the blob's length as stored in .vecdb: the byte range
	// read is [Offset, Offset+SizeAfter).
	SizeAfter int64 `json:"size_after"`
	// Checksum is an xxhash64 digest (lowercase hex) of the original,
	// uncompressed file content.
	Checksum string `json:"checksum"`
	// Compressed reports whether this blob is a zstd frame (true) or
	// stored raw (false).
	Compressed bool `json:"compressed"`
}

// CollectionEntry is one collection's manifest record.
type CollectionEntry struct {
	Files       []FileEntry `json:"files"`
	VectorCount int         `json:"vector_count"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Manifest is the parsed contents of a .vecidx file — the archive's ground
// truth. Opening an archive always means parsing this before any blob is
// read.
type Manifest struct {
	StorageVersion string                     `json:"storage_version"`
	CreatedAt      time.Time                  `json:"created_at"`
	UpdatedAt      time.Time                  `json:"updated_at"`
	Compression    string                     `json:"compression"`
	Collections    map[string]CollectionEntry `json:"collections"`
	TotalVectors   int                        `json:"total_vectors"`
	TotalSize      int64                      `json:"total_size"`
	CompressedSize int64                      `json:"compressed_size"`
}

// CollectionCount returns the number of collections recorded in the
// manifest.
func (m Manifest) CollectionCount() int { return len(m.Collections) }

// CompressionRatio returns compressed_size/total_size, or 0 for an empty
// archive.
func (m Manifest) CompressionRatio() float64 {
	if m.TotalSize == 0 {
		return 0
	}
	return float64(m.CompressedSize) / float64(m.TotalSize)
}

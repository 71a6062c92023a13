// Package vecdberr defines the sentinel errors shared across vecdbcore's
// packages and a classifier for mapping a wrapped error back to a kind.
package vecdberr

import "errors"

// Sentinel errors. Packages wrap these with fmt.Errorf("...: %w", err) so
// callers can still use errors.Is against the sentinel.
var (
	// ErrDimensionMismatch is returned when a vector's length does not
	// match a collection's configured dimension.
	ErrDimensionMismatch = errors.New("vecdbcore: dimension mismatch")

	// ErrNotFound is returned when a vector ID, collection, snapshot, or
	// archive entry does not exist.
	ErrNotFound = errors.New("vecdbcore: not found")

	// ErrAlreadyExists is returned when creating a collection or vector ID
	// that already exists.
	ErrAlreadyExists = errors.New("vecdbcore: already exists")

	// ErrClosed is returned when an operation is attempted on a store,
	// archive, or collection that has already been closed.
	ErrClosed = errors.New("vecdbcore: closed")

	// ErrCorrupted is returned when an archive manifest, blob checksum, or
	// snapshot metadata file fails validation.
	ErrCorrupted = errors.New("vecdbcore: corrupted")

	// ErrRebuildInProgress is returned when a caller requests a rebuild
	// while one is already running.
	ErrRebuildInProgress = errors.New("vecdbcore: rebuild already in progress")

	// ErrInvalidConfig is returned when a configuration struct fails
	// validation (e.g. a non-positive collection dimension), or when
	// index.BatchAdd gets id and vector slices of different lengths.
	ErrInvalidConfig = errors.New("vecdbcore: invalid configuration")

	// ErrInvalidValue is returned when a vector component is non-finite, or
	// an ID is empty or exceeds the 256-byte limit.
	ErrInvalidValue = errors.New("vecdbcore: invalid value")

	// ErrCollectionNotFound is returned when a named collection does not
	// exist.
	ErrCollectionNotFound = errors.New("vecdbcore: collection not found")

	// ErrCollectionAlreadyExists is returned when creating a collection
	// whose name is already in use.
	ErrCollectionAlreadyExists = errors.New("vecdbcore: collection already exists")

	// ErrIndexNotReady is returned when SwapIndex is called before a
	// rebuild has reached Ready.
	ErrIndexNotReady = errors.New("vecdbcore: index not ready for swap")

	// ErrIO wraps any filesystem error surfaced by the archive, snapshot,
	// or migration packages.
	ErrIO = errors.New("vecdbcore: io error")

	// ErrSerialization is returned when encoding a manifest or metadata
	// file to JSON fails.
	ErrSerialization = errors.New("vecdbcore: serialization error")

	// ErrDeserialization is returned when decoding a manifest or metadata
	// file from JSON fails.
	ErrDeserialization = errors.New("vecdbcore: deserialization error")

	// ErrUnsupportedVersion is returned when an archive's storage_version
	// is not one this build knows how to read.
	ErrUnsupportedVersion = errors.New("vecdbcore: unsupported archive version")

	// ErrInternal covers bug-class failures that are not expected to occur
	// given correct inputs and a healthy filesystem.
	ErrInternal = errors.New("vecdbcore: internal error")
)

// Kind classifies an error (which may be wrapped) into a coarse category,
// for callers that want to branch on error type without a long errors.Is
// chain of their own.
type Kind int

const (
	// KindUnknown covers any error not recognized as one of the sentinels
	// below, including errors from the underlying filesystem or codec.
	KindUnknown Kind = iota
	KindDimensionMismatch
	KindNotFound
	KindAlreadyExists
	KindClosed
	KindCorrupted
	KindRebuildInProgress
	KindInvalidConfig
	KindInvalidValue
	KindCollectionNotFound
	KindCollectionAlreadyExists
	KindIndexNotReady
	KindIO
	KindSerialization
	KindDeserialization
	KindUnsupportedVersion
	KindInternal
)

// ClassifyKind maps err (possibly wrapped) to its Kind.
func ClassifyKind(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrDimensionMismatch):
		return KindDimensionMismatch
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyExists):
		return KindAlreadyExists
	case errors.Is(err, ErrClosed):
		return KindClosed
	case errors.Is(err, ErrCorrupted):
		return KindCorrupted
	case errors.Is(err, ErrRebuildInProgress):
		return KindRebuildInProgress
	case errors.Is(err, ErrInvalidConfig):
		return KindInvalidConfig
	case errors.Is(err, ErrInvalidValue):
		return KindInvalidValue
	case errors.Is(err, ErrCollectionNotFound):
		return KindCollectionNotFound
	case errors.Is(err, ErrCollectionAlreadyExists):
		return KindCollectionAlreadyExists
	case errors.Is(err, ErrIndexNotReady):
		return KindIndexNotReady
	case errors.Is(err, ErrIO):
		return KindIO
	case errors.Is(err, ErrSerialization):
		return KindSerialization
	case errors.Is(err, ErrDeserialization):
		return KindDeserialization
	case errors.Is(err, ErrUnsupportedVersion):
		return KindUnsupportedVersion
	case errors.Is(err, ErrInternal):
		return KindInternal
	default:
		return KindUnknown
	}
}

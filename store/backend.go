// Package store implements the vector storage layer: the place collection
// vectors and their payloads actually live, independent of how they are
// indexed for search.
//
// Two Backend implementations are provided. memstore keeps everything in a
// Go map and is the default for tests and small collections. badgerstore
// persists through BadgerDB for durability without managing raw files
// directly. A third store, mmapstore (MmapStorage), is a memory-mapped
// vector log addressed by integer slot rather than string ID: it appends
// and overwrites fixed-size slots in place, has no payloads and no delete,
// and does not implement Backend.
package store

import "context"

// Record is a stored vector plus its opaque payload (metadata the caller
// attached at insert time; vecdbcore does not interpret it).
type Record struct {
	ID      string
	Vector  []float32
	Payload []byte
}

// Backend is the storage-backend contract every vector store implementation
// satisfies. A collection is built on top of exactly one Backend plus an
// index; swapping backends never changes index behavior.
type Backend interface {
	// Put stores or overwrites the vector and payload for id.
	Put(ctx context.Context, collection, id string, vector []float32, payload []byte) error

	// Get retrieves the vector and payload for id.
	Get(ctx context.Context, collection, id string) (Record, error)

	// Delete removes id. Deleting a missing id is not an error.
	Delete(ctx context.Context, collection, id string) error

	// List returns every id currently stored in collection, in no
	// particular order.
	List(ctx context.Context, collection string) ([]string, error)

	// Count returns the number of ids currently stored in collection.
	Count(ctx context.Context, collection string) (int, error)

	// Close releases any resources (file handles, database connections)
	// held by the backend.
	Close() error
}

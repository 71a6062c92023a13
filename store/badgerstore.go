package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/orneryd/vecdbcore/vecdberr"
)

// recordPrefix namespaces every vector key so a BadgerStore can one day
// share a database with other key spaces without collision.
const recordPrefix = byte(0x01)

// BadgerOptions configures a BadgerStore. It exposes a DataDir plus an
// InMemory escape hatch for tests, rather than the full badger.Options
// surface.
type BadgerOptions struct {
	// DataDir is the directory BadgerDB stores its files in. Required
	// unless InMemory is set.
	DataDir string
	// InMemory runs BadgerDB with no on-disk files. Data does not survive
	// process restart; useful for tests.
	InMemory bool
	// SyncWrites forces an fsync after every write. Slower, more durable.
	SyncWrites bool
}

// BadgerStore is a Backend persisted through BadgerDB.
//
// Keys are laid out as prefix(0x01) + collection + 0x00 + id, so
// listing a collection is a single prefix scan.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a BadgerDB-backed store at the given
// options.
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	bopts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		bopts = bopts.WithInMemory(true)
	}
	bopts = bopts.WithSyncWrites(opts.SyncWrites)
	bopts = bopts.WithLogger(nil)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("vecdbcore: open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func recordKey(collection, id string) []byte {
	key := make([]byte, 0, 1+len(collection)+1+len(id))
	key = append(key, recordPrefix)
	key = append(key, collection...)
	key = append(key, 0x00)
	key = append(key, id...)
	return key
}

func collectionPrefix(collection string) []byte {
	prefix := make([]byte, 0, 1+len(collection)+1)
	prefix = append(prefix, recordPrefix)
	prefix = append(prefix, collection...)
	prefix = append(prefix, 0x00)
	return prefix
}

type gobRecord struct {
	Vector  []float32
	Payload []byte
}

func encodeRecord(vec []float32, payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(gobRecord{Vector: vec, Payload: payload}); err != nil {
		return nil, fmt.Errorf("vecdbcore: encode record: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRecord(id string, raw []byte) (Record, error) {
	var gr gobRecord
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&gr); err != nil {
		return Record{}, fmt.Errorf("%w: decode record %q: %v", vecdberr.ErrCorrupted, id, err)
	}
	return Record{ID: id, Vector: gr.Vector, Payload: gr.Payload}, nil
}

func (b *BadgerStore) Put(_ context.Context, collection, id string, vec []float32, payload []byte) error {
	raw, err := encodeRecord(vec, payload)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(collection, id), raw)
	})
}

func (b *BadgerStore) Get(_ context.Context, collection, id string) (Record, error) {
	var rec Record
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(collection, id))
		if err == badger.ErrKeyNotFound {
			return vecdberr.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err = decodeRecord(id, val)
			return err
		})
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (b *BadgerStore) Delete(_ context.Context, collection, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(recordKey(collection, id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

func (b *BadgerStore) List(_ context.Context, collection string) ([]string, error) {
	var ids []string
	prefix := collectionPrefix(collection)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			ids = append(ids, strings.TrimPrefix(string(key), string(prefix)))
		}
		return nil
	})
	return ids, err
}

func (b *BadgerStore) Count(ctx context.Context, collection string) (int, error) {
	ids, err := b.List(ctx, collection)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

package store

import (
	"context"
	"sync"

	"github.com/orneryd/vecdbcore/vecdberr"
)

// MemStore is an in-process, map-backed Backend. Nothing is persisted;
// restarting the process loses all data. This is the default backend for
// tests.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]map[string]Record
}

// NewMemStore creates an empty in-memory backend.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]map[string]Record)}
}

func (m *MemStore) Put(_ context.Context, collection, id string, vec []float32, payload []byte) error {
	cp := make([]float32, len(vec))
	copy(cp, vec)
	var pcp []byte
	if payload != nil {
		pcp = make([]byte, len(payload))
		copy(pcp, payload)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.data[collection]
	if !ok {
		coll = make(map[string]Record)
		m.data[collection] = coll
	}
	coll[id] = Record{ID: id, Vector: cp, Payload: pcp}
	return nil
}

func (m *MemStore) Get(_ context.Context, collection, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll, ok := m.data[collection]
	if !ok {
		return Record{}, vecdberr.ErrNotFound
	}
	rec, ok := coll[id]
	if !ok {
		return Record{}, vecdberr.ErrNotFound
	}
	return rec, nil
}

func (m *MemStore) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if coll, ok := m.data[collection]; ok {
		delete(coll, id)
	}
	return nil
}

func (m *MemStore) List(_ context.Context, collection string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll, ok := m.data[collection]
	if !ok {
		return nil, nil
	}
	ids := make([]string, 0, len(coll))
	for id := range coll {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *MemStore) Count(_ context.Context, collection string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data[collection]), nil
}

func (m *MemStore) Close() error { return nil }

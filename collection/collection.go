// Package collection implements the unit other vecdbcore subsystems
// address: a named, dimension-fixed, single-metric container that composes
// a store.Backend with an index.Index, validating inputs and normalizing
// cosine vectors at the boundary before either component ever sees them.
package collection

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/orneryd/vecdbcore/index"
	"github.com/orneryd/vecdbcore/store"
	"github.com/orneryd/vecdbcore/vecdberr"
	"github.com/orneryd/vecdbcore/vector"
)

// maxIDLen is the maximum length, in bytes, of a caller-chosen vector ID.
const maxIDLen = 256

// nameRe matches the collection name grammar: [A-Za-z0-9_-]+.
var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Vector is a caller-supplied vector plus its opaque payload.
type Vector struct {
	ID      string
	Data    []float32
	Payload []byte
}

// SearchResult hydrates an index match with its stored vector and payload.
type SearchResult struct {
	ID      string
	Score   float64
	Vector  []float32
	Payload []byte
}

// Metadata summarizes a collection's identity and counters.
type Metadata struct {
	Name          string
	Dimension     int
	Metric        vector.Metric
	VectorCount   int
	DocumentCount int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Config describes a collection at creation time. Dimension and Metric are
// immutable for the collection's lifetime once New returns.
type Config struct {
	Name      string
	Dimension int
	Metric    vector.Metric
	HNSW      index.Config
	// QuantizationHint and EmbeddingKind are opaque labels recorded at
	// creation for the caller's benefit (e.g. "sq8", "minilm"); the core
	// stores full-precision vectors regardless and never interprets them.
	QuantizationHint string
	EmbeddingKind    string
}

// Collection composes a store.Backend (authoritative vector+payload map)
// with an index.Index (approximate nearest-neighbor graph), enforcing
// dimension and metric and exposing CRUD plus similarity search.
//
// Thread-safety: Collection holds its own sync.RWMutex covering the store,
// the index, and the insertion-order bookkeeping together. Search takes
// the shared lock; every mutating operation takes the exclusive lock.
type Collection struct {
	name             string
	dim              int
	metric           vector.Metric
	quantizationHint string
	embeddingKind    string

	backend store.Backend
	idx     *index.Index

	mu            sync.RWMutex
	order         []string
	orderIdx      map[string]int // id -> live position in order, absent if removed
	documentCount int
	createdAt     time.Time
	updatedAt     time.Time
}

// New creates an empty collection. name must match [A-Za-z0-9_-]+ and
// dimension must be positive.
func New(cfg Config, backend store.Backend) (*Collection, error) {
	if !nameRe.MatchString(cfg.Name) {
		return nil, fmt.Errorf("%w: collection name %q", vecdberr.ErrInvalidValue, cfg.Name)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", vecdberr.ErrInvalidConfig)
	}
	// The index always ranks by the collection's own metric.
	hnswCfg := cfg.HNSW
	hnswCfg.Metric = cfg.Metric
	now := time.Now().UTC()
	return &Collection{
		name:             cfg.Name,
		dim:              cfg.Dimension,
		metric:           cfg.Metric,
		quantizationHint: cfg.QuantizationHint,
		embeddingKind:    cfg.EmbeddingKind,
		backend:          backend,
		idx:              index.New(cfg.Dimension, hnswCfg),
		orderIdx:         make(map[string]int),
		createdAt:        now,
		updatedAt:        now,
	}, nil
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

// Dimension returns the collection's fixed vector length.
func (c *Collection) Dimension() int { return c.dim }

// Metric returns the collection's fixed distance metric.
func (c *Collection) Metric() vector.Metric { return c.metric }

// QuantizationHint returns the opaque quantization label given at creation.
func (c *Collection) QuantizationHint() string { return c.quantizationHint }

// EmbeddingKind returns the opaque embedding label given at creation.
func (c *Collection) EmbeddingKind() string { return c.embeddingKind }

func validateID(id string) error {
	if id == "" || len(id) > maxIDLen {
		return fmt.Errorf("%w: id must be 1-%d bytes, got %d", vecdberr.ErrInvalidValue, maxIDLen, len(id))
	}
	return nil
}

func (c *Collection) validateVector(v Vector) error {
	if err := validateID(v.ID); err != nil {
		return err
	}
	if len(v.Data) != c.dim {
		return fmt.Errorf("%w: expected %d, got %d", vecdberr.ErrDimensionMismatch, c.dim, len(v.Data))
	}
	if !vector.AllFinite(v.Data) {
		return fmt.Errorf("%w: non-finite component in vector %q", vecdberr.ErrInvalidValue, v.ID)
	}
	return nil
}

func (c *Collection) normalize(data []float32) []float32 {
	if c.metric == vector.Cosine {
		return vector.Normalize(data)
	}
	return data
}

// AddVector validates, normalizes (if cosine), stores, and indexes v.
// Fails with ErrAlreadyExists if v.ID is already present.
func (c *Collection) AddVector(ctx context.Context, v Vector) error {
	if err := c.validateVector(v); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.backend.Get(ctx, c.name, v.ID); err == nil {
		return fmt.Errorf("%w: %s", vecdberr.ErrAlreadyExists, v.ID)
	}

	stored := c.normalize(v.Data)
	if err := c.backend.Put(ctx, c.name, v.ID, stored, v.Payload); err != nil {
		return err
	}
	// Enqueued, not inserted: the index drains its buffer on the batch
	// threshold and on every search, so the vector is visible to the next
	// Search without paying a graph insert on every single add.
	if err := c.idx.Buffer(v.ID, stored); err != nil {
		return err
	}
	c.recordInsertLocked(v.ID)
	if len(v.Payload) > 0 {
		c.documentCount++
	}
	c.updatedAt = time.Now().UTC()
	return nil
}

// BatchAddVectors validates every vector in vs before mutating any state:
// either all of vs is present afterwards, or none of it is.
func (c *Collection) BatchAddVectors(ctx context.Context, vs []Vector) error {
	seen := make(map[string]bool, len(vs))
	for _, v := range vs {
		if err := c.validateVector(v); err != nil {
			return err
		}
		if seen[v.ID] {
			return fmt.Errorf("%w: duplicate id %s in batch", vecdberr.ErrAlreadyExists, v.ID)
		}
		seen[v.ID] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, v := range vs {
		if _, err := c.backend.Get(ctx, c.name, v.ID); err == nil {
			return fmt.Errorf("%w: %s", vecdberr.ErrAlreadyExists, v.ID)
		}
	}

	ids := make([]string, len(vs))
	stored := make([][]float32, len(vs))
	for i, v := range vs {
		stored[i] = c.normalize(v.Data)
		ids[i] = v.ID
		if err := c.backend.Put(ctx, c.name, v.ID, stored[i], v.Payload); err != nil {
			return err
		}
	}
	if err := c.idx.BatchAdd(ids, stored); err != nil {
		return err
	}
	for i, id := range ids {
		c.recordInsertLocked(id)
		if len(vs[i].Payload) > 0 {
			c.documentCount++
		}
	}
	c.updatedAt = time.Now().UTC()
	return nil
}

// GetVector returns the stored vector and payload for id.
func (c *Collection) GetVector(ctx context.Context, id string) (Vector, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, err := c.backend.Get(ctx, c.name, id)
	if err != nil {
		return Vector{}, err
	}
	return Vector{ID: rec.ID, Data: rec.Vector, Payload: rec.Payload}, nil
}

// RemoveVector deletes id from the store and tombstones it in the index.
// Subsequent searches never surface id again.
func (c *Collection) RemoveVector(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.backend.Get(ctx, c.name, id)
	if err != nil {
		return err
	}
	if err := c.backend.Delete(ctx, c.name, id); err != nil {
		return err
	}
	c.idx.Remove(id)
	delete(c.orderIdx, id)
	if len(existing.Payload) > 0 {
		c.documentCount--
	}
	c.updatedAt = time.Now().UTC()
	return nil
}

// UpdateVector replaces id's vector. A non-nil payload replaces the stored
// payload; a nil payload preserves the existing one.
func (c *Collection) UpdateVector(ctx context.Context, id string, newData []float32, payload []byte) error {
	if len(newData) != c.dim {
		return fmt.Errorf("%w: expected %d, got %d", vecdberr.ErrDimensionMismatch, c.dim, len(newData))
	}
	if !vector.AllFinite(newData) {
		return fmt.Errorf("%w: non-finite component in vector %q", vecdberr.ErrInvalidValue, id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.backend.Get(ctx, c.name, id)
	if err != nil {
		return err
	}
	finalPayload := payload
	if finalPayload == nil {
		finalPayload = existing.Payload
	}

	stored := c.normalize(newData)
	if err := c.backend.Put(ctx, c.name, id, stored, finalPayload); err != nil {
		return err
	}
	if err := c.idx.Update(id, stored); err != nil {
		return err
	}
	switch {
	case len(existing.Payload) == 0 && len(finalPayload) > 0:
		c.documentCount++
	case len(existing.Payload) > 0 && len(finalPayload) == 0:
		c.documentCount--
	}
	c.updatedAt = time.Now().UTC()
	return nil
}

// GetAllVectors returns every live vector in insertion order.
func (c *Collection) GetAllVectors(ctx context.Context) ([]Vector, error) {
	c.mu.RLock()
	order := make([]string, 0, len(c.order))
	for i, id := range c.order {
		if pos, ok := c.orderIdx[id]; ok && pos == i {
			order = append(order, id)
		}
	}
	c.mu.RUnlock()

	out := make([]Vector, 0, len(order))
	for _, id := range order {
		rec, err := c.backend.Get(ctx, c.name, id)
		if err != nil {
			// Raced with a concurrent removal; skip rather than fail the
			// whole listing.
			continue
		}
		out = append(out, Vector{ID: rec.ID, Data: rec.Vector, Payload: rec.Payload})
	}
	return out, nil
}

// VectorCount returns the number of live vectors.
func (c *Collection) VectorCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.orderIdx)
}

// Search returns the k nearest vectors to query, hydrated with their stored
// vector and payload. Queries are normalized if the collection metric is
// cosine. An id returned by the index that the store no longer has (a race
// with a concurrent removal) is skipped rather than surfaced.
func (c *Collection) Search(ctx context.Context, query []float32, k int) ([]SearchResult, error) {
	if len(query) != c.dim {
		return nil, fmt.Errorf("%w: expected %d, got %d", vecdberr.ErrDimensionMismatch, c.dim, len(query))
	}
	if !vector.AllFinite(query) {
		return nil, fmt.Errorf("%w: non-finite component in query", vecdberr.ErrInvalidValue)
	}

	q := query
	if c.metric == vector.Cosine {
		q = vector.Normalize(query)
	}

	c.mu.RLock()
	matches, err := c.idx.Search(ctx, q, k)
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		rec, err := c.backend.Get(ctx, c.name, m.ID)
		if err != nil {
			continue
		}
		out = append(out, SearchResult{ID: m.ID, Score: m.Score, Vector: rec.Vector, Payload: rec.Payload})
	}
	return out, nil
}

// MemoryStats aggregates the collection's memory counters: the store's
// vector bytes plus the index's own Stats.
type MemoryStats struct {
	VectorCount int
	// StoredBytes estimates the memory held by stored vector data
	// (VectorCount * dimension * 4); payloads are not included because the
	// store treats them as opaque.
	StoredBytes int64
	Index       index.Stats
}

// MemoryUsage returns the collection's current memory counters.
func (c *Collection) MemoryUsage() MemoryStats {
	c.mu.RLock()
	count := len(c.orderIdx)
	c.mu.RUnlock()
	return MemoryStats{
		VectorCount: count,
		StoredBytes: int64(count) * int64(c.dim) * 4,
		Index:       c.idx.MemoryStats(),
	}
}

// Metadata returns a snapshot of the collection's identity and counters.
func (c *Collection) Metadata() Metadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Metadata{
		Name:          c.name,
		Dimension:     c.dim,
		Metric:        c.metric,
		VectorCount:   len(c.orderIdx),
		DocumentCount: c.documentCount,
		CreatedAt:     c.createdAt,
		UpdatedAt:     c.updatedAt,
	}
}

// recordInsertLocked records id as freshly (re-)inserted at the tail of the
// insertion-order list. Caller must hold c.mu for writing.
func (c *Collection) recordInsertLocked(id string) {
	c.orderIdx[id] = len(c.order)
	c.order = append(c.order, id)
}

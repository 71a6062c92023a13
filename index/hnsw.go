// Package index implements the HNSW (Hierarchical Navigable Small World)
// approximate nearest-neighbor graph vecdbcore uses for vector search.
//
// The graph construction, layer search, and level-generation code below is
// a generalization of a single-metric, physically-deleting HNSW index:
// this version parameterizes the distance metric, buffers inserts so a
// caller can batch-load without paying per-vector lock overhead, and
// replaces physical node removal with a tombstone set so repeated deletes
// don't force an immediate graph repair — Optimize does that later, in one
// pass.
package index

import (
	"container/heap"
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/orneryd/vecdbcore/vecdberr"
	"github.com/orneryd/vecdbcore/vector"
)

// Config holds construction and search parameters for an HNSW index.
type Config struct {
	// M is the maximum number of neighbors a node keeps per layer above
	// layer 0.
	M int
	// M0 is the maximum number of neighbors a node keeps at layer 0. If
	// zero, New sets it to 2*M, which is the usual HNSW choice:
	// layer 0 holds every node, so it needs a denser neighbor list than
	// the sparser upper layers.
	M0 int
	// EfConstruction is the candidate list size used while inserting.
	EfConstruction int
	// EfSearch is the candidate list size used for a query when the index
	// is large enough that the adaptive floor (see effectiveEfSearch) no
	// longer dominates.
	EfSearch int
	// LevelMultiplier controls how many nodes get promoted to higher
	// layers; 1/ln(M) is the standard choice.
	LevelMultiplier float64
	// Metric is the distance kernel used for graph construction and
	// search.
	Metric vector.Metric
	// BatchSize is the insert-buffer threshold: once this many vectors
	// are queued via Buffer, the buffer is drained into the graph.
	BatchSize int
	// Seed fixes the level-generation RNG for deterministic graph
	// construction. 0 uses a time-derived seed.
	Seed int64
}

// DefaultConfig returns sensible defaults for cosine search.
func DefaultConfig() Config {
	return Config{
		M:               16,
		M0:              32,
		EfConstruction:  200,
		EfSearch:        100,
		LevelMultiplier: 1.0 / math.Log(16.0),
		Metric:          vector.Cosine,
		BatchSize:       1000,
	}
}

func (c Config) withDefaults() Config {
	if c.M == 0 {
		c.M = 16
	}
	if c.M0 == 0 {
		c.M0 = 2 * c.M
	}
	if c.EfConstruction == 0 {
		c.EfConstruction = 200
	}
	if c.EfSearch == 0 {
		c.EfSearch = 100
	}
	if c.LevelMultiplier == 0 {
		c.LevelMultiplier = 1.0 / math.Log(float64(c.M))
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	return c
}

// node is a single point in the HNSW graph.
type node struct {
	id        string
	vec       []float32
	level     int
	neighbors [][]string
	mu        sync.RWMutex
}

func (c Config) maxNeighbors(level int) int {
	if level == 0 {
		return c.M0
	}
	return c.M
}

// Index is a buffered, tombstone-deleting HNSW graph.
//
// Thread-safety: all exported methods are safe for concurrent use. Search
// takes a read lock and never blocks on disk or network I/O, matching the
// requirement that a search path never suspends.
type Index struct {
	config Config
	dim    int

	mu         sync.RWMutex
	nodes      map[string]*node
	entryPoint string
	maxLevel   int
	tombstones map[string]bool
	rng        *rand.Rand // level generation; guarded by mu

	bufMu sync.Mutex
	buf   []bufferedVector
}

type bufferedVector struct {
	id  string
	vec []float32
}

// New creates an empty index for vectors of the given dimension.
func New(dimension int, config Config) *Index {
	config = config.withDefaults()
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Index{
		config:     config,
		dim:        dimension,
		nodes:      make(map[string]*node),
		tombstones: make(map[string]bool),
		rng:        rand.New(rand.NewSource(seed)),
		maxLevel:   0,
	}
}

// Add inserts a single vector, bypassing the insert buffer. Most callers
// doing bulk loads should prefer Buffer+Flush/BatchAdd instead.
func (idx *Index) Add(id string, vec []float32) error {
	if len(vec) != idx.dim {
		return vecdberr.ErrDimensionMismatch
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.insertLocked(id, vec)
	return nil
}

// Buffer queues a vector for insertion without taking the graph lock,
// absorbing writes that arrive faster than the graph can take them one at
// a time. The buffer drains into the graph once it reaches the configured
// BatchSize, and Search/Optimize/Flush drain it eagerly, so a buffered
// vector is always visible to the next search.
func (idx *Index) Buffer(id string, vec []float32) error {
	if len(vec) != idx.dim {
		return vecdberr.ErrDimensionMismatch
	}
	cp := make([]float32, len(vec))
	copy(cp, vec)
	idx.bufMu.Lock()
	idx.buf = append(idx.buf, bufferedVector{id: id, vec: cp})
	full := len(idx.buf) >= idx.config.BatchSize
	idx.bufMu.Unlock()
	if full {
		return idx.Flush()
	}
	return nil
}

// Flush inserts every vector queued by Buffer and clears the queue. Every
// buffered vector is checked against the configured dimension before any
// of them is inserted; the graph lock is then held across the whole
// insert.
func (idx *Index) Flush() error {
	idx.bufMu.Lock()
	pending := idx.buf
	idx.buf = nil
	idx.bufMu.Unlock()

	for _, p := range pending {
		if len(p.vec) != idx.dim {
			return vecdberr.ErrDimensionMismatch
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, p := range pending {
		idx.insertLocked(p.id, p.vec)
	}
	return nil
}

// BatchAdd validates and inserts a batch of vectors directly, without
// going through the buffer. Validation happens before any mutation: if any
// vector in the batch has the wrong dimension, nothing in the batch is
// inserted.
func (idx *Index) BatchAdd(ids []string, vecs [][]float32) error {
	if len(ids) != len(vecs) {
		return vecdberr.ErrInvalidConfig
	}
	for _, v := range vecs {
		if len(v) != idx.dim {
			return vecdberr.ErrDimensionMismatch
		}
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i, id := range ids {
		idx.insertLocked(id, vecs[i])
	}
	return nil
}

// insertLocked performs the actual graph insertion. Caller must hold idx.mu.
func (idx *Index) insertLocked(id string, vec []float32) {
	stored := vec
	if idx.config.Metric == vector.Cosine {
		stored = vector.Normalize(vec)
	}
	level := idx.randomLevel()

	n := &node{
		id:        id,
		vec:       stored,
		level:     level,
		neighbors: make([][]string, level+1),
	}
	for i := range n.neighbors {
		n.neighbors[i] = make([]string, 0, idx.config.maxNeighbors(i))
	}

	idx.nodes[id] = n
	delete(idx.tombstones, id)

	if idx.entryPoint == "" {
		idx.entryPoint = id
		idx.maxLevel = level
		return
	}

	ep := idx.entryPoint
	epLevel := idx.nodes[ep].level

	for l := epLevel; l > level; l-- {
		ep = idx.searchLayerSingle(stored, ep, l)
	}

	for l := min(level, epLevel); l >= 0; l-- {
		candidates := idx.searchLayer(stored, ep, idx.config.EfConstruction, l)
		neighbors := idx.selectNeighbors(stored, candidates, idx.config.maxNeighbors(l))
		n.neighbors[l] = neighbors

		for _, neighborID := range neighbors {
			neighbor := idx.nodes[neighborID]
			neighbor.mu.Lock()
			if len(neighbor.neighbors) > l {
				m := idx.config.maxNeighbors(l)
				if len(neighbor.neighbors[l]) < m {
					neighbor.neighbors[l] = append(neighbor.neighbors[l], id)
				} else {
					all := append(neighbor.neighbors[l], id)
					neighbor.neighbors[l] = idx.selectNeighbors(neighbor.vec, all, m)
				}
			}
			neighbor.mu.Unlock()
		}

		if len(candidates) > 0 {
			ep = candidates[0]
		}
	}

	if level > idx.maxLevel {
		idx.entryPoint = id
		idx.maxLevel = level
	}
}

// Update replaces a vector's value. Implemented as Remove-then-Add rather
// than in-place graph surgery: HNSW has no cheap way to adjust an existing
// node's neighbor lists when its position changes. The fresh node is
// stored under the same id, replacing the old node in the node map, and
// the insert clears id's tombstone, so no tombstoned slot is left for
// Optimize; neighbor lists that pointed at the old node now lead to the
// new one.
func (idx *Index) Update(id string, vec []float32) error {
	if len(vec) != idx.dim {
		return vecdberr.ErrDimensionMismatch
	}
	// Remove also drops any buffered, not-yet-flushed insert of id, so a
	// stale buffered vector can't flush over the new one later.
	idx.Remove(id)
	return idx.Add(id, vec)
}

// Remove marks id as logically deleted, reporting whether it was found. A
// tombstoned node stays in the graph (still reachable during traversal, so
// the graph doesn't fragment) but is excluded from search results and Size
// until Optimize compacts it away. A buffered, not-yet-flushed id is
// dropped from the buffer instead.
func (idx *Index) Remove(id string) bool {
	found := false
	idx.bufMu.Lock()
	kept := idx.buf[:0]
	for _, b := range idx.buf {
		if b.id == id {
			found = true
			continue
		}
		kept = append(kept, b)
	}
	idx.buf = kept
	idx.bufMu.Unlock()

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, exists := idx.nodes[id]; exists && !idx.tombstones[id] {
		idx.tombstones[id] = true
		found = true
	}
	return found
}

// Optimize physically removes every tombstoned node by rebuilding the
// graph from scratch with only the live vectors, and applies any buffered
// but not-yet-flushed inserts first. This is the only point at which
// tombstoned memory is reclaimed.
func (idx *Index) Optimize() error {
	if err := idx.Flush(); err != nil {
		return err
	}

	idx.mu.Lock()
	live := make([]bufferedVector, 0, len(idx.nodes))
	for id, n := range idx.nodes {
		if idx.tombstones[id] {
			continue
		}
		live = append(live, bufferedVector{id: id, vec: n.vec})
	}
	idx.nodes = make(map[string]*node)
	idx.tombstones = make(map[string]bool)
	idx.entryPoint = ""
	idx.maxLevel = 0
	for _, lv := range live {
		idx.insertLocked(lv.id, lv.vec)
	}
	idx.mu.Unlock()
	return nil
}

// Size returns the number of live (non-tombstoned) vectors in the index.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nodes) - len(idx.tombstones)
}

// Stats summarizes an index's memory footprint.
type Stats struct {
	// NodeCount is the total number of graph nodes, tombstoned included.
	NodeCount int
	// TombstoneCount is how many of those nodes are logically deleted and
	// waiting for Optimize to reclaim them.
	TombstoneCount int
	// BufferedCount is how many vectors sit in the insert buffer, not yet
	// flushed into the graph.
	BufferedCount int
	// MaxLevel is the highest layer currently present in the graph.
	MaxLevel int
	// VectorBytes estimates the memory held by vector data alone
	// (NodeCount * dimension * 4).
	VectorBytes int64
}

// MemoryStats returns the index's current counters.
func (idx *Index) MemoryStats() Stats {
	idx.bufMu.Lock()
	buffered := len(idx.buf)
	idx.bufMu.Unlock()

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return Stats{
		NodeCount:      len(idx.nodes),
		TombstoneCount: len(idx.tombstones),
		BufferedCount:  buffered,
		MaxLevel:       idx.maxLevel,
		VectorBytes:    int64(len(idx.nodes)) * int64(idx.dim) * 4,
	}
}

// Result is a single match returned by Search.
type Result struct {
	ID    string
	Score float64
}

// effectiveEfSearch adapts the candidate-list size to the index's size, so
// small indexes still return k results instead of starving on a fixed ef
// that assumes a large graph.
func effectiveEfSearch(configured, count, k int) int {
	var adaptive int
	if count < 10 {
		adaptive = max(2*count, 3*k)
	} else {
		adaptive = max(2*k, 64)
	}
	if adaptive > configured {
		return adaptive
	}
	return configured
}

// Search returns the k nearest live neighbors of query, best first: higher
// score wins for cosine and dot, lower wins for euclidean. Any buffered
// inserts are flushed first, so Search always sees the most recent writes.
func (idx *Index) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if len(query) != idx.dim {
		return nil, vecdberr.ErrDimensionMismatch
	}

	idx.bufMu.Lock()
	pending := len(idx.buf) > 0
	idx.bufMu.Unlock()
	if pending {
		if err := idx.Flush(); err != nil {
			return nil, err
		}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.nodes) == 0 {
		return []Result{}, nil
	}

	q := query
	if idx.config.Metric == vector.Cosine {
		q = vector.Normalize(query)
	}

	ep := idx.entryPoint
	for l := idx.maxLevel; l > 0; l-- {
		ep = idx.searchLayerSingle(q, ep, l)
	}

	ef := effectiveEfSearch(idx.config.EfSearch, len(idx.nodes), k)
	candidates := idx.searchLayer(q, ep, ef, 0)

	results := make([]Result, 0, k)
	for _, id := range candidates {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		if idx.tombstones[id] {
			continue
		}
		n := idx.nodes[id]
		dist := idx.dist(q, n.vec)
		results = append(results, Result{ID: id, Score: vector.Score(dist, idx.config.Metric)})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ID < results[j].ID
		}
		return vector.Better(results[i].Score, results[j].Score, idx.config.Metric)
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (idx *Index) dist(a, b []float32) float64 {
	switch idx.config.Metric {
	case vector.Cosine:
		return 1 - vector.DotProduct(a, b)
	case vector.Dot:
		return -vector.DotProduct(a, b)
	default:
		return vector.EuclideanDistance(a, b)
	}
}

func (idx *Index) searchLayerSingle(query []float32, entryID string, level int) string {
	current := entryID
	currentDist := idx.dist(query, idx.nodes[current].vec)

	for {
		changed := false
		n := idx.nodes[current]
		n.mu.RLock()
		neighbors := n.neighbors[level]
		n.mu.RUnlock()

		for _, neighborID := range neighbors {
			neighbor := idx.nodes[neighborID]
			d := idx.dist(query, neighbor.vec)
			if d < currentDist {
				current = neighborID
				currentDist = d
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return current
}

func (idx *Index) searchLayer(query []float32, entryID string, ef int, level int) []string {
	visited := map[string]bool{entryID: true}

	candidates := &distHeap{}
	heap.Init(candidates)
	results := &distHeap{}
	heap.Init(results)

	entryDist := idx.dist(query, idx.nodes[entryID].vec)
	heap.Push(candidates, distItem{id: entryID, dist: entryDist, isMax: false})
	heap.Push(results, distItem{id: entryID, dist: entryDist, isMax: true})

	for candidates.Len() > 0 {
		closest := heap.Pop(candidates).(distItem)

		if results.Len() >= ef {
			furthest := (*results)[0]
			if closest.dist > furthest.dist {
				break
			}
		}

		n := idx.nodes[closest.id]
		n.mu.RLock()
		neighbors := n.neighbors[level]
		n.mu.RUnlock()

		for _, neighborID := range neighbors {
			if visited[neighborID] {
				continue
			}
			visited[neighborID] = true

			neighbor := idx.nodes[neighborID]
			d := idx.dist(query, neighbor.vec)

			if results.Len() < ef || d < (*results)[0].dist {
				heap.Push(candidates, distItem{id: neighborID, dist: d, isMax: false})
				heap.Push(results, distItem{id: neighborID, dist: d, isMax: true})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]string, results.Len())
	for i := results.Len() - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(distItem).id
	}
	return out
}

func (idx *Index) selectNeighbors(query []float32, candidates []string, m int) []string {
	if len(candidates) <= m {
		return candidates
	}
	type cand struct {
		id   string
		dist float64
	}
	dists := make([]cand, len(candidates))
	for i, cid := range candidates {
		dists[i] = cand{id: cid, dist: idx.dist(query, idx.nodes[cid].vec)}
	}
	sort.Slice(dists, func(i, j int) bool { return dists[i].dist < dists[j].dist })

	out := make([]string, m)
	for i := 0; i < m; i++ {
		out[i] = dists[i].id
	}
	return out
}

func (idx *Index) randomLevel() int {
	// 1-r keeps the argument in (0, 1]; Float64 can return exactly 0.
	r := 1 - idx.rng.Float64()
	return int(-math.Log(r) * idx.config.LevelMultiplier)
}

type distItem struct {
	id    string
	dist  float64
	isMax bool
}

type distHeap []distItem

func (dh distHeap) Len() int { return len(dh) }
func (dh distHeap) Less(i, j int) bool {
	if dh[i].isMax {
		return dh[i].dist > dh[j].dist
	}
	return dh[i].dist < dh[j].dist
}
func (dh distHeap) Swap(i, j int) { dh[i], dh[j] = dh[j], dh[i] }

func (dh *distHeap) Push(x any) { *dh = append(*dh, x.(distItem)) }

func (dh *distHeap) Pop() any {
	old := *dh
	n := len(old)
	x := old[n-1]
	*dh = old[:n-1]
	return x
}

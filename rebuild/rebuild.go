// Package rebuild implements the async, double-buffered index manager: a
// primary index.Index that serves every read and write, and an optional
// secondary index.Index under construction in the background. When the
// secondary build finishes, a caller swaps it in without ever stopping
// reads against the primary.
package rebuild

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/orneryd/vecdbcore/index"
	"github.com/orneryd/vecdbcore/vecdberr"
)

var defaultLogger = log.New(io.Discard, "", 0)

// Status is a rebuild's position in the Idle -> Building -> Ready -> Idle
// state machine (or Building -> Failed, Building -> Idle on cancel).
type Status int

const (
	Idle Status = iota
	Building
	Ready
	Failed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Building:
		return "building"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Pair is a single vector queued for a rebuild.
type Pair struct {
	ID   string
	Data []float32
}

// Progress reports a rebuild's position.
type Progress struct {
	Total      int
	Indexed    int
	Progress   float64
	ETASeconds float64 // valid only once Progress > 0
	StartedAt  time.Time
	Status     Status
	Message    string // set when Status == Failed
}

// Config configures a Manager's batching and the index.Config new
// secondary indexes are built with.
type Config struct {
	Dimension int
	Index     index.Config
	// BatchSize is the chunk size the rebuild task inserts in before
	// yielding and emitting a progress update. Default 1000, matching
	// the index package's own buffer threshold.
	BatchSize int
	Logger    *log.Logger
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.Logger == nil {
		c.Logger = defaultLogger
	}
	return c
}

// Manager is the async double-buffered index manager.
//
// stateMu serializes StartRebuild, SwapIndex, and CancelRebuild against
// each other and against the pass-through operations. Pass-through reads
// (Search) take the read side so concurrent searches don't block each
// other, only a concurrent swap/cancel.
type Manager struct {
	cfg Config

	stateMu   sync.RWMutex
	primary   *index.Index
	secondary *index.Index
	progress  Progress
	cancel    context.CancelFunc
}

// New creates a manager with an empty primary index, optionally seeded with
// initial vectors inserted directly (not through the rebuild pipeline).
func New(cfg Config, initial []Pair) (*Manager, error) {
	cfg = cfg.withDefaults()
	primary := index.New(cfg.Dimension, cfg.Index)
	if len(initial) > 0 {
		ids := make([]string, len(initial))
		vecs := make([][]float32, len(initial))
		for i, p := range initial {
			ids[i] = p.ID
			vecs[i] = p.Data
		}
		if err := primary.BatchAdd(ids, vecs); err != nil {
			return nil, err
		}
	}
	return &Manager{
		cfg:     cfg,
		primary: primary,
		progress: Progress{
			Status: Idle,
		},
	}, nil
}

// Add inserts a single vector into the primary index. Like every
// pass-through op, this never touches a secondary build in progress:
// writes made during a rebuild are not in the rebuilt index, and callers
// that need them indexed replay the delta after the swap.
func (m *Manager) Add(id string, vec []float32) error {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.primary.Add(id, vec)
}

// BatchAdd inserts a batch of vectors into the primary index.
func (m *Manager) BatchAdd(ids []string, vecs [][]float32) error {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.primary.BatchAdd(ids, vecs)
}

// Search searches only the primary index, whether or not a rebuild is in
// progress.
func (m *Manager) Search(ctx context.Context, query []float32, k int) ([]index.Result, error) {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.primary.Search(ctx, query, k)
}

// GetProgress returns a snapshot of the current rebuild's progress.
func (m *Manager) GetProgress() Progress {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.progress
}

// IsRebuilding reports whether a rebuild is currently Building.
func (m *Manager) IsRebuilding() bool {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.progress.Status == Building
}

// IsReady reports whether a completed rebuild is waiting for SwapIndex.
func (m *Manager) IsReady() bool {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.progress.Status == Ready
}

// StartRebuild begins building a fresh index from vectors in the
// background, in chunks of cfg.BatchSize, yielding between chunks and
// emitting a Progress record on the returned channel after each one. The
// channel is closed when the build task ends, whether by completion,
// cancellation, or failure.
//
// Fails with vecdberr.ErrRebuildInProgress if a rebuild is already
// Building.
func (m *Manager) StartRebuild(vectors []Pair) (<-chan Progress, error) {
	m.stateMu.Lock()
	if m.progress.Status == Building {
		m.stateMu.Unlock()
		return nil, vecdberr.ErrRebuildInProgress
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	total := len(vectors)
	started := time.Now().UTC()
	m.progress = Progress{Total: total, StartedAt: started, Status: Building}
	m.stateMu.Unlock()

	chunks := total/m.cfg.BatchSize + 1
	ch := make(chan Progress, chunks+1)

	go m.run(ctx, vectors, started, ch)

	return ch, nil
}

func (m *Manager) run(ctx context.Context, vectors []Pair, started time.Time, ch chan<- Progress) {
	defer close(ch)

	m.cfg.Logger.Printf("rebuild: starting with %d vectors", len(vectors))
	newIdx := index.New(m.cfg.Dimension, m.cfg.Index)

	total := len(vectors)
	indexed := 0
	batchSize := m.cfg.BatchSize

	for start := 0; start < total; start += batchSize {
		select {
		case <-ctx.Done():
			m.cfg.Logger.Printf("rebuild: cancelled at %d/%d", indexed, total)
			return
		default:
		}

		end := start + batchSize
		if end > total {
			end = total
		}
		chunk := vectors[start:end]
		ids := make([]string, len(chunk))
		vecs := make([][]float32, len(chunk))
		for i, p := range chunk {
			ids[i] = p.ID
			vecs[i] = p.Data
		}
		if err := newIdx.BatchAdd(ids, vecs); err != nil {
			m.setFailed(fmt.Sprintf("batch add failed: %v", err))
			return
		}
		indexed = end

		p := progressAt(total, indexed, started, Building)
		m.stateMu.Lock()
		if ctx.Err() == nil {
			m.progress = p
		}
		m.stateMu.Unlock()
		ch <- p
	}

	if err := newIdx.Optimize(); err != nil {
		m.setFailed(fmt.Sprintf("optimize failed: %v", err))
		return
	}

	final := progressAt(total, indexed, started, Ready)

	m.stateMu.Lock()
	if ctx.Err() != nil {
		// Cancelled after the last chunk; the partial index is discarded,
		// never installed.
		m.stateMu.Unlock()
		return
	}
	m.progress = final
	m.secondary = newIdx
	m.stateMu.Unlock()

	ch <- final
	m.cfg.Logger.Printf("rebuild: ready with %d vectors", total)
}

func (m *Manager) setFailed(msg string) {
	m.stateMu.Lock()
	m.progress.Status = Failed
	m.progress.Message = msg
	m.stateMu.Unlock()
	m.cfg.Logger.Printf("rebuild: failed: %s", msg)
}

func progressAt(total, indexed int, started time.Time, status Status) Progress {
	p := Progress{Total: total, Indexed: indexed, StartedAt: started, Status: status}
	if total > 0 {
		p.Progress = float64(indexed) / float64(total)
	}
	if p.Progress > 0 {
		elapsed := time.Since(started).Seconds()
		p.ETASeconds = elapsed * (1 - p.Progress) / p.Progress
	}
	return p
}

// SwapIndex atomically moves the secondary (ready) index into the primary
// slot and the old primary into the secondary slot, where it stays
// available for a manual rollback. Returns false together with
// vecdberr.ErrIndexNotReady if no rebuild has reached Ready.
func (m *Manager) SwapIndex() (bool, error) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if m.progress.Status != Ready || m.secondary == nil {
		return false, vecdberr.ErrIndexNotReady
	}

	m.primary, m.secondary = m.secondary, m.primary
	m.progress = Progress{Status: Idle}
	m.cfg.Logger.Printf("rebuild: swap complete")
	return true, nil
}

// CancelRebuild aborts a background build, discarding any partial
// secondary index. Safe to call when no rebuild is running.
func (m *Manager) CancelRebuild() {
	m.stateMu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.secondary = nil
	m.progress = Progress{Status: Idle}
	m.stateMu.Unlock()
}

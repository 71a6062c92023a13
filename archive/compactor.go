package archive

import (
	"log"
	"sync"
)

// DefaultCompactionThreshold is the number of recorded write operations
// that triggers an automatic compaction.
const DefaultCompactionThreshold = 1000

// Compactor wraps a Writer with an operation counter, so a caller can
// record every put/delete against a staging directory and let the
// compactor decide when it's worth paying for a full WriteArchive pass.
type Compactor struct {
	writer    *Writer
	sourceDir string
	threshold int
	logger    *log.Logger

	mu      sync.Mutex
	pending int
}

// NewCompactor creates a Compactor that compacts sourceDir via writer once
// threshold operations have been recorded. A threshold <= 0 uses
// DefaultCompactionThreshold.
func NewCompactor(writer *Writer, sourceDir string, threshold int) *Compactor {
	if threshold <= 0 {
		threshold = DefaultCompactionThreshold
	}
	return &Compactor{writer: writer, sourceDir: sourceDir, threshold: threshold, logger: defaultLogger}
}

// RecordOperation increments the pending-operations counter by one.
func (c *Compactor) RecordOperation() {
	c.mu.Lock()
	c.pending++
	c.mu.Unlock()
}

// PendingOperations returns the number of operations recorded since the
// last compaction.
func (c *Compactor) PendingOperations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// ShouldCompact reports whether enough operations have been recorded to
// warrant a compaction.
func (c *Compactor) ShouldCompact() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending >= c.threshold
}

// ResetCounter zeroes the pending-operations counter without compacting.
func (c *Compactor) ResetCounter() {
	c.mu.Lock()
	c.pending = 0
	c.mu.Unlock()
}

// MaybeCompact compacts and resets the counter only if ShouldCompact is
// true; it returns (nil, nil) otherwise.
func (c *Compactor) MaybeCompact() (*Manifest, error) {
	if !c.ShouldCompact() {
		return nil, nil
	}
	return c.ForceCompact()
}

// ForceCompact compacts unconditionally and resets the counter.
func (c *Compactor) ForceCompact() (*Manifest, error) {
	manifest, err := c.writer.WriteArchive(c.sourceDir)
	if err != nil {
		return nil, err
	}
	c.ResetCounter()
	return &manifest, nil
}

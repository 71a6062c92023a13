package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	mmapgo "github.com/blevesearch/mmap-go"

	"github.com/orneryd/vecdbcore/vecdberr"
)

// mmapHeaderSize is the size, in bytes, of the little-endian uint64 vector
// count stored at the start of the file.
const mmapHeaderSize = 8

// minMmapFileSize is the smallest capacity a freshly created mmap file is
// given, so a 4-dimension test collection doesn't thrash growth on every
// append.
const minMmapFileSize = 1 << 20 // 1 MiB

// MmapStorage is an append-only, memory-mapped store for fixed-dimension
// float32 vectors, addressed by integer slot index rather than string ID.
//
// Layout: an 8-byte little-endian vector count, followed by fixed-size
// slots of dimension*4 bytes each. The count is only written after a
// vector's bytes have been written and the mapping flushed, so a crash
// between those two steps leaves the file looking like the vector was
// never appended at all — there is no slot that is half-written and
// visible.
//
// MmapStorage is not internally synchronized; callers must serialize
// Append/Update against concurrent Get the way the rest of vecdbcore
// guards its stores with an external sync.RWMutex (see collection.Collection).
type MmapStorage struct {
	file      *os.File
	mm        mmapgo.MMap
	dimension int
	count     uint64
	capacity  uint64 // number of slots currently available
}

func (s *MmapStorage) slotSize() int64 { return int64(s.dimension) * 4 }

// OpenMmapStorage opens path, creating it (sized for 1000 vectors or
// 1 MiB, whichever is larger) if it does not already exist.
func OpenMmapStorage(path string, dimension int) (*MmapStorage, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("vecdbcore: open mmap storage: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	slotSize := int64(dimension) * 4
	if info.Size() < mmapHeaderSize {
		initial := slotSize * 1000
		if initial < minMmapFileSize {
			initial = minMmapFileSize
		}
		if err := f.Truncate(mmapHeaderSize + initial); err != nil {
			f.Close()
			return nil, err
		}
	}

	mm, err := mmapgo.Map(f, mmapgo.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("vecdbcore: mmap storage: %w", err)
	}

	s := &MmapStorage{
		file:      f,
		mm:        mm,
		dimension: dimension,
		count:     binary.LittleEndian.Uint64(mm[:mmapHeaderSize]),
		capacity:  uint64((int64(len(mm)) - mmapHeaderSize) / slotSize),
	}
	return s, nil
}

// Len returns the number of vectors currently appended.
func (s *MmapStorage) Len() int { return int(s.count) }

// Append writes vec to the next free slot and returns its index.
func (s *MmapStorage) Append(vec []float32) (int, error) {
	if s.mm == nil {
		return 0, vecdberr.ErrClosed
	}
	if len(vec) != s.dimension {
		return 0, vecdberr.ErrDimensionMismatch
	}
	if s.count >= s.capacity {
		if err := s.grow(); err != nil {
			return 0, err
		}
	}

	idx := s.count
	s.writeSlot(idx, vec)
	if err := s.mm.Flush(); err != nil {
		return 0, fmt.Errorf("vecdbcore: flush mmap storage: %w", err)
	}

	s.count++
	binary.LittleEndian.PutUint64(s.mm[:mmapHeaderSize], s.count)
	if err := s.mm.Flush(); err != nil {
		return 0, fmt.Errorf("vecdbcore: flush mmap storage header: %w", err)
	}
	return int(idx), nil
}

// Update overwrites the vector at idx in place. idx must have previously
// come from Append.
func (s *MmapStorage) Update(idx int, vec []float32) error {
	if s.mm == nil {
		return vecdberr.ErrClosed
	}
	if len(vec) != s.dimension {
		return vecdberr.ErrDimensionMismatch
	}
	if idx < 0 || uint64(idx) >= s.count {
		return vecdberr.ErrNotFound
	}
	s.writeSlot(uint64(idx), vec)
	return s.mm.Flush()
}

// Get returns a copy of the vector stored at idx.
func (s *MmapStorage) Get(idx int) ([]float32, error) {
	if s.mm == nil {
		return nil, vecdberr.ErrClosed
	}
	if idx < 0 || uint64(idx) >= s.count {
		return nil, vecdberr.ErrNotFound
	}
	off := mmapHeaderSize + int64(idx)*s.slotSize()
	out := make([]float32, s.dimension)
	for i := 0; i < s.dimension; i++ {
		bits := binary.LittleEndian.Uint32(s.mm[off+int64(i)*4 : off+int64(i)*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out, nil
}

func (s *MmapStorage) writeSlot(idx uint64, vec []float32) {
	off := mmapHeaderSize + int64(idx)*s.slotSize()
	for i, x := range vec {
		binary.LittleEndian.PutUint32(s.mm[off+int64(i)*4:off+int64(i)*4+4], math.Float32bits(x))
	}
}

// grow doubles the file's slot capacity and remaps it.
func (s *MmapStorage) grow() error {
	newCapacity := s.capacity * 2
	if newCapacity == 0 {
		newCapacity = 1000
	}
	newSize := mmapHeaderSize + int64(newCapacity)*s.slotSize()

	if err := s.mm.Unmap(); err != nil {
		return fmt.Errorf("vecdbcore: unmap before growth: %w", err)
	}
	if err := s.file.Truncate(newSize); err != nil {
		return fmt.Errorf("vecdbcore: grow mmap file: %w", err)
	}
	mm, err := mmapgo.Map(s.file, mmapgo.RDWR, 0)
	if err != nil {
		return fmt.Errorf("vecdbcore: remap after growth: %w", err)
	}
	s.mm = mm
	s.capacity = newCapacity
	return nil
}

// Flush persists the mapping to disk without closing it.
func (s *MmapStorage) Flush() error {
	if s.mm == nil {
		return vecdberr.ErrClosed
	}
	return s.mm.Flush()
}

// Close unmaps and closes the underlying file. Further operations return
// ErrClosed.
func (s *MmapStorage) Close() error {
	if s.mm == nil {
		return nil
	}
	mm := s.mm
	s.mm = nil
	if err := mm.Unmap(); err != nil {
		s.file.Close()
		return fmt.Errorf("vecdbcore: unmap mmap storage: %w", err)
	}
	return s.file.Close()
}

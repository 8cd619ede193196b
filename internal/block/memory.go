package block

import (
	"fmt"
	"sync"
)

// Memory is a device backed by a byte slice. Blocks that were never written
// read back as zeros.
type Memory struct {
	blockSize int64
	marker    *Marker
	data      []byte
	mu        sync.RWMutex
}

var _ Device = (*Memory)(nil)

// NewMemory creates a device of size bytes. The size is rounded down to a
// whole number of blocks.
func NewMemory(size, blockSize int64) (*Memory, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("invalid block size %d", blockSize)
	}

	blocks := size / blockSize

	return &Memory{
		blockSize: blockSize,
		data:      make([]byte, blocks*blockSize),
		marker:    NewMarker(uint(blocks)),
	}, nil
}

func (m *Memory) Submit(address uint64, p []byte, dir Direction) (int, error) {
	off, err := byteOffset(address, len(p), m.blockSize, int64(len(m.data)))
	if err != nil {
		return 0, err
	}

	switch dir {
	case DirectionRead:
		m.mu.RLock()
		defer m.mu.RUnlock()

		return copy(p, m.data[off:]), nil
	case DirectionWrite:
		m.mu.Lock()
		defer m.mu.Unlock()

		n := copy(m.data[off:off+int64(len(p))], p)
		m.marker.Mark(address)

		return n, nil
	default:
		return 0, fmt.Errorf("unsupported direction %s", dir)
	}
}

// Written reports whether the block at address has been written to.
func (m *Memory) Written(address uint64) bool {
	return m.marker.IsMarked(address)
}

// WrittenBlocks is the number of distinct blocks written so far.
func (m *Memory) WrittenBlocks() uint {
	return m.marker.Count()
}

func (m *Memory) BlockSize() int64 {
	return m.blockSize
}

func (m *Memory) Size() int64 {
	return int64(len(m.data))
}

func (m *Memory) Close() error {
	return nil
}

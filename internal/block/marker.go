package block

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// Marker records which blocks of a device have been written.
type Marker struct {
	bitset *bitset.BitSet
	mu     sync.RWMutex
}

func NewMarker(blocks uint) *Marker {
	return &Marker{
		bitset: bitset.New(blocks),
	}
}

func (m *Marker) Mark(idx uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bitset.Set(uint(idx))
}

func (m *Marker) IsMarked(idx uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.bitset.Test(uint(idx))
}

// Count returns the number of marked blocks.
func (m *Marker) Count() uint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.bitset.Count()
}

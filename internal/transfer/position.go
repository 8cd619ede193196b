package transfer

import "sync"

// PositionTracker holds the byte cursor sequential transfers continue from.
// It starts at zero and lives as long as the session.
type PositionTracker struct {
	mu  sync.Mutex
	pos uint64
}

func (t *PositionTracker) Load() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.pos
}

// Advance moves the cursor forward and returns the new position.
func (t *PositionTracker) Advance(by uint64) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pos += by

	return t.pos
}

func (t *PositionTracker) Set(offset uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pos = offset
}

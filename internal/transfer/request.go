package transfer

import (
	"fmt"
	"math"

	"github.com/e2b-dev/infra/packages/block-transfer/internal/block"
)

// Positioning selects where a transfer starts: at the session cursor or at an
// explicit byte offset.
type Positioning struct {
	explicit bool
	offset   uint64
}

// Sequential continues from the session cursor.
func Sequential() Positioning {
	return Positioning{}
}

// AtOffset starts at the block containing offset. The remainder of offset
// inside that block is discarded.
func AtOffset(offset uint64) Positioning {
	return Positioning{explicit: true, offset: offset}
}

// Offset returns the explicit offset and whether there is one.
func (p Positioning) Offset() (uint64, bool) {
	return p.offset, p.explicit
}

func (p Positioning) String() string {
	if p.explicit {
		return fmt.Sprintf("offset(%d)", p.offset)
	}

	return "sequential"
}

// Request is one transfer between caller memory and the device.
type Request struct {
	// Buffer is the caller's memory; it may be nil when Size is zero.
	Buffer    Buffer
	Size      uint64
	Position  Positioning
	Direction block.Direction
}

// Operation names the request kind, e.g. "read_sequential" or "write_offset".
func (r Request) Operation() string {
	if r.Position.explicit {
		return r.Direction.String() + "_offset"
	}

	return r.Direction.String() + "_sequential"
}

// Validate rejects requests the engine must never dispatch on.
func (r Request) Validate() error {
	switch r.Direction {
	case block.DirectionRead, block.DirectionWrite:
	default:
		return fmt.Errorf("%w: unknown direction %s", ErrInvalidRequest, r.Direction)
	}

	if r.Size > math.MaxInt {
		return fmt.Errorf("%w: size %d is not addressable", ErrInvalidRequest, r.Size)
	}

	if r.Size > 0 && r.Buffer == nil {
		return fmt.Errorf("%w: missing buffer for %d bytes", ErrInvalidRequest, r.Size)
	}

	if offset, ok := r.Position.Offset(); ok && offset > math.MaxUint64-r.Size {
		return fmt.Errorf("%w: offset %d + size %d overflows", ErrInvalidRequest, offset, r.Size)
	}

	return nil
}

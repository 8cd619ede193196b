package block

import (
	"errors"
	"fmt"
	"io"
	"math"
)

// DefaultBlockSize is the sector size used when the device does not report one.
const DefaultBlockSize int64 = 512

var (
	ErrChunkTooLarge = errors.New("chunk is larger than the device block size")
	ErrOutOfRange    = errors.New("block address is outside of the device")
)

// Direction of a single device I/O unit.
type Direction uint8

const (
	DirectionRead Direction = iota
	DirectionWrite
)

func (d Direction) String() string {
	switch d {
	case DirectionRead:
		return "read"
	case DirectionWrite:
		return "write"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Gateway issues one synchronous I/O unit against a block device.
// The address is a block index, not a byte offset, and p must not be
// longer than BlockSize. Submit blocks until the device completes the unit.
type Gateway interface {
	Submit(address uint64, p []byte, dir Direction) (int, error)
	BlockSize() int64
}

// Device is an open gateway owned by a session.
type Device interface {
	Gateway
	io.Closer
	// Size is the device capacity in bytes.
	Size() int64
}

// byteOffset validates a submission against the device geometry and returns
// the byte offset the unit starts at.
func byteOffset(address uint64, length int, blockSize, size int64) (int64, error) {
	if int64(length) > blockSize {
		return 0, fmt.Errorf("%w: %d > %d", ErrChunkTooLarge, length, blockSize)
	}

	if address > uint64(math.MaxInt64/blockSize) {
		return 0, fmt.Errorf("%w: block %d", ErrOutOfRange, address)
	}

	off := int64(address) * blockSize
	if off+int64(length) > size {
		return 0, fmt.Errorf("%w: block %d (+%d bytes) on a %d byte device", ErrOutOfRange, address, length, size)
	}

	return off, nil
}

package transfer

import "fmt"

// Buffer is the caller-owned memory a transfer moves data from or into.
// Implementations decide how bytes cross into and out of the caller's
// address space; a failure is reported as ErrBufferTransferFault.
type Buffer interface {
	// CopyIn fills dst from the caller's memory.
	CopyIn(dst []byte) error
	// CopyOut delivers src into the caller's memory.
	CopyOut(src []byte) error
}

// SliceBuffer is caller memory that lives in the same process.
type SliceBuffer []byte

var _ Buffer = SliceBuffer(nil)

func (b SliceBuffer) CopyIn(dst []byte) error {
	if len(b) < len(dst) {
		return fmt.Errorf("caller buffer holds %d bytes, %d requested", len(b), len(dst))
	}

	copy(dst, b)

	return nil
}

func (b SliceBuffer) CopyOut(src []byte) error {
	if len(b) < len(src) {
		return fmt.Errorf("caller buffer holds %d bytes, %d delivered", len(b), len(src))
	}

	copy(b, src)

	return nil
}

package block

import "iter"

// Chunk is one device-sized unit of a transfer.
type Chunk struct {
	// Address is the device block index the chunk is submitted at.
	Address uint64
	// Offset is the position of the chunk inside the transfer buffer.
	Offset uint64
	// Length is at most the block size; only the last chunk can be shorter.
	Length uint64
}

// End is the exclusive end of the chunk inside the transfer buffer.
func (c Chunk) End() uint64 {
	return c.Offset + c.Length
}

// Chunks splits a transfer of size bytes starting at block start into
// block-sized units.
func Chunks(start, size uint64, blockSize int64) iter.Seq[Chunk] {
	bs := uint64(blockSize)

	return func(yield func(Chunk) bool) {
		for processed := uint64(0); processed < size; processed += bs {
			c := Chunk{
				Address: start + processed/bs,
				Offset:  processed,
				Length:  min(size-processed, bs),
			}

			if !yield(c) {
				return
			}
		}
	}
}

// TotalChunks is the number of units a transfer of size bytes is split into.
func TotalChunks(size uint64, blockSize int64) uint64 {
	bs := uint64(blockSize)

	return (size + bs - 1) / bs
}

// BlockIdx returns the block containing the byte offset.
func BlockIdx(off uint64, blockSize int64) uint64 {
	return off / uint64(blockSize)
}

package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/e2b-dev/infra/packages/block-transfer/internal/block"
)

// Engine moves caller buffers to and from a block device one block-sized
// chunk at a time.
//
// Staging and the copy from the caller happen outside the engine lock, so a
// slow caller only holds its own staging budget. Resolving the start block,
// the chunk loop and the cursor update run under the lock: concurrent
// sequential transfers never interleave, and explicit-offset transfers take
// the same lock because they also rewrite the cursor.
type Engine struct {
	mu sync.Mutex

	gateway   block.Gateway
	allocator Allocator
	cursor    PositionTracker
	metrics   Metrics

	blockSize int64
}

func NewEngine(gateway block.Gateway, allocator Allocator, metrics Metrics) *Engine {
	return &Engine{
		gateway:   gateway,
		allocator: allocator,
		metrics:   metrics,
		blockSize: gateway.BlockSize(),
	}
}

func (e *Engine) BlockSize() int64 {
	return e.blockSize
}

// Position returns the current sequential cursor in bytes.
func (e *Engine) Position() uint64 {
	return e.cursor.Load()
}

// Execute runs one transfer and returns the number of bytes moved through
// completed chunks. The count is meaningful even when err is not nil: a
// device failure stops the transfer at the failing chunk and keeps the
// progress made before it.
//
// Device I/O is synchronous and cannot be interrupted; ctx only scopes
// logging and metrics.
func (e *Engine) Execute(ctx context.Context, req Request) (transferred uint64, err error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}

	start := time.Now()
	defer func() {
		e.metrics.record(ctx, req, transferred, err, time.Since(start))
	}()

	if req.Size == 0 {
		return 0, nil
	}

	staging, err := e.allocator.Acquire(req.Size)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrAllocationFailure, err)
	}
	defer staging.Release()

	buf := staging.Bytes()

	if req.Direction == block.DirectionWrite {
		if err := req.Buffer.CopyIn(buf); err != nil {
			return 0, fmt.Errorf("%w: copy from caller: %w", ErrBufferTransferFault, err)
		}
	}

	startBlock, transferred, cursor, err := e.transfer(req, buf)
	if err != nil {
		zap.L().Warn("device failed transfer chunk",
			zap.String("operation", req.Operation()),
			zap.Uint64("start_block", startBlock),
			zap.Uint64("size", req.Size),
			zap.Uint64("transferred", transferred),
			zap.Error(err),
		)
	}

	if err == nil && req.Direction == block.DirectionRead {
		err = e.deliver(req, buf, transferred)
	}

	zap.L().Debug("transfer finished",
		zap.String("operation", req.Operation()),
		zap.Uint64("start_block", startBlock),
		zap.Uint64("size", req.Size),
		zap.Uint64("transferred", transferred),
		zap.Uint64("cursor", cursor),
		zap.Stringer("status", StatusOf(err)),
	)

	return transferred, err
}

// transfer resolves the start block, drives the chunks and moves the cursor
// as one step under the engine lock.
func (e *Engine) transfer(req Request, buf []byte) (startBlock, transferred, cursor uint64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	startBlock = block.BlockIdx(e.startOffset(req), e.blockSize)
	transferred, err = e.submitChunks(startBlock, buf, req.Direction)
	e.updateCursor(req, transferred)

	return startBlock, transferred, e.cursor.Load(), err
}

func (e *Engine) startOffset(req Request) uint64 {
	if offset, ok := req.Position.Offset(); ok {
		return offset
	}

	return e.cursor.Load()
}

// submitChunks drives every chunk through the gateway in order and stops at
// the first failure. Completed chunks are not rolled back.
func (e *Engine) submitChunks(startBlock uint64, buf []byte, dir block.Direction) (uint64, error) {
	var transferred uint64

	for c := range block.Chunks(startBlock, uint64(len(buf)), e.blockSize) {
		n, err := e.gateway.Submit(c.Address, buf[c.Offset:c.End()], dir)
		if err != nil {
			return transferred, fmt.Errorf("%w: %s block %d: %w", ErrDeviceIOFailure, dir, c.Address, err)
		}

		if n < 0 || uint64(n) > c.Length {
			return transferred, fmt.Errorf("%w: %s block %d: device reported %d bytes for a %d byte unit", ErrDeviceIOFailure, dir, c.Address, n, c.Length)
		}

		// The gateway's count is reported, but the next chunk always starts
		// one full block later.
		transferred += uint64(n)
	}

	return transferred, nil
}

// deliver hands read data back to the caller. Data is only delivered when the
// whole request was read.
func (e *Engine) deliver(req Request, buf []byte, transferred uint64) error {
	if transferred < req.Size {
		return fmt.Errorf("%w: short read, %d of %d bytes", ErrDeviceIOFailure, transferred, req.Size)
	}

	if err := req.Buffer.CopyOut(buf); err != nil {
		return fmt.Errorf("%w: copy to caller: %w", ErrBufferTransferFault, err)
	}

	return nil
}

func (e *Engine) updateCursor(req Request, transferred uint64) {
	if offset, ok := req.Position.Offset(); ok {
		e.cursor.Set(offset + transferred)

		return
	}

	e.cursor.Advance(transferred)
}

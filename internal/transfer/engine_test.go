package transfer

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/e2b-dev/infra/packages/block-transfer/internal/block"
)

const testBlockSize = 512

var errMedia = errors.New("media error")

type faultyBuffer struct{}

func (faultyBuffer) CopyIn([]byte) error  { return errors.New("bad address") }
func (faultyBuffer) CopyOut([]byte) error { return errors.New("bad address") }

type failingAllocator struct{}

func (failingAllocator) Acquire(uint64) (*Staging, error) {
	return nil, errors.New("out of memory")
}

func newTestEngine(t *testing.T, gw block.Gateway, allocator Allocator) *Engine {
	t.Helper()

	metrics, err := NewMetrics(noop.NewMeterProvider())
	require.NoError(t, err)

	if allocator == nil {
		allocator = NewBudgetAllocator(0)
	}

	return NewEngine(gw, allocator, metrics)
}

func newMemory(t *testing.T, blocks int64) *block.Memory {
	t.Helper()

	dev, err := block.NewMemory(blocks*testBlockSize, testBlockSize)
	require.NoError(t, err)

	return dev
}

func newMockGateway(t *testing.T) *block.MockGateway {
	t.Helper()

	gw := block.NewMockGateway(t)
	gw.EXPECT().BlockSize().Return(int64(testBlockSize))

	return gw
}

func ofLen(n int) any {
	return mock.MatchedBy(func(p []byte) bool { return len(p) == n })
}

func TestExecute_ZeroLength(t *testing.T) {
	t.Parallel()

	positions := []Positioning{Sequential(), AtOffset(0), AtOffset(4096)}
	directions := []block.Direction{block.DirectionRead, block.DirectionWrite}

	for _, pos := range positions {
		for _, dir := range directions {
			// No Submit expectation: any device call fails the test.
			gw := newMockGateway(t)
			engine := newTestEngine(t, gw, failingAllocator{})

			n, err := engine.Execute(t.Context(), Request{Size: 0, Position: pos, Direction: dir})
			require.NoError(t, err, "%s %s", dir, pos)
			assert.Equal(t, uint64(0), n)
			assert.Equal(t, uint64(0), engine.Position())
		}
	}
}

func TestExecute_ChunkCount(t *testing.T) {
	t.Parallel()

	for _, size := range []int{1, 100, 511, 512, 513, 1024, 1500, 4096, 5000} {
		gw := newMockGateway(t)

		var lengths []int
		gw.EXPECT().Submit(mock.Anything, mock.Anything, block.DirectionWrite).
			RunAndReturn(func(_ uint64, p []byte, _ block.Direction) (int, error) {
				lengths = append(lengths, len(p))

				return len(p), nil
			})

		engine := newTestEngine(t, gw, nil)

		n, err := engine.Execute(t.Context(), Request{
			Buffer:    SliceBuffer(make([]byte, size)),
			Size:      uint64(size),
			Position:  Sequential(),
			Direction: block.DirectionWrite,
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(size), n)

		expected := (size + testBlockSize - 1) / testBlockSize
		require.Len(t, lengths, expected, "size %d", size)

		for i, l := range lengths[:len(lengths)-1] {
			assert.Equal(t, testBlockSize, l, "chunk %d of size %d", i, size)
		}

		last := size % testBlockSize
		if last == 0 {
			last = testBlockSize
		}
		assert.Equal(t, last, lengths[len(lengths)-1])
	}
}

func TestExecute_RoundTrip(t *testing.T) {
	t.Parallel()

	dev := newMemory(t, 8)
	gw := newMockGatewayOver(t, dev)

	writer := newTestEngine(t, gw, nil)

	data := bytes.Repeat([]byte{0xAB}, 1024)
	n, err := writer.Execute(t.Context(), Request{
		Buffer:    SliceBuffer(data),
		Size:      1024,
		Position:  Sequential(),
		Direction: block.DirectionWrite,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1024), n)
	assert.Equal(t, uint64(1024), writer.Position())

	gw.AssertNumberOfCalls(t, "Submit", 2)

	// A fresh engine on the same device starts with the cursor at zero.
	reader := newTestEngine(t, dev, nil)

	out := make([]byte, 1024)
	n, err = reader.Execute(t.Context(), Request{
		Buffer:    SliceBuffer(out),
		Size:      1024,
		Position:  Sequential(),
		Direction: block.DirectionRead,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1024), n)
	assert.Equal(t, data, out)
	assert.Equal(t, uint64(1024), reader.Position())
}

// newMockGatewayOver passes every submission through to dev while recording calls.
func newMockGatewayOver(t *testing.T, dev *block.Memory) *block.MockGateway {
	t.Helper()

	gw := newMockGateway(t)
	gw.EXPECT().Submit(mock.Anything, mock.Anything, mock.Anything).RunAndReturn(dev.Submit)

	return gw
}

func TestExecute_OffsetTruncation(t *testing.T) {
	t.Parallel()

	dev := newMemory(t, 4)
	engine := newTestEngine(t, dev, nil)

	data := bytes.Repeat([]byte{0x11}, testBlockSize)
	n, err := engine.Execute(t.Context(), Request{
		Buffer:    SliceBuffer(data),
		Size:      testBlockSize,
		Position:  AtOffset(600),
		Direction: block.DirectionWrite,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(testBlockSize), n)

	assert.False(t, dev.Written(0))
	assert.True(t, dev.Written(1))
	assert.False(t, dev.Written(2))

	out := make([]byte, testBlockSize)
	_, err = dev.Submit(1, out, block.DirectionRead)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	// The cursor keeps the untruncated offset.
	assert.Equal(t, uint64(600+testBlockSize), engine.Position())
}

func TestExecute_ExplicitOffsetChunking(t *testing.T) {
	t.Parallel()

	gw := newMockGateway(t)
	gw.EXPECT().Submit(uint64(2), ofLen(512), block.DirectionWrite).Return(512, nil).Once()
	gw.EXPECT().Submit(uint64(3), ofLen(88), block.DirectionWrite).Return(88, nil).Once()

	engine := newTestEngine(t, gw, nil)

	n, err := engine.Execute(t.Context(), Request{
		Buffer:    SliceBuffer(make([]byte, 600)),
		Size:      600,
		Position:  AtOffset(1024),
		Direction: block.DirectionWrite,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(600), n)
	assert.Equal(t, uint64(1624), engine.Position())
}

func TestExecute_PartialFailure(t *testing.T) {
	t.Parallel()

	gw := newMockGateway(t)
	gw.EXPECT().Submit(uint64(0), ofLen(512), block.DirectionWrite).Return(512, nil).Once()
	gw.EXPECT().Submit(uint64(1), ofLen(512), block.DirectionWrite).Return(0, errMedia).Once()

	allocator := NewBudgetAllocator(4 * testBlockSize)
	engine := newTestEngine(t, gw, allocator)

	n, err := engine.Execute(t.Context(), Request{
		Buffer:    SliceBuffer(make([]byte, 3*testBlockSize)),
		Size:      3 * testBlockSize,
		Position:  Sequential(),
		Direction: block.DirectionWrite,
	})
	require.ErrorIs(t, err, ErrDeviceIOFailure)
	require.ErrorIs(t, err, errMedia)
	assert.Equal(t, StatusDeviceIOFailure, StatusOf(err))
	assert.Equal(t, uint64(testBlockSize), n)

	gw.AssertNumberOfCalls(t, "Submit", 2)

	// Progress before the failure still moves the cursor.
	assert.Equal(t, uint64(testBlockSize), engine.Position())

	assertBudgetReleased(t, allocator, 4*testBlockSize)
}

func TestExecute_PartialReadIsNotDelivered(t *testing.T) {
	t.Parallel()

	gw := newMockGateway(t)
	gw.EXPECT().Submit(uint64(0), ofLen(512), block.DirectionRead).
		RunAndReturn(func(_ uint64, p []byte, _ block.Direction) (int, error) {
			for i := range p {
				p[i] = 0xEE
			}

			return len(p), nil
		}).Once()
	gw.EXPECT().Submit(uint64(1), ofLen(100), block.DirectionRead).Return(0, errMedia).Once()

	engine := newTestEngine(t, gw, nil)

	out := make([]byte, 612)
	n, err := engine.Execute(t.Context(), Request{
		Buffer:    SliceBuffer(out),
		Size:      612,
		Position:  Sequential(),
		Direction: block.DirectionRead,
	})
	require.ErrorIs(t, err, ErrDeviceIOFailure)
	assert.Equal(t, uint64(512), n)
	assert.Equal(t, make([]byte, 612), out)
}

func TestExecute_ShortReadWithoutError(t *testing.T) {
	t.Parallel()

	gw := newMockGateway(t)
	gw.EXPECT().Submit(uint64(0), ofLen(512), block.DirectionRead).Return(100, nil).Once()

	engine := newTestEngine(t, gw, nil)

	out := make([]byte, 512)
	n, err := engine.Execute(t.Context(), Request{
		Buffer:    SliceBuffer(out),
		Size:      512,
		Position:  Sequential(),
		Direction: block.DirectionRead,
	})
	require.ErrorIs(t, err, ErrDeviceIOFailure)
	assert.Equal(t, uint64(100), n)
	assert.Equal(t, uint64(100), engine.Position())
}

func TestExecute_AllocationFailure(t *testing.T) {
	t.Parallel()

	for _, dir := range []block.Direction{block.DirectionRead, block.DirectionWrite} {
		gw := newMockGateway(t)
		engine := newTestEngine(t, gw, failingAllocator{})

		n, err := engine.Execute(t.Context(), Request{
			Buffer:    SliceBuffer(make([]byte, 1024)),
			Size:      1024,
			Position:  AtOffset(2048),
			Direction: dir,
		})
		require.ErrorIs(t, err, ErrAllocationFailure)
		assert.Equal(t, StatusAllocationFailure, StatusOf(err))
		assert.Equal(t, uint64(0), n)
		assert.Equal(t, uint64(0), engine.Position())

		gw.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything)
	}
}

func TestExecute_StagingBudgetExceeded(t *testing.T) {
	t.Parallel()

	gw := newMockGateway(t)
	engine := newTestEngine(t, gw, NewBudgetAllocator(1024))

	n, err := engine.Execute(t.Context(), Request{
		Buffer:    SliceBuffer(make([]byte, 2048)),
		Size:      2048,
		Position:  Sequential(),
		Direction: block.DirectionWrite,
	})
	require.ErrorIs(t, err, ErrAllocationFailure)
	require.ErrorIs(t, err, ErrStagingBudgetExhausted)
	assert.Equal(t, uint64(0), n)
}

func TestExecute_CopyInFault(t *testing.T) {
	t.Parallel()

	gw := newMockGateway(t)
	allocator := NewBudgetAllocator(2048)
	engine := newTestEngine(t, gw, allocator)

	n, err := engine.Execute(t.Context(), Request{
		Buffer:    faultyBuffer{},
		Size:      1024,
		Position:  Sequential(),
		Direction: block.DirectionWrite,
	})
	require.ErrorIs(t, err, ErrBufferTransferFault)
	assert.Equal(t, StatusBufferTransferFault, StatusOf(err))
	assert.Equal(t, uint64(0), n)
	assert.Equal(t, uint64(0), engine.Position())

	gw.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything)
	assertBudgetReleased(t, allocator, 2048)
}

func TestExecute_CopyOutFault(t *testing.T) {
	t.Parallel()

	dev := newMemory(t, 4)
	engine := newTestEngine(t, dev, nil)

	n, err := engine.Execute(t.Context(), Request{
		Buffer:    faultyBuffer{},
		Size:      1024,
		Position:  Sequential(),
		Direction: block.DirectionRead,
	})
	require.ErrorIs(t, err, ErrBufferTransferFault)
	// The device moved the bytes even though the caller never got them.
	assert.Equal(t, uint64(1024), n)
	assert.Equal(t, uint64(1024), engine.Position())
}

func TestExecute_ShortCallerBuffer(t *testing.T) {
	t.Parallel()

	dev := newMemory(t, 4)
	engine := newTestEngine(t, dev, nil)

	_, err := engine.Execute(t.Context(), Request{
		Buffer:    SliceBuffer(make([]byte, 10)),
		Size:      1024,
		Position:  Sequential(),
		Direction: block.DirectionWrite,
	})
	require.ErrorIs(t, err, ErrBufferTransferFault)
	assert.Equal(t, uint(0), dev.WrittenBlocks())
}

func TestExecute_CursorCoupling(t *testing.T) {
	t.Parallel()

	dev := newMemory(t, 8)
	engine := newTestEngine(t, dev, nil)

	n, err := engine.Execute(t.Context(), Request{
		Buffer:    SliceBuffer(bytes.Repeat([]byte{0x01}, 600)),
		Size:      600,
		Position:  AtOffset(1024),
		Direction: block.DirectionWrite,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(600), n)
	assert.Equal(t, uint64(1624), engine.Position())

	// The next sequential transfer starts at the block containing 1624.
	n, err = engine.Execute(t.Context(), Request{
		Buffer:    SliceBuffer(bytes.Repeat([]byte{0x02}, testBlockSize)),
		Size:      testBlockSize,
		Position:  Sequential(),
		Direction: block.DirectionWrite,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(testBlockSize), n)
	assert.Equal(t, uint64(1624+testBlockSize), engine.Position())

	out := make([]byte, testBlockSize)
	_, err = dev.Submit(3, out, block.DirectionRead)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0x02}, testBlockSize), out)
}

func TestExecute_SequentialAdvances(t *testing.T) {
	t.Parallel()

	dev := newMemory(t, 8)
	engine := newTestEngine(t, dev, nil)

	for i := range 3 {
		_, err := engine.Execute(t.Context(), Request{
			Buffer:    SliceBuffer(bytes.Repeat([]byte{byte(i + 1)}, testBlockSize)),
			Size:      testBlockSize,
			Position:  Sequential(),
			Direction: block.DirectionWrite,
		})
		require.NoError(t, err)
	}

	assert.Equal(t, uint64(3*testBlockSize), engine.Position())

	for i := range 3 {
		out := make([]byte, testBlockSize)
		_, err := dev.Submit(uint64(i), out, block.DirectionRead)
		require.NoError(t, err)
		assert.Equal(t, bytes.Repeat([]byte{byte(i + 1)}, testBlockSize), out)
	}
}

func TestExecute_DeviceOutOfRange(t *testing.T) {
	t.Parallel()

	dev := newMemory(t, 2)
	engine := newTestEngine(t, dev, nil)

	n, err := engine.Execute(t.Context(), Request{
		Buffer:    SliceBuffer(make([]byte, 3*testBlockSize)),
		Size:      3 * testBlockSize,
		Position:  Sequential(),
		Direction: block.DirectionWrite,
	})
	require.ErrorIs(t, err, ErrDeviceIOFailure)
	require.ErrorIs(t, err, block.ErrOutOfRange)
	assert.Equal(t, uint64(2*testBlockSize), n)
}

func TestExecute_InvalidRequest(t *testing.T) {
	t.Parallel()

	gw := newMockGateway(t)
	engine := newTestEngine(t, gw, nil)

	_, err := engine.Execute(t.Context(), Request{
		Buffer:    SliceBuffer(make([]byte, 10)),
		Size:      10,
		Position:  Sequential(),
		Direction: block.Direction(7),
	})
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, StatusInvalidRequest, StatusOf(err))
}

func TestExecute_ConcurrentSequentialWrites(t *testing.T) {
	t.Parallel()

	const writers = 16

	dev := newMemory(t, writers)
	engine := newTestEngine(t, dev, nil)

	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func(fill byte) {
			defer wg.Done()

			_, err := engine.Execute(t.Context(), Request{
				Buffer:    SliceBuffer(bytes.Repeat([]byte{fill}, testBlockSize)),
				Size:      testBlockSize,
				Position:  Sequential(),
				Direction: block.DirectionWrite,
			})
			assert.NoError(t, err)
		}(byte(i + 1))
	}
	wg.Wait()

	// Every writer got its own block, none overwrote another.
	assert.Equal(t, uint64(writers*testBlockSize), engine.Position())
	assert.Equal(t, uint(writers), dev.WrittenBlocks())

	seen := map[byte]bool{}
	for i := range writers {
		out := make([]byte, testBlockSize)
		_, err := dev.Submit(uint64(i), out, block.DirectionRead)
		require.NoError(t, err)
		require.Equal(t, bytes.Repeat(out[:1], testBlockSize), out)
		seen[out[0]] = true
	}
	assert.Len(t, seen, writers)
}

func TestExecute_Metrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	metrics, err := NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	dev := newMemory(t, 4)
	engine := NewEngine(dev, NewBudgetAllocator(0), metrics)

	_, err = engine.Execute(t.Context(), Request{
		Buffer:    SliceBuffer(make([]byte, 700)),
		Size:      700,
		Position:  AtOffset(0),
		Direction: block.DirectionWrite,
	})
	require.NoError(t, err)

	_, err = engine.Execute(t.Context(), Request{
		Buffer:    SliceBuffer(make([]byte, testBlockSize)),
		Size:      testBlockSize,
		Position:  AtOffset(10 * testBlockSize),
		Direction: block.DirectionRead,
	})
	require.ErrorIs(t, err, ErrDeviceIOFailure)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(t.Context(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	var bytesMoved metricdata.Sum[int64]
	var transfers metricdata.Sum[int64]
	for _, m := range rm.ScopeMetrics[0].Metrics {
		switch m.Name {
		case "block_transfer.bytes":
			bytesMoved = m.Data.(metricdata.Sum[int64])
		case "block_transfer.transfers":
			transfers = m.Data.(metricdata.Sum[int64])
		}
	}

	require.Len(t, transfers.DataPoints, 2)
	for _, dp := range transfers.DataPoints {
		op, _ := dp.Attributes.Value(attribute.Key("operation"))
		status, _ := dp.Attributes.Value(attribute.Key("status"))

		switch op.AsString() {
		case "write_offset":
			assert.Equal(t, "ok", status.AsString())
		case "read_offset":
			assert.Equal(t, "device_io_failure", status.AsString())
		default:
			t.Fatalf("unexpected operation %q", op.AsString())
		}
	}

	var total int64
	for _, dp := range bytesMoved.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(700), total)
}

func assertBudgetReleased(t *testing.T, allocator *BudgetAllocator, limit uint64) {
	t.Helper()

	staging, err := allocator.Acquire(limit)
	require.NoError(t, err, "staging budget was not returned")
	staging.Release()
}

// stallingBuffer blocks CopyIn until release is closed.
type stallingBuffer struct {
	entered chan struct{}
	release chan struct{}
}

func (b stallingBuffer) CopyIn([]byte) error {
	close(b.entered)
	<-b.release

	return nil
}

func (stallingBuffer) CopyOut([]byte) error { return errors.New("write only") }

func TestExecute_SlowCallerDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	dev := newMemory(t, 4)
	engine := newTestEngine(t, dev, nil)

	slow := stallingBuffer{entered: make(chan struct{}), release: make(chan struct{})}

	done := make(chan error, 1)
	go func() {
		_, err := engine.Execute(t.Context(), Request{
			Buffer:    slow,
			Size:      testBlockSize,
			Position:  AtOffset(2 * testBlockSize),
			Direction: block.DirectionWrite,
		})
		done <- err
	}()

	<-slow.entered

	n, err := engine.Execute(t.Context(), Request{
		Buffer:    SliceBuffer(make([]byte, testBlockSize)),
		Size:      testBlockSize,
		Position:  AtOffset(0),
		Direction: block.DirectionRead,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(testBlockSize), n)

	close(slow.release)
	require.NoError(t, <-done)
	assert.Equal(t, uint64(3*testBlockSize), engine.Position())
}

func TestExecute_ConcurrentTransfersShareStagingBudget(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})

	var once sync.Once

	gw := newMockGateway(t)
	gw.EXPECT().Submit(mock.Anything, ofLen(testBlockSize), block.DirectionWrite).
		RunAndReturn(func(_ uint64, p []byte, _ block.Direction) (int, error) {
			once.Do(func() {
				close(entered)
				<-release
			})

			return len(p), nil
		}).Times(2)

	allocator := NewBudgetAllocator(2 * testBlockSize)
	engine := newTestEngine(t, gw, allocator)

	done := make(chan error, 1)
	go func() {
		_, err := engine.Execute(t.Context(), Request{
			Buffer:    SliceBuffer(make([]byte, 2*testBlockSize)),
			Size:      2 * testBlockSize,
			Position:  Sequential(),
			Direction: block.DirectionWrite,
		})
		done <- err
	}()

	<-entered

	// The first transfer still holds the whole budget.
	n, err := engine.Execute(t.Context(), Request{
		Buffer:    SliceBuffer(make([]byte, testBlockSize)),
		Size:      testBlockSize,
		Position:  Sequential(),
		Direction: block.DirectionRead,
	})
	require.ErrorIs(t, err, ErrAllocationFailure)
	require.ErrorIs(t, err, ErrStagingBudgetExhausted)
	assert.Zero(t, n)

	close(release)
	require.NoError(t, <-done)

	assertBudgetReleased(t, allocator, 2*testBlockSize)
}

func TestExecute_GatewayCountOutOfRange(t *testing.T) {
	t.Parallel()

	for _, reported := range []int{-1, testBlockSize + 1} {
		gw := newMockGateway(t)
		gw.EXPECT().Submit(uint64(0), ofLen(testBlockSize), block.DirectionWrite).Return(reported, nil).Once()

		engine := newTestEngine(t, gw, nil)

		n, err := engine.Execute(t.Context(), Request{
			Buffer:    SliceBuffer(make([]byte, 2*testBlockSize)),
			Size:      2 * testBlockSize,
			Position:  Sequential(),
			Direction: block.DirectionWrite,
		})
		require.ErrorIs(t, err, ErrDeviceIOFailure)
		assert.Zero(t, n)
		assert.Zero(t, engine.Position())
	}
}

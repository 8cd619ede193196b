package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/e2b-dev/infra/packages/block-transfer/internal/block"
	"github.com/e2b-dev/infra/packages/block-transfer/internal/cfg"
	"github.com/e2b-dev/infra/packages/block-transfer/internal/logger"
	"github.com/e2b-dev/infra/packages/block-transfer/internal/transfer"
)

// Session owns one open device and the engine that transfers to it.
type Session struct {
	ID     uuid.UUID
	Engine *transfer.Engine

	device block.Device
	path   string
}

// Open opens the configured device. A failure here leaves nothing open and
// is fatal for the daemon.
func Open(ctx context.Context, config cfg.Config, meterProvider metric.MeterProvider) (*Session, error) {
	id := uuid.New()

	device, err := openDevice(config)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s device %s: %w", config.DeviceBackend, config.DevicePath, err)
	}

	metered, err := block.NewMetered(device, meterProvider)
	if err != nil {
		return nil, errors.Join(err, device.Close())
	}

	metrics, err := transfer.NewMetrics(meterProvider)
	if err != nil {
		return nil, errors.Join(err, device.Close())
	}

	engine := transfer.NewEngine(metered, transfer.NewBudgetAllocator(int64(config.StagingMemoryLimit)), metrics)

	zap.L().Info("session opened",
		logger.WithSessionID(id),
		logger.WithDevicePath(config.DevicePath),
		zap.String("backend", string(config.DeviceBackend)),
		zap.Int64("block_size", device.BlockSize()),
		zap.Int64("device_size", device.Size()),
		zap.Stringer("staging_limit", config.StagingMemoryLimit),
	)

	return &Session{
		ID:     id,
		Engine: engine,
		device: metered,
		path:   config.DevicePath,
	}, nil
}

func openDevice(config cfg.Config) (block.Device, error) {
	blockSize := int64(config.BlockSize)

	switch config.DeviceBackend {
	case cfg.BackendFile:
		return block.OpenFile(config.DevicePath, blockSize, config.SyncWrites)
	case cfg.BackendMmap:
		if blockSize == 0 {
			blockSize = block.DefaultBlockSize
		}

		return block.OpenMmap(config.DevicePath, int64(config.DeviceSize), blockSize)
	case cfg.BackendMemory:
		if blockSize == 0 {
			blockSize = block.DefaultBlockSize
		}

		return block.NewMemory(int64(config.DeviceSize), blockSize)
	default:
		return nil, fmt.Errorf("unknown device backend %q", config.DeviceBackend)
	}
}

func (s *Session) Device() block.Device {
	return s.device
}

func (s *Session) Close() error {
	err := s.device.Close()

	zap.L().Info("session closed",
		logger.WithSessionID(s.ID),
		logger.WithDevicePath(s.path),
		zap.Uint64("cursor", s.Engine.Position()),
		zap.Error(err),
	)

	return err
}

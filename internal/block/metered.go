package block

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metered records latency and failures of every unit submitted to the
// wrapped device.
type Metered struct {
	Device

	submitLatency metric.Int64Histogram
	submitErrors  metric.Int64Counter
}

func NewMetered(device Device, meterProvider metric.MeterProvider) (*Metered, error) {
	meter := meterProvider.Meter("internal.block")

	latency, err := meter.Int64Histogram("block_transfer.device.submit.duration",
		metric.WithDescription("Duration of a single device I/O unit"),
		metric.WithUnit("us"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get submit latency metric: %w", err)
	}

	failures, err := meter.Int64Counter("block_transfer.device.submit.errors",
		metric.WithDescription("Device I/O units that failed"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get submit errors metric: %w", err)
	}

	return &Metered{
		Device:        device,
		submitLatency: latency,
		submitErrors:  failures,
	}, nil
}

func (m *Metered) Submit(address uint64, p []byte, dir Direction) (int, error) {
	start := time.Now()
	n, err := m.Device.Submit(address, p, dir)

	// Submit has no context of its own, the measurements are not tied to a request.
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("direction", dir.String()))

	m.submitLatency.Record(ctx, time.Since(start).Microseconds(), attrs)
	if err != nil {
		m.submitErrors.Add(ctx, 1, attrs)
	}

	return n, err
}

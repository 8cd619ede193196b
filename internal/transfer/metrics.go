package transfer

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Metrics struct {
	transfers metric.Int64Counter
	bytes     metric.Int64Counter
	duration  metric.Int64Histogram
}

func NewMetrics(meterProvider metric.MeterProvider) (Metrics, error) {
	meter := meterProvider.Meter("internal.transfer")

	transfers, err := meter.Int64Counter("block_transfer.transfers",
		metric.WithDescription("Transfers executed, by operation and status"),
		metric.WithUnit("{transfer}"),
	)
	if err != nil {
		return Metrics{}, fmt.Errorf("failed to get transfers metric: %w", err)
	}

	bytes, err := meter.Int64Counter("block_transfer.bytes",
		metric.WithDescription("Bytes moved between callers and the device"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return Metrics{}, fmt.Errorf("failed to get bytes metric: %w", err)
	}

	duration, err := meter.Int64Histogram("block_transfer.duration",
		metric.WithDescription("Duration of a whole transfer"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return Metrics{}, fmt.Errorf("failed to get duration metric: %w", err)
	}

	return Metrics{
		transfers: transfers,
		bytes:     bytes,
		duration:  duration,
	}, nil
}

func (m Metrics) record(ctx context.Context, req Request, transferred uint64, err error, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("operation", req.Operation()),
		attribute.String("status", StatusOf(err).String()),
	)

	m.transfers.Add(ctx, 1, attrs)
	m.bytes.Add(ctx, int64(transferred), attrs)
	m.duration.Record(ctx, elapsed.Milliseconds(), attrs)
}

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding/gzip"
)

const metricExportPeriod = 15 * time.Second

type Client struct {
	MeterProvider metric.MeterProvider

	shutdown []func(ctx context.Context) error
}

// NewNoopClient returns a client whose instruments record nothing.
func NewNoopClient() *Client {
	return &Client{MeterProvider: noop.NewMeterProvider()}
}

// New exports metrics to the collector at endpoint. An empty endpoint
// disables export.
func New(ctx context.Context, endpoint, serviceName, serviceVersion string) (*Client, error) {
	if endpoint == "" {
		return NewNoopClient(), nil
	}

	res, err := GetResource(ctx, serviceName, serviceVersion)
	if err != nil {
		return nil, err
	}

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create otel collector connection: %w", err)
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithGRPCConn(conn),
		otlpmetricgrpc.WithCompressor(gzip.Name),
	)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create metric exporter: %w", err), conn.Close())
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(
				exporter,
				sdkmetric.WithInterval(metricExportPeriod),
			),
		),
	)

	otel.SetMeterProvider(meterProvider)

	return &Client{
		MeterProvider: meterProvider,
		shutdown: []func(ctx context.Context) error{
			meterProvider.Shutdown,
			func(context.Context) error { return conn.Close() },
		},
	}, nil
}

func GetResource(ctx context.Context, serviceName, serviceVersion string) (*resource.Resource, error) {
	attributes := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
		semconv.ServiceInstanceID(uuid.New().String()),
		semconv.TelemetrySDKName("otel"),
		semconv.TelemetrySDKLanguageGo,
	}

	hostname, err := os.Hostname()
	if err == nil {
		attributes = append(attributes, semconv.HostName(hostname))
	}

	res, err := resource.New(
		ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(attributes...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	return res, nil
}

// Shutdown flushes pending metrics and closes the collector connection.
func (c *Client) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range c.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

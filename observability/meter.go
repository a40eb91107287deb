package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/proxykit/logger"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// DefaultMeterConfig returns sensible defaults for development.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

// InitMeter initializes the OpenTelemetry meter provider and installs it globally.
// The returned provider should be shut down on exit.
func InitMeter(ctx context.Context, config MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))

	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Metrics holds the instruments recorded by proxies and target sources.
type Metrics struct {
	invocationTotal    metric.Int64Counter
	invocationDuration metric.Float64Histogram
	invocationActive   metric.Int64UpDownCounter
	leaseActive        metric.Int64UpDownCounter
	leaseWait          metric.Float64Histogram
	exhaustedTotal     metric.Int64Counter
}

// NewMetrics creates metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	invocationTotal, err := meter.Int64Counter("proxy.invocation.total",
		metric.WithDescription("Total number of proxy invocations"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating proxy.invocation.total counter: %w", err)
	}

	invocationDuration, err := meter.Float64Histogram("proxy.invocation.duration",
		metric.WithDescription("Duration of proxy invocations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating proxy.invocation.duration histogram: %w", err)
	}

	invocationActive, err := meter.Int64UpDownCounter("proxy.invocation.active",
		metric.WithDescription("Number of in-flight proxy invocations"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating proxy.invocation.active gauge: %w", err)
	}

	leaseActive, err := meter.Int64UpDownCounter("target.lease.active",
		metric.WithDescription("Number of instances currently checked out of a target source"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating target.lease.active gauge: %w", err)
	}

	leaseWait, err := meter.Float64Histogram("target.lease.wait",
		metric.WithDescription("Time spent waiting for a pooled instance in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating target.lease.wait histogram: %w", err)
	}

	exhaustedTotal, err := meter.Int64Counter("target.pool.exhausted",
		metric.WithDescription("Number of lease attempts rejected by an exhausted pool"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating target.pool.exhausted counter: %w", err)
	}

	return &Metrics{
		invocationTotal:    invocationTotal,
		invocationDuration: invocationDuration,
		invocationActive:   invocationActive,
		leaseActive:        leaseActive,
		leaseWait:          leaseWait,
		exhaustedTotal:     exhaustedTotal,
	}, nil
}

// RecordInvocationStart increments the in-flight invocation count.
func (m *Metrics) RecordInvocationStart(ctx context.Context) {
	m.invocationActive.Add(ctx, 1)
}

// RecordInvocation decrements in-flight invocations and records the completed call.
func (m *Metrics) RecordInvocation(ctx context.Context, identity, member, status string, duration time.Duration) {
	m.invocationActive.Add(ctx, -1)
	m.invocationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrIdentity, identity),
		attribute.String(AttrMember, member),
		attribute.String(AttrStatus, status),
	))
	m.invocationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(AttrIdentity, identity),
		attribute.String(AttrMember, member),
	))
}

// RecordLease records a checkout (delta=1) or check-in (delta=-1).
func (m *Metrics) RecordLease(ctx context.Context, identity string, delta int64) {
	m.leaseActive.Add(ctx, delta, metric.WithAttributes(attribute.String(AttrIdentity, identity)))
}

// RecordLeaseWait records how long a pooled checkout waited.
func (m *Metrics) RecordLeaseWait(ctx context.Context, identity string, wait time.Duration) {
	m.leaseWait.Record(ctx, wait.Seconds(), metric.WithAttributes(attribute.String(AttrIdentity, identity)))
}

// RecordExhausted counts a rejected checkout.
func (m *Metrics) RecordExhausted(ctx context.Context, identity string) {
	m.exhaustedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrIdentity, identity)))
}

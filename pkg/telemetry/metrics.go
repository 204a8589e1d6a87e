package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName identifies the meter every process-level instrument is created
// under. A single meter per process is enough; instruments are distinguished
// by name.
const MeterName = "booking-orchestrator"

// MetricOpts describes an instrument the way the OTel SDK wants it: a
// dotted/underscored name, a human description and a unit string ("1",
// "s", "By", ...).
type MetricOpts struct {
	Name        string
	Description string
	Unit        string
}

func meter() metric.Meter {
	return otel.Meter(MeterName)
}

// Counter wraps an otel Int64Counter with an Inc/Add pair: most callers
// only ever add 1.
type Counter struct {
	inst metric.Int64Counter
}

// NewCounter creates a monotonic counter instrument.
func NewCounter(opts MetricOpts) (*Counter, error) {
	inst, err := meter().Int64Counter(
		opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	)
	if err != nil {
		return nil, err
	}
	return &Counter{inst: inst}, nil
}

// Inc increments the counter by one.
func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.Add(ctx, 1, attrs...)
}

// Add increments the counter by delta, which may be negative-free only
// (counters are monotonic); use UpDownCounter for values that can fall.
func (c *Counter) Add(ctx context.Context, delta int64, attrs ...attribute.KeyValue) {
	c.inst.Add(ctx, delta, metric.WithAttributes(attrs...))
}

// Histogram wraps an otel Float64Histogram for latency and size
// distributions.
type Histogram struct {
	inst metric.Float64Histogram
}

// NewHistogramWithBuckets creates a histogram instrument with explicit
// bucket boundaries, overriding the SDK's default bucket set.
func NewHistogramWithBuckets(opts MetricOpts, buckets []float64) (*Histogram, error) {
	inst, err := meter().Float64Histogram(
		opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	if err != nil {
		return nil, err
	}
	return &Histogram{inst: inst}, nil
}

// NewHistogram creates a histogram instrument using the SDK's default
// bucket boundaries.
func NewHistogram(opts MetricOpts) (*Histogram, error) {
	inst, err := meter().Float64Histogram(
		opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	)
	if err != nil {
		return nil, err
	}
	return &Histogram{inst: inst}, nil
}

// Record adds an observation to the histogram.
func (h *Histogram) Record(ctx context.Context, value float64, attrs ...attribute.KeyValue) {
	h.inst.Record(ctx, value, metric.WithAttributes(attrs...))
}

// UpDownCounter wraps an otel Int64UpDownCounter for gauges that move in
// both directions, like in-flight counts and queue depth.
type UpDownCounter struct {
	inst metric.Int64UpDownCounter
}

// NewUpDownCounter creates an up/down counter instrument.
func NewUpDownCounter(opts MetricOpts) (*UpDownCounter, error) {
	inst, err := meter().Int64UpDownCounter(
		opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	)
	if err != nil {
		return nil, err
	}
	return &UpDownCounter{inst: inst}, nil
}

// Inc increases the counter by one.
func (u *UpDownCounter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	u.Add(ctx, 1, attrs...)
}

// Dec decreases the counter by one.
func (u *UpDownCounter) Dec(ctx context.Context, attrs ...attribute.KeyValue) {
	u.Add(ctx, -1, attrs...)
}

// Add changes the counter by delta, which may be negative.
func (u *UpDownCounter) Add(ctx context.Context, delta int64, attrs ...attribute.KeyValue) {
	u.inst.Add(ctx, delta, metric.WithAttributes(attrs...))
}

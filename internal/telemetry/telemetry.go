// Package telemetry holds the OpenTelemetry tracer and instruments used by
// the engine, plus a pebble MetricsHook that records storage latencies.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rzbill/brook/internal/brook"
	pebblestore "github.com/rzbill/brook/internal/storage/pebble"
)

const instrumentationName = "github.com/rzbill/brook"

// Attribute keys.
const (
	AttrBrook   = attribute.Key("brook.key")
	AttrFrom    = attribute.Key("brook.from")
	AttrTo      = attribute.Key("brook.to")
	AttrCount   = attribute.Key("brook.events")
	AttrOutcome = attribute.Key("brook.recovery.outcome")
	AttrOp      = attribute.Key("storage.op")
)

// Telemetry bundles the tracer and instruments.
type Telemetry struct {
	tracer trace.Tracer
	meter  metric.Meter

	appendedEvents metric.Int64Counter
	conflicts      metric.Int64Counter
	recoveries     metric.Int64Counter
	readEvents     metric.Int64Counter
	storageLatency metric.Float64Histogram
	storageBytes   metric.Int64Counter
}

// Option configures Telemetry.
type Option func(*Telemetry)

// WithTracerProvider sets a custom tracer provider.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(t *Telemetry) {
		t.tracer = provider.Tracer(instrumentationName)
	}
}

// WithMeterProvider sets a custom meter provider.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(t *Telemetry) {
		t.meter = provider.Meter(instrumentationName)
	}
}

// New builds Telemetry on the global providers unless overridden.
func New(opts ...Option) (*Telemetry, error) {
	t := &Telemetry{
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(t)
	}

	var err error
	t.appendedEvents, err = t.meter.Int64Counter(
		"brook.append.events",
		metric.WithDescription("Number of events durably appended"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}
	t.conflicts, err = t.meter.Int64Counter(
		"brook.append.conflicts",
		metric.WithDescription("Number of appends rejected by optimistic concurrency"),
		metric.WithUnit("{append}"),
	)
	if err != nil {
		return nil, err
	}
	t.recoveries, err = t.meter.Int64Counter(
		"brook.recovery.count",
		metric.WithDescription("Number of pending cursors resolved"),
		metric.WithUnit("{recovery}"),
	)
	if err != nil {
		return nil, err
	}
	t.readEvents, err = t.meter.Int64Counter(
		"brook.read.events",
		metric.WithDescription("Number of events returned by range reads"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}
	t.storageLatency, err = t.meter.Float64Histogram(
		"brook.storage.duration",
		metric.WithDescription("Local storage operation duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	t.storageBytes, err = t.meter.Int64Counter(
		"brook.storage.bytes",
		metric.WithDescription("Bytes moved by local storage operations"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Noop returns Telemetry backed by no-op providers.
func Noop() *Telemetry {
	t, _ := New(WithTracerProvider(noopTracerProvider()), WithMeterProvider(noopMeterProvider()))
	return t
}

// Start opens a span for an operation on key.
func (t *Telemetry) Start(ctx context.Context, name string, key brook.Key, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, AttrBrook.String(key.String()))
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Appended counts n durably appended events.
func (t *Telemetry) Appended(ctx context.Context, key brook.Key, n int) {
	t.appendedEvents.Add(ctx, int64(n), metric.WithAttributes(AttrBrook.String(key.Type)))
}

// Conflict counts an append lost to a concurrent writer.
func (t *Telemetry) Conflict(ctx context.Context, key brook.Key) {
	t.conflicts.Add(ctx, 1, metric.WithAttributes(AttrBrook.String(key.Type)))
}

// Recovered counts a recovery decision.
func (t *Telemetry) Recovered(ctx context.Context, key brook.Key, outcome string) {
	t.recoveries.Add(ctx, 1, metric.WithAttributes(AttrBrook.String(key.Type), AttrOutcome.String(outcome)))
}

// Read counts events returned by a range read.
func (t *Telemetry) Read(ctx context.Context, key brook.Key, n int) {
	t.readEvents.Add(ctx, int64(n), metric.WithAttributes(AttrBrook.String(key.Type)))
}

// StorageHook returns a pebble MetricsHook feeding the storage instruments.
func (t *Telemetry) StorageHook() pebblestore.MetricsHook { return storageHook{t: t} }

type storageHook struct{ t *Telemetry }

func (h storageHook) observe(op string, elapsed time.Duration, bytes int) {
	ctx := context.Background()
	attrs := metric.WithAttributes(AttrOp.String(op))
	h.t.storageLatency.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	h.t.storageBytes.Add(ctx, int64(bytes), attrs)
}

func (h storageHook) ObserveWrite(elapsed time.Duration, bytes int) {
	h.observe("write", elapsed, bytes)
}

func (h storageHook) ObserveRead(elapsed time.Duration, bytes int) {
	h.observe("read", elapsed, bytes)
}

func (h storageHook) ObserveBatchCommit(elapsed time.Duration, _ int, bytes int) {
	h.observe("commit", elapsed, bytes)
}

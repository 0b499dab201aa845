// Package otelledger provides OpenTelemetry instrumentation, in the form of
// metrics and traces, for the event ledger components.
package otelledger

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/version"
)

// Attribute keys used by the InstrumentedEventStore instrumentation.
const (
	ErrorAttribute                attribute.Key = "error"
	ConflictAttribute             attribute.Key = "conflict"
	TenantIDKey                   attribute.Key = "tenant.id"
	EventStreamNameKey            attribute.Key = "event_stream.name"
	EventStreamVersionSelectorKey attribute.Key = "event_stream.select_from_version"
	EventStreamExpectedVersionKey attribute.Key = "event_stream.expected_version"
	EventStoreNumEventsKey        attribute.Key = "event_store.num_events"
	TrackingAfterKey              attribute.Key = "tracking.after"
)

var _ event.TrackingStore = new(InstrumentedEventStore)

// InstrumentedEventStore is a wrapper type over an event.TrackingStore
// instance to provide instrumentation, in the form of metrics and traces
// using OpenTelemetry.
//
// Use NewInstrumentedEventStore for constructing a new instance of this type.
type InstrumentedEventStore struct {
	eventStore event.TrackingStore

	tracer            trace.Tracer
	streamDuration    metric.Int64Histogram
	streamAllDuration metric.Int64Histogram
	appendDuration    metric.Int64Histogram
	appendedEvents    metric.Int64Counter
}

func (ies *InstrumentedEventStore) registerMetrics(meter metric.Meter) error {
	var err error

	if ies.streamDuration, err = meter.Int64Histogram(
		"eventledger.event_store.stream.duration.milliseconds",
		metric.WithUnit("ms"),
		metric.WithDescription("Duration in milliseconds of event.Store.Stream operations performed."),
	); err != nil {
		return fmt.Errorf("otelledger.InstrumentedEventStore: failed to register metric: %w", err)
	}

	if ies.streamAllDuration, err = meter.Int64Histogram(
		"eventledger.event_store.stream_all.duration.milliseconds",
		metric.WithUnit("ms"),
		metric.WithDescription("Duration in milliseconds of event.Tracker.StreamAll operations performed."),
	); err != nil {
		return fmt.Errorf("otelledger.InstrumentedEventStore: failed to register metric: %w", err)
	}

	if ies.appendDuration, err = meter.Int64Histogram(
		"eventledger.event_store.append.duration.milliseconds",
		metric.WithUnit("ms"),
		metric.WithDescription("Duration in milliseconds of event.Store.Append operations performed."),
	); err != nil {
		return fmt.Errorf("otelledger.InstrumentedEventStore: failed to register metric: %w", err)
	}

	if ies.appendedEvents, err = meter.Int64Counter(
		"eventledger.event_store.appended_events",
		metric.WithDescription("Number of events committed through event.Store.Append."),
	); err != nil {
		return fmt.Errorf("otelledger.InstrumentedEventStore: failed to register metric: %w", err)
	}

	return nil
}

// NewInstrumentedEventStore returns a wrapper type to provide OpenTelemetry
// instrumentation (metrics and traces) around an event.TrackingStore.
//
// An error is returned if metrics could not be registered.
func NewInstrumentedEventStore(eventStore event.TrackingStore, options ...Option) (*InstrumentedEventStore, error) {
	cfg := newConfig(options...)

	ies := &InstrumentedEventStore{
		eventStore: eventStore,
		tracer:     cfg.tracer(),
	}

	if err := ies.registerMetrics(cfg.meter()); err != nil {
		return nil, err
	}

	return ies, nil
}

func observe(
	ctx context.Context,
	span trace.Span,
	histogram metric.Int64Histogram,
	start time.Time,
	err error,
	attributes ...attribute.KeyValue,
) {
	attributes = append(attributes, ErrorAttribute.Bool(err != nil))
	histogram.Record(ctx, time.Since(start).Milliseconds(), metric.WithAttributes(attributes...))

	if err != nil {
		span.RecordError(err)
	}

	span.End()
}

// Stream calls the wrapped event.Store.Stream method and records metrics and traces around it.
func (ies *InstrumentedEventStore) Stream(
	ctx context.Context,
	stream event.StreamWrite,
	id event.StreamID,
	selector version.Selector,
) (err error) {
	ctx, span := ies.tracer.Start(ctx, "event.Store.Stream", trace.WithAttributes(
		TenantIDKey.String(id.TenantID),
		EventStreamNameKey.String(id.Name),
		EventStreamVersionSelectorKey.Int64(int64(selector.From)),
	))
	start := time.Now()

	defer func() { observe(ctx, span, ies.streamDuration, start, err) }()

	err = ies.eventStore.Stream(ctx, stream, id, selector)

	return
}

// StreamAll calls the wrapped event.Tracker.StreamAll method and records metrics and traces around it.
func (ies *InstrumentedEventStore) StreamAll(
	ctx context.Context,
	stream event.StreamWrite,
	selector event.TrackingSelector,
) (err error) {
	ctx, span := ies.tracer.Start(ctx, "event.Tracker.StreamAll", trace.WithAttributes(
		TenantIDKey.String(selector.TenantID),
		TrackingAfterKey.Int64(selector.After),
	))
	start := time.Now()

	defer func() { observe(ctx, span, ies.streamAllDuration, start, err) }()

	err = ies.eventStore.StreamAll(ctx, stream, selector)

	return
}

// Append calls the wrapped event.Store.Append method and records metrics and traces around it.
func (ies *InstrumentedEventStore) Append(
	ctx context.Context,
	id event.StreamID,
	expected version.Check,
	events ...event.Envelope,
) (commit event.Commit, err error) {
	expectedVersion := int64(-1)
	if v, ok := expected.(version.CheckExact); ok {
		expectedVersion = int64(v)
	}

	ctx, span := ies.tracer.Start(ctx, "event.Store.Append", trace.WithAttributes(
		TenantIDKey.String(id.TenantID),
		EventStreamNameKey.String(id.Name),
		EventStreamExpectedVersionKey.Int64(expectedVersion),
		EventStoreNumEventsKey.Int(len(events)),
	))
	start := time.Now()

	defer func() {
		if err == nil {
			ies.appendedEvents.Add(ctx, int64(len(events)), metric.WithAttributes(TenantIDKey.String(id.TenantID)))
		}

		observe(ctx, span, ies.appendDuration, start, err, ConflictAttribute.Bool(version.IsConflict(err)))
	}()

	commit, err = ies.eventStore.Append(ctx, id, expected, events...)

	return
}

// CurrentVersion calls the wrapped event.VersionReader.CurrentVersion method.
func (ies *InstrumentedEventStore) CurrentVersion(ctx context.Context, id event.StreamID) (version.Version, bool, error) {
	return ies.eventStore.CurrentVersion(ctx, id)
}

// LatestGlobalSequenceID calls the wrapped event.Tracker.LatestGlobalSequenceID method.
func (ies *InstrumentedEventStore) LatestGlobalSequenceID(ctx context.Context) (int64, error) {
	return ies.eventStore.LatestGlobalSequenceID(ctx)
}

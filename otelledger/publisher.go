package otelledger

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/get-eventually/eventledger/relay"
)

// SubjectAttribute is the broker subject an event is published to.
const SubjectAttribute attribute.Key = "messaging.destination.name"

var _ relay.Publisher = new(InstrumentedPublisher)

// InstrumentedPublisher is a wrapper type over a relay.Publisher to provide
// instrumentation of the publish attempts of the outbox relay.
type InstrumentedPublisher struct {
	publisher relay.Publisher

	tracer          trace.Tracer
	publishDuration metric.Int64Histogram
	published       metric.Int64Counter
	failures        metric.Int64Counter
}

// NewInstrumentedPublisher returns a wrapper type to provide OpenTelemetry
// instrumentation (metrics and traces) around a relay.Publisher.
func NewInstrumentedPublisher(publisher relay.Publisher, options ...Option) (*InstrumentedPublisher, error) {
	cfg := newConfig(options...)
	meter := cfg.meter()

	ip := &InstrumentedPublisher{
		publisher: publisher,
		tracer:    cfg.tracer(),
	}

	var err error

	if ip.publishDuration, err = meter.Int64Histogram(
		"eventledger.relay.publish.duration.milliseconds",
		metric.WithUnit("ms"),
		metric.WithDescription("Duration in milliseconds of the publish attempts of the outbox relay."),
	); err != nil {
		return nil, fmt.Errorf("otelledger.InstrumentedPublisher: failed to register metric: %w", err)
	}

	if ip.published, err = meter.Int64Counter(
		"eventledger.relay.published",
		metric.WithDescription("Number of events acknowledged by the broker."),
	); err != nil {
		return nil, fmt.Errorf("otelledger.InstrumentedPublisher: failed to register metric: %w", err)
	}

	if ip.failures, err = meter.Int64Counter(
		"eventledger.relay.publish_failures",
		metric.WithDescription("Number of failed publish attempts."),
	); err != nil {
		return nil, fmt.Errorf("otelledger.InstrumentedPublisher: failed to register metric: %w", err)
	}

	return ip, nil
}

// Publish calls the wrapped relay.Publisher.Publish method and records metrics and traces around it.
func (ip *InstrumentedPublisher) Publish(ctx context.Context, subject, tenantID string, payload []byte) (err error) {
	attributes := []attribute.KeyValue{
		SubjectAttribute.String(subject),
		TenantIDKey.String(tenantID),
	}

	ctx, span := ip.tracer.Start(ctx, "relay.Publisher.Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attributes...),
	)
	start := time.Now()

	defer func() {
		counter := ip.published
		if err != nil {
			counter = ip.failures
		}

		counter.Add(ctx, 1, metric.WithAttributes(attributes...))
		observe(ctx, span, ip.publishDuration, start, err, attributes...)
	}()

	err = ip.publisher.Publish(ctx, subject, tenantID, payload)

	return
}

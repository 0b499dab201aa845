// Package kafka contains the Kafka Publisher the outbox relay republishes
// events with, and the Subscriber that consumes them on the other side.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/relay"
)

// Writer is the part of *kafka.Writer used by the Publisher.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PublisherConfig configures the kafka.Writer of a Publisher.
type PublisherConfig struct {
	Brokers                []string
	BatchTimeout           time.Duration
	WriteTimeout           time.Duration
	AllowAutoTopicCreation bool
}

var _ relay.Publisher = new(Publisher)

// Publisher is a relay.Publisher writing to Kafka topics named after the subject.
//
// Messages are keyed by tenant, so that the events of a tenant, and then
// of each of its streams, land on the same partition in relay order.
type Publisher struct {
	writer Writer
	now    func() time.Time
}

// NewPublisher returns a Publisher waiting for the acknowledgment of all
// the in-sync replicas on every publish.
func NewPublisher(cfg PublisherConfig) *Publisher {
	return NewPublisherWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: cfg.AllowAutoTopicCreation,
	})
}

// NewPublisherWithWriter returns a Publisher using the provided Writer,
// which must be synchronous.
func NewPublisherWithWriter(w Writer) *Publisher {
	return &Publisher{writer: w, now: time.Now}
}

// Publish implements relay.Publisher.
func (p *Publisher) Publish(ctx context.Context, subject, tenantID string, payload []byte) error {
	msg := kafka.Message{
		Topic: subject,
		Key:   []byte(tenantID),
		Value: payload,
		Time:  p.now().UTC(),
		Headers: []kafka.Header{
			{Key: event.MetadataKeyTenantID, Value: []byte(tenantID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka.Publisher: failed to write message to %s, %w", subject, err)
	}

	return nil
}

// Close flushes and closes the underlying Writer.
func (p *Publisher) Close() error { return p.writer.Close() }

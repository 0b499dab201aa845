// Package rabbitmq contains a relay.Publisher for RabbitMQ topic exchanges.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/relay"
)

// DefaultExchange is the exchange used when none is configured.
const DefaultExchange = "eventledger"

// ErrNotConfirmed is returned when the broker nacks a publishing.
var ErrNotConfirmed = errors.New("rabbitmq: publishing was not confirmed by the broker")

// Config configures a Publisher.
type Config struct {
	URL      string
	Exchange string
}

var _ relay.Publisher = new(Publisher)

// Publisher publishes persistent messages on a durable topic exchange,
// using the event subject as routing key.
//
// The channel is put in confirm mode: Publish returns only once the broker
// has taken responsibility for the message.
type Publisher struct {
	exchange string
	conn     *amqp091.Connection

	mx sync.Mutex
	ch *amqp091.Channel
}

// NewPublisher dials the broker and declares the exchange.
func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rabbitmq.NewPublisher: url is required")
	}

	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}

	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq.NewPublisher: failed to dial broker, %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq.NewPublisher: failed to open channel, %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, amqp091.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq.NewPublisher: failed to declare exchange, %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq.NewPublisher: failed to enable publisher confirms, %w", err)
	}

	return &Publisher{exchange: cfg.Exchange, conn: conn, ch: ch}, nil
}

// Publish implements relay.Publisher.
func (p *Publisher) Publish(ctx context.Context, subject, tenantID string, payload []byte) error {
	p.mx.Lock()
	confirmation, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, subject, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         subject,
		Headers:      amqp091.Table{event.MetadataKeyTenantID: tenantID},
		Body:         payload,
	})
	p.mx.Unlock()

	if err != nil {
		return fmt.Errorf("rabbitmq.Publisher: failed to publish to %s, %w", subject, err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("rabbitmq.Publisher: failed to wait for confirmation, %w", err)
	}

	if !acked {
		return fmt.Errorf("rabbitmq.Publisher: %s, %w", subject, ErrNotConfirmed)
	}

	return nil
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	p.mx.Lock()
	defer p.mx.Unlock()

	if err := p.ch.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
		return fmt.Errorf("rabbitmq.Publisher: failed to close channel, %w", err)
	}

	return p.conn.Close()
}

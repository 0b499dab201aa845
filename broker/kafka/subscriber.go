package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"github.com/get-eventually/eventledger/broker"
	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/logger"
	"github.com/get-eventually/eventledger/serde"
)

// Reader is the part of *kafka.Reader used by the Subscriber.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SubscriberConfig configures the consumer group reader of a Subscriber.
type SubscriberConfig struct {
	Brokers     []string
	GroupID     string
	Topics      []string
	MinBytes    int
	MaxBytes    int
	MaxWait     time.Duration
	StartOffset int64
}

// NewReader returns a consumer group *kafka.Reader for the configured topics.
func NewReader(cfg SubscriberConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: cfg.StartOffset,
	})
}

// Default values used by a Subscriber.
const (
	DefaultMaxRetries   = 5
	DefaultRetryBackoff = 200 * time.Millisecond
)

// Subscriber consumes relayed events and hands them to a Processor,
// with the tenant context of the event restored on the context.
//
// Delivery is at-least-once: wrap the Processor with an idempotency.Processor
// to apply the effects of each event once.
type Subscriber struct {
	Reader    Reader
	Codec     serde.MessageCodec
	Processor event.Processor

	// MaxRetries is the number of retries of a failing Processor,
	// after which the message is logged and committed.
	MaxRetries   uint64
	RetryBackoff time.Duration

	Logger logger.Logger
}

func (s Subscriber) backOff(ctx context.Context) backoff.BackOff {
	maxRetries, interval := s.MaxRetries, s.RetryBackoff

	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}

	if interval <= 0 {
		interval = DefaultRetryBackoff
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval
	b.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)
}

// Run consumes messages until the context is canceled, returning nil.
func (s Subscriber) Run(ctx context.Context) error {
	defer s.Reader.Close()

	for {
		m, err := s.Reader.FetchMessage(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil
		}

		if err != nil {
			return fmt.Errorf("kafka.Subscriber: failed to fetch message, %w", err)
		}

		if err := s.Handle(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			logger.Error(s.Logger, "Giving up on message",
				logger.With("topic", m.Topic),
				logger.With("partition", m.Partition),
				logger.With("offset", m.Offset),
				logger.Err(err),
			)
		}

		if err := s.Reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			return fmt.Errorf("kafka.Subscriber: failed to commit message, %w", err)
		}
	}
}

// Handle decodes a single message and processes it, retrying failures.
// Messages that cannot be decoded are not retried.
func (s Subscriber) Handle(ctx context.Context, m kafka.Message) error {
	msg, err := broker.Decode(m.Value)
	if err != nil {
		return err
	}

	evt, err := msg.Event(s.Codec)
	if err != nil {
		return err
	}

	ctx = msg.Context(ctx)

	return backoff.Retry(func() error {
		return s.Processor.Process(ctx, evt)
	}, s.backOff(ctx))
}

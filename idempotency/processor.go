package idempotency

import (
	"context"
	"fmt"

	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/logger"
)

var _ event.Processor = Processor{}

// Processor is an event.Processor decorator that skips the events
// already processed by the Consumer, and marks the ones it applies.
type Processor struct {
	Consumer  string
	Ledger    Ledger
	Processor event.Processor
	Logger    logger.Logger
}

// Process implements event.Processor.
func (p Processor) Process(ctx context.Context, evt event.Persisted) error {
	key := KeyOf(p.Consumer, evt)
	if err := key.Validate(); err != nil {
		return fmt.Errorf("idempotency.Processor: invalid event, %w", err)
	}

	processed, err := p.Ledger.HasProcessed(ctx, key.Consumer, key.EventID, key.TenantID)
	if err != nil {
		return fmt.Errorf("idempotency.Processor: failed to check ledger, %w", err)
	}

	if processed {
		logger.Debug(p.Logger, "Event already processed, skipping",
			logger.With("consumer", key.Consumer),
			logger.With("event.id", key.EventID),
			logger.With("tenant.id", key.TenantID),
		)

		return nil
	}

	if err := p.Processor.Process(ctx, evt); err != nil {
		return err
	}

	if err := p.Ledger.MarkProcessed(ctx, key.Consumer, key.EventID, key.TenantID); err != nil {
		return fmt.Errorf("idempotency.Processor: failed to mark event as processed, %w", err)
	}

	return nil
}

// KeyOf returns the Key of the processing of evt by consumer.
func KeyOf(consumer string, evt event.Persisted) Key {
	return Key{
		Consumer: consumer,
		EventID:  evt.ID(),
		TenantID: evt.TenantID,
	}
}

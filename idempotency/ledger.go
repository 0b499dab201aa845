// Package idempotency contains the consumption ledger used by event handlers
// and projections to apply the effects of at-least-once delivered events once.
//
// The ledger records (consumer, event id, tenant id) triples: a consumer
// checks the ledger, applies the effect and marks the event as processed.
// Marking twice is a benign no-op, but the ledger alone does not prevent
// duplicate effects when a consumer crashes between applying and marking:
// effects must be upserts, or use a transaction-scoped RunOnce variant.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrMissingKey is returned when a Key has no consumer or no event id.
var ErrMissingKey = errors.New("idempotency: consumer and event id are required")

// Key identifies the processing of an event by a consumer.
type Key struct {
	Consumer string
	EventID  string
	TenantID string
}

// Validate returns ErrMissingKey for incomplete keys.
func (k Key) Validate() error {
	if k.Consumer == "" || k.EventID == "" {
		return fmt.Errorf("%w (consumer: %q, event id: %q)", ErrMissingKey, k.Consumer, k.EventID)
	}

	return nil
}

// Record is an entry of the consumption ledger. Records are never mutated.
type Record struct {
	Key
	ProcessedAt time.Time
}

// Ledger is the consumption ledger.
type Ledger interface {
	HasProcessed(ctx context.Context, consumer, eventID, tenantID string) (bool, error)
	// MarkProcessed records the event as processed. Marking an event
	// already processed is not an error.
	MarkProcessed(ctx context.Context, consumer, eventID, tenantID string) error
}

var _ Ledger = new(InMemoryLedger)

// InMemoryLedger is a thread-safe, in-memory Ledger.
type InMemoryLedger struct {
	mx      sync.RWMutex
	records map[Key]time.Time
	now     func() time.Time
}

// NewInMemoryLedger returns an empty InMemoryLedger.
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{
		records: make(map[Key]time.Time),
		now:     time.Now,
	}
}

// HasProcessed implements Ledger.
func (l *InMemoryLedger) HasProcessed(ctx context.Context, consumer, eventID, tenantID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mx.RLock()
	defer l.mx.RUnlock()

	_, ok := l.records[Key{Consumer: consumer, EventID: eventID, TenantID: tenantID}]

	return ok, nil
}

// MarkProcessed implements Ledger.
func (l *InMemoryLedger) MarkProcessed(ctx context.Context, consumer, eventID, tenantID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := Key{Consumer: consumer, EventID: eventID, TenantID: tenantID}
	if err := key.Validate(); err != nil {
		return fmt.Errorf("idempotency.InMemoryLedger: failed to mark event, %w", err)
	}

	l.mx.Lock()
	defer l.mx.Unlock()

	if _, ok := l.records[key]; !ok {
		l.records[key] = l.now().UTC()
	}

	return nil
}

// Records returns the records of the specified consumer.
func (l *InMemoryLedger) Records(consumer string) []Record {
	l.mx.RLock()
	defer l.mx.RUnlock()

	var records []Record

	for key, processedAt := range l.records {
		if key.Consumer == consumer {
			records = append(records, Record{Key: key, ProcessedAt: processedAt})
		}
	}

	return records
}

// Prune removes the records processed before the specified time,
// returning how many were removed.
func (l *InMemoryLedger) Prune(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mx.Lock()
	defer l.mx.Unlock()

	pruned := 0

	for key, processedAt := range l.records {
		if processedAt.Before(before) {
			delete(l.records, key)
			pruned++
		}
	}

	return pruned, nil
}

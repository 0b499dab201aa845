package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/get-eventually/eventledger/idempotency"
	"github.com/get-eventually/eventledger/postgres/internal"
)

var _ idempotency.Ledger = new(ProcessedEvents)

// ProcessedEvents is the idempotency.Ledger backed by the "processed_events"
// table, whose primary key is the (consumer, event id, tenant id) triple.
type ProcessedEvents struct {
	clock

	Conn *pgxpool.Pool
}

// NewProcessedEvents returns a new ProcessedEvents ledger.
func NewProcessedEvents(conn *pgxpool.Pool, opts ...Option[*ProcessedEvents]) *ProcessedEvents {
	pe := &ProcessedEvents{Conn: conn}

	for _, opt := range opts {
		opt.apply(pe)
	}

	return pe
}

// HasProcessed implements idempotency.Ledger.
func (pe *ProcessedEvents) HasProcessed(ctx context.Context, consumer, eventID, tenantID string) (bool, error) {
	var processed bool

	if err := pe.Conn.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM processed_events WHERE consumer_name = $1 AND event_id = $2 AND tenant_id = $3
		)`,
		consumer, eventID, tenantID,
	).Scan(&processed); err != nil {
		return false, fmt.Errorf("postgres.ProcessedEvents.HasProcessed: failed to query ledger, %w", err)
	}

	return processed, nil
}

// MarkProcessed implements idempotency.Ledger. The primary key makes
// a concurrent or repeated mark a no-op.
func (pe *ProcessedEvents) MarkProcessed(ctx context.Context, consumer, eventID, tenantID string) error {
	key := idempotency.Key{Consumer: consumer, EventID: eventID, TenantID: tenantID}
	if err := key.Validate(); err != nil {
		return fmt.Errorf("postgres.ProcessedEvents.MarkProcessed: %w", err)
	}

	_, err := pe.Conn.Exec(ctx,
		`INSERT INTO processed_events (consumer_name, event_id, tenant_id, processed_at) VALUES ($1, $2, $3, $4)`,
		consumer, eventID, tenantID, pe.timestamp(),
	)

	if err != nil && !isUniqueViolation(err, "processed_events_pkey") {
		return fmt.Errorf("postgres.ProcessedEvents.MarkProcessed: failed to insert record, %w", err)
	}

	return nil
}

// RunOnce claims the key and applies the side effect in the same transaction.
//
// The claim is inserted first: concurrent deliveries of the same event wait
// on it, and find the event processed once the first one commits. If apply
// fails, the claim is rolled back with the side effect, and a redelivery
// applies it again. It returns false when the event was already processed.
func (pe *ProcessedEvents) RunOnce(
	ctx context.Context,
	key idempotency.Key,
	apply func(ctx context.Context, tx pgx.Tx) error,
) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, fmt.Errorf("postgres.ProcessedEvents.RunOnce: %w", err)
	}

	applied, err := internal.RunTransaction(ctx, pe.Conn, internal.ReadWrite,
		func(ctx context.Context, tx pgx.Tx) (bool, error) {
			tag, err := tx.Exec(ctx,
				`INSERT INTO processed_events (consumer_name, event_id, tenant_id, processed_at) VALUES ($1, $2, $3, $4)
				ON CONFLICT (consumer_name, event_id, tenant_id) DO NOTHING`,
				key.Consumer, key.EventID, key.TenantID, pe.timestamp(),
			)
			if err != nil {
				return false, fmt.Errorf("failed to claim event, %w", err)
			}

			if tag.RowsAffected() == 0 {
				return false, nil
			}

			if err := apply(ctx, tx); err != nil {
				return false, err
			}

			return true, nil
		},
	)
	if err != nil {
		return false, fmt.Errorf("postgres.ProcessedEvents.RunOnce: %w", err)
	}

	return applied, nil
}

// Prune deletes the records processed before the specified time,
// returning how many were deleted.
func (pe *ProcessedEvents) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := pe.Conn.Exec(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres.ProcessedEvents.Prune: failed to delete records, %w", err)
	}

	return tag.RowsAffected(), nil
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/serde"
	"github.com/get-eventually/eventledger/version"
)

var domainEventsColumns = []string{
	"global_sequence_id", "tenant_id", "stream_id", "sequence_number", "event_type",
	"payload_type", "payload_revision", "payload", "metadata", "timestamp_utc",
}

// lockEventStream locks the event stream row for the rest of the transaction,
// creating it if missing, and returns its current version.
func lockEventStream(ctx context.Context, tx pgx.Tx, id event.StreamID) (version.Version, error) {
	if _, err := tx.Exec(ctx,
		`INSERT INTO event_streams (tenant_id, stream_id, version) VALUES ($1, $2, 0)
		ON CONFLICT (tenant_id, stream_id) DO NOTHING`,
		id.TenantID, id.Name,
	); err != nil {
		return 0, fmt.Errorf("failed to create event stream, %w", err)
	}

	var current int64

	if err := tx.QueryRow(ctx,
		`SELECT version FROM event_streams WHERE tenant_id = $1 AND stream_id = $2 FOR UPDATE`,
		id.TenantID, id.Name,
	).Scan(&current); err != nil {
		return 0, fmt.Errorf("failed to lock event stream, %w", err)
	}

	return version.Version(current), nil
}

// reserveGlobalSequenceIDs takes the next n global sequence ids from the
// counter, returning the first one. The counter row stays locked until the
// transaction ends.
func reserveGlobalSequenceIDs(ctx context.Context, tx pgx.Tx, n int) (int64, error) {
	var last int64

	if err := tx.QueryRow(ctx,
		`UPDATE global_sequence SET last_value = last_value + $1 WHERE id RETURNING last_value`,
		n,
	).Scan(&last); err != nil {
		return 0, fmt.Errorf("failed to reserve global sequence ids, %w", err)
	}

	return last - int64(n) + 1, nil
}

func appendDomainEvents(
	ctx context.Context,
	tx pgx.Tx,
	codec serde.MessageCodec,
	recordedAt time.Time,
	id event.StreamID,
	expected version.Check,
	events ...event.Envelope,
) (event.Commit, error) {
	current, err := lockEventStream(ctx, tx, id)
	if err != nil {
		return event.Commit{}, err
	}

	if !version.Matches(expected, current) {
		return event.Commit{}, version.ConflictError{
			Expected: version.Version(expected.(version.CheckExact)),
			Actual:   current,
		}
	}

	// Encode before taking the counter, to hold its lock as little as possible.
	rows := make([][]any, 0, len(events))

	for i, evt := range events {
		payload, err := codec.Encode(evt.Message)
		if err != nil {
			return event.Commit{}, fmt.Errorf("failed to encode domain event, %w", err)
		}

		metadata, err := serializeMetadata(evt.Metadata)
		if err != nil {
			return event.Commit{}, err
		}

		persisted := event.Persisted{Envelope: evt}

		rows = append(rows, []any{
			int64(0), id.TenantID, id.Name, int64(current) + int64(i), evt.Message.Name(),
			persisted.PayloadType(), persisted.PayloadRevision(), payload, metadata, recordedAt,
		})
	}

	first, err := reserveGlobalSequenceIDs(ctx, tx, len(events))
	if err != nil {
		return event.Commit{}, err
	}

	commit := event.Commit{
		Version:           current + version.Version(len(events)),
		GlobalSequenceIDs: make([]int64, 0, len(events)),
	}

	for i := range rows {
		gsid := first + int64(i)
		rows[i][0] = gsid
		commit.GlobalSequenceIDs = append(commit.GlobalSequenceIDs, gsid)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"domain_events"}, domainEventsColumns, pgx.CopyFromRows(rows)); err != nil {
		return event.Commit{}, fmt.Errorf("failed to insert domain events, %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE event_streams SET version = $3 WHERE tenant_id = $1 AND stream_id = $2`,
		id.TenantID, id.Name, int64(commit.Version),
	); err != nil {
		return event.Commit{}, fmt.Errorf("failed to update event stream version, %w", err)
	}

	return commit, nil
}

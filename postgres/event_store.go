// Package postgres contains the PostgreSQL backing of the event ledger:
// the EventStore, and the stores of tracking cursors, processed events,
// snapshots and dead letters of the components built on it.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/message"
	"github.com/get-eventually/eventledger/postgres/internal"
	"github.com/get-eventually/eventledger/serde"
	"github.com/get-eventually/eventledger/version"
)

var _ event.TrackingStore = new(EventStore)

// ErrEventTypeMismatch is returned when a stored payload decodes to a
// different event than the one recorded in its row.
var ErrEventTypeMismatch = errors.New("postgres: event type mismatch")

// EventStore is an event.TrackingStore implementation targeted to PostgreSQL databases.
//
// The implementation uses "event_streams", "global_sequence" and "domain_events"
// as its operational tables. Appends are transactional, and assign global
// sequence ids from the single-row "global_sequence" counter, locked until
// commit.
type EventStore struct {
	clock

	Conn  *pgxpool.Pool
	Codec serde.MessageCodec
}

// NewEventStore returns a new EventStore.
func NewEventStore(conn *pgxpool.Pool, codec serde.MessageCodec, opts ...Option[*EventStore]) *EventStore {
	es := &EventStore{Conn: conn, Codec: codec}

	for _, opt := range opts {
		opt.apply(es)
	}

	return es
}

const selectDomainEvents = `SELECT tenant_id, stream_id, sequence_number, global_sequence_id,
	event_type, payload_type, payload_revision, payload, metadata, timestamp_utc
	FROM domain_events`

func (es *EventStore) scan(rows pgx.Rows) (event.Persisted, error) {
	var (
		evt                              event.Persisted
		eventType, payloadType, revision string
		payload, rawMetadata             []byte
	)

	if err := rows.Scan(
		&evt.TenantID, &evt.Name, &evt.SequenceNumber, &evt.GlobalSequenceID,
		&eventType, &payloadType, &revision, &payload, &rawMetadata, &evt.RecordedAt,
	); err != nil {
		return event.Persisted{}, fmt.Errorf("failed to scan next row, %w", err)
	}

	msg, err := es.Codec.Decode(payloadType, revision, payload)
	if err != nil {
		return event.Persisted{}, fmt.Errorf("failed to decode event %d, %w", evt.GlobalSequenceID, err)
	}

	// Upcasting may rename the event, a payload decoded as is may not.
	if revision == message.Revision(msg) && msg.Name() != eventType {
		return event.Persisted{}, fmt.Errorf("event %d is a %s but decoded as %s, %w",
			evt.GlobalSequenceID, eventType, msg.Name(), ErrEventTypeMismatch)
	}

	evt.Message = msg
	evt.RecordedAt = evt.RecordedAt.UTC()

	if err := json.Unmarshal(rawMetadata, &evt.Metadata); err != nil {
		return event.Persisted{}, fmt.Errorf("failed to deserialize metadata, %w", err)
	}

	if len(evt.Metadata) == 0 {
		evt.Metadata = nil
	}

	return evt, nil
}

func (es *EventStore) send(ctx context.Context, stream event.StreamWrite, rows pgx.Rows) error {
	defer rows.Close()

	for rows.Next() {
		evt, err := es.scan(rows)
		if err != nil {
			return err
		}

		select {
		case stream <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return rows.Err()
}

// Stream implements the event.Streamer interface.
func (es *EventStore) Stream(
	ctx context.Context,
	stream event.StreamWrite,
	id event.StreamID,
	selector version.Selector,
) error {
	defer close(stream)

	rows, err := es.Conn.Query(ctx,
		selectDomainEvents+` WHERE tenant_id = $1 AND stream_id = $2 AND sequence_number >= $3
		ORDER BY sequence_number`,
		id.TenantID, id.Name, int64(selector.From),
	)
	if err != nil {
		return fmt.Errorf("postgres.EventStore.Stream: failed to query domain events, %w", err)
	}

	if err := es.send(ctx, stream, rows); err != nil {
		return fmt.Errorf("postgres.EventStore.Stream: %w", err)
	}

	return nil
}

// StreamAll implements the event.Tracker interface.
func (es *EventStore) StreamAll(ctx context.Context, stream event.StreamWrite, selector event.TrackingSelector) error {
	defer close(stream)

	rows, err := es.Conn.Query(ctx,
		selectDomainEvents+` WHERE global_sequence_id > $1 AND ($2 = '' OR tenant_id = $2)
		ORDER BY global_sequence_id
		LIMIT $3`,
		selector.After, selector.TenantID, selector.BatchSize(),
	)
	if err != nil {
		return fmt.Errorf("postgres.EventStore.StreamAll: failed to query domain events, %w", err)
	}

	if err := es.send(ctx, stream, rows); err != nil {
		return fmt.Errorf("postgres.EventStore.StreamAll: %w", err)
	}

	return nil
}

// CurrentVersion implements the event.VersionReader interface.
func (es *EventStore) CurrentVersion(ctx context.Context, id event.StreamID) (version.Version, bool, error) {
	var v int64

	err := es.Conn.QueryRow(ctx,
		`SELECT version FROM event_streams WHERE tenant_id = $1 AND stream_id = $2`,
		id.TenantID, id.Name,
	).Scan(&v)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("postgres.EventStore.CurrentVersion: failed to read stream version, %w", err)
	}

	return version.Version(v), v > 0, nil
}

// LatestGlobalSequenceID implements the event.Tracker interface.
func (es *EventStore) LatestGlobalSequenceID(ctx context.Context) (int64, error) {
	var latest int64

	if err := es.Conn.QueryRow(ctx, `SELECT last_value FROM global_sequence`).Scan(&latest); err != nil {
		return 0, fmt.Errorf("postgres.EventStore.LatestGlobalSequenceID: failed to read counter, %w", err)
	}

	return latest, nil
}

// Append implements event.Store.
func (es *EventStore) Append(
	ctx context.Context,
	id event.StreamID,
	expected version.Check,
	events ...event.Envelope,
) (event.Commit, error) {
	if err := event.ValidateAppend(id, events); err != nil {
		return event.Commit{}, fmt.Errorf("postgres.EventStore.Append: failed to append events, %w", err)
	}

	commit, err := internal.RunTransaction(ctx, es.Conn, internal.ReadWrite,
		func(ctx context.Context, tx pgx.Tx) (event.Commit, error) {
			return appendDomainEvents(ctx, tx, es.Codec, es.timestamp(), id, expected, events...)
		},
	)
	if err != nil {
		return event.Commit{}, fmt.Errorf("postgres.EventStore.Append: failed to append events, %w", err)
	}

	return commit, nil
}

func serializeMetadata(metadata message.Metadata) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}

	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("postgres.serializeMetadata: failed to marshal to json, %w", err)
	}

	return data, nil
}


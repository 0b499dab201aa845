package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/get-eventually/eventledger/relay"
)

var _ relay.DeadLetterStore = DeadLetterStore{}

// DeadLetterStore is a relay.DeadLetterStore using the "dead_letters" table.
type DeadLetterStore struct {
	Conn *pgxpool.Pool
}

// Record implements relay.DeadLetterStore. Recording the same event
// twice for a consumer keeps the first record.
func (s DeadLetterStore) Record(ctx context.Context, dl relay.DeadLetter) error {
	if _, err := s.Conn.Exec(ctx,
		`INSERT INTO dead_letters (consumer, global_sequence_id, tenant_id, stream_id, sequence_number,
			payload_type, subject, attempts, reason, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (consumer, global_sequence_id) DO NOTHING`,
		dl.Consumer, dl.GlobalSequenceID, dl.TenantID, dl.StreamName, dl.SequenceNumber,
		dl.PayloadType, dl.Subject, dl.Attempts, dl.Reason, dl.FailedAt.UTC(),
	); err != nil {
		return fmt.Errorf("postgres.DeadLetterStore.Record: failed to record dead letter, %w", err)
	}

	return nil
}

// List implements relay.DeadLetterStore.
func (s DeadLetterStore) List(ctx context.Context, consumer string) ([]relay.DeadLetter, error) {
	rows, err := s.Conn.Query(ctx,
		`SELECT consumer, global_sequence_id, tenant_id, stream_id, sequence_number,
			payload_type, subject, attempts, reason, failed_at
		FROM dead_letters WHERE consumer = $1
		ORDER BY global_sequence_id`,
		consumer,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres.DeadLetterStore.List: failed to query dead letters, %w", err)
	}

	letters, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (relay.DeadLetter, error) {
		var dl relay.DeadLetter

		err := row.Scan(
			&dl.Consumer, &dl.GlobalSequenceID, &dl.TenantID, &dl.StreamName, &dl.SequenceNumber,
			&dl.PayloadType, &dl.Subject, &dl.Attempts, &dl.Reason, &dl.FailedAt,
		)
		dl.FailedAt = dl.FailedAt.UTC()

		return dl, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres.DeadLetterStore.List: failed to scan dead letters, %w", err)
	}

	return letters, nil
}

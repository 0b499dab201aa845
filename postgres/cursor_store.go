package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/get-eventually/eventledger/cursor"
)

var _ cursor.Store = CursorStore{}

// CursorStore is a cursor.Store using the "tracking_cursors" table.
type CursorStore struct {
	Conn *pgxpool.Pool
}

// Read implements cursor.Store.
func (s CursorStore) Read(ctx context.Context, consumer string) (cursor.Cursor, error) {
	var c cursor.Cursor

	err := s.Conn.QueryRow(ctx,
		`SELECT global_sequence_id, segment_index, segment_count FROM tracking_cursors WHERE consumer = $1`,
		consumer,
	).Scan(&c.GlobalSequenceID, &c.Segment.Index, &c.Segment.Count)

	if errors.Is(err, pgx.ErrNoRows) {
		return cursor.Cursor{}, cursor.ErrNotFound
	}

	if err != nil {
		return cursor.Cursor{}, fmt.Errorf("postgres.CursorStore.Read: failed to read cursor of %s, %w", consumer, err)
	}

	return c, nil
}

// Write implements cursor.Store. A stored cursor is never moved backwards.
func (s CursorStore) Write(ctx context.Context, consumer string, c cursor.Cursor) error {
	if _, err := s.Conn.Exec(ctx,
		`INSERT INTO tracking_cursors (consumer, global_sequence_id, segment_index, segment_count, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (consumer) DO UPDATE SET
			global_sequence_id = EXCLUDED.global_sequence_id,
			segment_index = EXCLUDED.segment_index,
			segment_count = EXCLUDED.segment_count,
			updated_at = EXCLUDED.updated_at
		WHERE tracking_cursors.global_sequence_id <= EXCLUDED.global_sequence_id`,
		consumer, c.GlobalSequenceID, c.Segment.Index, c.Segment.Count,
	); err != nil {
		return fmt.Errorf("postgres.CursorStore.Write: failed to write cursor of %s, %w", consumer, err)
	}

	return nil
}

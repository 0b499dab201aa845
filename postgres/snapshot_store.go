package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/get-eventually/eventledger/aggregate/snapshot"
	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/version"
)

var _ snapshot.Store = new(SnapshotStore)

// SnapshotStore is a snapshot.Store keeping the latest snapshot of each
// event stream in the "snapshots" table.
type SnapshotStore struct {
	clock

	Conn *pgxpool.Pool
}

// NewSnapshotStore returns a new SnapshotStore.
func NewSnapshotStore(conn *pgxpool.Pool, opts ...Option[*SnapshotStore]) *SnapshotStore {
	s := &SnapshotStore{Conn: conn}

	for _, opt := range opts {
		opt.apply(s)
	}

	return s
}

// Record implements snapshot.Recorder. Older snapshots never replace newer ones.
func (s *SnapshotStore) Record(ctx context.Context, id event.StreamID, snap snapshot.Snapshot) error {
	recordedAt := snap.RecordedAt.UTC()
	if snap.RecordedAt.IsZero() {
		recordedAt = s.timestamp()
	}

	if _, err := s.Conn.Exec(ctx,
		`INSERT INTO snapshots (tenant_id, stream_id, version, state, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, stream_id) DO UPDATE SET
			version = EXCLUDED.version,
			state = EXCLUDED.state,
			recorded_at = EXCLUDED.recorded_at
		WHERE snapshots.version <= EXCLUDED.version`,
		id.TenantID, id.Name, int64(snap.Version), snap.State, recordedAt,
	); err != nil {
		return fmt.Errorf("postgres.SnapshotStore.Record: failed to record snapshot of %s, %w", id, err)
	}

	return nil
}

// Get implements snapshot.Getter.
func (s *SnapshotStore) Get(ctx context.Context, id event.StreamID) (snapshot.Snapshot, error) {
	var (
		snap snapshot.Snapshot
		v    int64
	)

	err := s.Conn.QueryRow(ctx,
		`SELECT version, state, recorded_at FROM snapshots WHERE tenant_id = $1 AND stream_id = $2`,
		id.TenantID, id.Name,
	).Scan(&v, &snap.State, &snap.RecordedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return snapshot.Snapshot{}, snapshot.ErrNotFound
	}

	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("postgres.SnapshotStore.Get: failed to read snapshot of %s, %w", id, err)
	}

	snap.Version = version.Version(v)
	snap.RecordedAt = snap.RecordedAt.UTC()

	return snap, nil
}

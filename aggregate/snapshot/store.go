package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/version"
)

// ErrNotFound is returned by a Getter when no snapshot exists for the stream.
var ErrNotFound = errors.New("snapshot: not found")

// Snapshot is the serialized state of an Aggregate Root at a given version.
type Snapshot struct {
	Version    version.Version
	State      []byte
	RecordedAt time.Time
}

// Getter returns the latest Snapshot of an Event Stream.
type Getter interface {
	Get(ctx context.Context, id event.StreamID) (Snapshot, error)
}

// Recorder records a new Snapshot of an Event Stream, replacing older ones.
type Recorder interface {
	Record(ctx context.Context, id event.StreamID, snapshot Snapshot) error
}

// Store is a Snapshot store.
type Store interface {
	Getter
	Recorder
}

package mongodb

import (
	"time"

	"github.com/get-eventually/eventledger/event"
)

type streamKey struct {
	TenantID string `bson:"tenant_id"`
	Name     string `bson:"name"`
}

func keyOf(id event.StreamID) streamKey {
	return streamKey{TenantID: id.TenantID, Name: id.Name}
}

type streamDocument struct {
	ID      streamKey `bson:"_id"`
	Version int64     `bson:"version"`
}

type counterDocument struct {
	ID        string `bson:"_id"`
	LastValue int64  `bson:"last_value"`
}

// eventDocument is keyed by the global sequence id.
type eventDocument struct {
	GlobalSequenceID int64             `bson:"_id"`
	TenantID         string            `bson:"tenant_id"`
	StreamName       string            `bson:"stream_id"`
	SequenceNumber   int64             `bson:"sequence_number"`
	EventType        string            `bson:"event_type"`
	PayloadType      string            `bson:"payload_type"`
	PayloadRevision  string            `bson:"payload_revision"`
	Payload          []byte            `bson:"payload"`
	Metadata         map[string]string `bson:"metadata,omitempty"`
	RecordedAt       time.Time         `bson:"timestamp_utc"`
}

type cursorDocument struct {
	Consumer         string `bson:"_id"`
	GlobalSequenceID int64  `bson:"global_sequence_id"`
	SegmentIndex     int    `bson:"segment_index"`
	SegmentCount     int    `bson:"segment_count"`

	UpdatedAt time.Time `bson:"updated_at"`
}

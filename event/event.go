package event

import (
	"strconv"
	"time"

	"github.com/get-eventually/eventledger/message"
	"github.com/get-eventually/eventledger/version"
)

// SystemTenantID is the tenant owning the streams written by system
// operations, i.e. appends performed without a tenant context.
const SystemTenantID = "_system"

// Metadata keys stamped on Domain Events before they are committed.
const (
	MetadataKeyEventID       = "Event-Id"
	MetadataKeyTenantID      = "Tenant-Id"
	MetadataKeyUserID        = "User-Id"
	MetadataKeyCorrelationID = "Correlation-Id"
	MetadataKeyCausationID   = "Causation-Id"
	MetadataKeyOrigin        = "Origin"
)

// OriginSystem is the value of the Origin metadata for events written by system operations.
const OriginSystem = "system"

// Event is a Message representing some Domain information that has happened
// in the past, which is of vital information to the Domain itself.
//
// Event type names should be phrased in the past tense, to enforce the notion
// of "information happened in the past".
type Event message.Message

// Envelope contains a Domain Event and possible metadata associated to it.
//
// Due to lack of sum types (a.k.a enum types), Events cannot currently
// take advantage of the new generics feature introduced with Go 1.18.
type Envelope message.GenericEnvelope

// ToEnvelope returns an Envelope instance with the provided Event
// instance and no Metadata.
func ToEnvelope(evt Event) Envelope {
	return Envelope{
		Message:  evt,
		Metadata: nil,
	}
}

// ToEnvelopes returns a list of Envelopes from a list of Events.
// The returned Envelopes have no Metadata.
func ToEnvelopes(events ...Event) []Envelope {
	envelopes := make([]Envelope, 0, len(events))

	for _, evt := range events {
		envelopes = append(envelopes, Envelope{
			Message:  evt,
			Metadata: nil,
		})
	}

	return envelopes
}

// StreamID identifies an Event Stream: its name is unique within
// the tenant owning it.
type StreamID struct {
	TenantID string
	Name     string
}

// IsSystem reports whether the stream belongs to the system tenant.
func (id StreamID) IsSystem() bool { return id.TenantID == SystemTenantID }

func (id StreamID) String() string { return id.TenantID + "/" + id.Name }

// Persisted represents an Domain Event that has been persisted into the Event Store.
type Persisted struct {
	StreamID

	// SequenceNumber is the 0-based position of the event in its stream.
	SequenceNumber int64

	// GlobalSequenceID is the position of the event in the ledger, across all
	// tenants and streams. It is assigned at commit time and never reused.
	GlobalSequenceID int64

	// RecordedAt is the UTC commit time of the event.
	RecordedAt time.Time

	Envelope
}

// Version returns the version of the Event Stream right after this event was appended.
func (p Persisted) Version() version.Version {
	return version.Version(p.SequenceNumber + 1)
}

// PayloadType returns the name of the event payload.
func (p Persisted) PayloadType() string { return p.Message.Name() }

// PayloadRevision returns the revision of the event payload.
func (p Persisted) PayloadRevision() string { return message.Revision(p.Message) }

// ID returns the event identifier: the Event-Id metadata when present,
// the global sequence id otherwise.
func (p Persisted) ID() string {
	if id := p.Metadata.Get(MetadataKeyEventID); id != "" {
		return id
	}

	return strconv.FormatInt(p.GlobalSequenceID, 10)
}

// Commit is the result of a successful append.
type Commit struct {
	// Version is the new version of the Event Stream.
	Version version.Version

	// GlobalSequenceIDs are the ids assigned to the appended events, in order.
	GlobalSequenceIDs []int64
}

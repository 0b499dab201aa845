// Package ledgerfirestore contains a Google Cloud Firestore backing of the
// event ledger, for document-oriented deployments.
package ledgerfirestore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/serde"
	"github.com/get-eventually/eventledger/version"
)

// Collection names used by the EventStore.
const (
	EventsCollection         = "DomainEvents"
	StreamsCollection        = "EventStreams"
	GlobalSequenceCollection = "GlobalSequence"
	globalSequenceDocument   = "counter"
)

// MaxTransactionAttempts bounds the retries of an append transaction
// aborted by contention on the global sequence counter.
const MaxTransactionAttempts = 20

type streamDoc struct {
	TenantID   string `firestore:"tenant_id"`
	StreamName string `firestore:"stream_id"`
	Version    int64  `firestore:"version"`
}

type counterDoc struct {
	LastValue int64 `firestore:"last_value"`
}

type eventDoc struct {
	GlobalSequenceID int64             `firestore:"global_sequence_id"`
	TenantID         string            `firestore:"tenant_id"`
	StreamName       string            `firestore:"stream_id"`
	SequenceNumber   int64             `firestore:"sequence_number"`
	EventType        string            `firestore:"event_type"`
	PayloadType      string            `firestore:"payload_type"`
	PayloadRevision  string            `firestore:"payload_revision"`
	Payload          []byte            `firestore:"payload"`
	Metadata         map[string]string `firestore:"metadata"`
	RecordedAt       time.Time         `firestore:"timestamp_utc"`
}

var _ event.TrackingStore = EventStore{}

// EventStore is an event.TrackingStore on Firestore.
//
// Appends run in a Firestore transaction reading both the stream document
// and the global sequence counter document: concurrent appends contend on
// the counter, so global sequence ids are committed in order.
type EventStore struct {
	Client *firestore.Client
	Codec  serde.MessageCodec
}

func (es EventStore) eventsCollection() *firestore.CollectionRef {
	return es.Client.Collection(EventsCollection)
}

func (es EventStore) streamRef(id event.StreamID) *firestore.DocumentRef {
	return es.Client.Collection(StreamsCollection).Doc(streamDocID(id))
}

func (es EventStore) counterRef() *firestore.DocumentRef {
	return es.Client.Collection(GlobalSequenceCollection).Doc(globalSequenceDocument)
}

// Document ids cannot contain slashes, stream ids can.
func streamDocID(id event.StreamID) string {
	return url.PathEscape(id.TenantID) + ":" + url.PathEscape(id.Name)
}

// Zero-padded, so that document ids sort like global sequence ids.
func eventDocID(gsid int64) string {
	return fmt.Sprintf("%020d", gsid)
}

func (es EventStore) decode(doc *firestore.DocumentSnapshot) (event.Persisted, error) {
	var d eventDoc
	if err := doc.DataTo(&d); err != nil {
		return event.Persisted{}, fmt.Errorf("failed to read document %s, %w", doc.Ref.ID, err)
	}

	msg, err := es.Codec.Decode(d.PayloadType, d.PayloadRevision, d.Payload)
	if err != nil {
		return event.Persisted{}, fmt.Errorf("failed to decode event %d, %w", d.GlobalSequenceID, err)
	}

	evt := event.Persisted{
		StreamID:         event.StreamID{TenantID: d.TenantID, Name: d.StreamName},
		SequenceNumber:   d.SequenceNumber,
		GlobalSequenceID: d.GlobalSequenceID,
		RecordedAt:       d.RecordedAt.UTC(),
		Envelope:         event.Envelope{Message: msg},
	}

	if len(d.Metadata) > 0 {
		evt.Metadata = d.Metadata
	}

	return evt, nil
}

func (es EventStore) send(ctx context.Context, stream event.StreamWrite, iter *firestore.DocumentIterator) error {
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("failed while reading iterator, %w", err)
		}

		evt, err := es.decode(doc)
		if err != nil {
			return err
		}

		select {
		case stream <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stream implements the event.Streamer interface.
func (es EventStore) Stream(
	ctx context.Context,
	stream event.StreamWrite,
	id event.StreamID,
	selector version.Selector,
) error {
	defer close(stream)

	iter := es.eventsCollection().
		Where("tenant_id", "==", id.TenantID).
		Where("stream_id", "==", id.Name).
		Where("sequence_number", ">=", int64(selector.From)).
		OrderBy("sequence_number", firestore.Asc).
		Documents(ctx)

	if err := es.send(ctx, stream, iter); err != nil {
		return fmt.Errorf("ledgerfirestore.EventStore.Stream: %w", err)
	}

	return nil
}

// StreamAll implements the event.Tracker interface.
func (es EventStore) StreamAll(ctx context.Context, stream event.StreamWrite, selector event.TrackingSelector) error {
	defer close(stream)

	query := es.eventsCollection().Where("global_sequence_id", ">", selector.After)
	if selector.TenantID != "" {
		query = query.Where("tenant_id", "==", selector.TenantID)
	}

	iter := query.
		OrderBy("global_sequence_id", firestore.Asc).
		Limit(selector.BatchSize()).
		Documents(ctx)

	if err := es.send(ctx, stream, iter); err != nil {
		return fmt.Errorf("ledgerfirestore.EventStore.StreamAll: %w", err)
	}

	return nil
}

// CurrentVersion implements the event.VersionReader interface.
func (es EventStore) CurrentVersion(ctx context.Context, id event.StreamID) (version.Version, bool, error) {
	doc, err := es.streamRef(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("ledgerfirestore.EventStore.CurrentVersion: failed to get stream, %w", err)
	}

	var d streamDoc
	if err := doc.DataTo(&d); err != nil {
		return 0, false, fmt.Errorf("ledgerfirestore.EventStore.CurrentVersion: failed to read stream, %w", err)
	}

	return version.Version(d.Version), true, nil
}

// LatestGlobalSequenceID implements the event.Tracker interface.
func (es EventStore) LatestGlobalSequenceID(ctx context.Context) (int64, error) {
	doc, err := es.counterRef().Get(ctx)
	if status.Code(err) == codes.NotFound {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("ledgerfirestore.EventStore.LatestGlobalSequenceID: failed to get counter, %w", err)
	}

	var d counterDoc
	if err := doc.DataTo(&d); err != nil {
		return 0, fmt.Errorf("ledgerfirestore.EventStore.LatestGlobalSequenceID: failed to read counter, %w", err)
	}

	return d.LastValue, nil
}

func getOrZero[T any](tx *firestore.Transaction, ref *firestore.DocumentRef) (T, error) {
	var data T

	doc, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return data, nil
	}

	if err != nil {
		return data, err
	}

	return data, doc.DataTo(&data)
}

// Append implements event.Store.
func (es EventStore) Append(
	ctx context.Context,
	id event.StreamID,
	expected version.Check,
	events ...event.Envelope,
) (event.Commit, error) {
	if err := event.ValidateAppend(id, events); err != nil {
		return event.Commit{}, fmt.Errorf("ledgerfirestore.EventStore.Append: failed to append events, %w", err)
	}

	docs := make([]eventDoc, 0, len(events))

	for _, evt := range events {
		payload, err := es.Codec.Encode(evt.Message)
		if err != nil {
			return event.Commit{}, fmt.Errorf("ledgerfirestore.EventStore.Append: failed to encode event, %w", err)
		}

		persisted := event.Persisted{Envelope: evt}

		docs = append(docs, eventDoc{
			TenantID:        id.TenantID,
			StreamName:      id.Name,
			EventType:       evt.Message.Name(),
			PayloadType:     persisted.PayloadType(),
			PayloadRevision: persisted.PayloadRevision(),
			Payload:         payload,
			Metadata:        evt.Metadata.Clone(),
		})
	}

	var commit event.Commit

	err := es.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		stream, err := getOrZero[streamDoc](tx, es.streamRef(id))
		if err != nil {
			return fmt.Errorf("failed to get stream, %w", err)
		}

		counter, err := getOrZero[counterDoc](tx, es.counterRef())
		if err != nil {
			return fmt.Errorf("failed to get global sequence counter, %w", err)
		}

		current := version.Version(stream.Version)
		if !version.Matches(expected, current) {
			return version.ConflictError{
				Expected: version.Version(expected.(version.CheckExact)),
				Actual:   current,
			}
		}

		recordedAt := time.Now().UTC()
		commit = event.Commit{
			Version:           current + version.Version(len(docs)),
			GlobalSequenceIDs: make([]int64, 0, len(docs)),
		}

		for i, d := range docs {
			d.SequenceNumber = int64(current) + int64(i)
			d.GlobalSequenceID = counter.LastValue + int64(i) + 1
			d.RecordedAt = recordedAt

			if err := tx.Create(es.eventsCollection().Doc(eventDocID(d.GlobalSequenceID)), d); err != nil {
				return fmt.Errorf("failed to append event, %w", err)
			}

			commit.GlobalSequenceIDs = append(commit.GlobalSequenceIDs, d.GlobalSequenceID)
		}

		if err := tx.Set(es.counterRef(), counterDoc{
			LastValue: counter.LastValue + int64(len(docs)),
		}); err != nil {
			return fmt.Errorf("failed to update global sequence counter, %w", err)
		}

		return tx.Set(es.streamRef(id), streamDoc{
			TenantID:   id.TenantID,
			StreamName: id.Name,
			Version:    int64(commit.Version),
		})
	}, firestore.MaxAttempts(MaxTransactionAttempts))
	if err != nil {
		return event.Commit{}, fmt.Errorf("ledgerfirestore.EventStore.Append: failed to commit transaction, %w", err)
	}

	return commit, nil
}

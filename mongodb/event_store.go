// Package mongodb contains a MongoDB backing of the event ledger.
//
// Appends use multi-document transactions, so the server must run
// as a replica set.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/serde"
	"github.com/get-eventually/eventledger/version"
)

// Collection names used by the EventStore and the CursorStore.
const (
	EventsCollection       = "events"
	EventStreamsCollection = "event_streams"
	CountersCollection     = "counters"
	CursorsCollection      = "tracking_cursors"

	globalSequenceCounter = "global_sequence"
)

var _ event.TrackingStore = EventStore{}

// EventStore is an event.TrackingStore on MongoDB.
//
// Every append increments the same global sequence counter document in
// its transaction: a concurrent append hits a write conflict and is retried
// by the driver, so global sequence ids become visible in order.
type EventStore struct {
	Client       *mongo.Client
	DatabaseName string
	Codec        serde.MessageCodec
}

func (es EventStore) openSession() (mongo.Session, error) {
	return es.Client.StartSession(&options.SessionOptions{
		DefaultReadConcern:    readconcern.Majority(),
		DefaultReadPreference: readpref.Primary(),
		DefaultWriteConcern:   writeconcern.Majority(),
	})
}

func (es EventStore) database() *mongo.Database {
	return es.Client.Database(es.DatabaseName, &options.DatabaseOptions{
		// Streams are read to rehydrate aggregates before a write.
		ReadConcern:    readconcern.Majority(),
		ReadPreference: readpref.Primary(),
	})
}

func (es EventStore) eventsCollection() *mongo.Collection {
	return es.database().Collection(EventsCollection)
}

func (es EventStore) eventStreamsCollection() *mongo.Collection {
	return es.database().Collection(EventStreamsCollection)
}

func (es EventStore) countersCollection() *mongo.Collection {
	return es.database().Collection(CountersCollection)
}

// EnsureIndexes creates the collections indexes. It is idempotent.
func (es EventStore) EnsureIndexes(ctx context.Context) error {
	_, err := es.eventsCollection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "stream_id", Value: 1}, {Key: "sequence_number", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("stream_position"),
		},
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("tenant_ledger"),
		},
	})
	if err != nil {
		return fmt.Errorf("mongodb.EventStore.EnsureIndexes: failed to create indexes, %w", err)
	}

	return nil
}

func (es EventStore) decode(doc eventDocument) (event.Persisted, error) {
	msg, err := es.Codec.Decode(doc.PayloadType, doc.PayloadRevision, doc.Payload)
	if err != nil {
		return event.Persisted{}, fmt.Errorf("failed to decode event %d, %w", doc.GlobalSequenceID, err)
	}

	evt := event.Persisted{
		StreamID:         event.StreamID{TenantID: doc.TenantID, Name: doc.StreamName},
		SequenceNumber:   doc.SequenceNumber,
		GlobalSequenceID: doc.GlobalSequenceID,
		RecordedAt:       doc.RecordedAt.UTC(),
		Envelope:         event.Envelope{Message: msg},
	}

	if len(doc.Metadata) > 0 {
		evt.Metadata = doc.Metadata
	}

	return evt, nil
}

func (es EventStore) send(ctx context.Context, stream event.StreamWrite, cursor *mongo.Cursor) error {
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc eventDocument
		if err := cursor.Decode(&doc); err != nil {
			return fmt.Errorf("failed to read document, %w", err)
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

	if err := cursor.Err(); err != nil {
		return fmt.Errorf("failed while iterating the query cursor, %w", err)
	}

	return nil
}

// Stream implements the event.Streamer interface.
func (es EventStore) Stream(
	ctx context.Context,
	stream event.StreamWrite,
	id event.StreamID,
	selector version.Selector,
) error {
	defer close(stream)

	cursor, err := es.eventsCollection().Find(ctx,
		bson.D{
			{Key: "tenant_id", Value: id.TenantID},
			{Key: "stream_id", Value: id.Name},
			{Key: "sequence_number", Value: bson.D{{Key: "$gte", Value: int64(selector.From)}}},
		},
		options.Find().SetSort(bson.D{{Key: "sequence_number", Value: 1}}),
	)
	if err != nil {
		return fmt.Errorf("mongodb.EventStore.Stream: failed to open event stream cursor, %w", err)
	}

	if err := es.send(ctx, stream, cursor); err != nil {
		return fmt.Errorf("mongodb.EventStore.Stream: %w", err)
	}

	return nil
}

// StreamAll implements the event.Tracker interface.
func (es EventStore) StreamAll(ctx context.Context, stream event.StreamWrite, selector event.TrackingSelector) error {
	defer close(stream)

	filter := bson.D{{Key: "_id", Value: bson.D{{Key: "$gt", Value: selector.After}}}}
	if selector.TenantID != "" {
		filter = append(filter, bson.E{Key: "tenant_id", Value: selector.TenantID})
	}

	cursor, err := es.eventsCollection().Find(ctx, filter,
		options.Find().
			SetSort(bson.D{{Key: "_id", Value: 1}}).
			SetLimit(int64(selector.BatchSize())),
	)
	if err != nil {
		return fmt.Errorf("mongodb.EventStore.StreamAll: failed to open ledger cursor, %w", err)
	}

	if err := es.send(ctx, stream, cursor); err != nil {
		return fmt.Errorf("mongodb.EventStore.StreamAll: %w", err)
	}

	return nil
}

// CurrentVersion implements the event.VersionReader interface.
func (es EventStore) CurrentVersion(ctx context.Context, id event.StreamID) (version.Version, bool, error) {
	var doc streamDocument

	err := es.eventStreamsCollection().FindOne(ctx, bson.D{{Key: "_id", Value: keyOf(id)}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("mongodb.EventStore.CurrentVersion: failed to find event stream, %w", err)
	}

	return version.Version(doc.Version), true, nil
}

// LatestGlobalSequenceID implements the event.Tracker interface.
func (es EventStore) LatestGlobalSequenceID(ctx context.Context) (int64, error) {
	var doc counterDocument

	err := es.countersCollection().FindOne(ctx, bson.D{{Key: "_id", Value: globalSequenceCounter}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("mongodb.EventStore.LatestGlobalSequenceID: failed to find counter, %w", err)
	}

	return doc.LastValue, nil
}

// currentVersion returns the version of the stream read in the transaction.
func (es EventStore) currentVersion(ctx mongo.SessionContext, id event.StreamID) (version.Version, error) {
	var doc streamDocument

	err := es.eventStreamsCollection().FindOne(ctx, bson.D{{Key: "_id", Value: keyOf(id)}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("failed to find event stream, %w", err)
	}

	return version.Version(doc.Version), nil
}

// reserveGlobalSequenceIDs increments the counter by n and returns
// the first reserved id.
func (es EventStore) reserveGlobalSequenceIDs(ctx mongo.SessionContext, n int) (int64, error) {
	var doc counterDocument

	err := es.countersCollection().FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: globalSequenceCounter}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "last_value", Value: int64(n)}}}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("failed to increment global sequence counter, %w", err)
	}

	return doc.LastValue - int64(n) + 1, nil
}

func (es EventStore) append(
	ctx mongo.SessionContext,
	id event.StreamID,
	expected version.Check,
	docs []eventDocument,
) (event.Commit, error) {
	current, err := es.currentVersion(ctx, id)
	if err != nil {
		return event.Commit{}, err
	}

	if !version.Matches(expected, current) {
		return event.Commit{}, version.ConflictError{
			Expected: version.Version(expected.(version.CheckExact)),
			Actual:   current,
		}
	}

	first, err := es.reserveGlobalSequenceIDs(ctx, len(docs))
	if err != nil {
		return event.Commit{}, err
	}

	recordedAt := time.Now().UTC().Truncate(time.Millisecond)
	commit := event.Commit{
		Version:           current + version.Version(len(docs)),
		GlobalSequenceIDs: make([]int64, 0, len(docs)),
	}

	documents := make([]any, 0, len(docs))

	for i, doc := range docs {
		doc.SequenceNumber = int64(current) + int64(i)
		doc.GlobalSequenceID = first + int64(i)
		doc.RecordedAt = recordedAt

		documents = append(documents, doc)
		commit.GlobalSequenceIDs = append(commit.GlobalSequenceIDs, doc.GlobalSequenceID)
	}

	if _, err := es.eventsCollection().InsertMany(ctx, documents); err != nil {
		return event.Commit{}, fmt.Errorf("failed to insert new domain events, %w", err)
	}

	if _, err := es.eventStreamsCollection().ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: keyOf(id)}},
		streamDocument{ID: keyOf(id), Version: int64(commit.Version)},
		options.Replace().SetUpsert(true),
	); err != nil {
		return event.Commit{}, fmt.Errorf("failed to update event stream version, %w", err)
	}

	return commit, nil
}

// Append implements event.Store.
func (es EventStore) Append(
	ctx context.Context,
	id event.StreamID,
	expected version.Check,
	events ...event.Envelope,
) (event.Commit, error) {
	if err := event.ValidateAppend(id, events); err != nil {
		return event.Commit{}, fmt.Errorf("mongodb.EventStore.Append: failed to append events, %w", err)
	}

	docs := make([]eventDocument, 0, len(events))

	for _, evt := range events {
		payload, err := es.Codec.Encode(evt.Message)
		if err != nil {
			return event.Commit{}, fmt.Errorf("mongodb.EventStore.Append: failed to encode event, %w", err)
		}

		persisted := event.Persisted{Envelope: evt}

		docs = append(docs, eventDocument{
			TenantID:        id.TenantID,
			StreamName:      id.Name,
			EventType:       evt.Message.Name(),
			PayloadType:     persisted.PayloadType(),
			PayloadRevision: persisted.PayloadRevision(),
			Payload:         payload,
			Metadata:        evt.Metadata.Clone(),
		})
	}

	sess, err := es.openSession()
	if err != nil {
		return event.Commit{}, fmt.Errorf("mongodb.EventStore.Append: failed to open a new session, %w", err)
	}
	defer sess.EndSession(ctx)

	result, err := sess.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return es.append(sessCtx, id, expected, docs)
	})
	if err != nil {
		return event.Commit{}, fmt.Errorf("mongodb.EventStore.Append: failed to commit transaction, %w", err)
	}

	commit, ok := result.(event.Commit)
	if !ok {
		return event.Commit{}, fmt.Errorf("mongodb.EventStore.Append: unexpected transaction result %T", result)
	}

	return commit, nil
}

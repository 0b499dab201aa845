package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/get-eventually/eventledger/cursor"
)

var _ cursor.Store = CursorStore{}

// CursorStore is a cursor.Store keeping a document per consumer.
type CursorStore struct {
	Client       *mongo.Client
	DatabaseName string
}

func (s CursorStore) collection() *mongo.Collection {
	return s.Client.Database(s.DatabaseName).Collection(CursorsCollection)
}

// Read implements cursor.Store.
func (s CursorStore) Read(ctx context.Context, consumer string) (cursor.Cursor, error) {
	var doc cursorDocument

	err := s.collection().FindOne(ctx, bson.D{{Key: "_id", Value: consumer}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return cursor.Cursor{}, cursor.ErrNotFound
	}

	if err != nil {
		return cursor.Cursor{}, fmt.Errorf("mongodb.CursorStore.Read: failed to find cursor of %s, %w", consumer, err)
	}

	return cursor.Cursor{
		GlobalSequenceID: doc.GlobalSequenceID,
		Segment:          cursor.Segment{Index: doc.SegmentIndex, Count: doc.SegmentCount},
	}, nil
}

// Write implements cursor.Store. A stored cursor is never moved backwards.
func (s CursorStore) Write(ctx context.Context, consumer string, c cursor.Cursor) error {
	doc := cursorDocument{
		Consumer:         consumer,
		GlobalSequenceID: c.GlobalSequenceID,
		SegmentIndex:     c.Segment.Index,
		SegmentCount:     c.Segment.Count,
		UpdatedAt:        time.Now().UTC(),
	}

	// A stored cursor ahead of c fails the filter, and the upsert then
	// collides with its _id.
	_, err := s.collection().ReplaceOne(ctx,
		bson.D{
			{Key: "_id", Value: consumer},
			{Key: "global_sequence_id", Value: bson.D{{Key: "$lte", Value: c.GlobalSequenceID}}},
		},
		doc,
		options.Replace().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("mongodb.CursorStore.Write: failed to write cursor of %s, %w", consumer, err)
	}

	return nil
}

package ledgerfirestore

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/get-eventually/eventledger/cursor"
)

// CursorsCollection is the collection used by the CursorStore.
const CursorsCollection = "TrackingCursors"

type cursorDoc struct {
	GlobalSequenceID int64     `firestore:"global_sequence_id"`
	SegmentIndex     int       `firestore:"segment_index"`
	SegmentCount     int       `firestore:"segment_count"`
	UpdatedAt        time.Time `firestore:"updated_at"`
}

var _ cursor.Store = CursorStore{}

// CursorStore is a cursor.Store keeping a document per consumer.
type CursorStore struct {
	Client *firestore.Client
}

func (s CursorStore) ref(consumer string) *firestore.DocumentRef {
	return s.Client.Collection(CursorsCollection).Doc(url.PathEscape(consumer))
}

// Read implements cursor.Store.
func (s CursorStore) Read(ctx context.Context, consumer string) (cursor.Cursor, error) {
	doc, err := s.ref(consumer).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return cursor.Cursor{}, cursor.ErrNotFound
	}

	if err != nil {
		return cursor.Cursor{}, fmt.Errorf("ledgerfirestore.CursorStore.Read: failed to get cursor of %s, %w", consumer, err)
	}

	var d cursorDoc
	if err := doc.DataTo(&d); err != nil {
		return cursor.Cursor{}, fmt.Errorf("ledgerfirestore.CursorStore.Read: failed to read cursor of %s, %w", consumer, err)
	}

	return cursor.Cursor{
		GlobalSequenceID: d.GlobalSequenceID,
		Segment:          cursor.Segment{Index: d.SegmentIndex, Count: d.SegmentCount},
	}, nil
}

// Write implements cursor.Store. A stored cursor is never moved backwards.
func (s CursorStore) Write(ctx context.Context, consumer string, c cursor.Cursor) error {
	ref := s.ref(consumer)

	err := s.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		current, err := getOrZero[cursorDoc](tx, ref)
		if err != nil {
			return err
		}

		if current.GlobalSequenceID > c.GlobalSequenceID {
			return nil
		}

		return tx.Set(ref, cursorDoc{
			GlobalSequenceID: c.GlobalSequenceID,
			SegmentIndex:     c.Segment.Index,
			SegmentCount:     c.Segment.Count,
			UpdatedAt:        time.Now().UTC(),
		})
	})
	if err != nil {
		return fmt.Errorf("ledgerfirestore.CursorStore.Write: failed to write cursor of %s, %w", consumer, err)
	}

	return nil
}

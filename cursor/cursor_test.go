package cursor_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/get-eventually/eventledger/cursor"
)

func TestCursorTextForm(t *testing.T) {
	testcases := []struct {
		text   string
		cursor cursor.Cursor
	}{
		{text: "0", cursor: cursor.Head},
		{text: "42", cursor: cursor.At(42)},
		{text: "42@1/4", cursor: cursor.At(42).In(cursor.Segment{Index: 1, Count: 4})},
	}

	for _, tc := range testcases {
		t.Run(tc.text, func(t *testing.T) {
			assert.Equal(t, tc.text, tc.cursor.String())

			parsed, err := cursor.Parse(tc.text)
			require.NoError(t, err)
			assert.Equal(t, tc.cursor, parsed)
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, text := range []string{"", "abc", "-1", "10@", "10@2", "10@4/4", "10@x/2"} {
		_, err := cursor.Parse(text)
		assert.Error(t, err, text)
	}
}

func TestCursorAdvanceNeverMovesBackwards(t *testing.T) {
	c := cursor.At(10)

	assert.Equal(t, int64(11), c.Advance(11).GlobalSequenceID)
	assert.Equal(t, int64(10), c.Advance(3).GlobalSequenceID)
}

func TestSegmentOwnsPartitionsStreams(t *testing.T) {
	const count = 3

	segments := make([]cursor.Segment, count)
	for i := range segments {
		segments[i] = cursor.Segment{Index: i, Count: count}
	}

	for i := 0; i < 100; i++ {
		stream := fmt.Sprintf("stream-%d", i)

		owners := 0
		for _, s := range segments {
			if s.Owns("acme", stream) {
				owners++
			}
		}

		assert.Equal(t, 1, owners, "stream %s must belong to exactly one segment", stream)
	}

	assert.True(t, cursor.All.Owns("acme", "anything"))
}

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := cursor.NewInMemoryStore()

	_, err := store.Read(ctx, "relay")
	assert.ErrorIs(t, err, cursor.ErrNotFound)

	c, err := cursor.ReadOrHead(ctx, store, "relay", cursor.At(5))
	require.NoError(t, err)
	assert.Equal(t, cursor.At(5), c)

	require.NoError(t, store.Write(ctx, "relay", cursor.At(10)))
	require.NoError(t, store.Write(ctx, "relay", cursor.At(7)))

	c, err = store.Read(ctx, "relay")
	require.NoError(t, err)
	assert.Equal(t, cursor.At(10), c)
}

// Package cursor contains the Tracking Cursor: the position of a consumer
// (e.g. the outbox relay) in the global order of the event ledger.
package cursor

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
)

// Segment identifies the shard of the ledger a consumer is responsible for.
//
// The zero value owns every stream.
type Segment struct {
	Index int
	Count int
}

// All is the Segment owning every stream.
var All = Segment{}

// Validate checks the Segment bounds.
func (s Segment) Validate() error {
	if s.Count == 0 && s.Index == 0 {
		return nil
	}

	if s.Count < 1 || s.Index < 0 || s.Index >= s.Count {
		return fmt.Errorf("cursor.Segment: invalid segment %d/%d", s.Index, s.Count)
	}

	return nil
}

// Owns reports whether the stream identified by tenant and stream
// belongs to this Segment, using hash(tenant, stream) mod count.
func (s Segment) Owns(tenantID, streamID string) bool {
	if s.Count <= 1 {
		return true
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(tenantID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(streamID))

	return int(h.Sum32()%uint32(s.Count)) == s.Index
}

func (s Segment) String() string {
	if s.Count <= 1 {
		return ""
	}

	return fmt.Sprintf("%d/%d", s.Index, s.Count)
}

// Cursor is the opaque position of a consumer in the global order of the ledger.
//
// GlobalSequenceID is the id of the last event the consumer handled: reads resume
// strictly after it. A Cursor never moves backwards.
type Cursor struct {
	GlobalSequenceID int64
	Segment          Segment
}

// Head is the Cursor positioned before the first event of the ledger.
var Head = Cursor{}

// At returns a Cursor positioned at the specified global sequence id.
func At(globalSequenceID int64) Cursor {
	return Cursor{GlobalSequenceID: globalSequenceID}
}

// In returns a copy of the Cursor bound to the specified Segment.
func (c Cursor) In(segment Segment) Cursor {
	c.Segment = segment
	return c
}

// Advance returns the Cursor moved to the specified global sequence id,
// or the Cursor itself if that position is not ahead of the current one.
func (c Cursor) Advance(globalSequenceID int64) Cursor {
	if globalSequenceID > c.GlobalSequenceID {
		c.GlobalSequenceID = globalSequenceID
	}

	return c
}

// String returns the opaque text form of the Cursor: "<gsid>" or "<gsid>@<index>/<count>".
func (c Cursor) String() string {
	position := strconv.FormatInt(c.GlobalSequenceID, 10)
	if segment := c.Segment.String(); segment != "" {
		return position + "@" + segment
	}

	return position
}

// MarshalText implements encoding.TextMarshaler.
func (c Cursor) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Cursor) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}

	*c = parsed

	return nil
}

// Parse parses the text form produced by Cursor.String.
func Parse(s string) (Cursor, error) {
	position, segment, hasSegment := strings.Cut(s, "@")

	gsid, err := strconv.ParseInt(position, 10, 64)
	if err != nil || gsid < 0 {
		return Cursor{}, fmt.Errorf("cursor.Parse: invalid position in %q", s)
	}

	c := Cursor{GlobalSequenceID: gsid}
	if !hasSegment {
		return c, nil
	}

	index, count, ok := strings.Cut(segment, "/")
	if !ok {
		return Cursor{}, fmt.Errorf("cursor.Parse: invalid segment in %q", s)
	}

	if c.Segment.Index, err = strconv.Atoi(index); err != nil {
		return Cursor{}, fmt.Errorf("cursor.Parse: invalid segment index in %q, %w", s, err)
	}

	if c.Segment.Count, err = strconv.Atoi(count); err != nil {
		return Cursor{}, fmt.Errorf("cursor.Parse: invalid segment count in %q, %w", s, err)
	}

	if err := c.Segment.Validate(); err != nil {
		return Cursor{}, fmt.Errorf("cursor.Parse: %w", err)
	}

	return c, nil
}

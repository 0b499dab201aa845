package message_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/get-eventually/eventledger/message"
)

type plain struct{}

func (plain) Name() string { return "plain" }

type revisioned struct{}

func (revisioned) Name() string     { return "revisioned" }
func (revisioned) Revision() string { return "2.1" }

func TestRevision(t *testing.T) {
	assert.Equal(t, message.DefaultRevision, message.Revision(plain{}))
	assert.Equal(t, "2.1", message.Revision(revisioned{}))
}

func TestMetadata(t *testing.T) {
	var md message.Metadata

	md = md.With("a", "1")
	assert.Equal(t, "1", md.Get("a"))

	clone := md.Clone().With("b", "2")
	assert.Empty(t, md.Get("b"), "clone should not alter the original metadata")
	assert.Equal(t, "2", clone.Get("b"))

	merged := message.Metadata(nil).Merge(clone)
	assert.Equal(t, message.Metadata{"a": "1", "b": "2"}, merged)
}

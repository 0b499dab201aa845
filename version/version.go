// Package version contains the types used to express Event Stream versions
// and the optimistic concurrency checks performed on append.
package version

// Version is the type to specify Event Stream versions.
//
// A Version is the length of a single Event Stream: the next event appended
// to a stream at Version v is assigned the sequence number v.
type Version int64

// SelectFromBeginning is a Selector value that will return all Domain Events in an Event Stream.
var SelectFromBeginning = Selector{From: 0}

// Selector specifies which slice of the Event Stream to select when streaming Domain Events
// from the Event Store.
//
// Only events with a sequence number greater than or equal to From are selected,
// which means a Selector built from a snapshot Version streams the events recorded
// after the snapshot was taken.
type Selector struct {
	From Version
}

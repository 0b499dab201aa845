package aggregate

import (
	"context"
	"errors"

	"github.com/get-eventually/eventledger/event"
)

// ErrRootNotFound is returned when the Aggregate Root requested
// through a Repository was not found.
var ErrRootNotFound = errors.New("aggregate: root not found")

// Getter is an Aggregate Repository interface component,
// that can be used for retrieving Aggregate Roots from some storage.
type Getter[I ID, T Root[I]] interface {
	Get(ctx context.Context, id I) (T, error)
}

// Saver is an Aggregate Repository interface component,
// that can be used for storing Aggregate Roots in some storage.
type Saver[I ID, T Root[I]] interface {
	Save(ctx context.Context, root T) error
}

// Repository is an interface used to get Aggregate Roots from and save them to
// some kind of storage, depending on the implementation.
type Repository[I ID, T Root[I]] interface {
	Getter[I, T]
	Saver[I, T]
}

// Committer is a Saver that also reports the outcome of the commit,
// such as the new version of the Event Stream.
type Committer[I ID, T Root[I]] interface {
	Commit(ctx context.Context, root T) (event.Commit, error)
}

// Commit saves the Aggregate Root through the Saver and returns the
// resulting event.Commit.
//
// Savers that are not Committers only report the version of the saved Root.
func Commit[I ID, T Root[I]](ctx context.Context, saver Saver[I, T], root T) (event.Commit, error) {
	if committer, ok := saver.(Committer[I, T]); ok {
		return committer.Commit(ctx, root)
	}

	if err := saver.Save(ctx, root); err != nil {
		return event.Commit{}, err
	}

	return event.Commit{Version: root.Version()}, nil
}

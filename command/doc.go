// Package command routes Commands to their handlers.
//
// Handlers load an Aggregate of the tenant in context, let it decide which
// events to record, and save it back under optimistic concurrency.
// RetryOnConflict reruns the whole command when the stream moved in between.
package command

// Package subscription contains the tracking Subscription, following the
// whole event ledger in global order to feed Event Processors such as
// the outbox relay or Projections.
//
// The Subscription is restartable: its position is a cursor.Cursor,
// checkpointed to a cursor.Store once an event has been processed.
package subscription

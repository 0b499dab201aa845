// Package relay contains the outbox Relay: a long-running process following
// the event ledger in global order and republishing every committed event
// to an external broker.
//
// The ledger itself is the outbox: an event committed to the ledger is
// eligible for relay. The Relay cursor is persisted only after the broker
// acknowledged the publish, so a crash causes at most one re-publish.
package relay

// Package snapshot stores materialized Aggregate Root states.
//
// A repository loading an Aggregate starts from its latest snapshot, if any,
// and replays only the events recorded after the snapshot version. The Policy
// decides which saves are followed by a new snapshot.
package snapshot

// Package index owns the durable key -> Entry mapping that existence and
// lookup queries read.
//
// The store is backed by an embedded sqlite database by default (mysql is
// selectable for deployments that already run one). All mutating operations
// are transactional: a batch upsert is visible in full or not at all, and a
// crash mid-batch leaves the prior committed state. The index stores only
// existence plus minimal metadata per key, never content.
//
// Besides entries, the store persists one durable scalar: the timestamp of
// the last completed reconciliation, which decides whether the next refresh
// defaults to a full or an incremental scan.
package index

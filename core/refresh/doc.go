// Package refresh keeps the durable index consistent with the backing store.
//
// The Reconciler performs full and incremental scans: it enumerates the
// backing store, diffs against the recorded low-water mark, and applies
// bounded upsert batches so progress is durable incrementally. A full scan
// additionally prunes entries that were not seen this run.
//
// The Coordinator is the single-flight guard around the reconciler: at most
// one run is active at a time, a second trigger is rejected with
// ErrAlreadyRunning rather than queued, and status snapshots are always
// available without blocking. Existence and lookup queries read the index
// directly and are never blocked by an in-flight run.
package refresh

// Package backing abstracts the authoritative data source whose contents the
// index mirrors.
//
// Two variants implement the Store interface: a local filesystem tree and an
// S3/Minio bucket. The reconciler and the index never know which variant is
// in use; both expose the same enumeration, stat, read, and atomic write
// operations.
//
// # Error Taxonomy
//
//   - ErrNotFound: the key has no entry; a normal negative result.
//   - ErrPermissionDenied: one entry is unreadable; fatal for that key only.
//   - anything else: a transient I/O fault; enumeration aborts and must be
//     re-invoked from scratch.
package backing

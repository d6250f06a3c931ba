package backing

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned when a key has no entry in the backing store.
	ErrNotFound = errors.New("entry not found")
	// ErrPermissionDenied is returned when a single entry cannot be read.
	// It is fatal for that key only; enumeration continues past it.
	ErrPermissionDenied = errors.New("permission denied")
)

// EntryInfo describes one backing-store entry without its content.
type EntryInfo struct {
	// Key is the entry's logical key (a slash-separated relative path).
	Key string
	// Size is the content size in bytes.
	Size int64
	// ModifiedAt is the entry's last modification time.
	ModifiedAt time.Time
}

// ListFunc receives one entry per enumeration step. When an individual entry
// cannot be inspected, info.Key is still set and err carries the per-entry
// failure (usually wrapping ErrPermissionDenied); the callback decides
// whether to record and continue. Returning a non-nil error aborts the
// enumeration.
type ListFunc func(info EntryInfo, err error) error

// Store is the capability surface over the authoritative data source.
// Implementations exist for a filesystem tree and for an S3/Minio bucket;
// callers must not depend on which variant is in use.
type Store interface {
	// List enumerates all entries, invoking fn once per entry. The sequence
	// is finite and not restartable mid-fault: an enumeration failure aborts
	// the walk and the caller must re-invoke List from scratch.
	List(ctx context.Context, fn ListFunc) error

	// Stat returns metadata for a single key, or ErrNotFound.
	Stat(ctx context.Context, key string) (EntryInfo, error)

	// Read opens the entry content for reading, or returns ErrNotFound.
	// The caller must close the returned reader.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Write stores entry content under key, creating parent structure as
	// needed. The write is atomic with respect to concurrent Stat/Read of
	// the same key: no partially written entry is ever visible.
	Write(ctx context.Context, key string, r io.Reader, size int64) error
}

// NewStore creates a backing store based on the configuration driver.
func NewStore(cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverS3:
		return newObjectStore(cfg)
	default:
		return newFilesystemStore(cfg.Root)
	}
}

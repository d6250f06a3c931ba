package backing

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// filesystemStore serves a local directory tree. Keys are slash-separated
// paths relative to the root.
type filesystemStore struct {
	root string
}

func newFilesystemStore(root string) (*filesystemStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve backing root %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("backing root %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("backing root %s is not a directory", abs)
	}
	return &filesystemStore{root: abs}, nil
}

func (s *filesystemStore) List(ctx context.Context, fn ListFunc) error {
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			// A directory we cannot enter is a per-entry fault for the
			// subtree, not a reason to abandon the rest of the walk.
			if os.IsPermission(err) {
				key, kerr := s.keyFor(path)
				if kerr != nil {
					key = path
				}
				if cbErr := fn(EntryInfo{Key: key}, fmt.Errorf("%s: %w", key, ErrPermissionDenied)); cbErr != nil {
					return cbErr
				}
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			return err
		}
		if d.IsDir() {
			// Hidden directories hold no cache entries.
			if path != s.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		key, err := s.keyFor(path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			if os.IsPermission(err) {
				return fn(EntryInfo{Key: key}, fmt.Errorf("%s: %w", key, ErrPermissionDenied))
			}
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return fn(EntryInfo{Key: key, Size: info.Size(), ModifiedAt: info.ModTime()}, nil)
	})
	if err != nil {
		return fmt.Errorf("error walking backing root %s: %w", s.root, err)
	}
	return nil
}

func (s *filesystemStore) Stat(ctx context.Context, key string) (EntryInfo, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return EntryInfo{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return EntryInfo{}, fmt.Errorf("%s: %w", key, ErrNotFound)
		case os.IsPermission(err):
			return EntryInfo{}, fmt.Errorf("%s: %w", key, ErrPermissionDenied)
		default:
			return EntryInfo{}, fmt.Errorf("error stating %s: %w", key, err)
		}
	}
	if info.IsDir() {
		return EntryInfo{}, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return EntryInfo{Key: key, Size: info.Size(), ModifiedAt: info.ModTime()}, nil
}

func (s *filesystemStore) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		case os.IsPermission(err):
			return nil, fmt.Errorf("%s: %w", key, ErrPermissionDenied)
		default:
			return nil, fmt.Errorf("error opening %s: %w", key, err)
		}
	}
	return f, nil
}

// Write stores the content under a temporary name in the destination
// directory, then renames it into place. Concurrent readers either see the
// old entry or the complete new one, never a partial write.
func (s *filesystemStore) Write(ctx context.Context, key string, r io.Reader, size int64) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to ensure directory for %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(dir, ".write-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}
	return nil
}

func (s *filesystemStore) keyFor(path string) (string, error) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return "", fmt.Errorf("error getting relative path for %s: %w", path, err)
	}
	return filepath.ToSlash(rel), nil
}

// pathFor resolves a key to an absolute path and rejects keys escaping the
// root.
func (s *filesystemStore) pathFor(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || clean == string(filepath.Separator) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid key %q: %w", key, ErrNotFound)
	}
	return filepath.Join(s.root, clean), nil
}

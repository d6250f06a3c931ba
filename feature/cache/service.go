package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"remote-cache/core/backing"
	"remote-cache/core/index"
	"remote-cache/core/refresh"

	"go.uber.org/zap"
)

// Service is the engine facade the transport talks to. Existence and lookup
// queries read the index only; content transfer goes through the backing
// store; refreshes are delegated to the coordinator.
type Service struct {
	index       *index.Store
	store       backing.Store
	coordinator *refresh.Coordinator
	logger      *zap.Logger

	startTime     time.Time
	gets          atomic.Int64
	puts          atomic.Int64
	existsChecks  atomic.Int64
	errorCount    atomic.Int64
	bytesSent     atomic.Int64
	bytesReceived atomic.Int64
}

// NewService creates a new cache service.
func NewService(idx *index.Store, store backing.Store, coordinator *refresh.Coordinator, logger *zap.Logger) *Service {
	return &Service{
		index:       idx,
		store:       store,
		coordinator: coordinator,
		logger:      logger,
		startTime:   time.Now(),
	}
}

// Exists reports whether key is present in the index. It reflects the last
// committed index state and is never blocked by an in-flight refresh.
func (s *Service) Exists(ctx context.Context, key string) (bool, error) {
	s.existsChecks.Add(1)
	_, err := s.index.Get(ctx, key)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return false, nil
		}
		s.errorCount.Add(1)
		return false, err
	}
	return true, nil
}

// ExistsBatch returns one boolean per requested key. Requests over the
// index's batch cap are rejected with index.ErrTooManyKeys and mutate no
// state.
func (s *Service) ExistsBatch(ctx context.Context, keys []string) (map[string]bool, error) {
	entries, err := s.index.GetBatch(ctx, keys)
	if err != nil {
		if !errors.Is(err, index.ErrTooManyKeys) {
			s.errorCount.Add(1)
		}
		return nil, err
	}
	s.existsChecks.Add(int64(len(keys)))
	results := make(map[string]bool, len(keys))
	for _, key := range keys {
		_, ok := entries[key]
		results[key] = ok
	}
	return results, nil
}

// Lookup returns the metadata entry for key, or index.ErrNotFound.
func (s *Service) Lookup(ctx context.Context, key string) (index.Entry, error) {
	return s.index.Get(ctx, key)
}

// RecordUpload upserts a single entry after its content has been durably
// written, so the key is queryable without waiting for a reconciliation.
func (s *Service) RecordUpload(ctx context.Context, key string, size int64, modifiedAt time.Time) error {
	return s.index.Upsert(ctx, index.Entry{
		Key:        key,
		Size:       size,
		ModifiedAt: modifiedAt,
		IndexedAt:  time.Now().UTC(),
	})
}

// Download streams the content for key from the backing store.
func (s *Service) Download(ctx context.Context, key string) (io.ReadCloser, backing.EntryInfo, error) {
	info, err := s.store.Stat(ctx, key)
	if err != nil {
		if !errors.Is(err, backing.ErrNotFound) {
			s.errorCount.Add(1)
		}
		return nil, backing.EntryInfo{}, err
	}
	rc, err := s.store.Read(ctx, key)
	if err != nil {
		if !errors.Is(err, backing.ErrNotFound) {
			s.errorCount.Add(1)
		}
		return nil, backing.EntryInfo{}, err
	}
	s.gets.Add(1)
	s.bytesSent.Add(info.Size)
	return rc, info, nil
}

// Upload durably writes content for key through the backing store, then
// records the entry in the index.
func (s *Service) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := s.store.Write(ctx, key, r, size); err != nil {
		s.errorCount.Add(1)
		return err
	}

	modifiedAt := time.Now().UTC()
	// The store's own clock is authoritative where available.
	if info, err := s.store.Stat(ctx, key); err == nil {
		modifiedAt = info.ModifiedAt
		size = info.Size
	}
	if err := s.RecordUpload(ctx, key, size, modifiedAt); err != nil {
		s.errorCount.Add(1)
		return err
	}

	s.puts.Add(1)
	s.bytesReceived.Add(size)
	s.logger.Info("Stored entry", zap.String("key", key), zap.Int64("size", size))
	return nil
}

// TriggerRefresh asks the coordinator to start a reconciliation. It returns
// refresh.ErrAlreadyRunning when one is active.
func (s *Service) TriggerRefresh(mode refresh.Mode) error {
	return s.coordinator.Trigger(mode)
}

// RefreshStatus returns the latest refresh status snapshot.
func (s *Service) RefreshStatus() refresh.Status {
	return s.coordinator.Status()
}

// BatchLimit returns the cap enforced on batched existence lookups.
func (s *Service) BatchLimit() int {
	return s.index.BatchLimit()
}

// HealthStats summarizes index and server state.
type HealthStats struct {
	// EntryCount is the number of indexed entries.
	EntryCount int64 `json:"entry_count"`
	// LastRefresh is the persisted last-refresh timestamp, if any.
	LastRefresh *time.Time `json:"last_refresh_timestamp"`
	// RefreshState is the current refresh lifecycle state.
	RefreshState refresh.State `json:"refresh_state"`
	// UptimeSeconds is how long the service has been up.
	UptimeSeconds float64 `json:"uptime_seconds"`
	// Counters holds request accounting since startup.
	Counters Counters `json:"counters"`
}

// Counters holds request accounting since startup.
type Counters struct {
	Gets          int64 `json:"gets"`
	Puts          int64 `json:"puts"`
	ExistsChecks  int64 `json:"exists_checks"`
	Errors        int64 `json:"errors"`
	BytesSent     int64 `json:"bytes_sent"`
	BytesReceived int64 `json:"bytes_received"`
}

// HealthStats reports entry count, last refresh, refresh state, and request
// counters.
func (s *Service) HealthStats(ctx context.Context) (HealthStats, error) {
	count, err := s.index.Count(ctx)
	if err != nil {
		return HealthStats{}, fmt.Errorf("health stats unavailable: %w", err)
	}
	stats := HealthStats{
		EntryCount:    count,
		RefreshState:  s.coordinator.Status().State,
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		Counters: Counters{
			Gets:          s.gets.Load(),
			Puts:          s.puts.Load(),
			ExistsChecks:  s.existsChecks.Load(),
			Errors:        s.errorCount.Load(),
			BytesSent:     s.bytesSent.Load(),
			BytesReceived: s.bytesReceived.Load(),
		},
	}
	if last, ok, err := s.index.LastRefresh(ctx); err != nil {
		return HealthStats{}, fmt.Errorf("health stats unavailable: %w", err)
	} else if ok {
		stats.LastRefresh = &last
	}
	return stats, nil
}

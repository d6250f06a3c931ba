package cache_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"remote-cache/core/backing"
	"remote-cache/core/backing/mocks"
	"remote-cache/core/index"
	"remote-cache/core/refresh"
	"remote-cache/feature/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openIndex(t *testing.T, batchLimit int) *index.Store {
	t.Helper()
	idx, err := index.Open(index.Config{Driver: "sqlite", Path: ":memory:", BatchLimit: batchLimit})
	require.NoError(t, err)
	return idx
}

func newService(t *testing.T, idx *index.Store, store backing.Store) *cache.Service {
	t.Helper()
	logger := zap.NewNop()
	coordinator := refresh.NewCoordinator(refresh.NewReconciler(idx, store, logger, 0), logger)
	return cache.NewService(idx, store, coordinator, logger)
}

func waitRefresh(t *testing.T, svc *cache.Service) refresh.Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		st := svc.RefreshStatus()
		if st.State == refresh.StateCompleted || st.State == refresh.StateFailed {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("refresh did not finish, state %s", st.State)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// listableStore feeds canned entries to List and delegates the rest to the
// testify mock.
type listableStore struct {
	mocks.Store
	entries []backing.EntryInfo
}

func (s *listableStore) List(ctx context.Context, fn backing.ListFunc) error {
	for _, e := range s.entries {
		if err := fn(e, nil); err != nil {
			return err
		}
	}
	return nil
}

func TestService_RecordUploadIsVisibleImmediately(t *testing.T) {
	idx := openIndex(t, 0)
	svc := newService(t, idx, new(mocks.Store))
	ctx := context.Background()

	exists, err := svc.Exists(ctx, "e.txt")
	assert.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, svc.RecordUpload(ctx, "e.txt", 10, time.Now().UTC()))

	exists, err = svc.Exists(ctx, "e.txt")
	assert.NoError(t, err)
	assert.True(t, exists)

	entry, err := svc.Lookup(ctx, "e.txt")
	assert.NoError(t, err)
	assert.Equal(t, int64(10), entry.Size)
}

func TestService_ExistsBatch(t *testing.T) {
	idx := openIndex(t, 3)
	svc := newService(t, idx, new(mocks.Store))
	ctx := context.Background()

	require.NoError(t, svc.RecordUpload(ctx, "a.txt", 1, time.Now().UTC()))
	require.NoError(t, svc.RecordUpload(ctx, "b.txt", 2, time.Now().UTC()))

	results, err := svc.ExistsBatch(ctx, []string{"a.txt", "b.txt", "missing.txt"})
	assert.NoError(t, err)
	assert.Equal(t, map[string]bool{
		"a.txt":       true,
		"b.txt":       true,
		"missing.txt": false,
	}, results)

	// Over the cap: rejected, no partial result
	_, err = svc.ExistsBatch(ctx, []string{"a", "b", "c", "d"})
	assert.ErrorIs(t, err, index.ErrTooManyKeys)
}

func TestService_Lookup(t *testing.T) {
	idx := openIndex(t, 0)
	svc := newService(t, idx, new(mocks.Store))

	_, err := svc.Lookup(context.Background(), "nope.txt")
	assert.ErrorIs(t, err, index.ErrNotFound)
}

func TestService_Upload(t *testing.T) {
	idx := openIndex(t, 0)
	mockStore := new(mocks.Store)
	modified := time.Now().UTC().Truncate(time.Second)
	mockStore.On("Write", mock.Anything, "up.bin", mock.Anything, int64(7)).Return(nil)
	mockStore.On("Stat", mock.Anything, "up.bin").
		Return(backing.EntryInfo{Key: "up.bin", Size: 7, ModifiedAt: modified}, nil)

	svc := newService(t, idx, mockStore)
	err := svc.Upload(context.Background(), "up.bin", strings.NewReader("payload"), 7)
	assert.NoError(t, err)

	entry, err := svc.Lookup(context.Background(), "up.bin")
	assert.NoError(t, err)
	assert.Equal(t, int64(7), entry.Size)
	assert.True(t, entry.ModifiedAt.Equal(modified))
	mockStore.AssertExpectations(t)
}

func TestService_UploadWriteFailure(t *testing.T) {
	idx := openIndex(t, 0)
	mockStore := new(mocks.Store)
	mockStore.On("Write", mock.Anything, "bad.bin", mock.Anything, int64(3)).
		Return(errors.New("disk full"))

	svc := newService(t, idx, mockStore)
	err := svc.Upload(context.Background(), "bad.bin", strings.NewReader("xyz"), 3)
	assert.Error(t, err)

	// Nothing recorded for a failed write
	exists, err := svc.Exists(context.Background(), "bad.bin")
	assert.NoError(t, err)
	assert.False(t, exists)
}

func TestService_Download(t *testing.T) {
	idx := openIndex(t, 0)
	mockStore := new(mocks.Store)
	mockStore.On("Stat", mock.Anything, "d.bin").
		Return(backing.EntryInfo{Key: "d.bin", Size: 4, ModifiedAt: time.Now()}, nil)
	mockStore.On("Read", mock.Anything, "d.bin").
		Return(io.NopCloser(strings.NewReader("data")), nil)

	svc := newService(t, idx, mockStore)
	rc, info, err := svc.Download(context.Background(), "d.bin")
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, int64(4), info.Size)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "data", string(data))
}

func TestService_DownloadNotFound(t *testing.T) {
	idx := openIndex(t, 0)
	mockStore := new(mocks.Store)
	mockStore.On("Stat", mock.Anything, "missing.bin").
		Return(backing.EntryInfo{}, backing.ErrNotFound)

	svc := newService(t, idx, mockStore)
	_, _, err := svc.Download(context.Background(), "missing.bin")
	assert.ErrorIs(t, err, backing.ErrNotFound)
}

func TestService_RefreshScenario(t *testing.T) {
	idx := openIndex(t, 0)
	mtime := time.Now().UTC().Add(-time.Hour)
	store := &listableStore{entries: []backing.EntryInfo{
		{Key: "a.txt", Size: 100, ModifiedAt: mtime},
		{Key: "b.txt", Size: 200, ModifiedAt: mtime},
		{Key: "c.txt", Size: 50, ModifiedAt: mtime},
	}}
	svc := newService(t, idx, store)
	ctx := context.Background()

	// Empty index, auto refresh performs a full scan
	require.NoError(t, svc.TriggerRefresh(refresh.ModeAuto))
	st := waitRefresh(t, svc)
	assert.Equal(t, refresh.StateCompleted, st.State)
	assert.Equal(t, refresh.ModeFull, st.Mode)

	exists, err := svc.Exists(ctx, "a.txt")
	assert.NoError(t, err)
	assert.True(t, exists)

	stats, err := svc.HealthStats(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), stats.EntryCount)
	require.NotNil(t, stats.LastRefresh)

	// New entry newer than the low-water mark; auto now scans incrementally
	store.entries = append(store.entries, backing.EntryInfo{
		Key: "d.txt", Size: 10, ModifiedAt: time.Now().UTC().Add(time.Minute),
	})
	require.NoError(t, svc.TriggerRefresh(refresh.ModeAuto))
	st = waitRefresh(t, svc)
	assert.Equal(t, refresh.StateCompleted, st.State)
	assert.Equal(t, refresh.ModeIncremental, st.Mode)
	assert.Equal(t, int64(1), st.UpsertedCount)

	stats, err = svc.HealthStats(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(4), stats.EntryCount)
}

func TestService_HealthStatsIdle(t *testing.T) {
	idx := openIndex(t, 0)
	svc := newService(t, idx, new(mocks.Store))

	stats, err := svc.HealthStats(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, stats.EntryCount)
	assert.Nil(t, stats.LastRefresh)
	assert.Equal(t, refresh.StateIdle, stats.RefreshState)
}

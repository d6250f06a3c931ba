package cache_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"remote-cache/core/backing"
	"remote-cache/core/backing/mocks"
	"remote-cache/core/index"
	"remote-cache/core/refresh"
	"remote-cache/feature/cache"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type gatedStore struct {
	listableStore
	gate chan struct{}
}

func (s *gatedStore) List(ctx context.Context, fn backing.ListFunc) error {
	<-s.gate
	return s.listableStore.List(ctx, fn)
}

func newTestApp(t *testing.T, idx *index.Store, store backing.Store) (*fiber.App, *cache.Service) {
	t.Helper()
	logger := zap.NewNop()
	coordinator := refresh.NewCoordinator(refresh.NewReconciler(idx, store, logger, 0), logger)
	feature := cache.NewFeature(idx, store, coordinator, logger)
	app := fiber.New()
	require.NoError(t, feature.Load(app))
	return app, feature.Service()
}

func TestHandleExists(t *testing.T) {
	idx := openIndex(t, 0)
	app, svc := newTestApp(t, idx, new(mocks.Store))
	require.NoError(t, svc.RecordUpload(context.Background(), "a.txt", 1, time.Now().UTC()))

	t.Run("Missing key", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/exists", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Present", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/exists?key=a.txt", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		var body struct {
			Key    string `json:"key"`
			Exists bool   `json:"exists"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.True(t, body.Exists)
		assert.Equal(t, "a.txt", body.Key)
	})

	t.Run("Absent", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/exists?key=nope.txt", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		var body struct {
			Exists bool `json:"exists"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.False(t, body.Exists)
	})
}

func TestHandleExistsBatch(t *testing.T) {
	idx := openIndex(t, 3)
	app, svc := newTestApp(t, idx, new(mocks.Store))
	require.NoError(t, svc.RecordUpload(context.Background(), "a.txt", 1, time.Now().UTC()))

	t.Run("Valid", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/exists_batch",
			bytes.NewReader([]byte(`{"keys":["a.txt","b.txt"]}`)))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		var body struct {
			Results map[string]bool `json:"results"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, map[string]bool{"a.txt": true, "b.txt": false}, body.Results)
	})

	t.Run("Missing keys field", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/exists_batch", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Over cap", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/exists_batch",
			bytes.NewReader([]byte(`{"keys":["a","b","c","d"]}`)))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})
}

func TestHandleLookup(t *testing.T) {
	idx := openIndex(t, 0)
	app, svc := newTestApp(t, idx, new(mocks.Store))
	modified := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, svc.RecordUpload(context.Background(), "a.txt", 42, modified))

	t.Run("Found", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/lookup?key=a.txt", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		var entry index.Entry
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&entry))
		assert.Equal(t, int64(42), entry.Size)
	})

	t.Run("Not found", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/lookup?key=nope.txt", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	})
}

func TestHandleRefreshSingleFlight(t *testing.T) {
	idx := openIndex(t, 0)
	store := &gatedStore{gate: make(chan struct{})}
	store.entries = []backing.EntryInfo{{Key: "a.txt", Size: 1, ModifiedAt: time.Now().UTC()}}
	app, svc := newTestApp(t, idx, store)

	resp, err := app.Test(httptest.NewRequest("POST", "/refresh?mode=full", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	// A second trigger while the first is blocked is rejected, not queued
	resp, err = app.Test(httptest.NewRequest("POST", "/refresh", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	// Queries stay available during the run
	resp, err = app.Test(httptest.NewRequest("GET", "/exists?key=a.txt", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	close(store.gate)
	st := waitRefresh(t, svc)
	assert.Equal(t, refresh.StateCompleted, st.State)

	resp, err = app.Test(httptest.NewRequest("GET", "/refresh/status", nil))
	require.NoError(t, err)
	var status refresh.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, refresh.StateCompleted, status.State)
	assert.Equal(t, int64(1), status.UpsertedCount)
}

func TestHandleRefreshBadMode(t *testing.T) {
	idx := openIndex(t, 0)
	app, _ := newTestApp(t, idx, new(mocks.Store))

	resp, err := app.Test(httptest.NewRequest("POST", "/refresh?mode=bogus", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandlePutThenGet(t *testing.T) {
	idx := openIndex(t, 0)
	root := t.TempDir()
	store, err := backing.NewStore(backing.Config{Driver: backing.DriverFilesystem, Root: root})
	require.NoError(t, err)
	app, _ := newTestApp(t, idx, store)

	req := httptest.NewRequest("POST", "/put?key=sub/x.bin", bytes.NewReader([]byte("hello")))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// Recorded in the index without any refresh
	resp, err = app.Test(httptest.NewRequest("GET", "/exists?key=sub/x.bin", nil))
	require.NoError(t, err)
	var body struct {
		Exists bool `json:"exists"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Exists)

	// Content round-trips
	resp, err = app.Test(httptest.NewRequest("GET", "/get?key=sub/x.bin", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	// Missing content is a 404
	resp, err = app.Test(httptest.NewRequest("GET", "/get?key=missing.bin", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHandleHealth(t *testing.T) {
	idx := openIndex(t, 0)
	app, svc := newTestApp(t, idx, new(mocks.Store))
	require.NoError(t, svc.RecordUpload(context.Background(), "a.txt", 1, time.Now().UTC()))

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	var body struct {
		Status string            `json:"status"`
		Stats  cache.HealthStats `json:"stats"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, int64(1), body.Stats.EntryCount)
	assert.Equal(t, refresh.StateIdle, body.Stats.RefreshState)
}

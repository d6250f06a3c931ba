package refresh

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func waitIdle(t *testing.T, c *Coordinator) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for c.Running() {
		if time.Now().After(deadline) {
			t.Fatal("refresh did not finish in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCoordinator_SingleFlight(t *testing.T) {
	idx := openIndex(t)
	store := newFakeStore(entry("a.txt", 1, time.Now().UTC()))
	store.gate = make(chan struct{})
	c := NewCoordinator(NewReconciler(idx, store, zap.NewNop(), 0), zap.NewNop())

	// Two concurrent triggers: exactly one wins
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Trigger(ModeAuto)
		}(i)
	}
	wg.Wait()

	accepted, rejected := 0, 0
	for _, err := range errs {
		if err == nil {
			accepted++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyRunning)
			rejected++
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, rejected)

	// Status is readable while the run is blocked
	st := c.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.False(t, st.StartedAt.IsZero())

	close(store.gate)
	waitIdle(t, c)

	// Exactly one reconciliation executed
	assert.Equal(t, int64(1), store.lists.Load())

	st = c.Status()
	assert.Equal(t, StateCompleted, st.State)
	assert.Equal(t, int64(1), st.ScannedCount)
	assert.Equal(t, int64(1), st.UpsertedCount)
	assert.False(t, st.FinishedAt.IsZero())
}

func TestCoordinator_RetriggerAfterCompletion(t *testing.T) {
	idx := openIndex(t)
	store := newFakeStore(entry("a.txt", 1, time.Now().UTC()))
	c := NewCoordinator(NewReconciler(idx, store, zap.NewNop(), 0), zap.NewNop())

	require.NoError(t, c.Trigger(ModeFull))
	waitIdle(t, c)
	require.NoError(t, c.Trigger(ModeFull))
	waitIdle(t, c)

	assert.Equal(t, int64(2), store.lists.Load())
	assert.Equal(t, StateCompleted, c.Status().State)
}

func TestCoordinator_StatusReflectsFilteredRun(t *testing.T) {
	idx := openIndex(t)
	mtime := time.Now().UTC().Add(-time.Hour)
	store := newFakeStore(
		entry("a.txt", 1, mtime),
		entry("b.txt", 2, mtime),
		entry("c.txt", 3, mtime),
	)
	c := NewCoordinator(NewReconciler(idx, store, zap.NewNop(), 0), zap.NewNop())

	require.NoError(t, c.Trigger(ModeFull))
	waitIdle(t, c)

	// Nothing changed since the baseline: every entry is enumerated but
	// filtered, so no batch ever flushes. The scanned count must still
	// cover the whole run.
	require.NoError(t, c.Trigger(ModeIncremental))
	waitIdle(t, c)

	st := c.Status()
	assert.Equal(t, StateCompleted, st.State)
	assert.Equal(t, ModeIncremental, st.Mode)
	assert.Equal(t, int64(3), st.ScannedCount)
	assert.Equal(t, int64(0), st.UpsertedCount)
}

func TestCoordinator_FailedRunRecordsError(t *testing.T) {
	idx := openIndex(t)
	store := newFakeStore(entry("a.txt", 1, time.Now().UTC()))
	store.failAfter = 0
	c := NewCoordinator(NewReconciler(idx, store, zap.NewNop(), 0), zap.NewNop())

	require.NoError(t, c.Trigger(ModeAuto))
	waitIdle(t, c)

	st := c.Status()
	assert.Equal(t, StateFailed, st.State)
	assert.Contains(t, st.Error, "io hiccup")

	// A failed run releases the guard
	assert.NoError(t, c.Trigger(ModeAuto))
	waitIdle(t, c)
}

func TestCoordinator_InitialStatusIsIdle(t *testing.T) {
	idx := openIndex(t)
	c := NewCoordinator(NewReconciler(idx, newFakeStore(), zap.NewNop(), 0), zap.NewNop())

	st := c.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.True(t, st.StartedAt.IsZero())
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
		ok   bool
	}{
		{"", ModeAuto, true},
		{"auto", ModeAuto, true},
		{"full", ModeFull, true},
		{"incremental", ModeIncremental, true},
		{"bogus", "", false},
	}
	for _, tt := range tests {
		t.Run("mode "+tt.in, func(t *testing.T) {
			got, ok := ParseMode(tt.in)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

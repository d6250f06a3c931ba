package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned when a trigger arrives while a run is
// active. Triggers are rejected, never queued; callers poll and retry.
var ErrAlreadyRunning = errors.New("a refresh is already running")

// Coordinator is the single-flight guard around the reconciler. It owns the
// process-wide refresh status: constructed once at startup, idle baseline,
// written only by the active run, read by any caller as a snapshot.
//
// The lock protects only the running flag and the status record; it is never
// held across backing-store or index I/O.
type Coordinator struct {
	mu         sync.Mutex
	running    bool
	status     Status
	reconciler *Reconciler
	logger     *zap.Logger
}

// NewCoordinator creates a coordinator in the idle state.
func NewCoordinator(reconciler *Reconciler, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		reconciler: reconciler,
		logger:     logger,
		status:     Status{State: StateIdle},
	}
}

// Trigger starts a reconciliation on its own goroutine and returns
// immediately. Exactly one concurrent caller wins; the rest get
// ErrAlreadyRunning.
func (c *Coordinator) Trigger(mode Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrAlreadyRunning
	}
	c.running = true
	c.status = Status{
		State:     StateRunning,
		Mode:      mode,
		StartedAt: time.Now().UTC(),
	}

	go c.run(mode)
	return nil
}

// Status returns a copy of the latest refresh status snapshot.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := c.status
	snapshot.SkippedKeys = append([]string(nil), c.status.SkippedKeys...)
	return snapshot
}

// Running reports whether a reconciliation is currently active.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Coordinator) run(mode Mode) {
	c.logger.Info("Refresh started", zap.String("mode", string(mode)))

	// The run is not cancellable in scope; a process restart aborts it and
	// the index's transactional durability keeps committed batches.
	prog, err := c.reconciler.Run(context.Background(), mode, c.applyProgress)

	// Batch-triggered reports lag the enumeration, so the returned final
	// progress is authoritative for entries scanned after the last flush.
	c.applyProgress(prog)

	c.mu.Lock()
	c.running = false
	c.status.FinishedAt = time.Now().UTC()
	if err != nil {
		c.status.State = StateFailed
		c.status.Error = err.Error()
	} else {
		c.status.State = StateCompleted
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("Refresh failed", zap.Error(err))
	}
}

// applyProgress folds a cumulative progress snapshot into the shared status.
func (c *Coordinator) applyProgress(p Progress) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A run that failed before mode resolution reports no mode; keep the
	// one recorded at trigger time.
	if p.Mode != "" {
		c.status.Mode = p.Mode
	}
	c.status.ScannedCount = p.Scanned
	c.status.UpsertedCount = p.Upserted
	c.status.PrunedCount = p.Pruned
	c.status.SkippedCount = p.Skipped
	c.status.SkippedKeys = append([]string(nil), p.SkippedKeys...)
}

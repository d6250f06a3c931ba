package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remote-cache/core/backing"
	"remote-cache/core/index"

	"go.uber.org/zap"
)

// defaultBatchSize bounds how many entries accumulate before an upsert, so
// progress is durable incrementally and memory stays bounded on large trees.
const defaultBatchSize = 500

// skippedKeySample caps how many skipped keys are kept in progress snapshots.
const skippedKeySample = 100

// Reconciler drives full and incremental scans of the backing store and
// applies the results to the index.
type Reconciler struct {
	index     *index.Store
	store     backing.Store
	logger    *zap.Logger
	batchSize int
}

// NewReconciler creates a reconciler. batchSize <= 0 selects the default.
func NewReconciler(idx *index.Store, store backing.Store, logger *zap.Logger, batchSize int) *Reconciler {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Reconciler{index: idx, store: store, logger: logger, batchSize: batchSize}
}

// Run executes one reconciliation and returns the final progress. onProgress
// may be nil; when set it receives cumulative snapshots after mode
// resolution, after each committed batch, and on every per-entry skip.
//
// A transient enumeration fault aborts the run with no timestamp update, so
// a retry in auto or incremental mode redoes the affected window. Per-entry
// permission faults are recorded and skipped without failing the run.
func (r *Reconciler) Run(ctx context.Context, mode Mode, onProgress ProgressFunc) (Progress, error) {
	prog := Progress{}
	report := func() {
		if onProgress != nil {
			onProgress(prog)
		}
	}

	resolved, since, err := r.resolveMode(ctx, mode)
	if err != nil {
		return prog, err
	}
	prog.Mode = resolved
	report()

	// The timestamp recorded on success is the scan's start time, not its
	// completion time, so entries modified during a slow scan fall into the
	// next incremental window instead of being missed.
	scanStart := time.Now().UTC()

	batch := make([]index.Entry, 0, r.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.index.UpsertBatch(ctx, batch); err != nil {
			return err
		}
		prog.Upserted += int64(len(batch))
		batch = batch[:0]
		report()
		return nil
	}

	// Full scans track every skipped key, not just the status sample, so
	// unreadable entries can be exempted from the sweep below.
	var unreadable []string

	err = r.store.List(ctx, func(info backing.EntryInfo, entryErr error) error {
		if entryErr != nil {
			if errors.Is(entryErr, backing.ErrPermissionDenied) {
				prog.Skipped++
				if len(prog.SkippedKeys) < skippedKeySample {
					prog.SkippedKeys = append(prog.SkippedKeys, info.Key)
				}
				if resolved == ModeFull {
					unreadable = append(unreadable, info.Key)
				}
				r.logger.Warn("Skipping unreadable entry", zap.String("key", info.Key), zap.Error(entryErr))
				report()
				return nil
			}
			return entryErr
		}
		prog.Scanned++
		if resolved == ModeIncremental && !info.ModifiedAt.After(since) {
			return nil
		}
		batch = append(batch, index.Entry{
			Key:        info.Key,
			Size:       info.Size,
			ModifiedAt: info.ModifiedAt,
			IndexedAt:  time.Now().UTC(),
		})
		if len(batch) >= r.batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return prog, fmt.Errorf("reconciliation scan failed: %w", err)
	}
	if err := flush(); err != nil {
		return prog, err
	}

	// Mark-and-sweep: after a successful full scan, every surviving entry
	// carries an indexed_at at or after scanStart. Anything older was not
	// seen this run and no longer exists in the backing store. Keys that
	// were enumerated but unreadable are still present, so they are
	// re-stamped first and survive the sweep.
	if resolved == ModeFull {
		if len(unreadable) > 0 {
			if err := r.index.TouchIndexedAt(ctx, unreadable, time.Now().UTC()); err != nil {
				return prog, err
			}
		}
		pruned, err := r.index.PruneIndexedBefore(ctx, scanStart)
		if err != nil {
			return prog, err
		}
		prog.Pruned = pruned
		report()
	}

	if err := r.index.SetLastRefresh(ctx, scanStart); err != nil {
		return prog, err
	}

	r.logger.Info("Reconciliation completed",
		zap.String("mode", string(resolved)),
		zap.Int64("scanned", prog.Scanned),
		zap.Int64("upserted", prog.Upserted),
		zap.Int64("pruned", prog.Pruned),
		zap.Int64("skipped", prog.Skipped),
	)
	return prog, nil
}

// resolveMode turns auto into full or incremental based on whether a last
// refresh timestamp exists, and returns the incremental low-water mark.
func (r *Reconciler) resolveMode(ctx context.Context, mode Mode) (Mode, time.Time, error) {
	last, ok, err := r.index.LastRefresh(ctx)
	if err != nil {
		return "", time.Time{}, err
	}
	switch mode {
	case ModeFull:
		return ModeFull, time.Time{}, nil
	case ModeIncremental:
		if !ok {
			// Nothing to be incremental against yet.
			return ModeFull, time.Time{}, nil
		}
		return ModeIncremental, last, nil
	default: // ModeAuto
		if !ok {
			return ModeFull, time.Time{}, nil
		}
		return ModeIncremental, last, nil
	}
}

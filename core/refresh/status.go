package refresh

import "time"

// State is the lifecycle state of the most recent reconciliation run.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Mode selects how a reconciliation scans the backing store.
type Mode string

const (
	// ModeAuto behaves as full on the first ever run, incremental after.
	ModeAuto Mode = "auto"
	// ModeFull enumerates and re-indexes the entire backing store.
	ModeFull Mode = "full"
	// ModeIncremental only upserts entries modified after the last refresh.
	ModeIncremental Mode = "incremental"
)

// ParseMode validates a caller-supplied mode string. The empty string means
// auto.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeAuto, "":
		return ModeAuto, true
	case ModeFull:
		return ModeFull, true
	case ModeIncremental:
		return ModeIncremental, true
	default:
		return "", false
	}
}

// Status is a snapshot of the process-wide refresh state. It is written only
// by the active run and copied out to callers, never handed out live.
type Status struct {
	// State is idle until the first trigger, then tracks the current or
	// most recent run.
	State State `json:"state"`
	// Mode is the resolved scan mode of the run (full or incremental;
	// auto is resolved before scanning starts).
	Mode Mode `json:"mode,omitempty"`
	// ScannedCount is the number of entries enumerated so far.
	ScannedCount int64 `json:"scanned_count"`
	// UpsertedCount is the number of entries written to the index so far.
	UpsertedCount int64 `json:"upserted_count"`
	// PrunedCount is the number of stale entries removed by a full scan.
	PrunedCount int64 `json:"pruned_count"`
	// SkippedCount is the number of entries skipped on per-entry faults.
	SkippedCount int64 `json:"skipped_count"`
	// SkippedKeys samples the skipped keys, capped to keep status small.
	SkippedKeys []string `json:"skipped_keys,omitempty"`
	// StartedAt is when the run began; zero while idle.
	StartedAt time.Time `json:"started_at,omitzero"`
	// FinishedAt is when the run ended; zero while idle or running.
	FinishedAt time.Time `json:"finished_at,omitzero"`
	// Error carries the cause of a failed run.
	Error string `json:"error,omitempty"`
}

// Progress is the cumulative state of an in-flight run, reported to the
// coordinator after each committed batch.
type Progress struct {
	Mode     Mode
	Scanned  int64
	Upserted int64
	Pruned   int64
	Skipped  int64
	// SkippedKeys samples the skipped keys, capped so status stays small
	// even when a whole subtree is unreadable.
	SkippedKeys []string
}

// ProgressFunc receives cumulative progress snapshots during a run.
type ProgressFunc func(Progress)

package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gamilit/ranks-engine/internal/application/ranks"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT FLUSH JOB
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotFlusher saves every dirty session through saver.
type SnapshotFlusher interface {
	Flush(ctx context.Context, saver ranks.SnapshotSaver) (int, error)
}

// SnapshotFlushJob persists sessions whose event-driven save failed or was
// skipped, so no accepted mutation stays in memory only.
type SnapshotFlushJob struct {
	flusher SnapshotFlusher
	saver   ranks.SnapshotSaver
	logger  *slog.Logger

	lastRunStats atomic.Pointer[FlushStats]
}

// FlushStats describes the last flush.
type FlushStats struct {
	Saved    int
	Failed   bool
	RanAt    time.Time
	Duration time.Duration
}

// NewSnapshotFlushJob creates the job.
func NewSnapshotFlushJob(flusher SnapshotFlusher, saver ranks.SnapshotSaver, logger *slog.Logger) *SnapshotFlushJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotFlushJob{flusher: flusher, saver: saver, logger: logger}
}

// Name returns the job name.
func (j *SnapshotFlushJob) Name() string { return "snapshot-flush" }

// Description returns a human-readable description.
func (j *SnapshotFlushJob) Description() string {
	return "Saves dirty progression sessions to the snapshot store"
}

// Run executes the flush. Partial failures are returned after the other
// sessions have been attempted.
func (j *SnapshotFlushJob) Run(ctx context.Context) error {
	start := time.Now()
	saved, err := j.flusher.Flush(ctx, j.saver)

	stats := &FlushStats{Saved: saved, Failed: err != nil, RanAt: start, Duration: time.Since(start)}
	j.lastRunStats.Store(stats)

	if saved > 0 {
		j.logger.Info("snapshots flushed", "saved", saved, "duration", stats.Duration)
	}
	return err
}

// LastRunStats returns the stats of the last run, or nil.
func (j *SnapshotFlushJob) LastRunStats() *FlushStats {
	return j.lastRunStats.Load()
}

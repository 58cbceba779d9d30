// Package jobs contains the periodic jobs of the ranks engine.
package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// MULTIPLIER SWEEP JOB
// ══════════════════════════════════════════════════════════════════════════════

// MultiplierSweeper removes expired multiplier sources from live sessions.
type MultiplierSweeper interface {
	SweepExpired() int
}

// MultiplierSweepJob keeps multiplier totals honest for sessions that see
// no traffic after a source expires.
type MultiplierSweepJob struct {
	sweeper MultiplierSweeper
	logger  *slog.Logger

	lastRunStats atomic.Pointer[SweepStats]
}

// SweepStats describes the last sweep.
type SweepStats struct {
	Removed  int
	RanAt    time.Time
	Duration time.Duration
}

// NewMultiplierSweepJob creates the job.
func NewMultiplierSweepJob(sweeper MultiplierSweeper, logger *slog.Logger) *MultiplierSweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiplierSweepJob{sweeper: sweeper, logger: logger}
}

// Name returns the job name.
func (j *MultiplierSweepJob) Name() string { return "multiplier-sweep" }

// Description returns a human-readable description.
func (j *MultiplierSweepJob) Description() string {
	return "Prunes expired multiplier sources and recomputes totals"
}

// Run executes the sweep.
func (j *MultiplierSweepJob) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	removed := j.sweeper.SweepExpired()
	stats := &SweepStats{Removed: removed, RanAt: start, Duration: time.Since(start)}
	j.lastRunStats.Store(stats)

	if removed > 0 {
		j.logger.Info("expired multipliers removed", "removed", removed, "duration", stats.Duration)
	}
	return nil
}

// LastRunStats returns the stats of the last run, or nil.
func (j *MultiplierSweepJob) LastRunStats() *SweepStats {
	return j.lastRunStats.Load()
}

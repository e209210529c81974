// Package retention sweeps aged records out of the task store: completed
// tasks after a short window, receipts after a longer one. Deferred tasks
// are never touched; the sweep only removes records no active workflow can
// still reach.
//
// The janitor runs as a background goroutine and respects context
// cancellation for graceful shutdown. Store outages are logged and retried
// on the next cycle, never fatal.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/verdin-ai/verdin/internal/config"
	"github.com/verdin-ai/verdin/internal/store"
)

// minSweepInterval guards against accidental hot-looping from a
// misconfigured interval.
const minSweepInterval = time.Minute

// CycleStats tracks what one sweep removed.
type CycleStats struct {
	TasksPurged    int64
	ReceiptsPurged int64
}

// Janitor periodically purges expired tasks and receipts.
type Janitor struct {
	store store.Store
	cfg   config.RetentionConfig

	// now is swappable for tests.
	now func() time.Time
}

// NewJanitor creates a janitor with the given windows. Intervals below the
// minimum are raised to one hour.
func NewJanitor(s store.Store, cfg config.RetentionConfig) *Janitor {
	if cfg.SweepInterval < minSweepInterval {
		cfg.SweepInterval = time.Hour
	}
	return &Janitor{
		store: s,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Start runs the janitor until ctx is cancelled. One sweep runs immediately
// on startup.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Dur("interval", j.cfg.SweepInterval).
		Dur("task_window", j.cfg.TaskWindow).
		Dur("receipt_window", j.cfg.ReceiptWindow).
		Msg("Retention janitor started")

	ticker := time.NewTicker(j.cfg.SweepInterval)
	defer ticker.Stop()

	j.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.runCycle(ctx)
		}
	}
}

// runCycle performs one sweep. Receipts go first so a task purge never
// strands a receipt past its own window.
func (j *Janitor) runCycle(ctx context.Context) CycleStats {
	start := j.now()
	var stats CycleStats

	receipts, err := j.store.PurgeReceipts(ctx, start.Add(-j.cfg.ReceiptWindow))
	if err != nil {
		log.Warn().Err(err).Msg("Retention sweep: receipt purge failed, waiting for next cycle")
		return stats
	}
	stats.ReceiptsPurged = receipts

	tasks, err := j.store.PurgeCompletedTasks(ctx, start.Add(-j.cfg.TaskWindow))
	if err != nil {
		log.Warn().Err(err).Msg("Retention sweep: task purge failed, waiting for next cycle")
		return stats
	}
	stats.TasksPurged = tasks

	if stats.TasksPurged > 0 || stats.ReceiptsPurged > 0 {
		log.Info().
			Int64("purged_tasks", stats.TasksPurged).
			Int64("purged_receipts", stats.ReceiptsPurged).
			Dur("elapsed", time.Since(start)).
			Msg("Retention cycle complete")
	}
	return stats
}

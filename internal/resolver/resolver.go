// Package resolver runs the background loop that drains the deferred task
// queue whenever the grid is clean enough or deadlines expire.
//
// The loop is expected to run for the life of the process: store outages
// and per-task failures are logged and skipped, never fatal.
package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/verdin-ai/verdin/internal/orchestrator"
	"github.com/verdin-ai/verdin/internal/store"
	"github.com/verdin-ai/verdin/pkg/models"
)

// Resolver polls the task store and routes runnable tasks back through the
// orchestrator's execution path.
type Resolver struct {
	store    store.Store
	orch     *orchestrator.Orchestrator
	interval time.Duration
}

// New creates the resolver.
func New(s store.Store, orch *orchestrator.Orchestrator, interval time.Duration) *Resolver {
	return &Resolver{store: s, orch: orch, interval: interval}
}

// Run blocks, resolving runnable tasks every poll interval until the
// context is cancelled.
func (r *Resolver) Run(ctx context.Context) {
	log.Info().Dur("interval", r.interval).Msg("Deferred resolver started")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Deferred resolver stopped")
			return
		case <-ticker.C:
			r.cycle(ctx)
		}
	}
}

// cycle runs one poll: fetch intensity, list runnable tasks, execute each.
// A failure executing one task must not abort the cycle.
func (r *Resolver) cycle(ctx context.Context) {
	intensity := r.orch.Intensity(ctx)

	tasks, err := r.store.RunnableTasks(ctx, intensity)
	if err != nil {
		log.Warn().Err(err).Msg("Resolver cannot reach task store, waiting for next cycle")
		return
	}
	if len(tasks) == 0 {
		return
	}

	log.Info().Int("count", len(tasks)).Float64("intensity", intensity).Msg("Resolving deferred tasks")
	for i := range tasks {
		if err := r.resolve(ctx, &tasks[i]); err != nil {
			log.Error().Err(err).Int64("task_id", tasks[i].ID).Msg("Deferred task failed, continuing")
		}
	}
}

// resolve executes one task and completes it atomically. A concurrent
// manual trigger may have completed it already; that conflict is benign.
func (r *Resolver) resolve(ctx context.Context, task *models.DeferredTask) error {
	response, receipt, err := r.orch.ExecuteTask(ctx, task)
	if err != nil {
		return err
	}

	err = r.store.CompleteTask(ctx, task.ID, response, receipt)
	if errors.Is(err, store.ErrConflict) {
		log.Warn().Int64("task_id", task.ID).Msg("Task already completed elsewhere")
		return nil
	}
	if err != nil {
		return err
	}

	log.Info().
		Int64("task_id", task.ID).
		Str("receipt_id", receipt.ID).
		Float64("net_savings_g", receipt.NetSavings).
		Msg("Deferred task completed")
	return nil
}

// ResolveOne force-resolves a single task regardless of grid state. Used by
// the manual trigger endpoint. Returns the receipt of the completed run.
func (r *Resolver) ResolveOne(ctx context.Context, taskID int64) (*models.Receipt, error) {
	task, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskDeferred {
		return nil, store.ErrConflict
	}

	response, receipt, err := r.orch.ExecuteTask(ctx, task)
	if err != nil {
		return nil, err
	}
	if err := r.store.CompleteTask(ctx, taskID, response, receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

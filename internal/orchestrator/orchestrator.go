// Package orchestrator implements admission control: for each request it
// decides between immediate execution, a cheaper path, and deferral until
// the grid is cleaner or a deadline forces execution.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/verdin-ai/verdin/internal/cache"
	"github.com/verdin-ai/verdin/internal/carbon"
	"github.com/verdin-ai/verdin/internal/config"
	"github.com/verdin-ai/verdin/internal/grid"
	"github.com/verdin-ai/verdin/internal/llm"
	"github.com/verdin-ai/verdin/internal/prompt"
	"github.com/verdin-ai/verdin/internal/store"
	"github.com/verdin-ai/verdin/pkg/models"
)

// ErrInvalidDeadline is a client input error: the supplied deadline is not
// in the future.
var ErrInvalidDeadline = errors.New("deadline must be in the future")

// Orchestrator owns receipt creation and is the only component that reads
// all four collaborators and writes tasks and cache entries.
type Orchestrator struct {
	store      store.Store
	grid       *grid.Engine
	cache      *cache.PromptCache
	accountant *carbon.Accountant
	compressor *prompt.Compressor
	scorer     *prompt.Scorer
	generator  llm.Generator
	cfg        config.CarbonConfig

	// now is swappable for tests.
	now func() time.Time
}

// New wires the orchestrator. All collaborators are constructed once at
// process start and passed in; there is no ambient global state.
func New(s store.Store, g *grid.Engine, pc *cache.PromptCache, acct *carbon.Accountant, gen llm.Generator, cfg config.CarbonConfig) *Orchestrator {
	return &Orchestrator{
		store:      s,
		grid:       g,
		cache:      pc,
		accountant: acct,
		compressor: prompt.NewCompressor(),
		scorer:     prompt.NewScorer(),
		generator:  gen,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Process runs the admission decision for one request.
func (o *Orchestrator) Process(ctx context.Context, req *models.Request) (*models.Outcome, error) {
	if req.Deadline != nil && !req.Deadline.After(o.now()) {
		return nil, ErrInvalidDeadline
	}

	// Bypass executes directly on the cheap tier and touches neither
	// the caches nor the deferred store.
	if req.BypassEco {
		return o.processBypass(ctx, req)
	}

	if hit := o.cache.Lookup(ctx, req.Prompt); hit != nil {
		receipt := hit.Receipt
		receipt.Cached = true
		log.Info().Str("receipt_id", receipt.ID).Msg("Request served from prompt cache")
		return &models.Outcome{
			Kind:      models.OutcomeCached,
			Response:  hit.Response,
			ReceiptID: receipt.ID,
			Receipt:   &receipt,
		}, nil
	}

	comp := o.compressor.Compress(req.Prompt)
	triage := o.scorer.Score(comp.Text)

	snap := o.grid.Snapshot(ctx, o.grid.DefaultRegion())

	if !req.IsUrgent && snap.CarbonIntensity > o.cfg.AdmissionThreshold {
		deadline := o.now().Add(o.cfg.DeferralWindow)
		if req.Deadline != nil {
			deadline = req.Deadline.UTC()
		}

		taskID, err := o.store.EnqueueTask(ctx, comp.Text, triage.Tier, deadline, o.cfg.AdmissionThreshold)
		if err == nil {
			log.Info().
				Int64("task_id", taskID).
				Float64("intensity", snap.CarbonIntensity).
				Time("deadline", deadline).
				Msg("Request deferred until grid is cleaner")
			return &models.Outcome{
				Kind:   models.OutcomeDeferred,
				TaskID: taskID,
				ETA:    &deadline,
			}, nil
		}
		if !store.IsUnavailable(err) {
			return nil, err
		}
		// Degrade: a broken queue must not fail the request.
		log.Warn().Err(err).Msg("Task store unavailable, executing immediately")
	}

	response, err := o.generator.Generate(ctx, comp.Text, triage.Tier)
	if err != nil {
		return nil, err
	}

	receipt := o.accountant.Account(comp.OriginalTokens, comp.FinalTokens, triage.Tier, snap.CarbonIntensity)
	receipt.GridMix = snap.Mix

	if err := o.store.SaveReceipt(ctx, &receipt); err != nil {
		log.Warn().Err(err).Str("receipt_id", receipt.ID).Msg("Receipt not persisted")
	}
	o.cache.Store(ctx, req.Prompt, response, receipt)

	return &models.Outcome{
		Kind:      models.OutcomeCompleted,
		Response:  response,
		ReceiptID: receipt.ID,
		Receipt:   &receipt,
	}, nil
}

// processBypass executes on the cheap tier with no optimization: full
// prompt, no cache, no deferral, accounting against the dirty baseline.
func (o *Orchestrator) processBypass(ctx context.Context, req *models.Request) (*models.Outcome, error) {
	response, err := o.generator.Generate(ctx, req.Prompt, models.TierFlash)
	if err != nil {
		return nil, err
	}

	tokens := len(strings.Fields(req.Prompt))
	receipt := o.accountant.Account(tokens, tokens, models.TierFlash, o.cfg.DirtyBaseline)
	receipt.NoOptimization = true

	if err := o.store.SaveReceipt(ctx, &receipt); err != nil {
		log.Warn().Err(err).Str("receipt_id", receipt.ID).Msg("Receipt not persisted")
	}

	return &models.Outcome{
		Kind:      models.OutcomeCompleted,
		Response:  response,
		ReceiptID: receipt.ID,
		Receipt:   &receipt,
	}, nil
}

// ExecuteTask runs a deferred task's stored prompt against its stored tier
// and returns the response plus its accounting record. Used by the deferred
// resolver and the manual trigger; completion is the caller's job so the
// status flip and receipt write share one transaction.
func (o *Orchestrator) ExecuteTask(ctx context.Context, task *models.DeferredTask) (string, models.Receipt, error) {
	snap := o.grid.Snapshot(ctx, o.grid.DefaultRegion())

	response, err := o.generator.Generate(ctx, task.Prompt, task.ModelTier)
	if err != nil {
		return "", models.Receipt{}, err
	}

	tokens := len(strings.Fields(task.Prompt))
	receipt := o.accountant.Account(tokens, tokens, task.ModelTier, snap.CarbonIntensity)
	receipt.GridMix = snap.Mix
	return response, receipt, nil
}

// Intensity exposes the current default-region intensity for the resolver's
// runnable predicate.
func (o *Orchestrator) Intensity(ctx context.Context) float64 {
	return o.grid.Snapshot(ctx, o.grid.DefaultRegion()).CarbonIntensity
}

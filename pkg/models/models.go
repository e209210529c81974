// Package models defines the shared typed records exchanged between the
// grid engine, the prompt cache, the orchestrator, the deferred task store
// and the HTTP layer.
package models

import "time"

// ModelTier identifies a generation model by cost class.
type ModelTier string

const (
	// TierPro is the expensive, high-capability tier. It is also the
	// baseline against which savings are computed.
	TierPro ModelTier = "gemini-1.5-pro"

	// TierFlash is the cheap tier used for low-complexity prompts and
	// for bypass execution.
	TierFlash ModelTier = "gemini-1.5-flash"
)

// Request is one inbound generation request. Immutable once received;
// consumed exactly once by the orchestrator.
type Request struct {
	Prompt    string     `json:"prompt"`
	UserID    string     `json:"user_id"`
	ProjectID string     `json:"project_id"`
	IsUrgent  bool       `json:"is_urgent"`
	BypassEco bool       `json:"bypass_eco"`
	Deadline  *time.Time `json:"deadline,omitempty"`
}

// PowerMix is the generation breakdown of a grid region, fractions by fuel
// type. Fractions sum to at most 1; partial mixes are allowed when a
// provider only reports some fuels.
type PowerMix map[string]float64

// GridSnapshot is the canonical fused reading for one grid region.
// Snapshots are superseded, never mutated: a failed fetch leaves the prior
// snapshot in place until it ages out.
type GridSnapshot struct {
	Zone            string  `json:"zone"`
	CarbonIntensity float64 `json:"carbon_intensity_g_per_kwh"`

	// HasIntensity is false when no intensity-bearing source succeeded and
	// the value was derived from a percentile or the fallback constant.
	HasIntensity bool      `json:"has_intensity"`
	Percentile   *float64  `json:"percentile,omitempty"`
	Mix          PowerMix  `json:"mix,omitempty"`
	FossilFree   *float64  `json:"fossil_free_pct,omitempty"`
	Renewable    *float64  `json:"renewable_pct,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`

	// Provenance names the provider(s) that supplied the data, or
	// "fallback" when every source failed.
	Provenance string `json:"provenance"`
}

// RegionScore is one entry of the grid map: a snapshot plus a derived
// 0-100 sustainability score (lower intensity = higher score).
type RegionScore struct {
	Snapshot GridSnapshot `json:"snapshot"`
	Score    int          `json:"score"`
}

// TaskStatus is the lifecycle state of a deferred task.
type TaskStatus string

const (
	TaskDeferred  TaskStatus = "deferred"
	TaskCompleted TaskStatus = "completed"
)

// DeferredTask is a postponed generation request. Owned exclusively by the
// task store; transitions deferred -> completed exactly once, atomically
// with the receipt write.
type DeferredTask struct {
	ID              int64      `json:"id"`
	Prompt          string     `json:"prompt"`
	ModelTier       ModelTier  `json:"model_tier"`
	Deadline        time.Time  `json:"deadline"`
	TargetIntensity float64    `json:"target_intensity"`
	Status          TaskStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Runnable reports whether the task may execute: the grid is clean enough,
// or the deadline forces it regardless of grid state.
func (t *DeferredTask) Runnable(currentIntensity float64, now time.Time) bool {
	if t.Status != TaskDeferred {
		return false
	}
	return t.TargetIntensity >= currentIntensity || !now.Before(t.Deadline)
}

// Receipt is the immutable accounting record for one executed request.
// Baseline figures describe the unoptimized counterfactual: the full prompt
// on the most expensive tier against an average dirty grid.
type Receipt struct {
	ID          string  `json:"id"`
	BaselineWh  float64 `json:"baseline_wh"`
	ActualWh    float64 `json:"actual_wh"`
	WhSaved     float64 `json:"wh_saved"`
	BaselineCO2 float64 `json:"baseline_co2_g"`
	ActualCO2   float64 `json:"actual_co2_g"`

	// NetSavings may be negative when optimization made things worse;
	// it is deliberately not clamped.
	NetSavings           float64   `json:"net_savings_g"`
	EfficiencyMultiplier float64   `json:"efficiency_multiplier"`
	GridIntensity        float64   `json:"grid_intensity_g_per_kwh"`
	GridMix              PowerMix  `json:"grid_mix,omitempty"`
	ModelTier            ModelTier `json:"model_tier"`
	Cached               bool      `json:"cached"`

	// NoOptimization marks bypass executions where eco routing was skipped.
	NoOptimization bool      `json:"no_optimization,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// CacheEntry is a stored prompt result keyed by normalized-prompt
// fingerprint. Read-only after creation.
type CacheEntry struct {
	Fingerprint string    `json:"fingerprint"`
	Prompt      string    `json:"prompt"`
	Response    string    `json:"response"`
	Receipt     Receipt   `json:"receipt"`
	CreatedAt   time.Time `json:"created_at"`
}

// OutcomeKind discriminates the three possible results of admission control.
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeDeferred  OutcomeKind = "deferred"
	OutcomeCached    OutcomeKind = "cached"
)

// Outcome is the result of processing one request.
type Outcome struct {
	Kind      OutcomeKind `json:"status"`
	Response  string      `json:"response,omitempty"`
	ReceiptID string      `json:"receipt_id,omitempty"`
	Receipt   *Receipt    `json:"eco_stats,omitempty"`

	// TaskID is set only for deferred outcomes.
	TaskID int64 `json:"task_id,omitempty"`

	// ETA is the stored deadline of a deferred task: the latest moment the
	// resolver will force execution.
	ETA *time.Time `json:"new_eta,omitempty"`
}

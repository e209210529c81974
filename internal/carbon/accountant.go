// Package carbon computes energy and CO2 accounting for executed requests.
//
// The baseline is the unoptimized counterfactual: the full original prompt
// run on the most expensive tier against a fixed "dirty" average grid. The
// actual side uses the compressed token count, the chosen tier and the live
// grid intensity. All figures are pure arithmetic; nothing here performs IO.
package carbon

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/verdin-ai/verdin/internal/config"
	"github.com/verdin-ai/verdin/pkg/models"
)

// EfficiencySentinel is reported when the actual CO2 is zero and the true
// multiplier would be unbounded.
const EfficiencySentinel = 100

// Accountant derives accounting records from token counts and grid state.
type Accountant struct {
	cfg config.CarbonConfig
}

// NewAccountant creates an accountant over the configured energy profile.
func NewAccountant(cfg config.CarbonConfig) *Accountant {
	return &Accountant{cfg: cfg}
}

// WhPerToken returns the configured energy draw for a tier. Unknown tiers
// account at the expensive rate so savings are never overstated.
func (a *Accountant) WhPerToken(tier models.ModelTier) float64 {
	if wh, ok := a.cfg.EnergyProfile[tier]; ok {
		return wh
	}
	return a.cfg.EnergyProfile[models.TierPro]
}

// Account computes the receipt figures for one execution.
//
// net_savings = baseline_co2 - actual_co2, deliberately unclamped: a
// negative value documents that compression or grid conditions made the
// optimized path worse than the baseline.
func (a *Accountant) Account(originalTokens, finalTokens int, tier models.ModelTier, gridIntensity float64) models.Receipt {
	baselineWh := float64(originalTokens) * a.WhPerToken(models.TierPro)
	baselineCO2 := (baselineWh / 1000) * a.cfg.DirtyBaseline

	actualWh := float64(finalTokens) * a.WhPerToken(tier)
	actualCO2 := (actualWh / 1000) * gridIntensity

	multiplier := float64(EfficiencySentinel)
	if actualCO2 > 0 {
		multiplier = round(baselineCO2/actualCO2, 1)
	}

	return models.Receipt{
		ID:                   "rec_" + uuid.NewString(),
		BaselineWh:           round(baselineWh, 6),
		ActualWh:             round(actualWh, 6),
		WhSaved:              round(baselineWh-actualWh, 6),
		BaselineCO2:          round(baselineCO2, 6),
		ActualCO2:            round(actualCO2, 6),
		NetSavings:           round(baselineCO2-actualCO2, 6),
		EfficiencyMultiplier: multiplier,
		GridIntensity:        gridIntensity,
		ModelTier:            tier,
		CreatedAt:            time.Now().UTC(),
	}
}

// round fixes receipt values to a stable decimal precision.
func round(v float64, places int) float64 {
	scale := math.Pow10(places)
	return math.Round(v*scale) / scale
}

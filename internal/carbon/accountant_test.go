package carbon_test

import (
	"math"
	"testing"

	"github.com/verdin-ai/verdin/internal/carbon"
	"github.com/verdin-ai/verdin/internal/config"
	"github.com/verdin-ai/verdin/pkg/models"
)

func testConfig() config.CarbonConfig {
	return config.CarbonConfig{
		AdmissionThreshold: 200,
		DirtyBaseline:      450,
		EnergyProfile: map[models.ModelTier]float64{
			models.TierPro:   0.01,
			models.TierFlash: 0.001,
		},
	}
}

func TestAccountFormula(t *testing.T) {
	a := carbon.NewAccountant(testConfig())

	// 1000 original tokens on pro baseline, 400 final tokens on flash at a
	// clean 100 g/kWh grid.
	r := a.Account(1000, 400, models.TierFlash, 100)

	wantBaselineWh := 1000 * 0.01                  // 10 Wh
	wantBaselineCO2 := (wantBaselineWh / 1000) * 450 // 4.5 g
	wantActualWh := 400 * 0.001                    // 0.4 Wh
	wantActualCO2 := (wantActualWh / 1000) * 100   // 0.04 g

	if r.BaselineWh != wantBaselineWh {
		t.Errorf("BaselineWh = %v, want %v", r.BaselineWh, wantBaselineWh)
	}
	if r.BaselineCO2 != wantBaselineCO2 {
		t.Errorf("BaselineCO2 = %v, want %v", r.BaselineCO2, wantBaselineCO2)
	}
	if r.ActualCO2 != wantActualCO2 {
		t.Errorf("ActualCO2 = %v, want %v", r.ActualCO2, wantActualCO2)
	}

	// net_savings = baseline_co2 - actual_co2, exactly.
	if got, want := r.NetSavings, r.BaselineCO2-r.ActualCO2; math.Abs(got-want) > 1e-9 {
		t.Errorf("NetSavings = %v, want %v", got, want)
	}
	if r.BaselineCO2 < 0 {
		t.Error("baseline CO2 must be non-negative")
	}
}

// Savings are deliberately unclamped: a dirty grid plus no compression can
// make the optimized path worse than the baseline.
func TestAccountNegativeSavingsNotClamped(t *testing.T) {
	a := carbon.NewAccountant(testConfig())

	// Same token counts on the pro tier, but live intensity far above the
	// dirty baseline.
	r := a.Account(100, 100, models.TierPro, 2000)

	if r.NetSavings >= 0 {
		t.Errorf("NetSavings = %v, want negative (unclamped)", r.NetSavings)
	}
	if got, want := r.NetSavings, r.BaselineCO2-r.ActualCO2; math.Abs(got-want) > 1e-9 {
		t.Errorf("NetSavings = %v, want exact baseline-actual = %v", got, want)
	}
}

func TestAccountZeroActualUsesSentinel(t *testing.T) {
	a := carbon.NewAccountant(testConfig())

	r := a.Account(500, 0, models.TierFlash, 300)
	if r.EfficiencyMultiplier != carbon.EfficiencySentinel {
		t.Errorf("EfficiencyMultiplier = %v, want sentinel %v", r.EfficiencyMultiplier, carbon.EfficiencySentinel)
	}
	if r.ActualCO2 != 0 {
		t.Errorf("ActualCO2 = %v, want 0", r.ActualCO2)
	}
}

func TestAccountUnknownTierChargedAsPro(t *testing.T) {
	a := carbon.NewAccountant(testConfig())

	known := a.Account(100, 100, models.TierPro, 200)
	unknown := a.Account(100, 100, models.ModelTier("experimental-tier"), 200)

	if known.ActualWh != unknown.ActualWh {
		t.Errorf("unknown tier Wh = %v, want pro rate %v", unknown.ActualWh, known.ActualWh)
	}
}

func TestAccountReceiptStability(t *testing.T) {
	a := carbon.NewAccountant(testConfig())

	// Values that would otherwise carry float noise round to 6 decimals.
	r := a.Account(3, 1, models.TierFlash, 333.333)
	if r.NetSavings != math.Round(r.NetSavings*1e6)/1e6 {
		t.Errorf("NetSavings %v not rounded to 6 decimals", r.NetSavings)
	}
	if r.WhSaved != math.Round(r.WhSaved*1e6)/1e6 {
		t.Errorf("WhSaved %v not rounded to 6 decimals", r.WhSaved)
	}
}

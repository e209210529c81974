// Package grid fuses live carbon-intensity readings from multiple upstream
// providers into canonical per-region snapshots, cached with a freshness
// threshold and degrading to a configured fallback when every source fails.
package grid

import (
	"context"
	"errors"
	"time"

	"github.com/verdin-ai/verdin/pkg/models"
)

// ErrNoCredentials marks a source that has no credentials configured.
// Such a source is skipped, not treated as a provider failure.
var ErrNoCredentials = errors.New("no credentials configured")

// Region pairs the identifiers the two upstream providers use for the same
// physical grid.
type Region struct {
	Zone     string `json:"zone"`      // Electricity Maps zone, e.g. US-CAL-CISO
	WTRegion string `json:"wt_region"` // WattTime region, e.g. CAISO_NORTH
}

// Reading is one provider-specific observation, before fusion. Any field
// besides Zone may be absent; the engine merges readings across sources.
type Reading struct {
	Zone       string
	Intensity  *float64 // gCO2/kWh
	Percentile *float64 // 0-100, higher = dirtier
	Mix        models.PowerMix
	FossilFree *float64
	Renewable  *float64
	At         time.Time
}

// Source is one external carbon-intensity provider. Sources fail
// independently; the engine tries them in registration order.
type Source interface {
	Name() string
	Fetch(ctx context.Context, region Region) (*Reading, error)
}

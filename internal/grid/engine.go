package grid

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/verdin-ai/verdin/internal/cache"
	"github.com/verdin-ai/verdin/internal/config"
	"github.com/verdin-ai/verdin/pkg/models"
)

const snapshotKeyPrefix = "grid:"

// neutralScore is assigned to regions with no usable intensity or
// percentile data.
const neutralScore = 50

// DefaultRegions is the fixed registry served by the grid map.
var DefaultRegions = []Region{
	{Zone: "US-CAL-CISO", WTRegion: "CAISO_NORTH"},
	{Zone: "US-TEX-ERCO", WTRegion: "ERCOT_NORTHCENTRAL"},
	{Zone: "US-NY-NYIS", WTRegion: "NYISO_NYC"},
	{Zone: "US-MIDW-MISO", WTRegion: "PJM_CHICAGO"},
	{Zone: "US-SE-SOCO", WTRegion: "SOCO"},
}

// Engine fuses readings from the registered sources into per-region
// snapshots. Snapshot never fails: on total source failure it serves the
// previous snapshot if one exists, falling back to the configured constant
// otherwise.
//
// Readers always see either the prior complete snapshot or the new complete
// one; snapshots are assembled fully before the pointer swap.
type Engine struct {
	sources []Source
	kv      *cache.KV
	cfg     config.GridConfig
	regions []Region

	mu    sync.RWMutex
	local map[string]*models.GridSnapshot

	mapMu        sync.RWMutex
	mapScores    []models.RegionScore
	mapFetchedAt time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewEngine creates the engine with sources in priority order. The first
// source producing absolute carbon intensity wins; later sources only
// contribute percentile and mix fields.
func NewEngine(cfg config.GridConfig, kv *cache.KV, sources ...Source) *Engine {
	return &Engine{
		sources: sources,
		kv:      kv,
		cfg:     cfg,
		regions: DefaultRegions,
		local:   make(map[string]*models.GridSnapshot),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// DefaultRegion returns the region orchestration decisions are made against.
func (e *Engine) DefaultRegion() Region {
	return Region{Zone: e.cfg.DefaultZone, WTRegion: e.cfg.DefaultWTRegion}
}

// Snapshot returns the current snapshot for the region, re-fetching when the
// cached one is older than the freshness threshold.
func (e *Engine) Snapshot(ctx context.Context, region Region) *models.GridSnapshot {
	if snap := e.cached(ctx, region.Zone, e.cfg.Freshness); snap != nil {
		return snap
	}

	snap, ok := e.fetch(ctx, region)
	if ok {
		e.store(ctx, snap)
		return snap
	}

	// Total source failure: stale-safe serve of whatever we had before.
	e.mu.RLock()
	prior := e.local[region.Zone]
	e.mu.RUnlock()
	if prior != nil {
		log.Warn().Str("zone", region.Zone).Msg("All grid sources failed, serving stale snapshot")
		return prior
	}

	log.Warn().Str("zone", region.Zone).Msg("All grid sources failed, serving fallback")
	return e.fallback(region.Zone)
}

// Map returns snapshots plus sustainability scores for the fixed region
// registry, cached under its own freshness window.
func (e *Engine) Map(ctx context.Context) []models.RegionScore {
	e.mapMu.RLock()
	if e.mapScores != nil && e.now().Sub(e.mapFetchedAt) <= e.cfg.MapFreshness {
		scores := e.mapScores
		e.mapMu.RUnlock()
		return scores
	}
	e.mapMu.RUnlock()

	scores := make([]models.RegionScore, 0, len(e.regions))
	for _, region := range e.regions {
		snap := e.Snapshot(ctx, region)
		scores = append(scores, models.RegionScore{
			Snapshot: *snap,
			Score:    sustainabilityScore(snap),
		})
	}

	e.mapMu.Lock()
	e.mapScores = scores
	e.mapFetchedAt = e.now()
	e.mapMu.Unlock()
	return scores
}

// cached returns the stored snapshot for zone when it is within maxAge.
func (e *Engine) cached(ctx context.Context, zone string, maxAge time.Duration) *models.GridSnapshot {
	e.mu.RLock()
	snap := e.local[zone]
	e.mu.RUnlock()

	if snap == nil && e.kv != nil {
		var fromKV models.GridSnapshot
		if e.kv.Get(ctx, snapshotKeyPrefix+zone, &fromKV) {
			snap = &fromKV
			e.mu.Lock()
			e.local[zone] = snap
			e.mu.Unlock()
		}
	}

	if snap != nil && e.now().Sub(snap.FetchedAt) <= maxAge {
		return snap
	}
	return nil
}

// fetch queries each source in priority order and fuses the readings.
// It reports ok=false when no source produced any data.
func (e *Engine) fetch(ctx context.Context, region Region) (*models.GridSnapshot, bool) {
	snap := &models.GridSnapshot{Zone: region.Zone}
	var contributors []string

	for _, src := range e.sources {
		reading, err := src.Fetch(ctx, region)
		if err != nil {
			if err == ErrNoCredentials {
				log.Debug().Str("source", src.Name()).Msg("Grid source skipped, no credentials")
			} else {
				log.Warn().Err(err).Str("source", src.Name()).Str("zone", region.Zone).Msg("Grid source failed")
			}
			continue
		}

		contributed := false
		if reading.Intensity != nil && !snap.HasIntensity {
			snap.CarbonIntensity = *reading.Intensity
			snap.HasIntensity = true
			contributed = true
		}
		if reading.Percentile != nil && snap.Percentile == nil {
			snap.Percentile = reading.Percentile
			contributed = true
		}
		if reading.Mix != nil && snap.Mix == nil {
			snap.Mix = reading.Mix
			contributed = true
		}
		if reading.FossilFree != nil && snap.FossilFree == nil {
			snap.FossilFree = reading.FossilFree
			contributed = true
		}
		if reading.Renewable != nil && snap.Renewable == nil {
			snap.Renewable = reading.Renewable
			contributed = true
		}
		if contributed {
			contributors = append(contributors, src.Name())
		}
	}

	if len(contributors) == 0 {
		return nil, false
	}

	// A percentile-only fusion derives approximate intensity from the
	// baseline constant: intensity = baseline * (1 - percentile/100).
	if !snap.HasIntensity && snap.Percentile != nil {
		snap.CarbonIntensity = e.cfg.FallbackIntensity * (1 - *snap.Percentile/100)
		if snap.CarbonIntensity < 0 {
			snap.CarbonIntensity = 0
		}
	}

	snap.FetchedAt = e.now()
	snap.Provenance = strings.Join(contributors, "+")
	return snap, true
}

// store publishes a complete snapshot, keeping fetched_at monotonically
// non-decreasing per zone.
func (e *Engine) store(ctx context.Context, snap *models.GridSnapshot) {
	e.mu.Lock()
	if prior := e.local[snap.Zone]; prior != nil && snap.FetchedAt.Before(prior.FetchedAt) {
		e.mu.Unlock()
		return
	}
	e.local[snap.Zone] = snap
	e.mu.Unlock()

	if e.kv != nil {
		e.kv.Set(ctx, snapshotKeyPrefix+snap.Zone, snap, e.cfg.Freshness)
	}
}

// fallback builds the constant snapshot served when no data exists at all.
func (e *Engine) fallback(zone string) *models.GridSnapshot {
	return &models.GridSnapshot{
		Zone:            zone,
		CarbonIntensity: e.cfg.FallbackIntensity,
		HasIntensity:    false,
		Mix:             e.cfg.FallbackMix,
		FetchedAt:       e.now(),
		Provenance:      "fallback",
	}
}

// sustainabilityScore maps a snapshot to 0-100: cleaner grids score higher.
// Regions with neither live intensity nor a percentile score the neutral
// midpoint.
func sustainabilityScore(snap *models.GridSnapshot) int {
	switch {
	case snap.HasIntensity:
		return clampScore(100 - int(snap.CarbonIntensity/10))
	case snap.Percentile != nil:
		return clampScore(100 - int(*snap.Percentile))
	default:
		return neutralScore
	}
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

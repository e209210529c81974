package grid_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/verdin-ai/verdin/internal/cache"
	"github.com/verdin-ai/verdin/internal/config"
	"github.com/verdin-ai/verdin/internal/grid"
	"github.com/verdin-ai/verdin/pkg/models"
)

// fakeSource is a scriptable grid data source.
type fakeSource struct {
	name    string
	reading *grid.Reading
	err     error
	calls   int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(_ context.Context, region grid.Region) (*grid.Reading, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	r := *f.reading
	r.Zone = region.Zone
	return &r, nil
}

func testGridConfig() config.GridConfig {
	return config.GridConfig{
		DefaultZone:       "US-CAL-CISO",
		DefaultWTRegion:   "CAISO_NORTH",
		Freshness:         5 * time.Minute,
		MapFreshness:      10 * time.Minute,
		FallbackIntensity: 450,
		FallbackMix:       models.PowerMix{"wind": 0.6, "solar": 0.22, "gas": 0.18},
	}
}

func noopKV() *cache.KV {
	return cache.NewKV(context.Background(), "", "", 0)
}

func floatPtr(f float64) *float64 { return &f }

func TestSnapshotPrimarySourceWins(t *testing.T) {
	primary := &fakeSource{
		name:    "electricitymaps",
		reading: &grid.Reading{Intensity: floatPtr(120), Mix: models.PowerMix{"solar": 0.5}},
	}
	secondary := &fakeSource{
		name:    "watttime",
		reading: &grid.Reading{Intensity: floatPtr(900), Percentile: floatPtr(35)},
	}
	e := grid.NewEngine(testGridConfig(), noopKV(), primary, secondary)

	snap := e.Snapshot(context.Background(), e.DefaultRegion())
	if snap.CarbonIntensity != 120 {
		t.Errorf("CarbonIntensity = %v, want 120 from the priority source", snap.CarbonIntensity)
	}
	if !snap.HasIntensity {
		t.Error("HasIntensity should be true")
	}
	if snap.Percentile == nil || *snap.Percentile != 35 {
		t.Error("percentile from the secondary source should be merged in")
	}
	if snap.Provenance != "electricitymaps+watttime" {
		t.Errorf("Provenance = %q", snap.Provenance)
	}
}

func TestSnapshotPercentileDerivation(t *testing.T) {
	down := &fakeSource{name: "electricitymaps", err: errors.New("boom")}
	pctOnly := &fakeSource{
		name:    "watttime",
		reading: &grid.Reading{Percentile: floatPtr(40)},
	}
	e := grid.NewEngine(testGridConfig(), noopKV(), down, pctOnly)

	snap := e.Snapshot(context.Background(), e.DefaultRegion())
	// baseline * (1 - p/100) = 450 * 0.6
	if snap.CarbonIntensity != 270 {
		t.Errorf("CarbonIntensity = %v, want 270 derived from percentile", snap.CarbonIntensity)
	}
	if snap.HasIntensity {
		t.Error("derived intensity must not claim HasIntensity")
	}
	if snap.Provenance != "watttime" {
		t.Errorf("Provenance = %q, want watttime", snap.Provenance)
	}
}

func TestSnapshotAllSourcesFailFallback(t *testing.T) {
	a := &fakeSource{name: "electricitymaps", err: errors.New("dns")}
	b := &fakeSource{name: "watttime", err: errors.New("timeout")}
	e := grid.NewEngine(testGridConfig(), noopKV(), a, b)

	snap := e.Snapshot(context.Background(), e.DefaultRegion())
	if snap.Provenance != "fallback" {
		t.Fatalf("Provenance = %q, want fallback", snap.Provenance)
	}
	if snap.CarbonIntensity != 450 {
		t.Errorf("CarbonIntensity = %v, want configured fallback 450", snap.CarbonIntensity)
	}
	if snap.Mix == nil {
		t.Error("fallback snapshot should carry the default mix")
	}
}

func TestSnapshotServesFreshFromCache(t *testing.T) {
	src := &fakeSource{name: "electricitymaps", reading: &grid.Reading{Intensity: floatPtr(150)}}
	e := grid.NewEngine(testGridConfig(), noopKV(), src)

	first := e.Snapshot(context.Background(), e.DefaultRegion())
	second := e.Snapshot(context.Background(), e.DefaultRegion())

	if src.calls != 1 {
		t.Errorf("source fetched %d times, want 1 (second read within freshness)", src.calls)
	}
	if !first.FetchedAt.Equal(second.FetchedAt) {
		t.Error("second read should return the identical cached snapshot")
	}
}

func TestSnapshotStaleSafeOnLaterFailure(t *testing.T) {
	src := &fakeSource{name: "electricitymaps", reading: &grid.Reading{Intensity: floatPtr(150)}}
	cfg := testGridConfig()
	cfg.Freshness = 0 // every read re-fetches
	e := grid.NewEngine(cfg, noopKV(), src)

	first := e.Snapshot(context.Background(), e.DefaultRegion())
	if first.CarbonIntensity != 150 {
		t.Fatalf("first intensity = %v", first.CarbonIntensity)
	}

	src.err = errors.New("provider down")
	second := e.Snapshot(context.Background(), e.DefaultRegion())
	if second.CarbonIntensity != 150 {
		t.Errorf("stale-safe read = %v, want prior snapshot value 150", second.CarbonIntensity)
	}
	if second.Provenance == "fallback" {
		t.Error("prior snapshot should be preferred over fallback")
	}
}

func TestMapScores(t *testing.T) {
	src := &fakeSource{name: "electricitymaps", reading: &grid.Reading{Intensity: floatPtr(200)}}
	e := grid.NewEngine(testGridConfig(), noopKV(), src)

	scores := e.Map(context.Background())
	if len(scores) != len(grid.DefaultRegions) {
		t.Fatalf("Map returned %d regions, want %d", len(scores), len(grid.DefaultRegions))
	}
	for _, rs := range scores {
		// 100 - 200/10 = 80
		if rs.Score != 80 {
			t.Errorf("score for %s = %d, want 80", rs.Snapshot.Zone, rs.Score)
		}
	}
}

func TestMapScoreNeutralAndClamped(t *testing.T) {
	t.Run("all sources down scores neutral", func(t *testing.T) {
		down := &fakeSource{name: "electricitymaps", err: errors.New("down")}
		e := grid.NewEngine(testGridConfig(), noopKV(), down)

		scores := e.Map(context.Background())
		for _, rs := range scores {
			if rs.Score != 50 {
				t.Errorf("fallback score = %d, want neutral 50", rs.Score)
			}
		}
	})

	t.Run("very dirty grid clamps to zero", func(t *testing.T) {
		dirty := &fakeSource{name: "electricitymaps", reading: &grid.Reading{Intensity: floatPtr(5000)}}
		e := grid.NewEngine(testGridConfig(), noopKV(), dirty)

		scores := e.Map(context.Background())
		for _, rs := range scores {
			if rs.Score != 0 {
				t.Errorf("score = %d, want clamped 0", rs.Score)
			}
		}
	})
}

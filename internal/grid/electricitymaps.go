package grid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/verdin-ai/verdin/pkg/models"
)

const emapsBase = "https://api.electricitymap.org/v3"

// ElectricityMaps fetches real-time carbon intensity and the power
// generation breakdown from the Electricity Maps API. It is the primary,
// intensity-bearing source.
type ElectricityMaps struct {
	token   string
	baseURL string
	client  *http.Client
}

// NewElectricityMaps creates the source. An empty token makes every Fetch
// return ErrNoCredentials.
func NewElectricityMaps(token string) *ElectricityMaps {
	return &ElectricityMaps{
		token:   token,
		baseURL: emapsBase,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *ElectricityMaps) Name() string { return "electricitymaps" }

type emapsIntensityResponse struct {
	Zone            string    `json:"zone"`
	CarbonIntensity *float64  `json:"carbonIntensity"`
	Datetime        time.Time `json:"datetime"`
	IsEstimated     bool      `json:"isEstimated"`
}

type emapsBreakdownResponse struct {
	Zone                      string             `json:"zone"`
	FossilFreePercentage      *float64           `json:"fossilFreePercentage"`
	RenewablePercentage       *float64           `json:"renewablePercentage"`
	PowerConsumptionTotal     float64            `json:"powerConsumptionTotal"`
	PowerConsumptionBreakdown map[string]float64 `json:"powerConsumptionBreakdown"`
}

// Fetch returns the latest intensity for the region's zone, merged with the
// power breakdown when that secondary call succeeds. A breakdown failure is
// tolerated; an intensity failure fails the whole source.
func (s *ElectricityMaps) Fetch(ctx context.Context, region Region) (*Reading, error) {
	if s.token == "" {
		return nil, ErrNoCredentials
	}

	var ci emapsIntensityResponse
	if err := s.get(ctx, "/carbon-intensity/latest", region.Zone, &ci); err != nil {
		return nil, fmt.Errorf("carbon-intensity: %w", err)
	}
	if ci.CarbonIntensity == nil {
		return nil, fmt.Errorf("carbon-intensity: zone %s has no value", region.Zone)
	}

	reading := &Reading{
		Zone:      region.Zone,
		Intensity: ci.CarbonIntensity,
		At:        ci.Datetime,
	}
	if reading.At.IsZero() {
		reading.At = time.Now().UTC()
	}

	var pb emapsBreakdownResponse
	if err := s.get(ctx, "/power-breakdown/latest", region.Zone, &pb); err != nil {
		log.Warn().Err(err).Str("zone", region.Zone).Msg("Power breakdown unavailable")
		return reading, nil
	}
	reading.FossilFree = pb.FossilFreePercentage
	reading.Renewable = pb.RenewablePercentage
	reading.Mix = mixFromBreakdown(pb.PowerConsumptionBreakdown, pb.PowerConsumptionTotal)

	return reading, nil
}

func (s *ElectricityMaps) get(ctx context.Context, path, zone string, dest any) error {
	u := fmt.Sprintf("%s%s?zone=%s", s.baseURL, path, url.QueryEscape(zone))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("auth-token", s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// mixFromBreakdown converts MW-per-fuel consumption into fractions of the
// total. Negative entries (storage charging, exports) are dropped.
func mixFromBreakdown(breakdown map[string]float64, total float64) models.PowerMix {
	if len(breakdown) == 0 || total <= 0 {
		return nil
	}
	mix := make(models.PowerMix, len(breakdown))
	for fuel, mw := range breakdown {
		if mw <= 0 {
			continue
		}
		mix[fuel] = mw / total
	}
	if len(mix) == 0 {
		return nil
	}
	return mix
}

package grid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const wattTimeBase = "https://api.watttime.org"

// lbsPerMWhToGramsPerKWh converts a MOER value (lbs CO2 per MWh) to g/kWh.
const lbsPerMWhToGramsPerKWh = 453.592 / 1000

// WattTime fetches the marginal-emissions forecast and the percentile
// signal index. The forecast carries absolute intensity but is only
// available for some regions; the signal index works everywhere and yields
// a 0-100 dirtiness percentile.
type WattTime struct {
	token    string
	username string
	password string
	baseURL  string
	client   *http.Client

	mu          sync.Mutex
	cachedToken string
}

// NewWattTime creates the source. Either a static token or a
// username/password pair must be supplied; with neither, every Fetch
// returns ErrNoCredentials.
func NewWattTime(token, username, password string) *WattTime {
	return &WattTime{
		token:    token,
		username: username,
		password: password,
		baseURL:  wattTimeBase,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WattTime) Name() string { return "watttime" }

// Fetch combines forecast and signal-index data for the region. The source
// succeeds when at least one of the two calls yields data.
func (s *WattTime) Fetch(ctx context.Context, region Region) (*Reading, error) {
	token, err := s.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	reading := &Reading{Zone: region.Zone, At: time.Now().UTC()}

	moer, at, err := s.fetchForecast(ctx, token, region.WTRegion)
	if err != nil {
		// Free-tier accounts get 403 outside CAISO; the signal index below
		// still works, so this is not fatal.
		log.Debug().Err(err).Str("region", region.WTRegion).Msg("WattTime forecast unavailable")
	} else {
		intensity := moer * lbsPerMWhToGramsPerKWh
		reading.Intensity = &intensity
		if !at.IsZero() {
			reading.At = at
		}
	}

	percentile, err := s.fetchSignalIndex(ctx, token, region.WTRegion)
	if err != nil {
		log.Debug().Err(err).Str("region", region.WTRegion).Msg("WattTime signal index unavailable")
	} else {
		reading.Percentile = &percentile
	}

	if reading.Intensity == nil && reading.Percentile == nil {
		return nil, fmt.Errorf("watttime: no data for region %s", region.WTRegion)
	}
	return reading, nil
}

// bearerToken returns the configured token, or logs in with basic auth and
// caches the result for the life of the process.
func (s *WattTime) bearerToken(ctx context.Context) (string, error) {
	if s.token != "" {
		return s.token, nil
	}
	if s.username == "" || s.password == "" {
		return "", ErrNoCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cachedToken != "" {
		return s.cachedToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/login", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(s.username, s.password)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("watttime login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("watttime login: status %d", resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("watttime login: %w", err)
	}
	if body.Token == "" {
		return "", fmt.Errorf("watttime login: empty token")
	}
	s.cachedToken = body.Token
	return body.Token, nil
}

type wattTimeSeries struct {
	Data []struct {
		PointTime time.Time `json:"point_time"`
		Value     float64   `json:"value"`
	} `json:"data"`
}

func (s *WattTime) fetchForecast(ctx context.Context, token, region string) (float64, time.Time, error) {
	var body wattTimeSeries
	params := url.Values{
		"region":        {region},
		"signal_type":   {"co2_moer"},
		"horizon_hours": {"0"},
	}
	if err := s.get(ctx, token, "/v3/forecast", params, &body); err != nil {
		return 0, time.Time{}, err
	}
	if len(body.Data) == 0 {
		return 0, time.Time{}, fmt.Errorf("empty forecast")
	}
	return body.Data[0].Value, body.Data[0].PointTime, nil
}

func (s *WattTime) fetchSignalIndex(ctx context.Context, token, region string) (float64, error) {
	var body wattTimeSeries
	params := url.Values{
		"region":      {region},
		"signal_type": {"co2_moer"},
	}
	if err := s.get(ctx, token, "/v3/signal-index", params, &body); err != nil {
		return 0, err
	}
	if len(body.Data) == 0 {
		return 0, fmt.Errorf("empty signal index")
	}
	return body.Data[0].Value, nil
}

func (s *WattTime) get(ctx context.Context, token, path string, params url.Values, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

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

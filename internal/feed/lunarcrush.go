package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultBaseURL = "https://api.lunarcrush.com/v2"

// LunarCrushConfig configures the LunarCrush assets client.
type LunarCrushConfig struct {
	BaseURL  string // default: https://api.lunarcrush.com/v2
	APIKey   string
	Symbols  []string      // symbol codes requested on every fetch
	Interval string        // bar interval, default "day"
	Timeout  time.Duration // default: 10s
}

// LunarCrushClient fetches asset time series from the LunarCrush v2 API.
type LunarCrushClient struct {
	baseURL  string
	apiKey   string
	symbols  string
	interval string
	client   *http.Client
	now      func() time.Time
}

// NewLunarCrushClient creates a client. It performs no network calls.
func NewLunarCrushClient(cfg LunarCrushConfig) (*LunarCrushClient, error) {
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("lunarcrush: no symbols configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Interval == "" {
		cfg.Interval = "day"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	symbols := ""
	for i, s := range cfg.Symbols {
		if i > 0 {
			symbols += ","
		}
		symbols += s
	}
	return &LunarCrushClient{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		symbols:  symbols,
		interval: cfg.Interval,
		client:   &http.Client{Timeout: cfg.Timeout},
		now:      time.Now,
	}, nil
}

// assetsResponse mirrors the subset of the data=assets payload we read.
type assetsResponse struct {
	Data []struct {
		Symbol     string   `json:"symbol"`
		Name       string   `json:"name"`
		Price      *float64 `json:"price"`
		Volume     *float64 `json:"volume"`
		TimeSeries []struct {
			Time   int64    `json:"time"`
			Close  *float64 `json:"close"`
			Volume *float64 `json:"volume"`
		} `json:"timeSeries"`
	} `json:"data"`
}

// FetchSnapshot requests points bars per symbol plus current price and volume.
func (c *LunarCrushClient) FetchSnapshot(ctx context.Context, points int) (Snapshot, error) {
	if points <= 0 {
		points = 1
	}
	q := url.Values{}
	q.Set("data", "assets")
	q.Set("key", c.apiKey)
	q.Set("symbol", c.symbols)
	q.Set("interval", c.interval)
	q.Set("time_series_indicators", "close,volume,market_cap")
	q.Set("data_points", strconv.Itoa(points))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("lunarcrush: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("lunarcrush: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Snapshot{}, fmt.Errorf("lunarcrush: unexpected status %d: %s", resp.StatusCode, body)
	}

	var payload assetsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Snapshot{}, fmt.Errorf("lunarcrush: decode: %w", err)
	}

	snap := Snapshot{FetchedAt: c.now().UTC(), Assets: make([]Asset, 0, len(payload.Data))}
	for _, d := range payload.Data {
		a := Asset{
			Symbol: d.Symbol,
			Name:   d.Name,
			Price:  d.Price,
			Volume: d.Volume,
			Series: make([]Observation, 0, len(d.TimeSeries)),
		}
		for _, ts := range d.TimeSeries {
			a.Series = append(a.Series, Observation{
				Time:   time.Unix(ts.Time, 0).UTC(),
				Close:  ts.Close,
				Volume: ts.Volume,
			})
		}
		snap.Assets = append(snap.Assets, a)
	}
	return snap, nil
}

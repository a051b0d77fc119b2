package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/weathermart/internal/fetcher"
	"github.com/sells-group/weathermart/internal/model"
)

// DefaultBaseURL is the Open-Meteo forecast endpoint.
const DefaultBaseURL = "https://api.open-meteo.com/v1/forecast"

// DefaultHourlyVariables is the set of hourly series requested when none are
// configured. It matches the metrics the flatten stage tracks.
var DefaultHourlyVariables = []string{
	"temperature_2m",
	"apparent_temperature",
	"relative_humidity_2m",
	"precipitation",
	"rain",
	"showers",
	"snowfall",
	"weather_code",
	"wind_speed_10m",
	"cloud_cover",
	"uv_index",
	"is_day",
}

// Options configures the Open-Meteo client.
type Options struct {
	BaseURL         string
	ForecastDays    int
	HourlyVariables []string
}

// Client fetches hourly forecasts from the Open-Meteo API and packages
// the raw response into snapshots.
type Client struct {
	fetcher fetcher.Fetcher
	opts    Options
}

// forecastResponse mirrors the JSON shape of the forecast endpoint. Hourly
// series stay untyped; type coercion happens downstream in the flatten stage.
type forecastResponse struct {
	Latitude         float64          `json:"latitude"`
	Longitude        float64          `json:"longitude"`
	Timezone         string           `json:"timezone"`
	UTCOffsetSeconds int              `json:"utc_offset_seconds"`
	Hourly           map[string][]any `json:"hourly"`
}

// NewClient creates a new Open-Meteo client.
func NewClient(f fetcher.Fetcher, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.ForecastDays == 0 {
		opts.ForecastDays = 7
	}
	if len(opts.HourlyVariables) == 0 {
		opts.HourlyVariables = DefaultHourlyVariables
	}
	return &Client{fetcher: f, opts: opts}
}

// Fetch retrieves a forecast for the location and returns it as a raw
// snapshot with retrieval metadata attached.
func (c *Client) Fetch(ctx context.Context, loc model.Location) (*model.RawSnapshot, error) {
	reqURL, err := c.buildURL(loc)
	if err != nil {
		return nil, eris.Wrap(err, "extract: build request url")
	}

	start := time.Now().UTC()
	body, err := c.fetcher.Download(ctx, reqURL)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: fetch forecast for %s", loc.Key)
	}
	defer func() { _ = body.Close() }()

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, eris.Wrap(err, "extract: read response body")
	}
	responseMS := float64(time.Since(start).Microseconds()) / 1000

	var resp forecastResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, eris.Wrap(err, "extract: decode forecast response")
	}
	if len(resp.Hourly) == 0 {
		return nil, eris.Errorf("extract: empty hourly block for %s", loc.Key)
	}
	if _, ok := resp.Hourly[model.TimeKey]; !ok {
		return nil, eris.Errorf("extract: missing time axis for %s", loc.Key)
	}

	snap := &model.RawSnapshot{
		ID:               uuid.NewString(),
		LocationKey:      loc.NormalizedKey(),
		LocationName:     loc.Name,
		Latitude:         resp.Latitude,
		Longitude:        resp.Longitude,
		Timezone:         resp.Timezone,
		UTCOffsetSeconds: resp.UTCOffsetSeconds,
		RetrievedAt:      start,
		ResponseMS:       responseMS,
		Payload:          resp.Hourly,
	}

	zap.L().Info("fetched forecast",
		zap.String("location", loc.Key),
		zap.Int("hours", snap.HourCount()),
		zap.Float64("response_ms", responseMS),
	)

	return snap, nil
}

func (c *Client) buildURL(loc model.Location) (string, error) {
	u, err := url.Parse(c.opts.BaseURL)
	if err != nil {
		return "", eris.Wrapf(err, "parse base url %q", c.opts.BaseURL)
	}
	q := u.Query()
	q.Set("latitude", fmt.Sprintf("%g", loc.Latitude))
	q.Set("longitude", fmt.Sprintf("%g", loc.Longitude))
	q.Set("timezone", loc.Timezone)
	q.Set("forecast_days", fmt.Sprintf("%d", c.opts.ForecastDays))
	q.Set("hourly", strings.Join(c.opts.HourlyVariables, ","))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

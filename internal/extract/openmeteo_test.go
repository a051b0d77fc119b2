package extract

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/weathermart/internal/fetcher"
	"github.com/sells-group/weathermart/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const forecastJSON = `{
	"latitude": 13.754,
	"longitude": 100.5014,
	"timezone": "Asia/Bangkok",
	"utc_offset_seconds": 25200,
	"hourly": {
		"time": ["2026-08-01T00:00", "2026-08-01T01:00"],
		"temperature_2m": [28.1, 27.9],
		"is_day": [0, 0]
	}
}`

// stubFetcher returns a canned body and records the requested URL.
type stubFetcher struct {
	body string
	err  error
	url  string
}

func (s *stubFetcher) Download(_ context.Context, url string) (io.ReadCloser, error) {
	s.url = url
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(strings.NewReader(s.body)), nil
}

var bangkok = model.Location{
	Key:       "bangkok",
	Name:      "Bangkok",
	Latitude:  13.754,
	Longitude: 100.5014,
	Timezone:  "Asia/Bangkok",
}

func TestFetch_BuildsSnapshot(t *testing.T) {
	f := &stubFetcher{body: forecastJSON}
	c := NewClient(f, Options{ForecastDays: 3})

	snap, err := c.Fetch(context.Background(), bangkok)
	require.NoError(t, err)

	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, "bangkok", snap.LocationKey)
	assert.Equal(t, 13.754, snap.Latitude)
	assert.Equal(t, "Asia/Bangkok", snap.Timezone)
	assert.Equal(t, 25200, snap.UTCOffsetSeconds)
	assert.Equal(t, 2, snap.HourCount())
	assert.False(t, snap.RetrievedAt.IsZero())

	// The payload is stored untransformed.
	assert.Len(t, snap.Payload["temperature_2m"], 2)
	assert.Equal(t, 28.1, snap.Payload["temperature_2m"][0])
}

func TestFetch_RequestURL(t *testing.T) {
	f := &stubFetcher{body: forecastJSON}
	c := NewClient(f, Options{
		BaseURL:         "https://api.open-meteo.com/v1/forecast",
		ForecastDays:    5,
		HourlyVariables: []string{"temperature_2m", "is_day"},
	})

	_, err := c.Fetch(context.Background(), bangkok)
	require.NoError(t, err)

	assert.Contains(t, f.url, "latitude=13.754")
	assert.Contains(t, f.url, "longitude=100.5014")
	assert.Contains(t, f.url, "forecast_days=5")
	assert.Contains(t, f.url, "timezone=Asia%2FBangkok")
	assert.Contains(t, f.url, "hourly=temperature_2m%2Cis_day")
}

func TestFetch_EmptyHourlyBlock(t *testing.T) {
	f := &stubFetcher{body: `{"latitude": 1, "longitude": 2, "hourly": {}}`}
	c := NewClient(f, Options{})

	_, err := c.Fetch(context.Background(), bangkok)
	assert.Error(t, err)
}

func TestFetch_MissingTimeAxis(t *testing.T) {
	f := &stubFetcher{body: `{"hourly": {"temperature_2m": [1.0]}}`}
	c := NewClient(f, Options{})

	_, err := c.Fetch(context.Background(), bangkok)
	assert.Error(t, err)
}

func TestFetch_BadJSON(t *testing.T) {
	f := &stubFetcher{body: "<html>rate limited</html>"}
	c := NewClient(f, Options{})

	_, err := c.Fetch(context.Background(), bangkok)
	assert.Error(t, err)
}

func TestFetch_ThroughHTTPFetcher(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, "weathermart-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(forecastJSON))
	}))
	defer srv.Close()

	hf := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{UserAgent: "weathermart-test"})
	c := NewClient(hf, Options{BaseURL: srv.URL + "/v1/forecast"})

	snap, err := c.Fetch(context.Background(), bangkok)
	require.NoError(t, err)
	assert.Equal(t, "/v1/forecast", gotPath)
	assert.Equal(t, 2, snap.HourCount())
	assert.Positive(t, snap.ResponseMS)
}

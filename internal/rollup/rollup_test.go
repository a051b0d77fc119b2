package rollup

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/weathermart/internal/model"
)

func fp(v float64) *float64 { return &v }
func ip(v int) *int         { return &v }
func bp(v bool) *bool       { return &v }

var testKey = model.DayKey{
	LocationKey: "bangkok",
	Date:        time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
}

func TestSummarize_AvgMinMax(t *testing.T) {
	facts := []model.HourlyFact{
		{Temperature: fp(20)},
		{Temperature: fp(10)},
		{Temperature: fp(30)},
	}

	now := time.Now().UTC()
	s, err := Summarize(testKey, facts, now)
	require.NoError(t, err)

	assert.Equal(t, "bangkok", s.LocationKey)
	assert.Equal(t, testKey.Date, s.ObservationDate)
	assert.Equal(t, 3, s.RecordCount)
	assert.Equal(t, now, s.UpdatedAt)
	assert.Equal(t, 20.0, *s.TempAvg)
	assert.Equal(t, 10.0, *s.TempMin)
	assert.Equal(t, 30.0, *s.TempMax)
}

func TestSummarize_NullsExcludedFromAggregates(t *testing.T) {
	facts := []model.HourlyFact{
		{Temperature: fp(10), Precipitation: fp(1.5)},
		{Temperature: nil, Precipitation: fp(0.5)},
		{Temperature: fp(30), Precipitation: nil},
	}

	s, err := Summarize(testKey, facts, time.Now().UTC())
	require.NoError(t, err)

	// Average over the two non-null temperatures only.
	assert.Equal(t, 20.0, *s.TempAvg)
	assert.Equal(t, 2.0, *s.PrecipitationSum)
	assert.Equal(t, 3, s.RecordCount)
}

func TestSummarize_AllNullMetricYieldsNullAggregate(t *testing.T) {
	facts := []model.HourlyFact{
		{Temperature: fp(25)},
		{Temperature: fp(26)},
	}

	s, err := Summarize(testKey, facts, time.Now().UTC())
	require.NoError(t, err)

	assert.Nil(t, s.PrecipitationSum)
	assert.Nil(t, s.HumidityAvg)
	assert.Nil(t, s.UVIndexMax)
	assert.Nil(t, s.DominantWeatherCode)
}

func TestSummarize_UVIndexIsMax(t *testing.T) {
	facts := []model.HourlyFact{
		{UVIndex: fp(2.0)},
		{UVIndex: fp(8.5)},
		{UVIndex: fp(5.0)},
	}

	s, err := Summarize(testKey, facts, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 8.5, *s.UVIndexMax)
}

func TestSummarize_DominantCode(t *testing.T) {
	facts := []model.HourlyFact{
		{WeatherCode: ip(61)},
		{WeatherCode: ip(61)},
		{WeatherCode: ip(61)},
		{WeatherCode: ip(3)},
	}

	s, err := Summarize(testKey, facts, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 61, *s.DominantWeatherCode)
}

func TestSummarize_DominantCodeTieBreaksLow(t *testing.T) {
	facts := []model.HourlyFact{
		{WeatherCode: ip(1)},
		{WeatherCode: ip(1)},
		{WeatherCode: ip(2)},
		{WeatherCode: ip(2)},
	}

	s, err := Summarize(testKey, facts, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, *s.DominantWeatherCode)
}

func TestSummarize_DaylightHours(t *testing.T) {
	facts := []model.HourlyFact{
		{IsDay: bp(true)},
		{IsDay: bp(true)},
		{IsDay: bp(false)},
		{IsDay: nil},
	}

	s, err := Summarize(testKey, facts, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 2, s.DaylightHours)
}

func TestSummarize_NoFacts(t *testing.T) {
	_, err := Summarize(testKey, nil, time.Now().UTC())
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNoFacts))
}

func TestSummarize_Deterministic(t *testing.T) {
	facts := []model.HourlyFact{
		{Temperature: fp(10), Rain: fp(0.2), WeatherCode: ip(51), IsDay: bp(true)},
		{Temperature: fp(12), Rain: fp(0.4), WeatherCode: ip(51), IsDay: bp(false)},
		{Temperature: fp(14), Rain: fp(0.0), WeatherCode: ip(3), IsDay: bp(true)},
	}
	now := time.Now().UTC()

	first, err := Summarize(testKey, facts, now)
	require.NoError(t, err)
	second, err := Summarize(testKey, facts, now)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

package flatten

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/weathermart/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testSnapshot(payload model.HourlyPayload) *model.RawSnapshot {
	return &model.RawSnapshot{
		ID:          "snap-1",
		LocationKey: "bangkok",
		Payload:     payload,
	}
}

func TestSnapshot_OneFactPerHour(t *testing.T) {
	snap := testSnapshot(model.HourlyPayload{
		"time":           {"2026-08-01T00:00", "2026-08-01T01:00", "2026-08-01T02:00"},
		"temperature_2m": {28.1, 27.9, 27.5},
	})

	now := time.Now().UTC()
	facts, err := Snapshot(snap, now)
	require.NoError(t, err)
	require.Len(t, facts, 3)

	for i, f := range facts {
		assert.Equal(t, "bangkok", f.LocationKey)
		assert.Equal(t, "snap-1", f.SourceSnapshotID)
		assert.Equal(t, now, f.ProcessedAt)
		assert.Equal(t, time.Date(2026, 8, 1, i, 0, 0, 0, time.UTC), f.ObservationHour)
	}
}

func TestSnapshot_OrdinalCorrelation(t *testing.T) {
	snap := testSnapshot(model.HourlyPayload{
		"time":           {"2026-08-01T00:00", "2026-08-01T01:00"},
		"temperature_2m": {10.0, 20.0},
		"weather_code":   {0.0, 61.0},
		"is_day":         {0.0, 1.0},
	})

	facts, err := Snapshot(snap, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, facts, 2)

	// Values pair with hours by position, not by lookup.
	require.NotNil(t, facts[0].Temperature)
	assert.Equal(t, 10.0, *facts[0].Temperature)
	assert.Equal(t, 20.0, *facts[1].Temperature)
	assert.Equal(t, 0, *facts[0].WeatherCode)
	assert.Equal(t, 61, *facts[1].WeatherCode)
	assert.False(t, *facts[0].IsDay)
	assert.True(t, *facts[1].IsDay)
}

func TestSnapshot_LengthMismatchRejectsWhole(t *testing.T) {
	snap := testSnapshot(model.HourlyPayload{
		"time":           {"2026-08-01T00:00", "2026-08-01T01:00", "2026-08-01T02:00"},
		"temperature_2m": {28.1, 27.9}, // one short
	})

	facts, err := Snapshot(snap, time.Now().UTC())
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMalformedSnapshot))
	assert.Nil(t, facts)
}

func TestSnapshot_MissingTimeSequence(t *testing.T) {
	snap := testSnapshot(model.HourlyPayload{
		"temperature_2m": {28.1},
	})

	_, err := Snapshot(snap, time.Now().UTC())
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMalformedSnapshot))
}

func TestSnapshot_AbsentMetricIsNull(t *testing.T) {
	snap := testSnapshot(model.HourlyPayload{
		"time":           {"2026-08-01T00:00"},
		"temperature_2m": {28.1},
	})

	facts, err := Snapshot(snap, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, facts, 1)

	assert.NotNil(t, facts[0].Temperature)
	assert.Nil(t, facts[0].Precipitation)
	assert.Nil(t, facts[0].WeatherCode)
	assert.Nil(t, facts[0].IsDay)
	assert.Empty(t, facts[0].QualityFlags)
}

func TestSnapshot_NullValueIsNotCoercionFailure(t *testing.T) {
	snap := testSnapshot(model.HourlyPayload{
		"time":           {"2026-08-01T00:00", "2026-08-01T01:00"},
		"temperature_2m": {nil, 27.9},
	})

	facts, err := Snapshot(snap, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, facts, 2)

	assert.Nil(t, facts[0].Temperature)
	assert.Empty(t, facts[0].QualityFlags)
	assert.Equal(t, 27.9, *facts[1].Temperature)
}

func TestSnapshot_CoercionFailureFlagsFact(t *testing.T) {
	snap := testSnapshot(model.HourlyPayload{
		"time":           {"2026-08-01T00:00"},
		"temperature_2m": {"not-a-number"},
		"weather_code":   {3.0},
	})

	facts, err := Snapshot(snap, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, facts, 1)

	// Bad value nulls out; the rest of the fact survives.
	assert.Nil(t, facts[0].Temperature)
	assert.Contains(t, facts[0].QualityFlags, "coerce_failed:temperature_2m")
	require.NotNil(t, facts[0].WeatherCode)
	assert.Equal(t, 3, *facts[0].WeatherCode)
}

func TestSnapshot_UntrackedMetricIgnored(t *testing.T) {
	snap := testSnapshot(model.HourlyPayload{
		"time":              {"2026-08-01T00:00", "2026-08-01T01:00"},
		"surface_pressure":  {1009.2}, // wrong length but untracked
		"temperature_2m":    {28.1, 27.9},
		"wind_direction_10": {180.0, 190.0},
	})

	facts, err := Snapshot(snap, time.Now().UTC())
	require.NoError(t, err)
	assert.Len(t, facts, 2)
}

func TestParseHour(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want time.Time
		ok   bool
	}{
		{"zoneless", "2026-08-01T13:00", time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC), true},
		{"rfc3339", "2026-08-01T13:00:00Z", time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC), true},
		{"epoch seconds", float64(1754054400), time.Unix(1754054400, 0).UTC(), true},
		{"garbage", "yesterday", time.Time{}, false},
		{"wrong type", []string{"x"}, time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseHour(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToBool_ZeroOneEncoding(t *testing.T) {
	b, ok := toBool(1.0)
	require.True(t, ok)
	assert.True(t, b)

	b, ok = toBool(0.0)
	require.True(t, ok)
	assert.False(t, b)

	b, ok = toBool(true)
	require.True(t, ok)
	assert.True(t, b)

	_, ok = toBool("maybe")
	assert.False(t, ok)
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/weathermart/internal/model"
	"github.com/sells-group/weathermart/internal/partition"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func hourFact(loc string, hour time.Time, temp float64) model.HourlyFact {
	return model.HourlyFact{
		LocationKey:      loc,
		ObservationHour:  hour,
		Temperature:      &temp,
		SourceSnapshotID: "snap-1",
		ProcessedAt:      time.Now().UTC(),
	}
}

func TestSQLiteWriteFacts_Idempotent(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	day := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	facts := []model.HourlyFact{
		hourFact("bangkok", day, 28.1),
		hourFact("bangkok", day.Add(time.Hour), 27.9),
	}

	n, err := st.WriteFacts(ctx, facts)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Second write is discarded entirely, even with different values.
	replay := []model.HourlyFact{hourFact("bangkok", day, 99.9)}
	n, err = st.WriteFacts(ctx, replay)
	require.NoError(t, err)
	assert.Zero(t, n, "duplicate key must be discarded, not overwritten")

	got, err := st.FactsForDay(ctx, model.DayKey{LocationKey: "bangkok", Date: day})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 28.1, *got[0].Temperature, "first writer wins")
}

func TestSQLiteWriteFacts_PartialOverlap(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	day := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	_, err := st.WriteFacts(ctx, []model.HourlyFact{hourFact("bangkok", day, 28.1)})
	require.NoError(t, err)

	// One duplicate hour, one new hour.
	n, err := st.WriteFacts(ctx, []model.HourlyFact{
		hourFact("bangkok", day, 30.0),
		hourFact("bangkok", day.Add(time.Hour), 27.9),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLiteFactsRoundTrip(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	day := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	isDay := true
	code := 61
	f := hourFact("bangkok", day.Add(13*time.Hour), 31.2)
	f.IsDay = &isDay
	f.WeatherCode = &code
	f.QualityFlags = []string{"coerce_failed:uv_index"}

	_, err := st.WriteFacts(ctx, []model.HourlyFact{f})
	require.NoError(t, err)

	got, err := st.FactsForDay(ctx, model.DayKey{LocationKey: "bangkok", Date: day})
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, f.ObservationHour, got[0].ObservationHour)
	assert.Equal(t, 31.2, *got[0].Temperature)
	assert.Equal(t, 61, *got[0].WeatherCode)
	assert.True(t, *got[0].IsDay)
	assert.Equal(t, []string{"coerce_failed:uv_index"}, got[0].QualityFlags)
	assert.Nil(t, got[0].Precipitation)
}

func TestSQLiteUpsertDailySummaries_Replaces(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	key := model.DayKey{LocationKey: "bangkok", Date: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
	avg := 28.0
	first := model.DailySummary{
		ObservationDate: key.Date,
		LocationKey:     key.LocationKey,
		TempAvg:         &avg,
		RecordCount:     12,
		UpdatedAt:       time.Now().UTC(),
	}

	_, err := st.UpsertDailySummaries(ctx, []model.DailySummary{first})
	require.NoError(t, err)

	// Recompute with more facts fully replaces the row.
	avg2 := 27.5
	second := first
	second.TempAvg = &avg2
	second.RecordCount = 24
	_, err = st.UpsertDailySummaries(ctx, []model.DailySummary{second})
	require.NoError(t, err)

	got, err := st.GetDailySummary(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 27.5, *got.TempAvg)
	assert.Equal(t, 24, got.RecordCount)
}

func TestSQLiteGetDailySummary_Missing(t *testing.T) {
	st := newTestSQLite(t)

	got, err := st.GetDailySummary(context.Background(),
		model.DayKey{LocationKey: "nowhere", Date: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteUpsertLocation_SCD2Flow(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	loc := model.Location{Key: "bangkok", Name: "Bangkok", Latitude: 13.754, Longitude: 100.5014, Timezone: "Asia/Bangkok", UTCOffsetSeconds: 25200}
	t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	// First observation opens version 1.
	v1, opened, err := st.UpsertLocation(ctx, loc, t0)
	require.NoError(t, err)
	assert.True(t, opened)

	// Unchanged re-observation is a no-op.
	v2, opened, err := st.UpsertLocation(ctx, loc, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, opened)
	assert.Equal(t, v1, v2)

	// A change closes v1 and opens a new version.
	changed := loc
	changed.Latitude = 13.8
	t1 := t0.AddDate(0, 0, 10)
	v3, opened, err := st.UpsertLocation(ctx, changed, t1)
	require.NoError(t, err)
	assert.True(t, opened)
	assert.NotEqual(t, v1, v3)

	cur, err := st.CurrentLocation(ctx, "bangkok")
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, v3, cur.VersionKey)
	assert.Equal(t, 13.8, cur.Location.Latitude)
	assert.Equal(t, t1, cur.EffectiveFrom)
	assert.Equal(t, model.OpenEnd, cur.EffectiveTo)
	assert.True(t, cur.IsCurrent)

	keys, err := st.CurrentLocationKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bangkok"}, keys)
}

func TestSQLiteSnapshots_FilterAndOrder(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		require.NoError(t, st.InsertSnapshot(ctx, &model.RawSnapshot{
			ID:          id,
			LocationKey: "bangkok",
			RetrievedAt: time.Now().UTC(),
			Payload:     model.HourlyPayload{"time": {"2026-08-01T00:00"}},
		}))
	}
	require.NoError(t, st.InsertSnapshot(ctx, &model.RawSnapshot{
		ID:          "c",
		LocationKey: "berlin",
		RetrievedAt: time.Now().UTC(),
		Payload:     model.HourlyPayload{"time": {"2026-08-01T00:00"}},
	}))

	all, err := st.ListSnapshots(ctx, SnapshotFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	filtered, err := st.ListSnapshots(ctx, SnapshotFilter{Locations: []string{"bangkok"}})
	require.NoError(t, err)
	require.Len(t, filtered, 2)
	assert.Equal(t, model.HourlyPayload{"time": {"2026-08-01T00:00"}}, filtered[0].Payload)
}

func TestSQLiteSnapshots_SinceBoundary(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, st.InsertSnapshot(ctx, &model.RawSnapshot{
		ID:          "boundary",
		LocationKey: "bangkok",
		RetrievedAt: time.Now().UTC(),
		Payload:     model.HourlyPayload{"time": {"2026-08-01T00:00"}},
	}))

	all, err := st.ListSnapshots(ctx, SnapshotFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	at := all[0].CreatedAt

	// A watermark equal to created_at excludes the snapshot: the run that
	// set it already covered that instant.
	got, err := st.ListSnapshots(ctx, SnapshotFilter{Since: &at})
	require.NoError(t, err)
	assert.Empty(t, got)

	// An explicit window starting at created_at includes it.
	got, err = st.ListSnapshots(ctx, SnapshotFilter{Since: &at, SinceInclusive: true})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLitePartitionRegistry(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	ranges := partition.Horizon("hourly_facts", time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), 2)

	created, err := st.EnsurePartitions(ctx, ranges)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	// Re-registering is a no-op.
	created, err = st.EnsurePartitions(ctx, ranges)
	require.NoError(t, err)
	assert.Zero(t, created)

	// A fact inside a registered range is covered.
	_, err = st.WriteFacts(ctx, []model.HourlyFact{
		hourFact("bangkok", time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC), 28.0),
		hourFact("bangkok", time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC), 5.0), // outside
	})
	require.NoError(t, err)

	stray, err := st.UnpartitionedFactCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stray)
}
